package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mcdev12/bingolive/go/internal/store"
)

type memorySub struct {
	topic  string
	h      Handlers
	failed bool
}

func (s *memorySub) Topic() string { return s.topic }

// Published is a broadcast recorded by the memory feed.
type Published struct {
	Topic   string
	Event   string
	Payload json.RawMessage
}

// Memory is an in-process Feed. Delivery is synchronous on the caller's
// goroutine. Subscriptions can be failed and recovered to simulate an
// unreliable transport; a failed subscription receives nothing.
type Memory struct {
	mu           sync.Mutex
	subs         map[string]map[*memorySub]struct{}
	subscribeErr error
	silent       bool
	published    []Published
}

// NewMemory creates an empty memory feed.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySub]struct{})}
}

// SetSubscribeError makes subsequent Subscribe calls fail with err.
func (f *Memory) SetSubscribeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

func (f *Memory) Subscribe(ctx context.Context, topic string, h Handlers) (Handle, error) {
	f.mu.Lock()
	if f.subscribeErr != nil {
		err := f.subscribeErr
		f.mu.Unlock()
		return nil, err
	}
	sub := &memorySub{topic: topic, h: h}
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[*memorySub]struct{})
	}
	f.subs[topic][sub] = struct{}{}
	silent := f.silent
	f.mu.Unlock()

	if h.OnStatus != nil && !silent {
		h.OnStatus(StatusSubscribed, nil)
	}
	return sub, nil
}

func (f *Memory) Unsubscribe(h Handle) error {
	sub, ok := h.(*memorySub)
	if !ok || sub == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if subs, ok := f.subs[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(f.subs, sub.topic)
		}
	}
	return nil
}

func (f *Memory) Publish(ctx context.Context, topic, event string, payload any) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.published = append(f.published, Published{Topic: topic, Event: event, Payload: raw})
	f.mu.Unlock()

	b := Broadcast{Event: event, Payload: raw}
	for _, sub := range f.live(topic) {
		if sub.h.OnBroadcast != nil {
			sub.h.OnBroadcast(b)
		}
	}
	return nil
}

// EmitRow delivers a row change to every topic it belongs to.
func (f *Memory) EmitRow(ev RowEvent) {
	for _, topic := range TopicsFor(ev.Table, ev.Old, ev.New) {
		for _, sub := range f.live(topic) {
			if sub.h.OnRowEvent != nil {
				sub.h.OnRowEvent(RowEvent{Table: ev.Table, EventType: ev.EventType, Old: ev.Old.Clone(), New: ev.New.Clone()})
			}
		}
	}
}

// Relay returns a store watcher that forwards committed changes as row events.
func (f *Memory) Relay() store.ChangeFunc {
	return func(table store.Table, change store.ChangeType, before, after store.Record) {
		f.EmitRow(RowEvent{Table: table, EventType: change, Old: before, New: after})
	}
}

// SetSilent makes subsequent subscriptions succeed without confirming
// them. Recover confirms.
func (f *Memory) SetSilent(silent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent = silent
}

// FailChannel reports a channel error to every subscriber of topic and
// stops delivering to them until Recover.
func (f *Memory) FailChannel(topic string, err error) {
	f.setFailed(topic, true, StatusChannelError, err)
}

// Recover resumes delivery on topic and reports it subscribed again.
func (f *Memory) Recover(topic string) {
	f.setFailed(topic, false, StatusSubscribed, nil)
}

func (f *Memory) setFailed(topic string, failed bool, status Status, err error) {
	f.mu.Lock()
	var subs []*memorySub
	for sub := range f.subs[topic] {
		sub.failed = failed
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		if sub.h.OnStatus != nil {
			sub.h.OnStatus(status, err)
		}
	}
}

// Subscribers returns the number of subscriptions on topic.
func (f *Memory) Subscribers(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic])
}

// Published returns every broadcast sent so far.
func (f *Memory) Published() []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Published(nil), f.published...)
}

func (f *Memory) live(topic string) []*memorySub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*memorySub
	for sub := range f.subs[topic] {
		if !sub.failed {
			out = append(out, sub)
		}
	}
	return out
}
