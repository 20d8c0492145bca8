package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	LastEventTime     time.Time `json:"last_event_time"`
	EventsProcessed   uint64    `json:"events_processed"`
	PendingEvents     int       `json:"pending_events"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ListenerActive    bool      `json:"listener_active"`
	Errors            []string  `json:"errors"`
}

// HealthChecker reports whether the relay is keeping up with the outbox.
type HealthChecker struct {
	relay     *Relay
	outbox    Outbox
	db        *sql.DB
	connected func() bool
	running   func() bool
	clock     clockwork.Clock
	threshold time.Duration
}

// NewHealthChecker builds a checker. db, connected and running may be nil
// when the matching component is not in use.
func NewHealthChecker(relay *Relay, outbox Outbox, db *sql.DB, connected, running func() bool, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		relay:     relay,
		outbox:    outbox,
		db:        db,
		connected: connected,
		running:   running,
		clock:     relay.clock,
		threshold: threshold,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}
	status.EventsProcessed, status.LastEventTime = h.relay.Stats()

	status.DatabaseConnected = true
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status.DatabaseConnected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
	}

	status.NATSConnected = true
	if h.connected != nil && !h.connected() {
		status.NATSConnected = false
		status.Healthy = false
		status.Errors = append(status.Errors, "NATS disconnected")
	}

	status.ListenerActive = true
	if h.running != nil && !h.running() {
		status.ListenerActive = false
		status.Healthy = false
		status.Errors = append(status.Errors, "listener not active")
	}

	if status.DatabaseConnected {
		pending, err := h.outbox.CountPending(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
			if pending > 1000 {
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		if since := h.clock.Since(status.LastEventTime); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events relayed for %s", since))
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}
