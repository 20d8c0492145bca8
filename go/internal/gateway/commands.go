package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bingolive/go/internal/models"
	"github.com/mcdev12/bingolive/go/internal/roomsync"
)

// CommandType names an action a client asks its session to perform.
type CommandType string

const (
	CommandDraw        CommandType = "draw"
	CommandStart       CommandType = "start"
	CommandAdvance     CommandType = "advance"
	CommandResume      CommandType = "resume"
	CommandPause       CommandType = "pause"
	CommandFinish      CommandType = "finish"
	CommandApprove     CommandType = "approve"
	CommandReject      CommandType = "reject"
	CommandCard        CommandType = "card"
	CommandMark        CommandType = "mark"
	CommandClaim       CommandType = "claim"
	CommandResubscribe CommandType = "resubscribe"
	CommandSnapshot    CommandType = "snapshot"
)

// Command is a client frame on /ws/room.
type Command struct {
	ID            string         `json:"id,omitempty"`
	Type          CommandType    `json:"type"`
	Number        int            `json:"number,omitempty"`
	Pattern       models.Pattern `json:"pattern,omitempty"`
	ParticipantID string         `json:"participant_id,omitempty"`
}

// CommandResult answers one Command on the same connection.
type CommandResult struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Command CommandType `json:"command"`
	OK      bool        `json:"ok"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    any         `json:"data,omitempty"`
}

const resultFrame = "result"

var ErrUnknownCommand = errors.New("unknown command")

var errorCodes = []struct {
	err  error
	code string
}{
	{roomsync.ErrNotHost, "NOT_HOST"},
	{roomsync.ErrNotPlaying, "NOT_PLAYING"},
	{roomsync.ErrPaused, "PAUSED"},
	{roomsync.ErrDrawInFlight, "DRAW_IN_FLIGHT"},
	{roomsync.ErrDrawTooSoon, "DRAW_TOO_SOON"},
	{roomsync.ErrPoolExhausted, "POOL_EXHAUSTED"},
	{roomsync.ErrInvalidTransition, "INVALID_TRANSITION"},
	{roomsync.ErrNoMoreRounds, "NO_MORE_ROUNDS"},
	{roomsync.ErrRoundEnded, "ROUND_ENDED"},
	{roomsync.ErrUnknownParticipant, "UNKNOWN_PARTICIPANT"},
	{roomsync.ErrSessionClosed, "SESSION_CLOSED"},
	{ErrUnknownCommand, "BAD_REQUEST"},
}

// ErrorCode maps a session error to a stable client code.
func ErrorCode(err error) string {
	var rejected *roomsync.ClaimRejected
	if errors.As(err, &rejected) {
		return string(rejected.Reason)
	}
	var capErr *roomsync.CapacityExceeded
	if errors.As(err, &capErr) {
		return "CAPACITY_EXCEEDED"
	}
	var syncErr *roomsync.SyncError
	if errors.As(err, &syncErr) {
		return "SYNC_ERROR"
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "INTERNAL"
}

func (s *Service) handleMessage(c *Connection, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.Reply(CommandResult{Type: resultFrame, OK: false, Code: "BAD_REQUEST", Error: "malformed command"})
		return
	}
	sess := s.session(c.RoomID)
	if sess == nil {
		c.Reply(CommandResult{Type: resultFrame, ID: cmd.ID, Command: cmd.Type, Code: "SESSION_CLOSED", Error: "room is not attached"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
	defer cancel()
	data, err := Execute(ctx, sess, cmd)
	res := CommandResult{Type: resultFrame, ID: cmd.ID, Command: cmd.Type, OK: err == nil}
	if err == nil {
		res.Data = data
	} else {
		res.Code = ErrorCode(err)
		res.Error = err.Error()
		log.Debug().Err(err).Str("room_id", c.RoomID).Str("command", string(cmd.Type)).Msg("command failed")
	}
	c.Reply(res)
}

// Execute runs one command against a session.
func Execute(ctx context.Context, sess *roomsync.Session, cmd Command) (any, error) {
	switch cmd.Type {
	case CommandDraw:
		n, err := sess.Draw(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"number": n}, nil
	case CommandStart:
		return nil, sess.StartGame(ctx)
	case CommandAdvance:
		round, err := sess.AdvanceRound(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"round": round}, nil
	case CommandResume:
		return nil, sess.Resume(ctx)
	case CommandPause:
		return nil, sess.Pause(ctx)
	case CommandFinish:
		return nil, sess.FinishRoom(ctx)
	case CommandApprove:
		return nil, sess.Approve(ctx, cmd.ParticipantID)
	case CommandReject:
		return nil, sess.Reject(ctx, cmd.ParticipantID)
	case CommandCard:
		return sess.Card(ctx)
	case CommandMark:
		marked, err := sess.Mark(ctx, cmd.Number)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"marked": marked}, nil
	case CommandClaim:
		return sess.Claim(ctx, cmd.Pattern)
	case CommandResubscribe:
		return nil, sess.Resubscribe(ctx)
	case CommandSnapshot:
		return sess.Snapshot(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Type)
}
