package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/bingolive/go/internal/store"
)

// ErrEventNotFound is returned when a notified id has no outbox row.
var ErrEventNotFound = errors.New("outbox event not found")

// Outbox reads and acknowledges relayed row changes.
type Outbox interface {
	FetchByID(ctx context.Context, id uuid.UUID) (OutboxEvent, error)
	FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	CountPending(ctx context.Context) (int, error)
}

// PostgresOutbox is the room_change_outbox table filled by the row triggers.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

const outboxColumns = `id, room_id, table_name, event_type, old_row, new_row, created_at, sent_at`

func (o *PostgresOutbox) FetchByID(ctx context.Context, id uuid.UUID) (OutboxEvent, error) {
	row := o.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM room_change_outbox WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxEvent{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return ev, err
}

func (o *PostgresOutbox) FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM room_change_outbox WHERE sent_at IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (o *PostgresOutbox) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := o.db.ExecContext(ctx, `UPDATE room_change_outbox SET sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark outbox event %s sent: %w", id, err)
	}
	return nil
}

func (o *PostgresOutbox) CountPending(ctx context.Context) (int, error) {
	var count int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM room_change_outbox WHERE sent_at IS NULL`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (OutboxEvent, error) {
	var (
		ev     OutboxEvent
		table  string
		kind   string
		oldRow pqtype.NullRawMessage
		newRow pqtype.NullRawMessage
		sentAt sql.NullTime
	)
	if err := s.Scan(&ev.ID, &ev.RoomID, &table, &kind, &oldRow, &newRow, &ev.CreatedAt, &sentAt); err != nil {
		return OutboxEvent{}, fmt.Errorf("scan outbox event: %w", err)
	}
	ev.Table = store.Table(table)
	ev.EventType = store.ChangeType(kind)
	if sentAt.Valid {
		ev.SentAt = &sentAt.Time
	}
	var err error
	if ev.Old, err = decodeRow(oldRow); err != nil {
		return OutboxEvent{}, err
	}
	if ev.New, err = decodeRow(newRow); err != nil {
		return OutboxEvent{}, err
	}
	return ev, nil
}

func decodeRow(raw pqtype.NullRawMessage) (store.Record, error) {
	if !raw.Valid || len(raw.RawMessage) == 0 {
		return nil, nil
	}
	var rec store.Record
	if err := json.Unmarshal(raw.RawMessage, &rec); err != nil {
		return nil, fmt.Errorf("decode outbox row: %w", err)
	}
	return rec, nil
}
