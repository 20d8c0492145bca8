package sqlutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go values and sql.Null* types.
// The From* helpers return nil for NULL so rows can be held as generic maps.

// FromSqlString converts sql.NullString to a string or nil
func FromSqlString(val sql.NullString) any {
	if !val.Valid {
		return nil
	}
	return val.String
}

// FromSqlInt64 converts sql.NullInt64 to an int64 or nil
func FromSqlInt64(val sql.NullInt64) any {
	if !val.Valid {
		return nil
	}
	return val.Int64
}

// FromSqlTime converts sql.NullTime to a time.Time or nil
func FromSqlTime(val sql.NullTime) any {
	if !val.Valid {
		return nil
	}
	return val.Time
}

// FromRawMessage converts pqtype.NullRawMessage to json.RawMessage or nil
func FromRawMessage(val pqtype.NullRawMessage) any {
	if !val.Valid {
		return nil
	}
	return json.RawMessage(val.RawMessage)
}

// FromInt64Array converts a scanned integer array to []int; NULL becomes empty.
func FromInt64Array(val pq.Int64Array) []int {
	out := make([]int, len(val))
	for i, n := range val {
		out[i] = int(n)
	}
	return out
}

// ToIntArray converts []int or []int64 into a driver value for an int[] column.
func ToIntArray(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return pq.Array([]int64{}), nil
	case []int:
		out := make([]int64, len(s))
		for i, n := range s {
			out[i] = int64(n)
		}
		return pq.Array(out), nil
	case []int64:
		return pq.Array(s), nil
	default:
		return nil, fmt.Errorf("unsupported array value %T", v)
	}
}

// ToRawMessage converts v into a nullable jsonb value.
func ToRawMessage(v any) (pqtype.NullRawMessage, error) {
	switch j := v.(type) {
	case nil:
		return pqtype.NullRawMessage{}, nil
	case json.RawMessage:
		return pqtype.NullRawMessage{RawMessage: j, Valid: len(j) > 0}, nil
	case []byte:
		return pqtype.NullRawMessage{RawMessage: j, Valid: len(j) > 0}, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return pqtype.NullRawMessage{}, err
		}
		return pqtype.NullRawMessage{RawMessage: b, Valid: true}, nil
	}
}

// ToSqlTime converts a time value or pointer to sql.NullTime
func ToSqlTime(v any) (sql.NullTime, error) {
	switch t := v.(type) {
	case nil:
		return sql.NullTime{}, nil
	case time.Time:
		return sql.NullTime{Time: t, Valid: !t.IsZero()}, nil
	case *time.Time:
		if t == nil {
			return sql.NullTime{}, nil
		}
		return sql.NullTime{Time: *t, Valid: true}, nil
	default:
		return sql.NullTime{}, fmt.Errorf("unsupported time value %T", v)
	}
}
