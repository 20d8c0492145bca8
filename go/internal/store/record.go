package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Records arrive from several sources: the memory store keeps Go values,
// Postgres scans typed columns and feed payloads are decoded JSON. The
// accessors below normalize all of them.

// Has reports whether the key is present, even with a nil value.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// String returns the value as a string, or "" when absent or null.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the value as an int64.
func (r Record) Int64(key string) (int64, error) {
	switch v := r[key].(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		if v == "" {
			return 0, nil
		}
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("column %s: unexpected %T", key, v)
	}
}

// Int returns the value as an int.
func (r Record) Int(key string) (int, error) {
	n, err := r.Int64(key)
	return int(n), err
}

// Ints returns the value as an int slice. Anything that is not an array,
// including null, yields an empty slice.
func (r Record) Ints(key string) []int {
	switch v := r[key].(type) {
	case []int:
		return append([]int{}, v...)
	case []int64:
		out := make([]int, 0, len(v))
		for _, n := range v {
			out = append(out, int(n))
		}
		return out
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				out = append(out, int(n))
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			case json.Number:
				if i, err := n.Int64(); err == nil {
					out = append(out, int(i))
				}
			}
		}
		return out
	case string:
		return parseArrayLiteral(v)
	default:
		return []int{}
	}
}

// parseArrayLiteral reads a Postgres array literal such as {1,2,3}.
func parseArrayLiteral(s string) []int {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return []int{}
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	out := []int{}
	if body == "" {
		return out
	}
	for _, part := range strings.Split(body, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return []int{}
		}
		out = append(out, n)
	}
	return out
}

// Time returns the value as a time, or nil when absent or null.
func (r Record) Time(key string) (*time.Time, error) {
	switch v := r[key].(type) {
	case nil:
		return nil, nil
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		return &v, nil
	case *time.Time:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07"} {
			if t, err := time.Parse(layout, v); err == nil {
				return &t, nil
			}
		}
		return nil, fmt.Errorf("column %s: bad timestamp %q", key, v)
	default:
		return nil, fmt.Errorf("column %s: unexpected %T", key, v)
	}
}

// JSON decodes the value into dst. Absent or null values leave dst untouched.
func (r Record) JSON(key string, dst any) error {
	var raw []byte
	switch v := r[key].(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("column %s: %w", key, err)
		}
		raw = b
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("column %s: %w", key, err)
	}
	return nil
}

func (f Filter) matches(rec Record) bool {
	for k, want := range f {
		if !valuesEqual(rec[k], want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
