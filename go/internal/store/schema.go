package store

type kind int

const (
	kindText kind = iota
	kindInt
	kindIntArray
	kindTime
	kindJSON
)

type column struct {
	name string
	kind kind
}

type schema struct {
	columns []column
	byName  map[string]kind
}

func newSchema(cols ...column) schema {
	s := schema{columns: cols, byName: make(map[string]kind, len(cols))}
	for _, c := range cols {
		s.byName[c.name] = c.kind
	}
	return s
}

func (s schema) names() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.name
	}
	return out
}

// schemas whitelists the columns of every table; Postgres queries are
// built only from these names.
var schemas = map[Table]schema{
	TableRooms: newSchema(
		column{"id", kindText},
		column{"code", kindText},
		column{"host_id", kindText},
		column{"status", kindText},
		column{"current_round", kindInt},
		column{"total_rounds", kindInt},
		column{"draw_interval_seconds", kindInt},
		column{"drawn_numbers", kindIntArray},
		column{"prize_pool", kindInt},
		column{"last_draw_timestamp", kindTime},
		column{"player_limit", kindInt},
		column{"winning_patterns", kindJSON},
		column{"created_at", kindTime},
	),
	TableParticipants: newSchema(
		column{"id", kindText},
		column{"room_id", kindText},
		column{"user_id", kindText},
		column{"display_name", kindText},
		column{"status", kindText},
		column{"joined_at", kindTime},
	),
	TableRoomBans: newSchema(
		column{"room_id", kindText},
		column{"user_id", kindText},
		column{"rejection_count", kindInt},
	),
	TablePrizeClaims: newSchema(
		column{"id", kindText},
		column{"room_id", kindText},
		column{"round_number", kindInt},
		column{"prize_slot", kindText},
		column{"winner_id", kindText},
		column{"winner_name", kindText},
		column{"pattern", kindText},
		column{"prize", kindInt},
		column{"winning_numbers", kindIntArray},
		column{"claimed_at", kindTime},
	),
	TableProfiles: newSchema(
		column{"user_id", kindText},
		column{"display_name", kindText},
		column{"score", kindInt},
	),
}
