// Command seed_room creates a demo room with participants and prints a
// token for every user.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/mcdev12/bingolive/go/internal/dbconfig"
	"github.com/mcdev12/bingolive/go/internal/identity"
	"github.com/mcdev12/bingolive/go/internal/models"
)

func main() {
	var (
		code     = flag.String("code", "BINGO1", "room code")
		host     = flag.String("host", "host", "host user id")
		players  = flag.String("players", "ana,ben,cleo", "comma separated player ids")
		pending  = flag.Bool("pending", false, "seed players as pending instead of accepted")
		rounds   = flag.Int("rounds", 3, "total rounds")
		pool     = flag.Int64("pool", 1000, "prize pool")
		limit    = flag.Int("limit", 0, "player limit, 0 for unlimited")
		interval = flag.Int("interval", 5, "draw interval in seconds")
		ttl      = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}
	secret := os.Getenv("BINGO_TOKEN_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "BINGO_TOKEN_SECRET is required")
		os.Exit(1)
	}

	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	dbpool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	roomID, err := upsertRoom(ctx, dbpool, newRoom(*code, *host, *rounds, *interval, *limit, *pool))
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed room: %v\n", err)
		os.Exit(1)
	}

	status := models.ParticipantStatusAccepted
	if *pending {
		status = models.ParticipantStatusPending
	}
	var (
		ids      = splitIDs(*players)
		inserted int
		skipped  int
		errs     int
	)
	for _, userID := range ids {
		tag, err := dbpool.Exec(ctx, `
            INSERT INTO participants (id, room_id, user_id, display_name, status)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (room_id, user_id) DO NOTHING
        `, uuid.NewString(), roomID, userID, userID, string(status))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting participant %s: %v\n", userID, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	fmt.Printf("Room %s (%s): %d players, %d inserted, %d skipped, %d errors\n",
		*code, roomID, len(ids), inserted, skipped, errs)
	for _, userID := range append([]string{*host}, ids...) {
		token, err := identity.IssueToken(secret, userID, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token for %s: %v\n", userID, err)
			continue
		}
		fmt.Printf("%s\tBINGO_TOKEN=%s\n", userID, token)
	}
}

// newRoom builds a waiting room with a fresh id.
func newRoom(code, host string, rounds, interval, limit int, pool int64) models.Room {
	return models.Room{
		ID:                  uuid.NewString(),
		Code:                code,
		HostID:              host,
		Status:              models.RoomStatusWaiting,
		TotalRounds:         rounds,
		DrawIntervalSeconds: interval,
		PrizePool:           pool,
		PlayerLimit:         limit,
	}
}

// upsertRoom returns the id of the room with the given code, creating it
// when absent.
func upsertRoom(ctx context.Context, pool *pgxpool.Pool, room models.Room) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `
        INSERT INTO rooms (id, code, host_id, status, total_rounds, draw_interval_seconds, prize_pool, player_limit)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (code) DO NOTHING
        RETURNING id
    `, room.ID, room.Code, room.HostID, string(room.Status), room.TotalRounds,
		room.DrawIntervalSeconds, room.PrizePool, room.PlayerLimit).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return "", err
	}
	if err := pool.QueryRow(ctx, `SELECT id FROM rooms WHERE code = $1`, room.Code).Scan(&id); err != nil {
		return "", fmt.Errorf("find existing room %s: %w", room.Code, err)
	}
	return id, nil
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
