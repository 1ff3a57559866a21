package record

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/jyhwng/boardlink/pkg/gamedto"
)

// Repository persists finished-game results to Postgres. Recording is
// best-effort bookkeeping: a nil repository is a valid no-op recorder.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult inserts one finished-game row; replays of the same session
// id are ignored.
func (r *Repository) SaveResult(ctx context.Context, res gamedto.GameResult) error {
	if r == nil || r.db == nil {
		return nil
	}

	duration := res.EndedAt.Sub(res.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO game_results (
	    session_id, surface_id, camp, winner, reason,
	    started_at, ended_at, duration_ms
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	  ON CONFLICT (session_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, q,
		res.SessionID, res.Surface, res.Camp, res.Winner, res.Reason,
		res.StartedAt, res.EndedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}
