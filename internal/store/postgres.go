package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"bhabi-server/internal/bhabi"
)

const schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	id          TEXT PRIMARY KEY,
	game_state  JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS player_stats (
	stable_id       TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	games_played    INT NOT NULL DEFAULT 0,
	games_won       INT NOT NULL DEFAULT 0,
	games_lost      INT NOT NULL DEFAULT 0,
	thola_received  INT NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres persists the session snapshot and player stats. The session rides
// as one jsonb document keyed by the fixed session id, so every save replaces
// the whole game state.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewPostgres(ctx context.Context, databaseURL string, log *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Load(ctx context.Context) (*bhabi.Session, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT game_state FROM game_sessions WHERE id = $1`,
		bhabi.SessionID,
	).Scan(&raw)

	if errors.Is(err, pgx.ErrNoRows) {
		s := bhabi.NewSession()
		if err := p.Save(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s bhabi.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return &s, nil
}

func (p *Postgres) Save(ctx context.Context, s *bhabi.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO game_sessions (id, game_state)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET game_state = EXCLUDED.game_state, updated_at = now()
	`, bhabi.SessionID, raw)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// RecordGameResult upserts one stats row per finished player in a single
// transaction. Guests without a stable id are skipped.
func (p *Postgres) RecordGameResult(ctx context.Context, results []bhabi.PlayerResult) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin stats transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range results {
		if r.StableID == "" {
			continue
		}
		won := 0
		lost := 0
		if r.Won {
			won = 1
		} else {
			lost = 1
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO player_stats (stable_id, name, games_played, games_won, games_lost, thola_received)
			VALUES ($1, $2, 1, $3, $4, $5)
			ON CONFLICT (stable_id) DO UPDATE SET
				name           = EXCLUDED.name,
				games_played   = player_stats.games_played + 1,
				games_won      = player_stats.games_won + EXCLUDED.games_won,
				games_lost     = player_stats.games_lost + EXCLUDED.games_lost,
				thola_received = player_stats.thola_received + EXCLUDED.thola_received,
				updated_at     = now()
		`, r.StableID, r.Name, won, lost, r.TholaReceived)
		if err != nil {
			return fmt.Errorf("failed to record result for %s: %w", r.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit stats transaction: %w", err)
	}
	return nil
}

// Leaderboard returns up to limit rows ordered by wins, then games played.
func (p *Postgres) Leaderboard(ctx context.Context, limit int) ([]PlayerStats, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT stable_id, name, games_played, games_won, games_lost, thola_received
		FROM player_stats
		ORDER BY games_won DESC, games_played DESC, name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	stats := make([]PlayerStats, 0, limit)
	for rows.Next() {
		var row PlayerStats
		if err := rows.Scan(&row.StableID, &row.Name, &row.GamesPlayed, &row.GamesWon, &row.GamesLost, &row.TholaReceived); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		stats = append(stats, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard rows: %w", err)
	}
	return stats, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}
