// internal/database/results.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"tableturn/internal/server"
)

// Store persists finished-game outcomes to Postgres. It records results
// only; live games are never persisted or restored.
type Store struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// Connect opens a pgx pool against connStr and verifies it with a ping.
func Connect(ctx context.Context, connStr string, logger *logrus.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// EnsureSchema creates the result tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id UUID PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS game_players (
			game_id UUID NOT NULL REFERENCES games(id),
			player_id BIGINT NOT NULL,
			PRIMARY KEY (game_id, player_id)
		)`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// RecordResult implements server.Recorder. The insert runs on its own
// goroutine so the tick loop never waits on the database.
func (s *Store) RecordResult(rec server.ResultRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.insertResult(ctx, rec); err != nil {
			s.logger.Warnf("failed to record result for game %s: %v", rec.GameID, err)
		}
	}()
}

func (s *Store) insertResult(ctx context.Context, rec server.ResultRecord) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upsert := `
			INSERT INTO games (id, status, started_at, ended_at)
			VALUES ($1, 'completed', $2, $3)
			ON CONFLICT (id) DO UPDATE SET status = 'completed', ended_at = $3
		`
		if _, err := tx.Exec(ctx, upsert, rec.GameID, rec.StartedAt, rec.EndedAt); err != nil {
			return err
		}
		for _, pid := range rec.Players {
			q := `
				INSERT INTO game_players (game_id, player_id)
				VALUES ($1, $2)
				ON CONFLICT (game_id, player_id) DO NOTHING
			`
			if _, err := tx.Exec(ctx, q, rec.GameID, int64(pid)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
