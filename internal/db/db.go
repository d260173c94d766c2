package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Impact-Hub-Antwerp/circular-passport/internal/model"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS activities (
		code TEXT PRIMARY KEY,
		title TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS completions (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users (id),
		activity_code TEXT NOT NULL REFERENCES activities (code),
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, activity_code)
	)`,
}

// Init creates the schema and seeds the fixed activity catalog. Both
// steps are idempotent, so running them on every startup is safe.
func Init(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return seedActivities(ctx, pool)
}

func seedActivities(ctx context.Context, pool *pgxpool.Pool) error {
	for i := 1; i <= model.TotalActivities; i++ {
		code := fmt.Sprintf("%sA%02d", model.QRPrefix, i)
		title := fmt.Sprintf("Activity %d", i)
		if _, err := pool.Exec(ctx, `
			INSERT INTO activities (code, title) VALUES ($1, $2)
			ON CONFLICT (code) DO NOTHING
		`, code, title); err != nil {
			return err
		}
	}
	return nil
}
