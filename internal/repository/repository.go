package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Impact-Hub-Antwerp/circular-passport/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at
		FROM users
		WHERE email = $1
	`, email)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return user, err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at
		FROM users
		WHERE id = $1
	`, userID)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return user, err
}

// FindOrCreateUser returns the user registered under email, creating one
// when none exists, and reports whether this call created it. Registration
// doubles as login, so a duplicate email is never an error; losing a
// concurrent insert race re-reads the winner.
func (s *Store) FindOrCreateUser(ctx context.Context, name, email string) (model.User, bool, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.User{}, false, err
	}

	user = model.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Name, user.Email, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			existing, err := s.GetUserByEmail(ctx, email)
			return existing, false, err
		}
		return model.User{}, false, err
	}
	return user, true, nil
}

func (s *Store) GetActivity(ctx context.Context, code string) (model.Activity, error) {
	var activity model.Activity
	row := s.pool.QueryRow(ctx, `
		SELECT code, title
		FROM activities
		WHERE code = $1
	`, code)
	err := row.Scan(&activity.Code, &activity.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Activity{}, ErrNotFound
	}
	return activity, err
}

// RecordCompletion inserts a completion for (userID, code) unless one
// already exists, and returns whether this call added it along with the
// user's resulting completion count. Insert and recount share one
// transaction so concurrent duplicate scans resolve on the unique
// constraint: exactly one caller observes added=true.
func (s *Store) RecordCompletion(ctx context.Context, userID, code string) (bool, int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var completionID int64
	added := true
	row := tx.QueryRow(ctx, `
		INSERT INTO completions (user_id, activity_code, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, activity_code) DO NOTHING
		RETURNING id
	`, userID, code, time.Now().UTC())
	if err := row.Scan(&completionID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, 0, err
		}
		added = false
	}

	var count int64
	row = tx.QueryRow(ctx, `SELECT COUNT(*) FROM completions WHERE user_id = $1`, userID)
	if err := row.Scan(&count); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return added, count, nil
}

func (s *Store) CountCompletions(ctx context.Context, userID string) (int64, error) {
	var count int64
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM completions WHERE user_id = $1`, userID)
	err := row.Scan(&count)
	return count, err
}

// ListCompletions returns the user's completed activities, most recent
// first. limit <= 0 means the full history.
func (s *Store) ListCompletions(ctx context.Context, userID string, limit int) ([]model.ProgressItem, error) {
	query := `
		SELECT a.code, a.title, c.created_at
		FROM completions c
		JOIN activities a ON a.code = c.activity_code
		WHERE c.user_id = $1
		ORDER BY c.created_at DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.ProgressItem, 0)
	for rows.Next() {
		var item model.ProgressItem
		if err := rows.Scan(&item.Code, &item.Title, &item.CompletedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`)
	err := row.Scan(&count)
	return count, err
}

// ListUserProgress returns every registered user with their completion
// count, highest count first, ties broken by name.
func (s *Store) ListUserProgress(ctx context.Context) ([]model.UserProgress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.name, u.email, COUNT(c.id) AS cnt
		FROM users u
		LEFT JOIN completions c ON c.user_id = u.id
		GROUP BY u.id
		ORDER BY cnt DESC, u.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]model.UserProgress, 0)
	for rows.Next() {
		var user model.UserProgress
		if err := rows.Scan(&user.Name, &user.Email, &user.Count); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
