package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

// PostgresStore keeps records in the user_balances table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ReadBalance(ctx context.Context, userID string) (Record, error) {
	var (
		rec        Record
		windowDate sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, daily_gains, window_date, tier, version, updated_at
		FROM user_balances
		WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.Balance, &rec.DailyGains, &windowDate, &rec.Tier, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read balance for %s: %w", userID, err)
	}
	if windowDate.Valid {
		rec.WindowDate = window.DateOf(windowDate.Time, windowDate.Time.Location())
	}
	return rec, nil
}

func (s *PostgresStore) WriteBalance(ctx context.Context, userID string, w Write) (int64, error) {
	var windowDate interface{}
	if !w.WindowDate.IsZero() {
		windowDate = w.WindowDate.String()
	}

	var (
		row *sql.Row
		op  string
	)
	switch {
	case w.IfVersion == AnyVersion:
		op = "upsert"
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO user_balances (user_id, balance, daily_gains, window_date, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, now())
			ON CONFLICT (user_id) DO UPDATE SET
				balance     = EXCLUDED.balance,
				daily_gains = EXCLUDED.daily_gains,
				window_date = EXCLUDED.window_date,
				version     = user_balances.version + 1,
				updated_at  = now()
			RETURNING version`,
			userID, w.Balance, w.DailyGains, windowDate)
	case w.IfVersion == 0:
		op = "insert"
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO user_balances (user_id, balance, daily_gains, window_date, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, now())
			ON CONFLICT (user_id) DO NOTHING
			RETURNING version`,
			userID, w.Balance, w.DailyGains, windowDate)
	default:
		op = "update"
		row = s.db.QueryRowContext(ctx, `
			UPDATE user_balances SET
				balance     = $2,
				daily_gains = $3,
				window_date = $4,
				version     = version + 1,
				updated_at  = now()
			WHERE user_id = $1 AND version = $5
			RETURNING version`,
			userID, w.Balance, w.DailyGains, windowDate, w.IfVersion)
	}

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrVersionConflict
		}
		return 0, fmt.Errorf("%s balance for %s: %w", op, userID, err)
	}
	return version, nil
}

// SetTier updates the subscription tier. Used by the admin tooling.
func (s *PostgresStore) SetTier(ctx context.Context, userID, tier string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_balances SET tier = $2, version = version + 1, updated_at = now()
		WHERE user_id = $1`, userID, tier)
	if err != nil {
		return fmt.Errorf("set tier for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity for the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
