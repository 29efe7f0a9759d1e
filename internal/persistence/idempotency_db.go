package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeltaIDStore reads applied delta ids back from the journal, so the ledger's
// dedup cache survives restarts.
type DeltaIDStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewDeltaIDStore(db *sql.DB) *DeltaIDStore {
	return &DeltaIDStore{db: db, timeout: 2 * time.Second}
}

// RecentDeltaIDs returns up to limit delta ids credited to userID, oldest
// first.
func (s *DeltaIDStore) RecentDeltaIDs(ctx context.Context, userID string, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT delta_id FROM (
			SELECT delta_id, occurred_at
			FROM balance_events
			WHERE user_id = $1 AND delta_id IS NOT NULL
			ORDER BY occurred_at DESC
			LIMIT $2
		) recent
		ORDER BY occurred_at ASC`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent delta ids for %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsDuplicate reports whether deltaID was already journaled for userID.
func (s *DeltaIDStore) IsDuplicate(ctx context.Context, userID, deltaID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1
		FROM balance_events
		WHERE user_id = $1 AND delta_id = $2
		LIMIT 1`, userID, deltaID,
	).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
