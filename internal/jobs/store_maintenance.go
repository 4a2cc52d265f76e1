package jobs

import (
	"context"
	"fmt"
	"time"
)

// PurgeTerminal deletes terminal jobs last updated before the cutoff and
// returns the removed identifiers.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) ([]string, error) {
	ctx = ensureContext(ctx)
	args := append(terminalStatusArgs(), formatTime(before))
	rows, err := s.query(ctx,
		`SELECT id FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired jobs: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	removed := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if deleted, err := s.deleteTerminal(ctx, id, before); err != nil {
			return removed, err
		} else if deleted {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (s *Store) deleteTerminal(ctx context.Context, id string, before time.Time) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	args := append([]any{id}, terminalStatusArgs()...)
	args = append(args, formatTime(before))
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE id = ? AND status IN (?, ?, ?) AND updated_at < ?`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
