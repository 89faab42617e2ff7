package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Get returns the entry stored under key. ok is false when there is none.
func (s *Store) Get(ctx context.Context, key string) (e Entry, ok bool, err error) {
	if v, hit := s.lru.Get(key); hit {
		return v.(Entry), true, nil
	}

	e.Key = key
	err = s.db.QueryRowContext(ctx, `
		SELECT mode, has_errors, report FROM runs WHERE key = ?
	`, key).Scan(&e.Mode, &e.HasErrors, &e.Report)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, bytes FROM artifacts WHERE run_key = ? ORDER BY ord ASC
	`, key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: artifacts: %w", key, err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Name, &a.Bytes); err != nil {
			return Entry{}, false, fmt.Errorf("get %s: scan artifact: %w", key, err)
		}
		e.Artifacts = append(e.Artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, false, fmt.Errorf("get %s: artifacts: %w", key, err)
	}

	s.lru.Add(key, e)
	return e, true, nil
}

// Summary describes a stored run without its payload.
type Summary struct {
	Key       string
	Mode      string
	HasErrors bool
}

// List returns the stored runs of mode in insertion order. An empty mode
// lists every run.
func (s *Store) List(ctx context.Context, mode string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, mode, has_errors FROM runs
		WHERE ? = '' OR mode = ?
		ORDER BY seq ASC
	`, mode, mode)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Key, &sum.Mode, &sum.HasErrors); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
