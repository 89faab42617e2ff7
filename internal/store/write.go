package store

import (
	"context"
	"fmt"
)

// Mode names the kind of run an entry belongs to.
const (
	ModeVerify     = "verify"
	ModeInstrument = "instrument"
)

// Artifact is one instrumented class.
type Artifact struct {
	Name  string
	Bytes []byte
}

// Entry is the cached result of one run. Entries returned by Get are
// shared with the cache and must not be modified.
type Entry struct {
	Key       string
	Mode      string
	HasErrors bool
	Report    []byte
	Artifacts []Artifact
}

// Put stores e. Uses ON CONFLICT(key) DO NOTHING: a key always names the
// same result, so writing it twice keeps the first.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("put: key is required")
	}
	if e.Mode != ModeVerify && e.Mode != ModeInstrument {
		return fmt.Errorf("put %s: unknown mode %q", e.Key, e.Mode)
	}
	if e.Mode == ModeVerify && len(e.Artifacts) > 0 {
		return fmt.Errorf("put %s: verify runs have no artifacts", e.Key)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put %s: begin: %w", e.Key, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (key, seq, mode, has_errors, report)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs), ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, e.Key, e.Mode, e.HasErrors, e.Report)
	if err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}
	if n == 0 {
		return tx.Commit()
	}

	for i, a := range e.Artifacts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artifacts (run_key, ord, name, bytes) VALUES (?, ?, ?, ?)
		`, e.Key, i, a.Name, a.Bytes); err != nil {
			return fmt.Errorf("put %s: artifact %s: %w", e.Key, a.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put %s: commit: %w", e.Key, err)
	}
	s.lru.Add(e.Key, e)
	return nil
}
