package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/moka/internal/metrics"
	"github.com/roach88/moka/internal/store"
	"github.com/roach88/moka/internal/whitelist"
)

// newRunID is replaced in tests to make run IDs predictable.
var newRunID = uuid.NewString

// session is the state one command invocation shares between its runs.
type session struct {
	opts    *RootOptions
	out     *OutputFormatter
	log     *slog.Logger
	metrics *metrics.Metrics
	table   *whitelist.Table
	cache   *store.Store // nil when caching is disabled
	runID   string
}

// newSession opens what the configuration asks for. The run ID only
// correlates log lines; it never reaches a report or a cache key.
func newSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	runID := newRunID()
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
		RunID:     runID,
	}
	s := &session{
		opts:    opts,
		out:     out,
		log:     newLogger(cmd.ErrOrStderr(), opts.Verbose).With("run_id", runID, "command", cmd.Name()),
		metrics: metrics.New(),
		runID:   runID,
	}
	slog.SetDefault(s.log)

	table, err := loadTable(opts.Config.Whitelist)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "load whitelist", err)
	}
	s.table = table

	if path := opts.Config.CachePath; path != "" {
		s.cache, err = store.Open(path, store.WithCacheSize(opts.Config.CacheSize))
		if err != nil {
			return nil, out.Fail(ExitCommandError, ErrCodeCache, "open result cache", err)
		}
		s.log.Debug("result cache opened", "path", path)
	}
	return s, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadTable(path string) (*whitelist.Table, error) {
	if path == "" {
		return whitelist.Default()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return whitelist.Parse(src)
}

// Close writes the metrics file and closes the cache. It runs whatever
// the command's outcome.
func (s *session) Close() error {
	var errs []error
	if path := s.opts.Config.MetricsPath; path != "" {
		if err := s.metrics.WriteFile(path); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// withSession runs fn with a fresh session and closes it afterwards. An
// error closing the session is reported only when fn succeeded.
func withSession(opts *RootOptions, cmd *cobra.Command, fn func(s *session) error) error {
	s, err := newSession(opts, cmd)
	if err != nil {
		return err
	}
	err = fn(s)
	if cerr := s.Close(); cerr != nil && err == nil {
		err = WrapExitError(ExitCommandError, "finish", cerr)
	}
	return err
}
