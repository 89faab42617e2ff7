package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/gascost"
	"github.com/roach88/moka/internal/instrument"
	"github.com/roach88/moka/internal/ir"
	"github.com/roach88/moka/internal/metrics"
	"github.com/roach88/moka/internal/store"
	"github.com/roach88/moka/internal/verifier"
)

// runRequest is one module to verify, and to instrument when Mode asks.
type runRequest struct {
	Mode      string // store.ModeVerify or store.ModeInstrument
	Module    [][]byte
	Classpath [][]byte
}

// runResult is the outcome of one run. Outputs is empty for verify runs
// and for rejected modules.
type runResult struct {
	Key     string              `json:"key"`
	Cached  bool                `json:"cached"`
	Result  *verifier.Result    `json:"result"`
	Outputs []instrument.Output `json:"-"`
}

func (s *session) runInput(req runRequest) ir.RunInput {
	cfg := s.opts.Config
	return ir.RunInput{
		Mode:                 req.Mode,
		Version:              cfg.VerificationVersion,
		DuringInitialization: cfg.DuringInitialization,
		AllowSelfCharged:     cfg.AllowSelfCharged,
		WhitelistDigest:      s.table.Digest(),
		CostVersion:          cfg.CostVersion,
		Module:               req.Module,
		Classpath:            req.Classpath,
	}
}

// run verifies, and possibly instruments, one module. Results are served
// from the cache when an equal run was stored before.
func (s *session) run(ctx context.Context, req runRequest) (res *runResult, err error) {
	start := time.Now()
	outcome := metrics.OutcomeFailed
	defer func() {
		s.metrics.ObserveRun(req.Mode, outcome, time.Since(start))
		if res != nil {
			for _, is := range res.Result.Issues {
				s.metrics.ObserveIssue(is.Rule, string(is.Severity))
			}
		}
	}()

	key, err := s.runInput(req).Key()
	if err != nil {
		return nil, err
	}
	log := s.log.With("key", key[:12], "mode", req.Mode)

	if res, err = s.lookup(ctx, key); err != nil {
		return nil, err
	}
	if res == nil {
		if res, err = s.compute(req); err != nil {
			return nil, err
		}
		res.Key = key
		if err := s.save(ctx, req.Mode, res); err != nil {
			return nil, err
		}
	}

	outcome = metrics.OutcomeOK
	if res.Result.HasErrors {
		outcome = metrics.OutcomeRejected
	}
	log.Info("run finished",
		"cached", res.Cached,
		"issues", len(res.Result.Issues),
		"outputs", len(res.Outputs),
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (s *session) compute(req runRequest) (*runResult, error) {
	idx, err := classindex.Build(classindex.Input{Module: req.Module, Classpath: req.Classpath}, s.table.Hierarchy())
	if err != nil {
		return nil, err
	}
	v := verifier.New(idx, s.table, verifier.WithOptions(s.opts.Config.VerifierOptions()))
	result, err := v.Verify()
	if err != nil {
		return nil, err
	}
	res := &runResult{Result: result}
	if req.Mode != store.ModeInstrument || result.HasErrors {
		return res, nil
	}

	model, err := gascost.ForVersion(s.opts.Config.CostVersion)
	if err != nil {
		return nil, err
	}
	res.Outputs, err = instrument.New(idx, result, model,
		instrument.WithConcurrency(s.opts.Config.Concurrency),
		instrument.WithResolver(v.Resolver()),
	).Instrument()
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *session) lookup(ctx context.Context, key string) (*runResult, error) {
	if s.cache == nil {
		return nil, nil
	}
	e, ok, err := s.cache.Get(ctx, key)
	s.metrics.ObserveLookup(ok)
	if err != nil || !ok {
		return nil, err
	}
	res := &runResult{Key: key, Cached: true, Result: &verifier.Result{}}
	if err := json.Unmarshal(e.Report, res.Result); err != nil {
		return nil, fmt.Errorf("cached report %s: %w", key, err)
	}
	for _, a := range e.Artifacts {
		res.Outputs = append(res.Outputs, instrument.Output{Name: a.Name, Bytes: a.Bytes})
	}
	return res, nil
}

func (s *session) save(ctx context.Context, mode string, res *runResult) error {
	if s.cache == nil {
		return nil
	}
	report, err := json.Marshal(res.Result)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	e := store.Entry{Key: res.Key, Mode: mode, HasErrors: res.Result.HasErrors, Report: report}
	for _, o := range res.Outputs {
		e.Artifacts = append(e.Artifacts, store.Artifact{Name: o.Name, Bytes: o.Bytes})
	}
	return s.cache.Put(ctx, e)
}

// failRun maps a run error to an exit code and reports it.
func (s *session) failRun(err error) error {
	if classindex.IsMalformedInput(err) {
		return s.out.Fail(ExitCommandError, ErrCodeMalformed, "malformed input", err)
	}
	return s.out.Fail(ExitCommandError, ErrCodeGeneric, "run failed", err)
}

// loadRequest reads the module and classpath paths of a command.
func (s *session) loadRequest(mode string, module, classpath []string) (runRequest, error) {
	req := runRequest{Mode: mode}
	var err error
	if req.Module, err = LoadClasses(module); err != nil {
		return req, s.failLoad(err)
	}
	if req.Classpath, err = LoadClasses(classpath); err != nil {
		return req, s.failLoad(err)
	}
	s.out.VerboseLog("loaded %d module class(es), %d classpath class(es)", len(req.Module), len(req.Classpath))
	return req, nil
}

func (s *session) failLoad(err error) error {
	code := ErrCodeGeneric
	var le *LoadError
	if errors.As(err, &le) {
		code = le.Code
	}
	return s.out.Fail(ExitCommandError, code, "load classes", err)
}
