package verifier

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/whitelist"
)

// RuntimeCheck is a proof obligation the verifier could not decide. The
// instrumentor injects a check of Operand before instruction Instruction
// of the method.
type RuntimeCheck struct {
	Class       string         `json:"class"`
	Method      string         `json:"method"`
	Descriptor  string         `json:"descriptor"`
	Instruction int            `json:"instruction"`
	PC          int            `json:"pc"`
	Operand     int            `json:"operand"`
	Kind        whitelist.Kind `json:"kind"`
	Target      string         `json:"target"`
	Message     string         `json:"message"`
}

func compareChecks(a, b RuntimeCheck) int {
	return cmp.Or(
		cmp.Compare(a.Class, b.Class),
		cmp.Compare(a.Method, b.Method),
		cmp.Compare(a.Descriptor, b.Descriptor),
		cmp.Compare(a.Instruction, b.Instruction),
		cmp.Compare(a.Operand, b.Operand),
		cmp.Compare(a.Kind, b.Kind),
	)
}

// Result is the report of one run.
type Result struct {
	Version       int            `json:"version"`
	Options       Options        `json:"options"`
	Issues        []Issue        `json:"issues"`
	HasErrors     bool           `json:"has_errors"`
	RuntimeChecks []RuntimeCheck `json:"runtime_checks,omitempty"`
}

// Count returns the number of issues of severity sev.
func (r *Result) Count(sev Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}

// ChecksOf returns the runtime checks of one method, in instruction order.
func (r *Result) ChecksOf(class, method, descriptor string) []RuntimeCheck {
	var out []RuntimeCheck
	for _, rc := range r.RuntimeChecks {
		if rc.Class == class && rc.Method == method && rc.Descriptor == descriptor {
			out = append(out, rc)
		}
	}
	return out
}

// Verifier runs the rule battery over the module of a class index.
type Verifier struct {
	idx      *classindex.Index
	table    *whitelist.Table
	resolver *annotations.Resolver
	opts     Options
}

// New returns a verifier of the module of idx against table.
func New(idx *classindex.Index, table *whitelist.Table, opts ...Option) *Verifier {
	v := &Verifier{idx: idx, table: table, resolver: annotations.New(idx)}
	for _, opt := range opts {
		opt(&v.opts)
	}
	return v
}

// Resolver is the annotation resolver of the run, for reuse by the
// instrumentor.
func (v *Verifier) Resolver() *annotations.Resolver { return v.resolver }

type classReport struct {
	issues []Issue
	checks []RuntimeCheck
}

// Verify checks every class of the module. Issues never stop the run; the
// only errors returned are for an unsupported version or an internal
// failure.
func (v *Verifier) Verify() (*Result, error) {
	if v.opts.Version < 0 || v.opts.Version > MaxVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v.opts.Version)
	}
	start := time.Now()
	mrules, crules := MethodRules(v.opts.Version), ClassRules(v.opts.Version)
	module := v.idx.Module()
	slog.Info("verification starting",
		"classes", len(module),
		"version", v.opts.Version,
		"method_rules", len(mrules),
		"class_rules", len(crules),
	)

	reports := make([]classReport, len(module))
	g := new(errgroup.Group)
	if v.opts.Concurrency > 0 {
		g.SetLimit(v.opts.Concurrency)
	}
	for i, c := range module {
		g.Go(func() error {
			rep, err := v.verifyClass(c, mrules, crules)
			if err != nil {
				return fmt.Errorf("verify %s: %w", c.Name, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Version: v.opts.Version, Options: v.opts, Issues: []Issue{}}
	for _, rep := range reports {
		res.Issues = append(res.Issues, rep.issues...)
		res.RuntimeChecks = append(res.RuntimeChecks, rep.checks...)
	}
	SortIssues(res.Issues)
	slices.SortStableFunc(res.RuntimeChecks, compareChecks)
	res.HasErrors = res.Count(SeverityError) > 0

	slog.Info("verification finished",
		"issues", len(res.Issues),
		"errors", res.Count(SeverityError),
		"runtime_checks", len(res.RuntimeChecks),
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (v *Verifier) verifyClass(c *classindex.Class, mrules []MethodRule, crules []ClassRule) (rep classReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	ctx := newClassContext(v, c)
	for _, r := range crules {
		rep.issues = append(rep.issues, r.Check(ctx)...)
	}
	for _, m := range c.File.Methods {
		mc := ctx.method(m)
		for _, r := range mrules {
			rep.issues = append(rep.issues, r.Check(mc)...)
		}
		rep.checks = append(rep.checks, mc.checks...)
	}
	rep.issues = append(rep.issues, ctx.issues...)
	return rep, nil
}
