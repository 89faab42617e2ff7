package instrument

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/gascost"
	"github.com/roach88/moka/internal/verifier"
)

// Output is one rewritten class.
type Output struct {
	Name  string
	Bytes []byte
}

// Option configures an Instrumentor.
type Option func(*Instrumentor)

// WithConcurrency bounds the number of classes rewritten in parallel; 0 or
// less means one goroutine per class.
func WithConcurrency(n int) Option {
	return func(in *Instrumentor) { in.concurrency = n }
}

// WithResolver reuses the annotation resolver of the verification run.
func WithResolver(r *annotations.Resolver) Option {
	return func(in *Instrumentor) { in.resolver = r }
}

// Instrumentor rewrites the module of a class index.
type Instrumentor struct {
	idx         *classindex.Index
	res         *verifier.Result
	model       *gascost.Model
	resolver    *annotations.Resolver
	concurrency int
}

// New returns an instrumentor of the module of idx, verified as res, that
// charges costs from model.
func New(idx *classindex.Index, res *verifier.Result, model *gascost.Model, opts ...Option) *Instrumentor {
	in := &Instrumentor{idx: idx, res: res, model: model}
	for _, opt := range opts {
		opt(in)
	}
	if in.resolver == nil {
		in.resolver = annotations.New(idx)
	}
	return in
}

// Instrument rewrites every class of the module and returns them in module
// order. The index is not modified.
func (in *Instrumentor) Instrument() ([]Output, error) {
	if in.res == nil || in.res.HasErrors {
		return nil, ErrHasErrors
	}
	start := time.Now()
	module := in.idx.Module()
	slog.Info("instrumentation starting",
		"classes", len(module),
		"cost_model", in.model.Version(),
		"runtime_checks", len(in.res.RuntimeChecks),
	)

	out := make([]Output, len(module))
	g := new(errgroup.Group)
	if in.concurrency > 0 {
		g.SetLimit(in.concurrency)
	}
	for i, c := range module {
		g.Go(func() error {
			data, err := in.instrumentClass(c)
			if err != nil {
				return fmt.Errorf("instrument %s: %w", c.Name, err)
			}
			out[i] = Output{Name: c.Name, Bytes: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	size := 0
	for _, o := range out {
		size += len(o.Bytes)
	}
	slog.Info("instrumentation finished",
		"classes", len(out),
		"bytes", size,
		"elapsed", time.Since(start),
	)
	return out, nil
}

// classRewriter holds the state of one class. cf is a private copy of the
// indexed class file.
type classRewriter struct {
	*Instrumentor
	class *classindex.Class
	cf    *classfile.ClassFile
}

func (in *Instrumentor) instrumentClass(c *classindex.Class) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rewrite panicked: %v", r)
		}
	}()
	orig, err := c.File.Bytes()
	if err != nil {
		return nil, err
	}
	cf, err := classfile.Parse(orig)
	if err != nil {
		return nil, err
	}
	k := &classRewriter{Instrumentor: in, class: c, cf: cf}

	// Tags are resolved against the original descriptors before any of
	// them changes.
	plans := make([]*methodPlan, len(cf.Methods))
	for i, m := range cf.Methods {
		if plans[i], err = k.plan(m); err != nil {
			return nil, err
		}
	}
	lambdas, err := k.planLambdas(plans)
	if err != nil {
		return nil, err
	}
	bridges, err := k.missingBridges(plans)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if err := k.rewrite(p, lambdas); err != nil {
			return nil, fmt.Errorf("%s%s: %w", p.member.Name, p.descriptor, err)
		}
	}
	for _, b := range bridges {
		if err := k.synthesize(b); err != nil {
			return nil, fmt.Errorf("bridge %s%s: %w", b.name, b.descriptor, err)
		}
	}
	return cf.Bytes()
}
