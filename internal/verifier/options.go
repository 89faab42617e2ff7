package verifier

// MaxVersion is the newest verification version.
const MaxVersion = 1

// Options are the scalar parameters of one verification run.
type Options struct {
	Version              int  `json:"version"`
	DuringInitialization bool `json:"during_initialization"`
	AllowSelfCharged     bool `json:"allow_self_charged"`
	// Concurrency bounds the classes checked at once; 0 or less means one
	// goroutine per class.
	Concurrency int `json:"-"`
}

// Option configures a Verifier.
type Option func(*Options)

// WithVersion selects the verification version.
func WithVersion(v int) Option {
	return func(o *Options) { o.Version = v }
}

// WithDuringInitialization relaxes the rules that do not apply while the
// node installs its own base classes.
func WithDuringInitialization(b bool) Option {
	return func(o *Options) { o.DuringInitialization = b }
}

// WithAllowSelfCharged permits the SelfCharged annotation.
func WithAllowSelfCharged(b bool) Option {
	return func(o *Options) { o.AllowSelfCharged = b }
}

// WithConcurrency bounds the number of classes checked in parallel.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithOptions copies every field of opts.
func WithOptions(opts Options) Option {
	return func(o *Options) { *o = opts }
}
