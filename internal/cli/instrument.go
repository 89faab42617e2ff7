package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/instrument"
	"github.com/roach88/moka/internal/store"
)

// InstrumentOptions holds the flags of the instrument command.
type InstrumentOptions struct {
	Output      string
	Classpath   []string
	Disassemble bool
}

// InstrumentSummary is the JSON payload of a successful instrument run.
type InstrumentSummary struct {
	Key     string   `json:"key"`
	Cached  bool     `json:"cached"`
	Output  string   `json:"output"`
	Classes []string `json:"classes"`
	Issues  int      `json:"issues"`
}

// NewInstrumentCommand creates the instrument command.
func NewInstrumentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InstrumentOptions{}

	cmd := &cobra.Command{
		Use:   "instrument <path>...",
		Short: "Verify a module and write its instrumented classes",
		Long: `Verify a module and, when it has no errors, rewrite every class with
gas charges, caller bookkeeping and run-time checks.

Each class is written to <output>/<internal name>.class.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(s *session) error {
				return runInstrument(cmd, s, opts, args)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "instrumented", "output directory")
	cmd.Flags().StringSliceVar(&opts.Classpath, "classpath", nil, "installed dependencies of the module")
	cmd.Flags().BoolVar(&opts.Disassemble, "disassemble", false, "print the instrumented code")
	return cmd
}

func runInstrument(cmd *cobra.Command, s *session, opts *InstrumentOptions, module []string) error {
	req, err := s.loadRequest(store.ModeInstrument, module, opts.Classpath)
	if err != nil {
		return err
	}
	res, err := s.run(cmd.Context(), req)
	if err != nil {
		return s.failRun(err)
	}
	if res.Result.HasErrors {
		if s.out.IsJSON() {
			if err := s.out.Error(ErrCodeRejected, "verification failed", res.Result.Issues); err != nil {
				return err
			}
		} else {
			s.out.WriteIssues(res.Result)
		}
		return NewExitError(ExitFailure, "verification failed")
	}

	names, err := writeOutputs(opts.Output, res.Outputs)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeWriteFailed, "write instrumented classes", err)
	}
	s.out.VerboseLog("wrote %d class(es) to %s", len(names), opts.Output)

	if s.out.IsJSON() {
		return s.out.Success(InstrumentSummary{
			Key:     res.Key,
			Cached:  res.Cached,
			Output:  opts.Output,
			Classes: names,
			Issues:  len(res.Result.Issues),
		})
	}
	if len(res.Result.Issues) > 0 {
		s.out.WriteIssues(res.Result)
	}
	if opts.Disassemble {
		for _, o := range res.Outputs {
			cf, err := classfile.Parse(o.Bytes)
			if err != nil {
				return s.out.Fail(ExitCommandError, ErrCodeInstrumented, "parse instrumented class "+o.Name, err)
			}
			text, err := classfile.Disassemble(cf)
			if err != nil {
				return s.out.Fail(ExitCommandError, ErrCodeInstrumented, "disassemble "+o.Name, err)
			}
			fmt.Fprintln(s.out.Writer, text)
		}
	}
	fmt.Fprintf(s.out.Writer, "instrumented %d class(es) into %s\n", len(names), opts.Output)
	return nil
}

// writeOutputs writes each class under dir following its package path.
func writeOutputs(dir string, outputs []instrument.Output) ([]string, error) {
	names := make([]string, 0, len(outputs))
	for _, o := range outputs {
		path := filepath.Join(dir, filepath.FromSlash(o.Name)+".class")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, o.Bytes, 0o644); err != nil {
			return nil, err
		}
		names = append(names, o.Name)
	}
	return names, nil
}
