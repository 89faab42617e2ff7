package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/moka/internal/store"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var classpath []string

	cmd := &cobra.Command{
		Use:   "verify <path>...",
		Short: "Verify a module of class files",
		Long: `Check every class of a module against the smart-contract rules.

Each path is a .class file, a .jar archive or a directory of class files.
The report lists every issue found; the exit code is 1 when any of them is
an error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(s *session) error {
				return runVerify(cmd, s, args, classpath)
			})
		},
	}

	cmd.Flags().StringSliceVar(&classpath, "classpath", nil, "installed dependencies of the module")
	return cmd
}

func runVerify(cmd *cobra.Command, s *session, module, classpath []string) error {
	req, err := s.loadRequest(store.ModeVerify, module, classpath)
	if err != nil {
		return err
	}
	res, err := s.run(cmd.Context(), req)
	if err != nil {
		return s.failRun(err)
	}

	if s.out.IsJSON() {
		if err := s.out.Success(res); err != nil {
			return err
		}
	} else {
		s.out.WriteIssues(res.Result)
	}
	if res.Result.HasErrors {
		return NewExitError(ExitFailure, "verification failed")
	}
	return nil
}
