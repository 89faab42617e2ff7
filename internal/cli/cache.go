package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewCacheCommand creates the cache command.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "List the runs stored in the result cache",
		Long: `List the runs stored in the configured result cache, oldest first.
Requires cache_path in the configuration or --cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(s *session) error {
				return runCache(cmd, s, mode)
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "only runs of this mode (verify|instrument)")
	return cmd
}

func runCache(cmd *cobra.Command, s *session, mode string) error {
	if s.cache == nil {
		return s.out.Fail(ExitCommandError, ErrCodeConfig, "no result cache configured", nil)
	}
	runs, err := s.cache.List(cmd.Context(), mode)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeCache, "list cached runs", err)
	}
	if s.out.IsJSON() {
		return s.out.Success(runs)
	}
	t := s.out.Table("Key", "Mode", "Errors")
	for _, r := range runs {
		t.Append([]string{r.Key, r.Mode, strconv.FormatBool(r.HasErrors)})
	}
	t.Render()
	fmt.Fprintf(s.out.Writer, "%d run(s)\n", len(runs))
	return nil
}
