package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/moka/internal/whitelist"
)

// WhitelistOptions holds the flags of the whitelist command.
type WhitelistOptions struct {
	Owner string
	All   bool
}

// WhitelistRow is one listed entry.
type WhitelistRow struct {
	Signature   string   `json:"signature"`
	Since       int      `json:"since"`
	Until       int      `json:"until,omitempty"`
	Obligations []string `json:"obligations,omitempty"`
}

// NewWhitelistCommand creates the whitelist command.
func NewWhitelistCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WhitelistOptions{}

	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "List the whitelisted platform members",
		Long: `List the platform members that module code may use at the configured
verification version, with the proof obligations of each.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(s *session) error {
				return runWhitelist(s, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "only members of this class (internal or dotted name)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include entries of every verification version")
	return cmd
}

func obligationText(o whitelist.Obligation) string {
	on := "receiver"
	if o.Operand != whitelist.Receiver {
		on = "arg" + strconv.Itoa(o.Operand)
	}
	return string(o.Kind) + "(" + on + ")"
}

func runWhitelist(s *session, opts *WhitelistOptions) error {
	owner := strings.ReplaceAll(opts.Owner, ".", "/")
	version := s.opts.Config.VerificationVersion

	var rows []WhitelistRow
	for _, e := range s.table.Entries() {
		if owner != "" && e.Owner != owner {
			continue
		}
		if !opts.All && !e.Applies(version) {
			continue
		}
		row := WhitelistRow{Signature: e.Signature(), Since: e.Since, Until: e.Until}
		for _, o := range e.Obligations {
			row.Obligations = append(row.Obligations, obligationText(o))
		}
		rows = append(rows, row)
	}

	if s.out.IsJSON() {
		return s.out.Success(map[string]any{
			"digest":  s.table.Digest(),
			"version": version,
			"entries": rows,
		})
	}
	t := s.out.Table("Member", "Since", "Until", "Obligations")
	for _, r := range rows {
		until := "-"
		if r.Until != 0 {
			until = strconv.Itoa(r.Until)
		}
		t.Append([]string{r.Signature, strconv.Itoa(r.Since), until, strings.Join(r.Obligations, ", ")})
	}
	t.Render()
	fmt.Fprintf(s.out.Writer, "%d entr(ies), table %s\n", len(rows), s.table.Digest()[:12])
	return nil
}
