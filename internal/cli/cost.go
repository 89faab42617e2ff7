package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/moka/internal/gascost"
)

// CostRow is the static cost of one instruction category.
type CostRow struct {
	Category string               `json:"category"`
	Cost     gascost.ResourceCost `json:"cost"`
}

// CostTable is the JSON payload of the cost command.
type CostTable struct {
	Version          int       `json:"version"`
	Categories       []CostRow `json:"categories"`
	ActivationRecord uint64    `json:"activation_record"`
	ActivationSlot   uint64    `json:"activation_slot"`
	Object           uint64    `json:"object"`
	Field            uint64    `json:"field"`
}

// NewCostCommand creates the cost command.
func NewCostCommand(rootOpts *RootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Print a gas cost table",
		Long: `Print the static gas cost of every instruction category in the
configured cost model version, with the memory charged per call and per
allocation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(s *session) error {
				if list {
					return s.out.Success(gascost.Versions())
				}
				return runCost(s)
			})
		},
	}

	cmd.Flags().BoolVar(&list, "versions", false, "list the known cost model versions")
	return cmd
}

func costTable(m *gascost.Model) CostTable {
	record, oneSlot := m.Activation(0), m.Activation(1)
	object, oneField := m.Object(0), m.Object(1)
	t := CostTable{
		Version:          m.Version(),
		ActivationRecord: record.Memory,
		ActivationSlot:   oneSlot.Memory - record.Memory,
		Object:           object.Memory,
		Field:            oneField.Memory - object.Memory,
	}
	for _, c := range gascost.Categories() {
		t.Categories = append(t.Categories, CostRow{Category: c.String(), Cost: m.Cost(c)})
	}
	return t
}

func runCost(s *session) error {
	m, err := gascost.ForVersion(s.opts.Config.CostVersion)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeConfig, "select cost model", err)
	}
	ct := costTable(m)
	if s.out.IsJSON() {
		return s.out.Success(ct)
	}

	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	t := s.out.Table("Category", "Compute", "Memory", "Storage")
	for _, r := range ct.Categories {
		t.Append([]string{r.Category, u(r.Cost.Compute), u(r.Cost.Memory), u(r.Cost.Storage)})
	}
	t.Render()
	fmt.Fprintf(s.out.Writer, "cost model v%d: activation %s + %s/slot, object %s + %s/field (memory)\n",
		ct.Version, u(ct.ActivationRecord), u(ct.ActivationSlot), u(ct.Object), u(ct.Field))
	return nil
}
