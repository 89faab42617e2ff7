package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/store"
)

// InspectOptions holds the flags of the inspect command.
type InspectOptions struct {
	Classpath   []string
	Disassemble bool
}

// ClassRow is the classification of one loaded class.
type ClassRow struct {
	Name     string   `json:"name"`
	Origin   string   `json:"origin"`
	Kind     string   `json:"kind"` // "class", "interface" or "enum"
	Super    string   `json:"super,omitempty"`
	Storage  bool       `json:"storage"`
	Contract bool       `json:"contract"`
	RedGreen bool       `json:"red_green"`
	Tags     []string   `json:"tags,omitempty"`
	Entries  int        `json:"entries"`
	Fields   []FieldRow `json:"fields,omitempty"`
}

// FieldRow is an instance field of a storage class and how it is loaded.
type FieldRow struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Lazy bool   `json:"lazy"`
}

func (r ClassRow) fieldSummary() string {
	parts := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		mode := "eager"
		if f.Lazy {
			mode = "lazy"
		}
		parts[i] = f.Name + ":" + mode
	}
	return strings.Join(parts, ",")
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect <path>...",
		Short: "Print how the class index classifies a module",
		Long: `Load a module and its classpath and print, for every class, where it
came from, whether it is a storage or contract type, its class tags and the
number of @FromContract methods it declares. Instance fields of storage
classes are listed as lazy when they are loaded from storage on demand.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(s *session) error {
				return runInspect(s, opts, args)
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Classpath, "classpath", nil, "installed dependencies of the module")
	cmd.Flags().BoolVar(&opts.Disassemble, "disassemble", false, "print the code of the module classes")
	return cmd
}

func runInspect(s *session, opts *InspectOptions, module []string) error {
	req, err := s.loadRequest(store.ModeVerify, module, opts.Classpath)
	if err != nil {
		return err
	}
	idx, err := classindex.Build(classindex.Input{Module: req.Module, Classpath: req.Classpath}, s.table.Hierarchy())
	if err != nil {
		return s.failRun(err)
	}
	rows, err := classify(idx)
	if err != nil {
		return s.failRun(err)
	}

	if s.out.IsJSON() {
		return s.out.Success(rows)
	}
	t := s.out.Table("Class", "Origin", "Kind", "Storage", "Contract", "Red/Green", "Tags", "Entries", "Fields")
	for _, r := range rows {
		t.Append([]string{r.Name, r.Origin, r.Kind, strconv.FormatBool(r.Storage), strconv.FormatBool(r.Contract),
			strconv.FormatBool(r.RedGreen), strings.Join(r.Tags, ","), strconv.Itoa(r.Entries), r.fieldSummary()})
	}
	t.Render()

	if opts.Disassemble {
		for _, c := range idx.Module() {
			text, err := classfile.Disassemble(c.File)
			if err != nil {
				return s.failRun(err)
			}
			fmt.Fprintln(s.out.Writer)
			fmt.Fprint(s.out.Writer, text)
		}
	}
	return nil
}

func classify(idx *classindex.Index) ([]ClassRow, error) {
	r := annotations.New(idx)
	var rows []ClassRow
	for _, c := range idx.Classes() {
		row := ClassRow{
			Name:     c.Name,
			Origin:   c.Origin.String(),
			Kind:     "class",
			Super:    c.Super,
			Storage:  idx.IsStorageType(c.Name),
			Contract: idx.IsContractType(c.Name),
			RedGreen: idx.IsTwoBalanceContractType(c.Name),
		}
		switch {
		case idx.IsInterface(c.Name):
			row.Kind = "interface"
		case c.Enum:
			row.Kind = "enum"
		}
		tags, err := r.ClassTags(c.Name)
		if err != nil {
			return nil, err
		}
		for _, k := range tags.Kinds() {
			row.Tags = append(row.Tags, k.String())
		}
		for _, m := range c.File.Methods {
			if m.Is(classfile.AccStatic) {
				continue
			}
			res, err := r.Resolve(c.Name, m.Name, m.Descriptor)
			if err != nil {
				return nil, err
			}
			if res.Tags.Has(annotations.Entry) {
				row.Entries++
			}
		}
		if row.Storage {
			if row.Fields, err = storageFields(idx, c); err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func storageFields(idx *classindex.Index, c *classindex.Class) ([]FieldRow, error) {
	var out []FieldRow
	for _, f := range c.File.Fields {
		if f.Is(classfile.AccStatic) || f.Is(classfile.AccTransient) {
			continue
		}
		t, err := classfile.ParseFieldType(f.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, f.Name, err)
		}
		out = append(out, FieldRow{Name: f.Name, Type: f.Descriptor, Lazy: idx.IsLazilyLoadedFieldType(t)})
	}
	return out, nil
}
