package whitelist

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource []byte

//go:embed table.cue
var tableSource []byte

// LoadError is a problem in the table source.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the embedded table, loading it on first use.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Load()
	})
	return defaultTable, defaultErr
}

// Load parses and validates the embedded table.
func Load() (*Table, error) {
	return Parse(tableSource)
}

// Parse builds a table from CUE source, validated against the embedded
// schema.
func Parse(src []byte) (*Table, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	doc := ctx.CompileBytes(src, cue.Filename("table.cue"))
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := schema.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	types, err := parseTypes(v.LookupPath(cue.ParsePath("types")))
	if err != nil {
		return nil, err
	}
	entries, err := parseEntries(v.LookupPath(cue.ParsePath("entries")))
	if err != nil {
		return nil, err
	}
	return newTable(types, entries)
}

func parseTypes(v cue.Value) (map[string]TypeInfo, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	types := make(map[string]TypeInfo)
	for iter.Next() {
		tv := iter.Value()
		t := TypeInfo{Name: iter.Label()}
		if sv := tv.LookupPath(cue.ParsePath("super")); sv.Exists() {
			if t.Super, err = sv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if t.Interfaces, err = stringList(tv.LookupPath(cue.ParsePath("interfaces"))); err != nil {
			return nil, err
		}
		flags := []struct {
			name string
			dst  *bool
		}{
			{"interface", &t.Interface},
			{"enum", &t.Enum},
			{"redefinesHashCode", &t.RedefinesHashCode},
			{"redefinesToString", &t.RedefinesToString},
		}
		for _, f := range flags {
			if *f.dst, err = tv.LookupPath(cue.ParsePath(f.name)).Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		types[t.Name] = t
	}
	return types, nil
}

func parseEntries(v cue.Value) ([]Entry, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var entries []Entry
	for iter.Next() {
		ev := iter.Value()
		var e Entry
		for _, f := range []struct {
			name string
			dst  *string
		}{{"owner", &e.Owner}, {"name", &e.Name}, {"descriptor", &e.Descriptor}} {
			if *f.dst, err = ev.LookupPath(cue.ParsePath(f.name)).String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		since, err := ev.LookupPath(cue.ParsePath("since")).Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		e.Since = int(since)
		if uv := ev.LookupPath(cue.ParsePath("until")); uv.Exists() {
			until, err := uv.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if until <= since {
				return nil, &LoadError{Field: e.Signature(), Message: fmt.Sprintf("until %d is not after since %d", until, since), Pos: uv.Pos()}
			}
			e.Until = int(until)
		}
		if e.Obligations, err = parseObligations(ev.LookupPath(cue.ParsePath("obligations"))); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseObligations(v cue.Value) ([]Obligation, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []Obligation
	for iter.Next() {
		ov := iter.Value()
		var o Obligation
		on := ov.LookupPath(cue.ParsePath("on"))
		if on.Kind() == cue.StringKind {
			o.Operand = Receiver
		} else {
			n, err := on.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			o.Operand = int(n)
		}
		kind, err := ov.LookupPath(cue.ParsePath("kind")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		o.Kind = Kind(kind)
		out = append(out, o)
	}
	return out, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &LoadError{Field: "cue", Message: first.Error()}
}
