package whitelist

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/moka/internal/ir"
)

// Table is an immutable whitelist. It is safe for concurrent use.
type Table struct {
	entries []Entry // sorted by owner, name, descriptor, since
	byKey   map[string][]int
	types   map[string]TypeInfo
	digest  string
}

func memberKey(owner, name, descriptor string) string {
	return owner + "." + name + descriptor
}

func newTable(types map[string]TypeInfo, entries []Entry) (*Table, error) {
	for name, t := range types {
		for _, parent := range append([]string{t.Super}, t.Interfaces...) {
			if parent == "" {
				continue
			}
			if _, ok := types[parent]; !ok {
				return nil, &LoadError{Field: name, Message: fmt.Sprintf("unknown supertype %s", parent)}
			}
		}
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(a.Signature(), b.Signature()); c != 0 {
			return c
		}
		return a.Since - b.Since
	})
	t := &Table{entries: entries, byKey: make(map[string][]int), types: types}
	for i := range entries {
		e := &entries[i]
		if _, ok := types[e.Owner]; !ok {
			return nil, &LoadError{Field: e.Signature(), Message: "owner is not a declared type"}
		}
		for _, o := range e.Obligations {
			if err := checkObligation(e, o); err != nil {
				return nil, err
			}
		}
		key := e.Signature()
		for _, j := range t.byKey[key] {
			if overlaps(&entries[j], e) {
				return nil, &LoadError{Field: key, Message: "entries overlap in version range"}
			}
		}
		t.byKey[key] = append(t.byKey[key], i)
	}

	digest, err := ir.Hash(ir.DomainWhitelist, t.canonical())
	if err != nil {
		return nil, err
	}
	t.digest = digest
	return t, nil
}

func checkObligation(e *Entry, o Obligation) error {
	if e.IsField() {
		return &LoadError{Field: e.Signature(), Message: "fields cannot carry obligations"}
	}
	if o.Operand == Receiver {
		if e.Name == "<init>" {
			return &LoadError{Field: e.Signature(), Message: "constructor receiver cannot carry obligations"}
		}
		return nil
	}
	n, ok := countParams(e.Descriptor)
	if !ok || o.Operand >= n {
		return &LoadError{Field: e.Signature(), Message: fmt.Sprintf("obligation on argument %d out of range", o.Operand)}
	}
	return nil
}

func countParams(desc string) (int, bool) {
	if !strings.HasPrefix(desc, "(") {
		return 0, false
	}
	n := 0
	for i := 1; i < len(desc); i++ {
		switch desc[i] {
		case ')':
			return n, true
		case '[':
			continue
		case 'L':
			end := strings.IndexByte(desc[i:], ';')
			if end < 0 {
				return 0, false
			}
			i += end
		}
		n++
	}
	return 0, false
}

func overlaps(a, b *Entry) bool {
	aEnd, bEnd := a.Until, b.Until
	return (aEnd == 0 || b.Since < aEnd) && (bEnd == 0 || a.Since < bEnd)
}

// Lookup returns the obligations of the member at verification version v.
// ok is false when the member is not whitelisted at v.
func (t *Table) Lookup(v int, owner, name, descriptor string) (obligations []Obligation, ok bool) {
	for _, i := range t.byKey[memberKey(owner, name, descriptor)] {
		if e := &t.entries[i]; e.Applies(v) {
			return e.Obligations, true
		}
	}
	return nil, false
}

// Entries returns every entry, sorted by signature then since.
func (t *Table) Entries() []Entry {
	return slices.Clone(t.entries)
}

// Type describes a platform type. It implements Hierarchy.
func (t *Table) Type(name string) (TypeInfo, bool) {
	info, ok := t.types[name]
	return info, ok
}

// Hierarchy returns the platform hierarchy declared by the table.
func (t *Table) Hierarchy() Hierarchy { return t }

// TypeNames lists the declared platform types in sorted order.
func (t *Table) TypeNames() []string {
	names := make([]string, 0, len(t.types))
	for n := range t.types {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Digest is the content hash of the canonical table.
func (t *Table) Digest() string { return t.digest }

func (t *Table) canonical() ir.Object {
	entries := make(ir.Array, len(t.entries))
	for i, e := range t.entries {
		obs := make(ir.Array, len(e.Obligations))
		for k, o := range e.Obligations {
			obs[k] = ir.Object{"on": ir.Int(o.Operand), "kind": ir.String(string(o.Kind))}
		}
		entries[i] = ir.Object{
			"owner":       ir.String(e.Owner),
			"name":        ir.String(e.Name),
			"descriptor":  ir.String(e.Descriptor),
			"since":       ir.Int(e.Since),
			"until":       ir.Int(e.Until),
			"obligations": obs,
		}
	}
	types := make(ir.Object, len(t.types))
	for name, info := range t.types {
		types[name] = ir.Object{
			"super":               ir.String(info.Super),
			"interfaces":          ir.Strings(info.Interfaces),
			"interface":           ir.Bool(info.Interface),
			"enum":                ir.Bool(info.Enum),
			"redefines_hash_code": ir.Bool(info.RedefinesHashCode),
			"redefines_to_string": ir.Bool(info.RedefinesToString),
		}
	}
	return ir.Object{"entries": entries, "types": types}
}
