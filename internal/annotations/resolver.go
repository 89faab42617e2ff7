package annotations

import (
	"fmt"
	"sync"

	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
)

// Declaration is one declaration of a signature along a lineage.
type Declaration struct {
	Class  string
	Member *classfile.Member
	Tags   TagSet
}

// Conflict is a pair of reachable declarations whose tags disagree.
// Override is the declaration in the more specific type; for unrelated
// types (two interfaces meeting in a diamond) Sibling is set and Override
// is the one met first.
type Conflict struct {
	Override   Declaration
	Overridden Declaration
	Sibling    bool
}

// Resolution is the outcome of resolving the tags of a signature.
type Resolution struct {
	// Tags is the effective tag set: the tags of Declarer.
	Tags TagSet
	// Declarer is the first declaring type, empty when none declares it.
	Declarer string
	// Descriptor is the descriptor that matched. It differs from the
	// requested one when only the instrumented form, with trailing caller
	// and dummy parameters, is declared.
	Descriptor string
	// Declarations lists every participating declaration in lineage order.
	Declarations []Declaration
	Conflicts    []Conflict
}

// Found reports whether some type declares the signature.
func (r Resolution) Found() bool { return r.Declarer != "" }

type sigKey struct{ owner, name, descriptor string }

// Resolver resolves tags over one class index. It is safe for concurrent
// use and memoises per instance.
type Resolver struct {
	idx *classindex.Index

	mu       sync.Mutex
	resolved map[sigKey]Resolution
	declared map[*classfile.Member]TagSet
}

// New returns a resolver over idx.
func New(idx *classindex.Index) *Resolver {
	return &Resolver{
		idx:      idx,
		resolved: make(map[sigKey]Resolution),
		declared: make(map[*classfile.Member]TagSet),
	}
}

// Declared returns the tags written on member m of class.
func (r *Resolver) Declared(class string, m *classfile.Member) (TagSet, error) {
	r.mu.Lock()
	s, ok := r.declared[m]
	r.mu.Unlock()
	if ok {
		return s, nil
	}
	c, ok := r.idx.Lookup(class)
	if !ok || !c.Loaded() {
		return TagSet{}, fmt.Errorf("class %s is not loaded", class)
	}
	anns, err := c.File.Annotations(m.Attributes)
	if err != nil {
		return TagSet{}, fmt.Errorf("%s.%s%s: %w", class, m.Name, m.Descriptor, err)
	}
	if s, err = Decode(anns); err != nil {
		return TagSet{}, fmt.Errorf("%s.%s%s: %w", class, m.Name, m.Descriptor, err)
	}
	r.mu.Lock()
	r.declared[m] = s
	r.mu.Unlock()
	return s, nil
}

// ClassTags returns the tags written on class itself. Platform types
// carry none.
func (r *Resolver) ClassTags(class string) (TagSet, error) {
	c, ok := r.idx.Lookup(class)
	if !ok || !c.Loaded() {
		return TagSet{}, nil
	}
	anns, err := c.File.Annotations(c.File.Attributes)
	if err != nil {
		return TagSet{}, fmt.Errorf("%s: %w", class, err)
	}
	return Decode(anns)
}

// Resolve finds the effective tags of owner.name descriptor. Constructors
// are looked up in owner only. Methods are looked up along the lineage of
// owner; the first declaration that is not a synthetic bridge decides.
// Private and static declarations above owner are not overridden and do
// not take part. When nothing declares descriptor, the instrumented form
// with trailing Contract and Dummy parameters is tried.
func (r *Resolver) Resolve(owner, name, descriptor string) (Resolution, error) {
	key := sigKey{owner, name, descriptor}
	r.mu.Lock()
	res, ok := r.resolved[key]
	r.mu.Unlock()
	if ok {
		return res, nil
	}
	res, err := r.resolve(owner, name, descriptor)
	if err != nil {
		return Resolution{}, err
	}
	if !res.Found() {
		if expanded, ok := Instrumented(descriptor); ok {
			if alt, err := r.resolve(owner, name, expanded); err != nil {
				return Resolution{}, err
			} else if alt.Found() {
				res = alt
			}
		}
	}
	r.mu.Lock()
	r.resolved[key] = res
	r.mu.Unlock()
	return res, nil
}

func (r *Resolver) resolve(owner, name, descriptor string) (Resolution, error) {
	res := Resolution{Descriptor: descriptor}
	lineage := []string{owner}
	if name != "<init>" && name != "<clinit>" {
		lineage = r.idx.Lineage(owner)
	}
	for i, class := range lineage {
		c, ok := r.idx.Lookup(class)
		if !ok || !c.Loaded() {
			continue
		}
		m := c.File.Method(name, descriptor)
		if m == nil {
			continue
		}
		if i > 0 && (m.Is(classfile.AccPrivate) || m.Is(classfile.AccStatic)) {
			continue
		}
		if m.Is(classfile.AccBridge) && m.Is(classfile.AccSynthetic) {
			continue
		}
		tags, err := r.Declared(class, m)
		if err != nil {
			return Resolution{}, err
		}
		res.Declarations = append(res.Declarations, Declaration{Class: class, Member: m, Tags: tags})
		if i == 0 && (m.Is(classfile.AccPrivate) || m.Is(classfile.AccStatic)) {
			break
		}
	}
	if len(res.Declarations) > 0 {
		res.Declarer = res.Declarations[0].Class
		res.Tags = res.Declarations[0].Tags
	}
	res.Conflicts = r.conflicts(res.Declarations)
	return res, nil
}

func (r *Resolver) conflicts(decls []Declaration) []Conflict {
	var out []Conflict
	for i := 0; i < len(decls); i++ {
		for j := i + 1; j < len(decls); j++ {
			a, b := decls[i], decls[j]
			sibling := false
			switch {
			case r.idx.IsSubtype(a.Class, b.Class):
			case r.idx.IsSubtype(b.Class, a.Class):
				a, b = b, a
			default:
				sibling = true
			}
			if sibling {
				if !r.Compatible(a.Tags, b.Tags) && !r.Compatible(b.Tags, a.Tags) {
					out = append(out, Conflict{Override: a, Overridden: b, Sibling: true})
				}
				continue
			}
			if !r.Compatible(a.Tags, b.Tags) {
				out = append(out, Conflict{Override: a, Overridden: b})
			}
		}
	}
	return out
}

// Compatible reports whether override may redeclare overridden: both carry
// the same tags, Whitelisted aside, and the entry bound of override is the
// same as or a supertype of that of overridden.
func (r *Resolver) Compatible(override, overridden TagSet) bool {
	a, b := override.Without(Whitelisted), overridden.Without(Whitelisted)
	if a.mask != b.mask {
		return false
	}
	if a.Has(Entry) {
		return r.idx.IsSubtype(b.Bound, a.Bound)
	}
	return true
}

// Instrumented returns descriptor with the trailing caller and dummy
// parameters that instrumentation adds to entry code.
func Instrumented(descriptor string) (string, bool) {
	mt, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return "", false
	}
	return mt.WithParams(
		classfile.ObjectType(classindex.ContractName),
		classfile.ObjectType(classindex.DummyName),
	).String(), true
}
