package classindex

import (
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gammazero/deque"

	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/whitelist"
)

// Well-known class names.
const (
	ObjectName           = "java/lang/Object"
	StringName           = "java/lang/String"
	EnumName             = "java/lang/Enum"
	BigIntegerName       = "java/math/BigInteger"
	ThrowableName        = "java/lang/Throwable"
	ErrorName            = "java/lang/Error"
	RuntimeExceptionName = "java/lang/RuntimeException"

	LangPackage          = "io/takamaka/code/lang/"
	StorageName          = LangPackage + "Storage"
	ContractName         = LangPackage + "Contract"
	PayableContractName  = LangPackage + "PayableContract"
	RedGreenContractName = LangPackage + "RedGreenContract"
	RuntimeName          = LangPackage + "Runtime"
	DummyName            = LangPackage + "Dummy"
)

// Origin says where a class came from.
type Origin uint8

const (
	Module Origin = iota
	Classpath
	Platform
)

func (o Origin) String() string {
	switch o {
	case Module:
		return "module"
	case Classpath:
		return "classpath"
	case Platform:
		return "platform"
	}
	return fmt.Sprintf("Origin(%d)", uint8(o))
}

// Class is one type known to the index. File is nil for platform types,
// which have no member declarations.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Interface  bool
	Enum       bool
	Origin     Origin
	Position   int // input position, -1 for platform types
	File       *classfile.ClassFile
}

// Loaded reports whether the class was supplied as bytes.
func (c *Class) Loaded() bool { return c.File != nil }

// Input is what a run loads: the module first, then its classpath.
type Input struct {
	Module    [][]byte
	Classpath [][]byte
}

// Index is the read-only class index of one run. Query methods are safe
// for concurrent use.
type Index struct {
	classes  map[string]*Class
	ordered  []*Class
	module   []*Class
	platform whitelist.Hierarchy

	mu        sync.Mutex
	ancestors map[string][]string
	subtypes  map[[2]string]bool
}

// Build parses every input and links the hierarchy. platform may be nil.
func Build(in Input, platform whitelist.Hierarchy) (*Index, error) {
	idx := &Index{
		classes:   make(map[string]*Class, len(in.Module)+len(in.Classpath)),
		platform:  platform,
		ancestors: make(map[string][]string),
		subtypes:  make(map[[2]string]bool),
	}
	pos := 0
	for _, group := range []struct {
		origin Origin
		bytes  [][]byte
	}{{Module, in.Module}, {Classpath, in.Classpath}} {
		for _, b := range group.bytes {
			cf, err := classfile.Parse(b)
			if err != nil {
				return nil, &MalformedInputError{Index: pos, Err: err}
			}
			if err := idx.add(cf, group.origin, pos); err != nil {
				return nil, err
			}
			pos++
		}
	}
	if err := idx.link(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) add(cf *classfile.ClassFile, origin Origin, pos int) error {
	if prev, dup := idx.classes[cf.Name]; dup {
		return &MalformedInputError{Index: pos, Class: cf.Name,
			Err: fmt.Errorf("duplicate class, first defined by input #%d", prev.Position)}
	}
	if idx.platform != nil {
		if _, ok := idx.platform.Type(cf.Name); ok {
			return &MalformedInputError{Index: pos, Class: cf.Name, Err: errors.New("redefines a platform type")}
		}
	}
	c := &Class{
		Name:       cf.Name,
		Super:      cf.Super,
		Interfaces: cf.Interfaces,
		Interface:  cf.Is(classfile.AccInterface),
		Enum:       cf.Is(classfile.AccEnum) || cf.Super == EnumName,
		Origin:     origin,
		Position:   pos,
		File:       cf,
	}
	idx.classes[c.Name] = c
	idx.ordered = append(idx.ordered, c)
	if origin == Module {
		idx.module = append(idx.module, c)
	}
	return nil
}

// link checks that every ancestor of a loaded class resolves and that no
// superclass chain loops.
func (idx *Index) link() error {
	for _, c := range idx.ordered {
		if err := idx.linkClass(c); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) linkClass(c *Class) error {
	for _, name := range append([]string{c.Super}, c.Interfaces...) {
		if name != "" && !idx.Known(name) {
			return &MalformedInputError{Index: c.Position, Class: c.Name,
				Err: fmt.Errorf("ancestor %s cannot be resolved", name)}
		}
	}
	seen := mapset.NewThreadUnsafeSet(c.Name)
	for s := c.Super; s != ""; {
		if !seen.Add(s) {
			return &MalformedInputError{Index: c.Position, Class: c.Name,
				Err: fmt.Errorf("superclass cycle through %s", s)}
		}
		next, ok := idx.Lookup(s)
		if !ok || !next.Loaded() {
			break
		}
		s = next.Super
	}
	return nil
}

// Lookup returns the class named name, loaded or platform.
func (idx *Index) Lookup(name string) (*Class, bool) {
	if c, ok := idx.classes[name]; ok {
		return c, true
	}
	if idx.platform == nil {
		return nil, false
	}
	t, ok := idx.platform.Type(name)
	if !ok {
		return nil, false
	}
	return &Class{
		Name:       t.Name,
		Super:      t.Super,
		Interfaces: t.Interfaces,
		Interface:  t.Interface,
		Enum:       t.Enum,
		Origin:     Platform,
		Position:   -1,
	}, true
}

// Known reports whether name resolves to a loaded or platform class.
func (idx *Index) Known(name string) bool {
	_, ok := idx.Lookup(name)
	return ok
}

// Classes returns every loaded class in input order.
func (idx *Index) Classes() []*Class {
	return append([]*Class(nil), idx.ordered...)
}

// Module returns the module classes in input order.
func (idx *Index) Module() []*Class {
	return append([]*Class(nil), idx.module...)
}

// Platform returns the platform hierarchy the index was built with.
func (idx *Index) Platform() whitelist.Hierarchy { return idx.platform }

// Ancestors lists the proper supertypes of name depth first, the
// superclass before the interfaces in declaration order, each type once.
// Interfaces whose only declared supertype is implicit still end with
// java/lang/Object when it is known.
func (idx *Index) Ancestors(name string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.ancestorsLocked(name)
}

func (idx *Index) ancestorsLocked(name string) []string {
	if out, ok := idx.ancestors[name]; ok {
		return out
	}
	visited := mapset.NewThreadUnsafeSet(name)
	var out []string
	var stack deque.Deque
	pushParents := func(c *Class) {
		for i := len(c.Interfaces) - 1; i >= 0; i-- {
			stack.PushBack(c.Interfaces[i])
		}
		if c.Super != "" {
			stack.PushBack(c.Super)
		}
	}
	start, ok := idx.Lookup(name)
	if ok {
		pushParents(start)
	}
	for stack.Len() > 0 {
		n := stack.PopBack().(string)
		if !visited.Add(n) {
			continue
		}
		out = append(out, n)
		if c, ok := idx.Lookup(n); ok {
			pushParents(c)
		}
	}
	if ok && start.Interface && !visited.Contains(ObjectName) && idx.Known(ObjectName) {
		out = append(out, ObjectName)
	}
	idx.ancestors[name] = out
	return out
}

// Lineage is name followed by its Ancestors.
func (idx *Index) Lineage(name string) []string {
	return append([]string{name}, idx.Ancestors(name)...)
}

// IsSubtype reports whether sub is sup or one of its subtypes.
func (idx *Index) IsSubtype(sub, sup string) bool {
	if sub == sup {
		return true
	}
	key := [2]string{sub, sup}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if r, ok := idx.subtypes[key]; ok {
		return r
	}
	r := false
	for _, a := range idx.ancestorsLocked(sub) {
		if a == sup {
			r = true
			break
		}
	}
	idx.subtypes[key] = r
	return r
}
