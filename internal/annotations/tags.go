package annotations

import (
	"fmt"
	"strings"

	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
)

// Kind is one semantic tag.
type Kind uint8

const (
	Entry Kind = iota
	Payable
	View
	RedPayable
	ThrowsExceptions
	Exported
	SelfCharged
	Whitelisted
	numKinds
)

var kindNames = [numKinds]string{
	Entry:            "FromContract",
	Payable:          "Payable",
	View:             "View",
	RedPayable:       "RedPayable",
	ThrowsExceptions: "ThrowsExceptions",
	Exported:         "Exported",
	SelfCharged:      "SelfCharged",
	Whitelisted:      "WhiteListedDuringInitialization",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Descriptor is the annotation type descriptor recognised as k.
func (k Kind) Descriptor() string {
	return string(classfile.ObjectType(classindex.LangPackage + k.String()))
}

var byDescriptor = func() map[string]Kind {
	m := make(map[string]Kind, numKinds)
	for k := Entry; k < numKinds; k++ {
		m[k.Descriptor()] = k
	}
	return m
}()

// TagSet is the set of tags on one declaration. Bound is the bound type of
// Entry and is empty when Entry is absent.
type TagSet struct {
	mask  uint16
	Bound string
}

// Has reports whether k is in the set.
func (s TagSet) Has(k Kind) bool { return s.mask&(1<<k) != 0 }

// With returns s plus k. A bound is only kept for Entry.
func (s TagSet) With(k Kind, bound string) TagSet {
	s.mask |= 1 << k
	if k == Entry {
		s.Bound = bound
	}
	return s
}

// Without returns s minus k.
func (s TagSet) Without(k Kind) TagSet {
	s.mask &^= 1 << k
	if k == Entry {
		s.Bound = ""
	}
	return s
}

// IsEmpty reports whether no tag is present.
func (s TagSet) IsEmpty() bool { return s.mask == 0 }

// Kinds lists the tags in declaration order of the constants.
func (s TagSet) Kinds() []Kind {
	var out []Kind
	for k := Entry; k < numKinds; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// String renders the set the way it reads in source, e.g.
// "@FromContract(PayableContract) @Payable".
func (s TagSet) String() string {
	if s.IsEmpty() {
		return "no annotations"
	}
	parts := make([]string, 0, numKinds)
	for _, k := range s.Kinds() {
		if k == Entry {
			parts = append(parts, "@"+k.String()+"("+classfile.JavaName(s.Bound)+")")
			continue
		}
		parts = append(parts, "@"+k.String())
	}
	return strings.Join(parts, " ")
}

// Decode maps raw annotations to a tag set. Unrecognised annotations are
// ignored. Entry without a value element is bound to Contract.
func Decode(anns []classfile.Annotation) (TagSet, error) {
	var s TagSet
	for i := range anns {
		k, ok := byDescriptor[anns[i].Type]
		if !ok {
			continue
		}
		bound := ""
		if k == Entry {
			bound = classindex.ContractName
			if v, ok := anns[i].Element("value"); ok {
				if v.Tag != 'c' {
					return TagSet{}, fmt.Errorf("@%s value has element tag %q, want a class", k, v.Tag)
				}
				name, ok := classfile.Type(v.Class).ClassName()
				if !ok {
					return TagSet{}, fmt.Errorf("@%s value %s is not a class type", k, v.Class)
				}
				bound = name
			}
		}
		s = s.With(k, bound)
	}
	return s, nil
}
