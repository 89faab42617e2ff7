package classindex

import "github.com/roach88/moka/internal/classfile"

// IsInterface reports whether name is a known interface.
func (idx *Index) IsInterface(name string) bool {
	c, ok := idx.Lookup(name)
	return ok && c.Interface
}

// IsEnum reports whether name is a known enumeration.
func (idx *Index) IsEnum(name string) bool {
	c, ok := idx.Lookup(name)
	return ok && c.Enum
}

// IsStorageType reports whether instances of name can be kept in storage.
func (idx *Index) IsStorageType(name string) bool {
	return idx.IsSubtype(name, StorageName)
}

// IsContractType reports whether name is a contract.
func (idx *Index) IsContractType(name string) bool {
	return idx.IsSubtype(name, ContractName)
}

// IsTwoBalanceContractType reports whether name is a red/green contract.
func (idx *Index) IsTwoBalanceContractType(name string) bool {
	return idx.IsSubtype(name, RedGreenContractName)
}

// IsLazilyLoadedFieldType reports whether a field of type t is loaded on
// demand from storage. Primitives, String, BigInteger and enums are loaded
// eagerly; every other reference type, arrays included, is lazy.
func (idx *Index) IsLazilyLoadedFieldType(t classfile.Type) bool {
	if t.IsPrimitive() {
		return false
	}
	name, ok := t.ClassName()
	if !ok {
		return true
	}
	return name != StringName && name != BigIntegerName && !idx.IsEnum(name)
}

// ResolveMethod returns the first loaded class along the lineage of owner
// that declares name and descriptor, with the declaration.
func (idx *Index) ResolveMethod(owner, name, descriptor string) (*Class, *classfile.Member, bool) {
	for _, n := range idx.Lineage(owner) {
		if c, ok := idx.classes[n]; ok {
			if m := c.File.Method(name, descriptor); m != nil {
				return c, m, true
			}
		}
	}
	return nil, nil, false
}

// ResolveField is ResolveMethod for fields.
func (idx *Index) ResolveField(owner, name, descriptor string) (*Class, *classfile.Member, bool) {
	for _, n := range idx.Lineage(owner) {
		if c, ok := idx.classes[n]; ok {
			if f := c.File.Field(name, descriptor); f != nil {
				return c, f, true
			}
		}
	}
	return nil, nil, false
}

// DeclaresMethod reports whether class itself declares name and descriptor.
func (idx *Index) DeclaresMethod(class, name, descriptor string) bool {
	c, ok := idx.classes[class]
	return ok && c.File.Method(name, descriptor) != nil
}

// RedefinesHashCode reports whether some class between name and Object
// overrides hashCode().
func (idx *Index) RedefinesHashCode(name string) bool {
	return idx.redefines(name, "hashCode", "()I", hashFlag)
}

// RedefinesHashCodeOrToString also accepts an override of toString().
func (idx *Index) RedefinesHashCodeOrToString(name string) bool {
	return idx.RedefinesHashCode(name) ||
		idx.redefines(name, "toString", "()Ljava/lang/String;", stringFlag)
}

const (
	hashFlag = iota
	stringFlag
)

func (idx *Index) redefines(name, method, descriptor string, flag int) bool {
	for _, n := range idx.Lineage(name) {
		if n == ObjectName {
			return false
		}
		if c, ok := idx.classes[n]; ok {
			if c.Interface {
				continue
			}
			if m := c.File.Method(method, descriptor); m != nil && !m.Is(classfile.AccAbstract) && !m.Is(classfile.AccStatic) {
				return true
			}
			continue
		}
		if idx.platform == nil {
			continue
		}
		if t, ok := idx.platform.Type(n); ok && !t.Interface {
			if (flag == hashFlag && t.RedefinesHashCode) || (flag == stringFlag && t.RedefinesToString) {
				return true
			}
		}
	}
	return false
}
