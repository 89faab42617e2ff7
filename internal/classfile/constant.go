package classfile

import (
	"fmt"
	"math"
)

// Constant-pool tags (JVMS table 4.4-B).
const (
	TagUtf8               uint8 = 1
	TagInteger            uint8 = 3
	TagFloat              uint8 = 4
	TagLong               uint8 = 5
	TagDouble             uint8 = 6
	TagClass              uint8 = 7
	TagString             uint8 = 8
	TagFieldref           uint8 = 9
	TagMethodref          uint8 = 10
	TagInterfaceMethodref uint8 = 11
	TagNameAndType        uint8 = 12
	TagMethodHandle       uint8 = 15
	TagMethodType         uint8 = 16
	TagDynamic            uint8 = 17
	TagInvokeDynamic      uint8 = 18
	TagModule             uint8 = 19
	TagPackage            uint8 = 20
)

// Method-handle reference kinds (JVMS 5.4.3.5).
const (
	RefGetField         uint8 = 1
	RefGetStatic        uint8 = 2
	RefPutField         uint8 = 3
	RefPutStatic        uint8 = 4
	RefInvokeVirtual    uint8 = 5
	RefInvokeStatic     uint8 = 6
	RefInvokeSpecial    uint8 = 7
	RefNewInvokeSpecial uint8 = 8
	RefInvokeInterface  uint8 = 9
)

// Constant is one constant-pool entry. Which fields are meaningful depends
// on Tag: A and B hold the one or two index operands (class/name-and-type,
// name/descriptor, bootstrap/name-and-type, kind/reference), Bits holds the
// raw bits of numeric constants. The slot after a Long or Double has Tag 0.
type Constant struct {
	Tag  uint8
	Raw  []byte // Utf8 only, as stored
	Str  string // Utf8 only, decoded
	A, B uint16
	Bits uint64
}

// Pool is a constant pool. Index 0 is unused, as in the class file.
type Pool struct {
	entries  []Constant
	interned map[string]uint16
}

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Owner      string
	Name       string
	Descriptor string
	Interface  bool
}

func (m MemberRef) String() string {
	return m.Owner + "." + m.Name + m.Descriptor
}

func parsePool(r *reader) *Pool {
	count := int(r.u2())
	if r.err == nil && count == 0 {
		r.fail("constant pool count is zero")
	}
	p := &Pool{entries: make([]Constant, 1, count)}
	for i := 1; i < count && r.err == nil; i++ {
		tag := r.u1()
		c := Constant{Tag: tag}
		switch tag {
		case TagUtf8:
			c.Raw = r.bytes(int(r.u2()))
			if r.err == nil {
				s, ok := decodeMUTF8(c.Raw)
				if !ok {
					r.fail("malformed modified UTF-8 at constant %d", i)
				}
				c.Str = s
			}
		case TagInteger, TagFloat:
			c.Bits = uint64(r.u4())
		case TagLong, TagDouble:
			c.Bits = r.u8()
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.A = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.A = r.u2()
			c.B = r.u2()
		case TagMethodHandle:
			c.A = uint16(r.u1())
			c.B = r.u2()
			if c.A < uint16(RefGetField) || c.A > uint16(RefInvokeInterface) {
				r.fail("bad method handle kind %d at constant %d", c.A, i)
			}
		default:
			r.fail("unknown constant tag %d at constant %d", tag, i)
		}
		p.entries = append(p.entries, c)
		if tag == TagLong || tag == TagDouble {
			p.entries = append(p.entries, Constant{})
			i++
		}
	}
	if r.err == nil && len(p.entries) != count {
		r.fail("long or double constant overflows pool")
	}
	return p
}

// validate checks that every index operand points at an entry of the
// expected kind, so later accessors only fail on caller mistakes.
func (p *Pool) validate() error {
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		var err error
		switch c.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			err = p.expect(c.A, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if err = p.expect(c.A, TagClass); err == nil {
				err = p.expect(c.B, TagNameAndType)
			}
		case TagNameAndType:
			if err = p.expect(c.A, TagUtf8); err == nil {
				err = p.expect(c.B, TagUtf8)
			}
		case TagDynamic, TagInvokeDynamic:
			err = p.expect(c.B, TagNameAndType)
		case TagMethodHandle:
			var t uint8
			if t, err = p.tagAt(c.B); err == nil && (t < TagFieldref || t > TagInterfaceMethodref) {
				err = fmt.Errorf("method handle %d refers to tag %d", i, t)
			}
		}
		if err != nil {
			return formatErrorf(-1, "constant pool", "entry %d: %v", i, err)
		}
	}
	return nil
}

func (p *Pool) tagAt(i uint16) (uint8, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return 0, fmt.Errorf("index %d out of range", i)
	}
	return p.entries[i].Tag, nil
}

func (p *Pool) expect(i uint16, tag uint8) error {
	t, err := p.tagAt(i)
	if err != nil {
		return err
	}
	if t != tag {
		return fmt.Errorf("index %d has tag %d, want %d", i, t, tag)
	}
	return nil
}

// Len returns the constant-pool count as written in the class file.
func (p *Pool) Len() int { return len(p.entries) }

// At returns the entry at index i.
func (p *Pool) At(i uint16) (Constant, error) {
	if _, err := p.tagAt(i); err != nil {
		return Constant{}, err
	}
	return p.entries[i], nil
}

// Tag returns the tag at index i, or 0 if i is not a valid index.
func (p *Pool) Tag(i uint16) uint8 {
	t, _ := p.tagAt(i)
	return t
}

func (p *Pool) Utf8(i uint16) (string, error) {
	if err := p.expect(i, TagUtf8); err != nil {
		return "", err
	}
	return p.entries[i].Str, nil
}

// ClassName returns the internal name of the Class constant at i.
func (p *Pool) ClassName(i uint16) (string, error) {
	if err := p.expect(i, TagClass); err != nil {
		return "", err
	}
	return p.Utf8(p.entries[i].A)
}

func (p *Pool) NameAndType(i uint16) (name, descriptor string, err error) {
	if err = p.expect(i, TagNameAndType); err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(p.entries[i].A); err != nil {
		return "", "", err
	}
	descriptor, err = p.Utf8(p.entries[i].B)
	return name, descriptor, err
}

// Member resolves a Fieldref, Methodref or InterfaceMethodref.
func (p *Pool) Member(i uint16) (MemberRef, error) {
	t, err := p.tagAt(i)
	if err != nil {
		return MemberRef{}, err
	}
	if t != TagFieldref && t != TagMethodref && t != TagInterfaceMethodref {
		return MemberRef{}, fmt.Errorf("index %d is not a member reference", i)
	}
	c := p.entries[i]
	owner, err := p.ClassName(c.A)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := p.NameAndType(c.B)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Owner: owner, Name: name, Descriptor: desc, Interface: t == TagInterfaceMethodref}, nil
}

// MethodHandle resolves a MethodHandle constant to its kind and target.
func (p *Pool) MethodHandle(i uint16) (uint8, MemberRef, error) {
	if err := p.expect(i, TagMethodHandle); err != nil {
		return 0, MemberRef{}, err
	}
	c := p.entries[i]
	ref, err := p.Member(c.B)
	return uint8(c.A), ref, err
}

// InvokeDynamic resolves an InvokeDynamic or Dynamic constant.
func (p *Pool) InvokeDynamic(i uint16) (bootstrap uint16, name, descriptor string, err error) {
	t, err := p.tagAt(i)
	if err != nil {
		return 0, "", "", err
	}
	if t != TagInvokeDynamic && t != TagDynamic {
		return 0, "", "", fmt.Errorf("index %d is not a dynamic constant", i)
	}
	c := p.entries[i]
	name, descriptor, err = p.NameAndType(c.B)
	return c.A, name, descriptor, err
}

// Int returns the value of an Integer constant.
func (p *Pool) Int(i uint16) (int32, error) {
	if err := p.expect(i, TagInteger); err != nil {
		return 0, err
	}
	return int32(uint32(p.entries[i].Bits)), nil
}

// StringValue returns the text of a String constant.
func (p *Pool) StringValue(i uint16) (string, error) {
	if err := p.expect(i, TagString); err != nil {
		return "", err
	}
	return p.Utf8(p.entries[i].A)
}

func (p *Pool) write(w *writer) {
	w.u2(uint16(len(p.entries)))
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		if c.Tag == 0 {
			continue
		}
		w.u1(c.Tag)
		switch c.Tag {
		case TagUtf8:
			w.u2(uint16(len(c.Raw)))
			w.raw(c.Raw)
		case TagInteger, TagFloat:
			w.u4(uint32(c.Bits))
		case TagLong, TagDouble:
			w.u8(c.Bits)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(c.A)
		case TagMethodHandle:
			w.u1(uint8(c.A))
			w.u2(c.B)
		default:
			w.u2(c.A)
			w.u2(c.B)
		}
	}
}

// intern returns the index of an existing constant with the same key, or
// appends c. Parsed entries may be reused but are never moved.
func (p *Pool) intern(key string, c Constant) (uint16, error) {
	if p.interned == nil {
		p.interned = make(map[string]uint16)
		for i := 1; i < len(p.entries); i++ {
			if k, ok := p.keyOf(uint16(i)); ok {
				if _, dup := p.interned[k]; !dup {
					p.interned[k] = uint16(i)
				}
			}
		}
	}
	if i, ok := p.interned[key]; ok {
		return i, nil
	}
	size := 1
	if c.Tag == TagLong || c.Tag == TagDouble {
		size = 2
	}
	if len(p.entries)+size > math.MaxUint16 {
		return 0, formatErrorf(-1, "constant pool", "pool overflow")
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if size == 2 {
		p.entries = append(p.entries, Constant{})
	}
	p.interned[key] = i
	return i, nil
}

func (p *Pool) keyOf(i uint16) (string, bool) {
	c := p.entries[i]
	switch c.Tag {
	case TagUtf8:
		return "u:" + string(c.Raw), true
	case TagInteger, TagFloat, TagLong, TagDouble:
		return fmt.Sprintf("%d:%d", c.Tag, c.Bits), true
	case TagClass, TagString, TagMethodType:
		return fmt.Sprintf("%d:%d", c.Tag, c.A), true
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagMethodHandle, TagInvokeDynamic:
		return fmt.Sprintf("%d:%d:%d", c.Tag, c.A, c.B), true
	}
	return "", false
}

// AddUtf8 returns the index of a Utf8 constant holding s.
func (p *Pool) AddUtf8(s string) (uint16, error) {
	raw := encodeMUTF8(s)
	return p.intern("u:"+string(raw), Constant{Tag: TagUtf8, Raw: raw, Str: s})
}

func (p *Pool) addIndexed(tag uint8, a, b uint16) (uint16, error) {
	c := Constant{Tag: tag, A: a, B: b}
	if tag == TagClass || tag == TagString || tag == TagMethodType {
		return p.intern(fmt.Sprintf("%d:%d", tag, a), c)
	}
	return p.intern(fmt.Sprintf("%d:%d:%d", tag, a, b), c)
}

// AddClass returns the index of a Class constant for the internal name.
func (p *Pool) AddClass(name string) (uint16, error) {
	u, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	return p.addIndexed(TagClass, u, 0)
}

func (p *Pool) AddString(s string) (uint16, error) {
	u, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.addIndexed(TagString, u, 0)
}

func (p *Pool) AddInt(v int32) (uint16, error) {
	bits := uint64(uint32(v))
	return p.intern(fmt.Sprintf("%d:%d", TagInteger, bits), Constant{Tag: TagInteger, Bits: bits})
}

func (p *Pool) AddLong(v int64) (uint16, error) {
	bits := uint64(v)
	return p.intern(fmt.Sprintf("%d:%d", TagLong, bits), Constant{Tag: TagLong, Bits: bits})
}

func (p *Pool) AddNameAndType(name, descriptor string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(descriptor)
	if err != nil {
		return 0, err
	}
	return p.addIndexed(TagNameAndType, n, d)
}

// AddMember returns the index of a Fieldref, Methodref or
// InterfaceMethodref constant, chosen by tag.
func (p *Pool) AddMember(tag uint8, ref MemberRef) (uint16, error) {
	class, err := p.AddClass(ref.Owner)
	if err != nil {
		return 0, err
	}
	nat, err := p.AddNameAndType(ref.Name, ref.Descriptor)
	if err != nil {
		return 0, err
	}
	return p.addIndexed(tag, class, nat)
}

// AddMethodref adds a Methodref, or an InterfaceMethodref when
// ref.Interface is set.
func (p *Pool) AddMethodref(ref MemberRef) (uint16, error) {
	if ref.Interface {
		return p.AddMember(TagInterfaceMethodref, ref)
	}
	return p.AddMember(TagMethodref, ref)
}

func (p *Pool) AddFieldref(ref MemberRef) (uint16, error) {
	return p.AddMember(TagFieldref, ref)
}

// AddMethodHandle returns the index of a MethodHandle constant.
func (p *Pool) AddMethodHandle(kind uint8, ref MemberRef) (uint16, error) {
	tag := TagMethodref
	switch {
	case kind <= RefPutStatic:
		tag = TagFieldref
	case ref.Interface:
		tag = TagInterfaceMethodref
	}
	target, err := p.AddMember(tag, ref)
	if err != nil {
		return 0, err
	}
	return p.intern(fmt.Sprintf("%d:%d:%d", TagMethodHandle, kind, target), Constant{Tag: TagMethodHandle, A: uint16(kind), B: target})
}

// AddInvokeDynamic returns the index of an InvokeDynamic constant calling
// bootstrap method bootstrap for name and descriptor.
func (p *Pool) AddInvokeDynamic(bootstrap uint16, name, descriptor string) (uint16, error) {
	nat, err := p.AddNameAndType(name, descriptor)
	if err != nil {
		return 0, err
	}
	return p.addIndexed(TagInvokeDynamic, bootstrap, nat)
}

// AddMethodType returns the index of a MethodType constant.
func (p *Pool) AddMethodType(descriptor string) (uint16, error) {
	d, err := p.AddUtf8(descriptor)
	if err != nil {
		return 0, err
	}
	return p.addIndexed(TagMethodType, d, 0)
}

// NewPool returns an empty pool for classes built from scratch.
func NewPool() *Pool {
	return &Pool{entries: make([]Constant, 1)}
}
