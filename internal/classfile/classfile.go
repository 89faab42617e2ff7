package classfile

import "fmt"

// Access flags (JVMS tables 4.1-B, 4.5-A, 4.6-A). Some bits are shared
// between contexts, hence the aliases.
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020
	AccSynchronized uint16 = 0x0020
	AccVolatile     uint16 = 0x0040
	AccBridge       uint16 = 0x0040
	AccTransient    uint16 = 0x0080
	AccVarargs      uint16 = 0x0080
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
	AccModule       uint16 = 0x8000
)

const (
	magic       = 0xCAFEBABE
	minMajor    = 45
	maxMajor    = 69
	constructor = "<init>"
	staticInit  = "<clinit>"
	attrCode    = "Code"
	objectClass = "java/lang/Object"
	moduleInfo  = "module-info"
)

// Attribute is an attribute kept as raw bytes. Typed views (Code,
// annotations, bootstrap methods) are decoded on demand.
type Attribute struct {
	NameIndex uint16
	Name      string
	Data      []byte
}

// Member is a field or method declaration.
type Member struct {
	Access          uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Name            string
	Descriptor      string
	Attributes      []Attribute
}

// Is reports whether all bits of flag are set.
func (m *Member) Is(flag uint16) bool { return m.Access&flag == flag }

// Attribute returns the first attribute called name.
func (m *Member) Attribute(name string) (Attribute, bool) {
	return findAttribute(m.Attributes, name)
}

// IsConstructor reports whether the member is an instance initializer.
func (m *Member) IsConstructor() bool { return m.Name == constructor }

// IsStaticInitializer reports whether the member is <clinit>.
func (m *Member) IsStaticInitializer() bool { return m.Name == staticInit }

func findAttribute(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// ClassFile is a decoded class file.
type ClassFile struct {
	Minor, Major uint16
	Pool         *Pool
	Access       uint16
	ThisIndex    uint16
	SuperIndex   uint16
	Name         string
	Super        string // empty only for java/lang/Object
	Interfaces   []string
	InterfaceIdx []uint16
	Fields       []*Member
	Methods      []*Member
	Attributes   []Attribute
}

// Is reports whether all bits of flag are set on the class.
func (cf *ClassFile) Is(flag uint16) bool { return cf.Access&flag == flag }

// Attribute returns the first class attribute called name.
func (cf *ClassFile) Attribute(name string) (Attribute, bool) {
	return findAttribute(cf.Attributes, name)
}

// Method returns the method with the given name and descriptor.
func (cf *ClassFile) Method(name, descriptor string) *Member {
	for _, m := range cf.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

// Field returns the field with the given name and descriptor.
func (cf *ClassFile) Field(name, descriptor string) *Member {
	for _, f := range cf.Fields {
		if f.Name == name && f.Descriptor == descriptor {
			return f
		}
	}
	return nil
}

// Package returns the package part of the class name, slash-separated.
func (cf *ClassFile) Package() string {
	return PackageOf(cf.Name)
}

// PackageOf returns the package of an internal class name.
func PackageOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[:i]
		}
	}
	return ""
}

// Parse decodes a class file. The returned error is always a *FormatError.
func Parse(b []byte) (*ClassFile, error) {
	r := newReader(b, "class file")
	if r.u4() != magic && r.err == nil {
		return nil, formatErrorf(0, "class file", "bad magic number")
	}
	cf := &ClassFile{}
	cf.Minor = r.u2()
	cf.Major = r.u2()
	if r.err == nil && (cf.Major < minMajor || cf.Major > maxMajor) {
		return nil, formatErrorf(6, "class file", "unsupported major version %d", cf.Major)
	}
	r.context = "constant pool"
	cf.Pool = parsePool(r)
	if r.err != nil {
		return nil, r.err
	}
	if err := cf.Pool.validate(); err != nil {
		return nil, err
	}
	r.context = "class header"
	cf.Access = r.u2()
	cf.ThisIndex = r.u2()
	cf.SuperIndex = r.u2()
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		cf.InterfaceIdx = append(cf.InterfaceIdx, r.u2())
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := cf.resolveHeader(); err != nil {
		return nil, err
	}
	r.context = "fields"
	cf.Fields = parseMembers(r, cf.Pool, false)
	r.context = "methods"
	cf.Methods = parseMembers(r, cf.Pool, true)
	r.context = "class attributes"
	cf.Attributes = parseAttributes(r, cf.Pool)
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, formatErrorf(r.off, "class file", "%d trailing bytes", r.remaining())
	}
	return cf, nil
}

func (cf *ClassFile) resolveHeader() error {
	var err error
	if cf.Name, err = cf.Pool.ClassName(cf.ThisIndex); err != nil {
		return formatErrorf(-1, "class header", "this_class: %v", err)
	}
	if cf.SuperIndex == 0 {
		if cf.Name != objectClass && cf.Name != moduleInfo {
			return formatErrorf(-1, "class header", "%s has no superclass", cf.Name)
		}
	} else if cf.Super, err = cf.Pool.ClassName(cf.SuperIndex); err != nil {
		return formatErrorf(-1, "class header", "super_class: %v", err)
	}
	for _, idx := range cf.InterfaceIdx {
		name, err := cf.Pool.ClassName(idx)
		if err != nil {
			return formatErrorf(-1, "class header", "interface: %v", err)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}
	return nil
}

func parseMembers(r *reader, p *Pool, methods bool) []*Member {
	n := int(r.u2())
	var out []*Member
	for i := 0; i < n && r.err == nil; i++ {
		m := &Member{Access: r.u2(), NameIndex: r.u2(), DescriptorIndex: r.u2()}
		if r.err != nil {
			break
		}
		var err error
		if m.Name, err = p.Utf8(m.NameIndex); err != nil {
			r.fail("member %d name: %v", i, err)
			break
		}
		if m.Descriptor, err = p.Utf8(m.DescriptorIndex); err != nil {
			r.fail("member %d descriptor: %v", i, err)
			break
		}
		if methods {
			_, err = ParseMethodDescriptor(m.Descriptor)
		} else {
			_, err = ParseFieldType(m.Descriptor)
		}
		if err != nil {
			r.fail("member %s: %v", m.Name, err)
			break
		}
		m.Attributes = parseAttributes(r, p)
		out = append(out, m)
	}
	return out
}

func parseAttributes(r *reader, p *Pool) []Attribute {
	n := int(r.u2())
	var out []Attribute
	for i := 0; i < n && r.err == nil; i++ {
		a := Attribute{NameIndex: r.u2()}
		size := int(r.u4())
		if r.err != nil {
			break
		}
		name, err := p.Utf8(a.NameIndex)
		if err != nil {
			r.fail("attribute name: %v", err)
			break
		}
		a.Name = name
		a.Data = r.bytes(size)
		out = append(out, a)
	}
	return out
}

// Bytes serialises the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	if cf.Pool.Len() > 0xffff {
		return nil, formatErrorf(-1, "class file", "constant pool too large")
	}
	w := &writer{}
	w.u4(magic)
	w.u2(cf.Minor)
	w.u2(cf.Major)
	cf.Pool.write(w)
	w.u2(cf.Access)
	w.u2(cf.ThisIndex)
	w.u2(cf.SuperIndex)
	w.u2(uint16(len(cf.InterfaceIdx)))
	for _, i := range cf.InterfaceIdx {
		w.u2(i)
	}
	for _, members := range [][]*Member{cf.Fields, cf.Methods} {
		w.u2(uint16(len(members)))
		for _, m := range members {
			w.u2(m.Access)
			w.u2(m.NameIndex)
			w.u2(m.DescriptorIndex)
			if err := writeAttributes(w, m.Attributes); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", cf.Name, m.Name, err)
			}
		}
	}
	if err := writeAttributes(w, cf.Attributes); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func writeAttributes(w *writer, attrs []Attribute) error {
	if len(attrs) > 0xffff {
		return formatErrorf(-1, "attributes", "too many attributes")
	}
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		if uint64(len(a.Data)) > 0xffffffff {
			return formatErrorf(-1, "attributes", "attribute %s too large", a.Name)
		}
		w.u2(a.NameIndex)
		w.u4(uint32(len(a.Data)))
		w.raw(a.Data)
	}
	return nil
}

// NewAttribute builds an attribute whose name is interned in p.
func NewAttribute(p *Pool, name string, data []byte) (Attribute, error) {
	idx, err := p.AddUtf8(name)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{NameIndex: idx, Name: name, Data: data}, nil
}

// AddMethod appends a method declaration, interning its name and
// descriptor.
func (cf *ClassFile) AddMethod(access uint16, name, descriptor string, attrs []Attribute) (*Member, error) {
	if cf.Method(name, descriptor) != nil {
		return nil, fmt.Errorf("%s already declares %s%s", cf.Name, name, descriptor)
	}
	n, err := cf.Pool.AddUtf8(name)
	if err != nil {
		return nil, err
	}
	d, err := cf.Pool.AddUtf8(descriptor)
	if err != nil {
		return nil, err
	}
	m := &Member{Access: access, NameIndex: n, DescriptorIndex: d, Name: name, Descriptor: descriptor, Attributes: attrs}
	cf.Methods = append(cf.Methods, m)
	return m, nil
}

// SetDescriptor changes a member's descriptor, interning the new string.
func (cf *ClassFile) SetDescriptor(m *Member, descriptor string) error {
	d, err := cf.Pool.AddUtf8(descriptor)
	if err != nil {
		return err
	}
	m.Descriptor = descriptor
	m.DescriptorIndex = d
	return nil
}
