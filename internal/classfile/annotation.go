package classfile

import (
	"fmt"
	"slices"
)

const (
	attrVisibleAnnotations   = "RuntimeVisibleAnnotations"
	attrInvisibleAnnotations = "RuntimeInvisibleAnnotations"
	attrBootstrapMethods     = "BootstrapMethods"
	maxAnnotationDepth       = 32
)

// Annotation is one decoded annotation. Type is a field descriptor.
type Annotation struct {
	Type     string
	Elements []Element
}

// Element is a named annotation element.
type Element struct {
	Name  string
	Value ElementValue
}

// ElementValue is a tagged annotation value (JVMS 4.7.16.1).
type ElementValue struct {
	Tag        byte
	Const      uint16 // constant-pool index for primitive and string tags
	EnumType   string
	EnumName   string
	Class      string // return descriptor for tag 'c'
	Annotation *Annotation
	Array      []ElementValue
}

// Element returns the value of the element called name.
func (a *Annotation) Element(name string) (ElementValue, bool) {
	for _, e := range a.Elements {
		if e.Name == name {
			return e.Value, true
		}
	}
	return ElementValue{}, false
}

// Annotations decodes the visible and invisible annotation attributes of a
// class, field or method attribute list, visible first.
func (cf *ClassFile) Annotations(attrs []Attribute) ([]Annotation, error) {
	var out []Annotation
	for _, name := range []string{attrVisibleAnnotations, attrInvisibleAnnotations} {
		for _, a := range attrs {
			if a.Name != name {
				continue
			}
			r := newReader(a.Data, name)
			n := int(r.u2())
			for i := 0; i < n && r.err == nil; i++ {
				ann := parseAnnotation(r, cf.Pool, 0)
				if r.err == nil {
					out = append(out, ann)
				}
			}
			if r.err != nil {
				return nil, r.err
			}
			if r.remaining() != 0 {
				return nil, formatErrorf(r.off, name, "%d trailing bytes", r.remaining())
			}
		}
	}
	return out, nil
}

func parseAnnotation(r *reader, p *Pool, depth int) Annotation {
	var a Annotation
	if depth > maxAnnotationDepth {
		r.fail("annotation nesting too deep")
		return a
	}
	t, err := p.Utf8(r.u2())
	if r.err != nil {
		return a
	}
	if err != nil {
		r.fail("annotation type: %v", err)
		return a
	}
	a.Type = t
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		name, err := p.Utf8(r.u2())
		if r.err != nil {
			break
		}
		if err != nil {
			r.fail("element name: %v", err)
			break
		}
		v := parseElementValue(r, p, depth+1)
		a.Elements = append(a.Elements, Element{Name: name, Value: v})
	}
	return a
}

func parseElementValue(r *reader, p *Pool, depth int) ElementValue {
	v := ElementValue{Tag: r.u1()}
	if r.err != nil {
		return v
	}
	if depth > maxAnnotationDepth {
		r.fail("element value nesting too deep")
		return v
	}
	utf8 := func() string {
		s, err := p.Utf8(r.u2())
		if err != nil && r.err == nil {
			r.fail("element value: %v", err)
		}
		return s
	}
	switch v.Tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		v.Const = r.u2()
		if r.err == nil && p.Tag(v.Const) == 0 {
			r.fail("element constant %d out of range", v.Const)
		}
	case 'e':
		v.EnumType = utf8()
		v.EnumName = utf8()
	case 'c':
		v.Class = utf8()
	case '@':
		a := parseAnnotation(r, p, depth)
		v.Annotation = &a
	case '[':
		n := int(r.u2())
		for i := 0; i < n && r.err == nil; i++ {
			v.Array = append(v.Array, parseElementValue(r, p, depth+1))
		}
	default:
		r.fail("unknown element value tag %q", v.Tag)
	}
	return v
}

// encodeAnnotations writes one annotation attribute body. Only class and
// constant elements are supported.
func encodeAnnotations(p *Pool, anns []Annotation) ([]byte, error) {
	w := &writer{}
	w.u2(uint16(len(anns)))
	for _, a := range anns {
		t, err := p.AddUtf8(a.Type)
		if err != nil {
			return nil, err
		}
		w.u2(t)
		w.u2(uint16(len(a.Elements)))
		for _, e := range a.Elements {
			n, err := p.AddUtf8(e.Name)
			if err != nil {
				return nil, err
			}
			w.u2(n)
			w.u1(e.Value.Tag)
			switch e.Value.Tag {
			case 'c':
				c, err := p.AddUtf8(e.Value.Class)
				if err != nil {
					return nil, err
				}
				w.u2(c)
			case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
				w.u2(e.Value.Const)
			default:
				return nil, fmt.Errorf("element tag %q cannot be encoded", e.Value.Tag)
			}
		}
	}
	return w.buf, nil
}

// BootstrapMethod is one BootstrapMethods entry.
type BootstrapMethod struct {
	Method    uint16 // MethodHandle constant
	Arguments []uint16
}

// BootstrapMethods decodes the class's BootstrapMethods attribute.
func (cf *ClassFile) BootstrapMethods() ([]BootstrapMethod, error) {
	a, ok := cf.Attribute(attrBootstrapMethods)
	if !ok {
		return nil, nil
	}
	r := newReader(a.Data, attrBootstrapMethods)
	n := int(r.u2())
	out := make([]BootstrapMethod, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		b := BootstrapMethod{Method: r.u2()}
		args := int(r.u2())
		for k := 0; k < args && r.err == nil; k++ {
			b.Arguments = append(b.Arguments, r.u2())
		}
		if r.err == nil && cf.Pool.Tag(b.Method) != TagMethodHandle {
			r.fail("bootstrap %d is not a method handle", i)
		}
		out = append(out, b)
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

// AddBootstrap appends a bootstrap method, reusing an identical existing
// entry, and returns its index.
func (cf *ClassFile) AddBootstrap(bm BootstrapMethod) (uint16, error) {
	list, err := cf.BootstrapMethods()
	if err != nil {
		return 0, err
	}
	for i, b := range list {
		if b.Method == bm.Method && slices.Equal(b.Arguments, bm.Arguments) {
			return uint16(i), nil
		}
	}
	list = append(list, bm)
	if err := cf.setBootstraps(list); err != nil {
		return 0, err
	}
	return uint16(len(list) - 1), nil
}

// SetBootstrap replaces bootstrap method i. Call sites using i see the new
// entry.
func (cf *ClassFile) SetBootstrap(i uint16, bm BootstrapMethod) error {
	list, err := cf.BootstrapMethods()
	if err != nil {
		return err
	}
	if int(i) >= len(list) {
		return fmt.Errorf("bootstrap %d out of range", i)
	}
	list[i] = bm
	return cf.setBootstraps(list)
}

func (cf *ClassFile) setBootstraps(list []BootstrapMethod) error {
	w := &writer{}
	w.u2(uint16(len(list)))
	for _, b := range list {
		w.u2(b.Method)
		w.u2(uint16(len(b.Arguments)))
		for _, arg := range b.Arguments {
			w.u2(arg)
		}
	}
	for i := range cf.Attributes {
		if cf.Attributes[i].Name == attrBootstrapMethods {
			cf.Attributes[i].Data = w.buf
			return nil
		}
	}
	a, err := NewAttribute(cf.Pool, attrBootstrapMethods, w.buf)
	if err != nil {
		return err
	}
	cf.Attributes = append(cf.Attributes, a)
	return nil
}
