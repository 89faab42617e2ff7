package classfile

import "fmt"

// Verification type tags (JVMS 4.7.4).
const (
	VTop               uint8 = 0
	VInteger           uint8 = 1
	VFloat             uint8 = 2
	VDouble            uint8 = 3
	VLong              uint8 = 4
	VNull              uint8 = 5
	VUninitializedThis uint8 = 6
	VObject            uint8 = 7
	VUninitialized     uint8 = 8
)

// VType is a verification type. Class names the type of VObject entries;
// Offset is the offset of the new instruction of VUninitialized entries.
type VType struct {
	Tag    uint8
	Class  string
	Offset int
}

// Slots is the number of local slots the entry covers.
func (v VType) Slots() int {
	if v.Tag == VLong || v.Tag == VDouble {
		return 2
	}
	return 1
}

// Frame is a stack-map frame with absolute offset and explicit locals.
type Frame struct {
	Offset int
	Locals []VType
	Stack  []VType
}

// VTypeOf returns the verification type of a value of type t.
func VTypeOf(t Type) VType {
	switch t {
	case Boolean, Byte, Char, Short, Int:
		return VType{Tag: VInteger}
	case Float:
		return VType{Tag: VFloat}
	case Long:
		return VType{Tag: VLong}
	case Double:
		return VType{Tag: VDouble}
	}
	if name, ok := t.ClassName(); ok {
		return VType{Tag: VObject, Class: name}
	}
	return VType{Tag: VObject, Class: string(t)}
}

// InitialLocals returns the implicit frame locals of method m of class.
func InitialLocals(class string, m *Member) ([]VType, error) {
	mt, err := ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	var locals []VType
	if !m.Is(AccStatic) {
		if m.IsConstructor() && class != objectClass {
			locals = append(locals, VType{Tag: VUninitializedThis})
		} else {
			locals = append(locals, VType{Tag: VObject, Class: class})
		}
	}
	for _, p := range mt.Params {
		locals = append(locals, VTypeOf(p))
	}
	return locals, nil
}

// InsertLocals inserts extra entries so that the first one lands at local
// slot. Shorter lists are padded with Top.
func InsertLocals(locals []VType, slot int, extra ...VType) []VType {
	out := make([]VType, 0, len(locals)+len(extra)+slot)
	used, i := 0, 0
	for ; i < len(locals) && used < slot; i++ {
		out = append(out, locals[i])
		used += locals[i].Slots()
	}
	for ; used < slot; used++ {
		out = append(out, VType{Tag: VTop})
	}
	out = append(out, extra...)
	return append(out, locals[i:]...)
}

func readVType(r *reader, p *Pool) VType {
	v := VType{Tag: r.u1()}
	switch v.Tag {
	case VTop, VInteger, VFloat, VDouble, VLong, VNull, VUninitializedThis:
	case VObject:
		name, err := p.ClassName(r.u2())
		if err != nil && r.err == nil {
			r.fail("object type: %v", err)
		}
		v.Class = name
	case VUninitialized:
		v.Offset = int(r.u2())
	default:
		r.fail("bad verification type %d", v.Tag)
	}
	return v
}

func readVTypes(r *reader, p *Pool, n int) []VType {
	out := make([]VType, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, readVType(r, p))
	}
	return out
}

// DecodeStackMap expands a StackMapTable into absolute frames. initial is
// the implicit frame's locals.
func DecodeStackMap(data []byte, p *Pool, initial []VType) ([]Frame, error) {
	r := newReader(data, "stack map table")
	n := int(r.u2())
	frames := make([]Frame, 0, n)
	locals := append([]VType(nil), initial...)
	offset := -1
	for i := 0; i < n && r.err == nil; i++ {
		ft := r.u1()
		var delta int
		var stack []VType
		switch {
		case ft <= 63:
			delta = int(ft)
		case ft <= 127:
			delta = int(ft - 64)
			stack = readVTypes(r, p, 1)
		case ft < 247:
			r.fail("reserved frame type %d", ft)
		case ft == 247:
			delta = int(r.u2())
			stack = readVTypes(r, p, 1)
		case ft <= 250:
			delta = int(r.u2())
			k := int(251 - ft)
			if k > len(locals) {
				r.fail("chop of %d locals from %d", k, len(locals))
				break
			}
			locals = locals[:len(locals)-k]
		case ft == 251:
			delta = int(r.u2())
		case ft <= 254:
			delta = int(r.u2())
			locals = append(append([]VType(nil), locals...), readVTypes(r, p, int(ft-251))...)
		default:
			delta = int(r.u2())
			locals = readVTypes(r, p, int(r.u2()))
			stack = readVTypes(r, p, int(r.u2()))
		}
		if r.err != nil {
			break
		}
		offset += delta + 1
		frames = append(frames, Frame{Offset: offset, Locals: append([]VType(nil), locals...), Stack: stack})
	}
	if r.err != nil {
		return nil, r.err
	}
	return frames, nil
}

// EncodeStackMap writes frames, sorted by offset, as full frames.
func EncodeStackMap(frames []Frame, p *Pool) ([]byte, error) {
	w := &writer{}
	w.u2(uint16(len(frames)))
	prev := -1
	for _, f := range frames {
		delta := f.Offset - prev - 1
		if delta < 0 || delta > 0xffff {
			return nil, fmt.Errorf("stack map frame at %d out of order", f.Offset)
		}
		prev = f.Offset
		w.u1(255)
		w.u2(uint16(delta))
		for _, list := range [][]VType{f.Locals, f.Stack} {
			w.u2(uint16(len(list)))
			for _, v := range list {
				w.u1(v.Tag)
				switch v.Tag {
				case VObject:
					idx, err := p.AddClass(v.Class)
					if err != nil {
						return nil, err
					}
					w.u2(idx)
				case VUninitialized:
					w.u2(uint16(v.Offset))
				}
			}
		}
	}
	return w.buf, nil
}
