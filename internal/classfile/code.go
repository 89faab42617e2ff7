package classfile

import (
	"fmt"
	"sort"
)

const (
	attrLineNumberTable        = "LineNumberTable"
	attrLocalVariableTable     = "LocalVariableTable"
	attrLocalVariableTypeTable = "LocalVariableTypeTable"
	attrStackMapTable          = "StackMapTable"
	maxCodeLength              = 65535
)

// Handler is one exception-table row. CatchType 0 catches everything.
type Handler struct {
	StartPC, EndPC, HandlerPC uint16
	CatchType                 uint16
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte
	Handlers   []Handler
	Attributes []Attribute
}

// LineNumber maps a bytecode offset to a source line.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// LocalVariable is a LocalVariableTable or LocalVariableTypeTable row.
type LocalVariable struct {
	StartPC, Length uint16
	NameIndex       uint16
	DescIndex       uint16
	Index           uint16
}

// Code decodes the Code attribute of m. It returns nil, nil for abstract
// and native methods.
func (cf *ClassFile) Code(m *Member) (*Code, error) {
	a, ok := m.Attribute(attrCode)
	if !ok {
		return nil, nil
	}
	c, err := parseCode(a.Data, cf.Pool)
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", cf.Name, m.Name, m.Descriptor, err)
	}
	return c, nil
}

// SetCode replaces the Code attribute of m with c.
func (cf *ClassFile) SetCode(m *Member, c *Code) error {
	data, err := c.bytes()
	if err != nil {
		return err
	}
	for i := range m.Attributes {
		if m.Attributes[i].Name == attrCode {
			m.Attributes[i].Data = data
			return nil
		}
	}
	a, err := NewAttribute(cf.Pool, attrCode, data)
	if err != nil {
		return err
	}
	m.Attributes = append(m.Attributes, a)
	return nil
}

func parseCode(data []byte, p *Pool) (*Code, error) {
	r := newReader(data, "code attribute")
	c := &Code{MaxStack: r.u2(), MaxLocals: r.u2()}
	n := int(r.u4())
	if r.err == nil && (n == 0 || n > maxCodeLength) {
		return nil, formatErrorf(4, "code attribute", "bad code length %d", n)
	}
	c.Bytecode = r.bytes(n)
	handlers := int(r.u2())
	for i := 0; i < handlers && r.err == nil; i++ {
		h := Handler{StartPC: r.u2(), EndPC: r.u2(), HandlerPC: r.u2(), CatchType: r.u2()}
		if r.err != nil {
			break
		}
		if h.StartPC >= h.EndPC || int(h.EndPC) > n || int(h.HandlerPC) >= n {
			r.fail("bad exception range %d-%d -> %d", h.StartPC, h.EndPC, h.HandlerPC)
			break
		}
		if h.CatchType != 0 && p.Tag(h.CatchType) != TagClass {
			r.fail("bad catch type index %d", h.CatchType)
			break
		}
		c.Handlers = append(c.Handlers, h)
	}
	c.Attributes = parseAttributes(r, p)
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, formatErrorf(r.off, "code attribute", "%d trailing bytes", r.remaining())
	}
	return c, nil
}

func (c *Code) bytes() ([]byte, error) {
	if len(c.Bytecode) == 0 || len(c.Bytecode) > maxCodeLength {
		return nil, formatErrorf(-1, "code attribute", "bad code length %d", len(c.Bytecode))
	}
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Bytecode)))
	w.raw(c.Bytecode)
	w.u2(uint16(len(c.Handlers)))
	for _, h := range c.Handlers {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	if err := writeAttributes(w, c.Attributes); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Attribute returns the first nested attribute called name.
func (c *Code) Attribute(name string) (Attribute, bool) {
	return findAttribute(c.Attributes, name)
}

// LineNumbers merges every LineNumberTable, sorted by offset.
func (c *Code) LineNumbers() ([]LineNumber, error) {
	var out []LineNumber
	for _, a := range c.Attributes {
		if a.Name != attrLineNumberTable {
			continue
		}
		r := newReader(a.Data, "line number table")
		n := int(r.u2())
		for i := 0; i < n && r.err == nil; i++ {
			out = append(out, LineNumber{StartPC: r.u2(), Line: r.u2()})
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartPC < out[j].StartPC })
	return out, nil
}

// LineOf returns the source line of the instruction at pc, or -1.
func LineOf(lines []LineNumber, pc int) int {
	line := -1
	for _, l := range lines {
		if int(l.StartPC) > pc {
			break
		}
		line = int(l.Line)
	}
	return line
}

func encodeLineNumbers(lines []LineNumber) []byte {
	w := &writer{}
	w.u2(uint16(len(lines)))
	for _, l := range lines {
		w.u2(l.StartPC)
		w.u2(l.Line)
	}
	return w.buf
}

func decodeLocalVariables(data []byte) ([]LocalVariable, error) {
	r := newReader(data, "local variable table")
	n := int(r.u2())
	out := make([]LocalVariable, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, LocalVariable{StartPC: r.u2(), Length: r.u2(), NameIndex: r.u2(), DescIndex: r.u2(), Index: r.u2()})
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

func encodeLocalVariables(vars []LocalVariable) []byte {
	w := &writer{}
	w.u2(uint16(len(vars)))
	for _, v := range vars {
		w.u2(v.StartPC)
		w.u2(v.Length)
		w.u2(v.NameIndex)
		w.u2(v.DescIndex)
		w.u2(v.Index)
	}
	return w.buf
}
