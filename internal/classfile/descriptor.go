package classfile

import (
	"fmt"
	"strings"
)

// Type is a field descriptor such as "I", "[J" or "Ljava/lang/String;".
// The method return type "V" is also a Type.
type Type string

const (
	Void    Type = "V"
	Boolean Type = "Z"
	Byte    Type = "B"
	Char    Type = "C"
	Short   Type = "S"
	Int     Type = "I"
	Long    Type = "J"
	Float   Type = "F"
	Double  Type = "D"
)

// ObjectType returns the descriptor of a class given its internal name.
func ObjectType(name string) Type {
	return Type("L" + name + ";")
}

// Size returns the number of local-variable or stack slots a value takes.
func (t Type) Size() int {
	switch t {
	case Void:
		return 0
	case Long, Double:
		return 2
	}
	return 1
}

func (t Type) IsPrimitive() bool {
	return len(t) == 1 && t != Void
}

func (t Type) IsArray() bool {
	return strings.HasPrefix(string(t), "[")
}

func (t Type) IsReference() bool {
	return len(t) > 1
}

// ClassName returns the internal name of a class type. Arrays and
// primitives report false.
func (t Type) ClassName() (string, bool) {
	s := string(t)
	if len(s) > 2 && s[0] == 'L' && s[len(s)-1] == ';' {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// Element strips every array dimension.
func (t Type) Element() Type {
	return Type(strings.TrimLeft(string(t), "["))
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []Type
	Return Type
}

// ParamSlots is the number of local slots the parameters occupy, without
// the receiver.
func (m MethodType) ParamSlots() int {
	n := 0
	for _, p := range m.Params {
		n += p.Size()
	}
	return n
}

// String renders the descriptor.
func (m MethodType) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, p := range m.Params {
		sb.WriteString(string(p))
	}
	sb.WriteByte(')')
	sb.WriteString(string(m.Return))
	return sb.String()
}

// WithParams returns a copy with extra parameters appended.
func (m MethodType) WithParams(extra ...Type) MethodType {
	params := make([]Type, 0, len(m.Params)+len(extra))
	params = append(params, m.Params...)
	params = append(params, extra...)
	return MethodType{Params: params, Return: m.Return}
}

// ParseFieldType validates a complete field descriptor.
func ParseFieldType(s string) (Type, error) {
	t, n, err := scanType(s, 0, false)
	if err != nil {
		return "", err
	}
	if n != len(s) {
		return "", fmt.Errorf("bad field descriptor %q", s)
	}
	return t, nil
}

// ParseMethodDescriptor validates and splits a method descriptor.
func ParseMethodDescriptor(s string) (MethodType, error) {
	if !strings.HasPrefix(s, "(") {
		return MethodType{}, fmt.Errorf("bad method descriptor %q", s)
	}
	var m MethodType
	i := 1
	for i < len(s) && s[i] != ')' {
		t, n, err := scanType(s, i, false)
		if err != nil {
			return MethodType{}, fmt.Errorf("bad method descriptor %q: %w", s, err)
		}
		m.Params = append(m.Params, t)
		i = n
	}
	if i >= len(s) {
		return MethodType{}, fmt.Errorf("bad method descriptor %q", s)
	}
	t, n, err := scanType(s, i+1, true)
	if err != nil || n != len(s) {
		return MethodType{}, fmt.Errorf("bad method descriptor %q", s)
	}
	m.Return = t
	if m.ParamSlots() > 255 {
		return MethodType{}, fmt.Errorf("method descriptor %q has too many parameters", s)
	}
	return m, nil
}

func scanType(s string, i int, allowVoid bool) (Type, int, error) {
	start := i
	dims := 0
	for i < len(s) && s[i] == '[' {
		dims++
		i++
	}
	if dims > 255 {
		return "", 0, fmt.Errorf("too many array dimensions")
	}
	if i >= len(s) {
		return "", 0, fmt.Errorf("truncated type")
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return Type(s[start : i+1]), i + 1, nil
	case 'V':
		if !allowVoid || dims > 0 {
			return "", 0, fmt.Errorf("void in type position")
		}
		return Void, i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return "", 0, fmt.Errorf("unterminated class type")
		}
		name := s[i+1 : i+end]
		if !validClassName(name) {
			return "", 0, fmt.Errorf("bad class name %q", name)
		}
		return Type(s[start : i+end+1]), i + end + 1, nil
	}
	return "", 0, fmt.Errorf("bad type character %q", s[i])
}

func validClassName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return false
	}
	return !strings.ContainsAny(name, ".;[") && !strings.Contains(name, "//")
}

// JavaName converts an internal name to its dotted form.
func JavaName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}
