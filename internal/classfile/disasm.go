package classfile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var methodFlags = []struct {
	flag uint16
	name string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccSynchronized, "synchronized"},
	{AccBridge, "bridge"},
	{AccSynthetic, "synthetic"},
	{AccNative, "native"},
	{AccAbstract, "abstract"},
}

func methodAccess(access uint16) string {
	var parts []string
	for _, f := range methodFlags {
		if access&f.flag != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, " ")
}

// Disassemble renders the methods of cf, one instruction per line, with
// pool operands resolved. The output only depends on the class bytes.
func Disassemble(cf *ClassFile) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "class %s extends %s\n", cf.Name, cf.Super)
	for _, m := range cf.Methods {
		head := strings.TrimSpace(methodAccess(m.Access) + " " + m.Name + m.Descriptor)
		fmt.Fprintf(&b, "\n%s\n", head)
		c, err := cf.Code(m)
		if err != nil {
			return "", err
		}
		if c == nil {
			continue
		}
		lines, err := cf.Listing(m)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "  stack=%d locals=%d\n", c.MaxStack, c.MaxLocals)
		for _, l := range lines {
			fmt.Fprintf(&b, "  %4d: %s\n", l.PC, l.Text)
		}
		for _, h := range c.Handlers {
			catch := "any"
			if h.CatchType != 0 {
				if catch, err = cf.Pool.ClassName(h.CatchType); err != nil {
					return "", err
				}
			}
			fmt.Fprintf(&b, "  try %d-%d -> %d %s\n", h.StartPC, h.EndPC, h.HandlerPC, catch)
		}
	}
	return b.String(), nil
}

// ListingLine is one disassembled instruction.
type ListingLine struct {
	PC   int
	Text string
}

// Listing disassembles the code of m. Abstract and native methods have
// none.
func (cf *ClassFile) Listing(m *Member) ([]ListingLine, error) {
	c, err := cf.Code(m)
	if err != nil || c == nil {
		return nil, err
	}
	insns, err := Decode(c.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", cf.Name, m.Name, m.Descriptor, err)
	}
	out := make([]ListingLine, len(insns))
	for i := range insns {
		out[i] = ListingLine{PC: insns[i].PC, Text: cf.instructionText(&insns[i], insns)}
	}
	return out, nil
}

func (cf *ClassFile) instructionText(in *Instruction, insns []Instruction) string {
	op := in.Op.String()
	pc := func(i int) string {
		if i >= 0 && i < len(insns) {
			return strconv.Itoa(insns[i].PC)
		}
		return "?"
	}
	switch opTable[in.Op].kind {
	case operandByte, operandShort, operandNewArray:
		return op + " " + strconv.Itoa(in.Value)
	case operandLocal:
		return op + " " + strconv.Itoa(in.Index)
	case operandIinc:
		return fmt.Sprintf("%s %d %d", op, in.Index, in.Value)
	case operandBranch, operandBranchWide:
		return op + " " + pc(in.Target)
	case operandTableSwitch, operandLookupSwitch:
		targets := make([]string, len(in.Targets))
		for k, t := range in.Targets {
			targets[k] = pc(t)
		}
		return fmt.Sprintf("%s [%s] default %s", op, strings.Join(targets, " "), pc(in.Default))
	case operandMultiANewArray:
		return fmt.Sprintf("%s %s %d", op, cf.constantText(uint16(in.Index)), in.Value)
	case operandLdc, operandPool, operandInvokeInterface, operandInvokeDynamic:
		return op + " " + cf.constantText(uint16(in.Index))
	}
	return op
}

func (cf *ClassFile) constantText(i uint16) string {
	c, err := cf.Pool.At(i)
	if err != nil {
		return "#" + strconv.Itoa(int(i))
	}
	switch c.Tag {
	case TagInteger:
		return strconv.Itoa(int(int32(c.Bits)))
	case TagLong:
		return strconv.FormatInt(int64(c.Bits), 10) + "L"
	case TagFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(c.Bits))), 'g', -1, 32) + "F"
	case TagDouble:
		return strconv.FormatFloat(math.Float64frombits(c.Bits), 'g', -1, 64) + "D"
	case TagString:
		s, _ := cf.Pool.StringValue(i)
		return strconv.Quote(s)
	case TagClass:
		name, _ := cf.Pool.ClassName(i)
		return name
	case TagMethodType:
		d, _ := cf.Pool.Utf8(c.A)
		return d
	case TagFieldref:
		if ref, err := cf.Pool.Member(i); err == nil {
			return ref.Owner + "." + ref.Name + " " + ref.Descriptor
		}
	case TagMethodref, TagInterfaceMethodref:
		if ref, err := cf.Pool.Member(i); err == nil {
			return ref.String()
		}
	case TagInvokeDynamic:
		if bsm, name, desc, err := cf.Pool.InvokeDynamic(i); err == nil {
			return fmt.Sprintf("#%d:%s%s", bsm, name, desc)
		}
	}
	return "#" + strconv.Itoa(int(i))
}
