package classfile

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMajor is the class-file version the Builder writes (Java 8).
const DefaultMajor = 52

// Builder assembles a class file from scratch. Errors are sticky and
// reported by Build.
type Builder struct {
	cf  *ClassFile
	err error
}

// NewBuilder starts a class. An empty super means java/lang/Object.
func NewBuilder(access uint16, name, super string) *Builder {
	if super == "" {
		super = objectClass
	}
	b := &Builder{cf: &ClassFile{Major: DefaultMajor, Pool: NewPool(), Access: access, Name: name, Super: super}}
	b.cf.ThisIndex, b.err = b.cf.Pool.AddClass(name)
	if b.err == nil {
		b.cf.SuperIndex, b.err = b.cf.Pool.AddClass(super)
	}
	return b
}

func (b *Builder) setErr(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// Implements adds interfaces.
func (b *Builder) Implements(names ...string) *Builder {
	for _, n := range names {
		idx, err := b.cf.Pool.AddClass(n)
		b.setErr(err)
		b.cf.Interfaces = append(b.cf.Interfaces, n)
		b.cf.InterfaceIdx = append(b.cf.InterfaceIdx, idx)
	}
	return b
}

// Tag returns a marker annotation for the class internal name.
func Tag(class string, elements ...Element) Annotation {
	return Annotation{Type: string(ObjectType(class)), Elements: elements}
}

// ClassElement is an annotation element holding a class literal.
func ClassElement(name, class string) Element {
	return Element{Name: name, Value: ElementValue{Tag: 'c', Class: string(ObjectType(class))}}
}

func (b *Builder) annotationAttrs(anns []Annotation) []Attribute {
	if len(anns) == 0 {
		return nil
	}
	data, err := encodeAnnotations(b.cf.Pool, anns)
	b.setErr(err)
	a, err := NewAttribute(b.cf.Pool, attrInvisibleAnnotations, data)
	b.setErr(err)
	return []Attribute{a}
}

// Annotate adds class-level annotations.
func (b *Builder) Annotate(anns ...Annotation) *Builder {
	b.cf.Attributes = append(b.cf.Attributes, b.annotationAttrs(anns)...)
	return b
}

func (b *Builder) member(access uint16, name, desc string) *Member {
	n, err := b.cf.Pool.AddUtf8(name)
	b.setErr(err)
	d, err := b.cf.Pool.AddUtf8(desc)
	b.setErr(err)
	return &Member{Access: access, NameIndex: n, DescriptorIndex: d, Name: name, Descriptor: desc}
}

// Field declares a field.
func (b *Builder) Field(access uint16, name, desc string, anns ...Annotation) *Builder {
	m := b.member(access, name, desc)
	m.Attributes = b.annotationAttrs(anns)
	b.cf.Fields = append(b.cf.Fields, m)
	return b
}

// Method declares a method. A nil body declares it without code.
func (b *Builder) Method(access uint16, name, desc string, body func(*Assembler), anns ...Annotation) *Builder {
	m := b.member(access, name, desc)
	m.Attributes = b.annotationAttrs(anns)
	if body != nil {
		a := NewAssembler(b.cf)
		body(a)
		c, err := a.Code(m)
		if err != nil {
			b.setErr(fmt.Errorf("%s.%s%s: %w", b.cf.Name, name, desc, err))
		} else {
			b.setErr(b.cf.SetCode(m, c))
		}
	}
	b.cf.Methods = append(b.cf.Methods, m)
	return b
}

// Build returns the class file.
func (b *Builder) Build() (*ClassFile, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cf, nil
}

// Bytes builds and serialises the class.
func (b *Builder) Bytes() ([]byte, error) {
	cf, err := b.Build()
	if err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// Label is a position in an Assembler's instruction sequence.
type Label int

type pendingHandler struct {
	start, end, handler Label
	catch               string
}

type pendingFrame struct {
	at            Label
	locals, stack []VType
}

// Assembler builds a method body. Branch targets are labels until Code
// resolves them.
type Assembler struct {
	cf       *ClassFile
	insns    []Instruction
	labelled []bool // Target holds a label, not an index
	labels   []int
	lines    []LineNumber // StartPC holds an instruction index until layout
	handlers []pendingHandler
	frames   []pendingFrame
	err      error
}

// NewAssembler returns an assembler adding constants to cf's pool.
func NewAssembler(cf *ClassFile) *Assembler {
	return &Assembler{cf: cf}
}

func (a *Assembler) setErr(err error) {
	if a.err == nil && err != nil {
		a.err = err
	}
}

func (a *Assembler) emit(in Instruction) {
	a.insns = append(a.insns, in)
	a.labelled = append(a.labelled, false)
}

// Len is the number of instructions emitted so far.
func (a *Assembler) Len() int { return len(a.insns) }

// Op emits an instruction without operands.
func (a *Assembler) Op(ops ...Opcode) *Assembler {
	for _, op := range ops {
		if opTable[op].kind != operandNone {
			a.setErr(fmt.Errorf("%s needs operands", op))
		}
		a.emit(Instruction{Op: op})
	}
	return a
}

// Int pushes an int constant using the shortest form.
func (a *Assembler) Int(v int64) *Assembler {
	switch {
	case v >= -1 && v <= 5:
		a.emit(Instruction{Op: OpIconstM1 + Opcode(v+1)})
	case v >= math.MinInt8 && v <= math.MaxInt8:
		a.emit(Instruction{Op: OpBipush, Value: int(v)})
	case v >= math.MinInt16 && v <= math.MaxInt16:
		a.emit(Instruction{Op: OpSipush, Value: int(v)})
	case v >= math.MinInt32 && v <= math.MaxInt32:
		idx, err := a.cf.Pool.AddInt(int32(v))
		a.setErr(err)
		a.emit(Instruction{Op: OpLdc, Index: int(idx)})
	default:
		a.setErr(fmt.Errorf("int constant %d out of range", v))
	}
	return a
}

// Long pushes a long constant.
func (a *Assembler) Long(v int64) *Assembler {
	if v == 0 || v == 1 {
		a.emit(Instruction{Op: OpLconst0 + Opcode(v)})
		return a
	}
	idx, err := a.cf.Pool.AddLong(v)
	a.setErr(err)
	a.emit(Instruction{Op: OpLdc2W, Index: int(idx)})
	return a
}

// String pushes a string constant.
func (a *Assembler) String(s string) *Assembler {
	idx, err := a.cf.Pool.AddString(s)
	a.setErr(err)
	a.emit(Instruction{Op: OpLdc, Index: int(idx)})
	return a
}

// Load emits a load of the given kind (OpIload, OpLload, OpFload, OpDload
// or OpAload), using the implicit form for slots 0 to 3.
func (a *Assembler) Load(op Opcode, slot int) *Assembler {
	return a.local(op, OpIload0, OpIload, slot)
}

// Store is the store counterpart of Load.
func (a *Assembler) Store(op Opcode, slot int) *Assembler {
	return a.local(op, OpIstore0, OpIstore, slot)
}

func (a *Assembler) local(op, implicitBase, explicitBase Opcode, slot int) *Assembler {
	kind := op - explicitBase
	if kind > 4 {
		a.setErr(fmt.Errorf("%s is not a local access", op))
		return a
	}
	if slot <= 3 {
		a.emit(Instruction{Op: implicitBase + kind*4 + Opcode(slot)})
		return a
	}
	a.emit(Instruction{Op: op, Index: slot})
	return a
}

// Iinc increments an int local.
func (a *Assembler) Iinc(slot, delta int) *Assembler {
	a.emit(Instruction{Op: OpIinc, Index: slot, Value: delta})
	return a
}

// Field emits a field instruction.
func (a *Assembler) Field(op Opcode, owner, name, desc string) *Assembler {
	idx, err := a.cf.Pool.AddFieldref(MemberRef{Owner: owner, Name: name, Descriptor: desc})
	a.setErr(err)
	a.emit(Instruction{Op: op, Index: int(idx)})
	return a
}

// Invoke emits invokevirtual, invokespecial, invokestatic or
// invokeinterface.
func (a *Assembler) Invoke(op Opcode, owner, name, desc string) *Assembler {
	ref := MemberRef{Owner: owner, Name: name, Descriptor: desc, Interface: op == OpInvokeinterface}
	idx, err := a.cf.Pool.AddMethodref(ref)
	a.setErr(err)
	in := Instruction{Op: op, Index: int(idx)}
	if op == OpInvokeinterface {
		mt, err := ParseMethodDescriptor(desc)
		a.setErr(err)
		in.Value = mt.ParamSlots() + 1
	}
	a.emit(in)
	return a
}

// Class emits an instruction taking a class operand: new, anewarray,
// checkcast or instanceof.
func (a *Assembler) Class(op Opcode, class string) *Assembler {
	idx, err := a.cf.Pool.AddClass(class)
	a.setErr(err)
	a.emit(Instruction{Op: op, Index: int(idx)})
	return a
}

// InvokeDynamic emits invokedynamic with a new bootstrap entry calling
// the static method bootstrap with the given constant arguments.
func (a *Assembler) InvokeDynamic(bootstrap MemberRef, args []uint16, name, desc string) *Assembler {
	handle, err := a.cf.Pool.AddMethodHandle(RefInvokeStatic, bootstrap)
	a.setErr(err)
	bsm, err := a.cf.AddBootstrap(BootstrapMethod{Method: handle, Arguments: args})
	a.setErr(err)
	idx, err := a.cf.Pool.AddInvokeDynamic(bsm, name, desc)
	a.setErr(err)
	a.emit(Instruction{Op: OpInvokedynamic, Index: int(idx)})
	return a
}

// Lambda emits an invokedynamic through LambdaMetafactory.metafactory.
// The call site returns the functional interface of desc, whose method
// name has the erased type sam and is implemented by target.
func (a *Assembler) Lambda(name, desc, sam string, kind uint8, target MemberRef) *Assembler {
	samType, err := a.cf.Pool.AddMethodType(sam)
	a.setErr(err)
	handle, err := a.cf.Pool.AddMethodHandle(kind, target)
	a.setErr(err)
	bootstrap := MemberRef{Owner: lambdaMetafactory, Name: metafactory, Descriptor: metafactoryDescriptor}
	return a.InvokeDynamic(bootstrap, []uint16{samType, handle, samType}, name, desc)
}

// Concat emits an invokedynamic through
// StringConcatFactory.makeConcatWithConstants with the given recipe.
func (a *Assembler) Concat(recipe, desc string) *Assembler {
	arg, err := a.cf.Pool.AddString(recipe)
	a.setErr(err)
	bootstrap := MemberRef{Owner: "java/lang/invoke/StringConcatFactory", Name: "makeConcatWithConstants", Descriptor: concatDescriptor}
	return a.InvokeDynamic(bootstrap, []uint16{arg}, "makeConcatWithConstants", desc)
}

const (
	metafactoryDescriptor = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;"
	concatDescriptor      = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/String;[Ljava/lang/Object;)Ljava/lang/invoke/CallSite;"
)

// NewArray emits newarray with a primitive array type code (4 to 11).
func (a *Assembler) NewArray(atype int) *Assembler {
	a.emit(Instruction{Op: OpNewarray, Value: atype})
	return a
}

// NewLabel allocates an unplaced label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Mark places l at the next instruction.
func (a *Assembler) Mark(l Label) *Assembler {
	a.labels[l] = len(a.insns)
	return a
}

// Jump emits a branch to l.
func (a *Assembler) Jump(op Opcode, l Label) *Assembler {
	if !op.IsBranch() {
		a.setErr(fmt.Errorf("%s is not a branch", op))
	}
	a.emit(Instruction{Op: op, Target: int(l)})
	a.labelled[len(a.labelled)-1] = true
	return a
}

// TableSwitch emits a tableswitch over low..low+len(targets)-1.
func (a *Assembler) TableSwitch(low int32, def Label, targets ...Label) *Assembler {
	in := Instruction{Op: OpTableswitch, Low: low, Default: int(def)}
	for _, t := range targets {
		in.Targets = append(in.Targets, int(t))
	}
	a.emit(in)
	a.labelled[len(a.labelled)-1] = true
	return a
}

// Line records that the next instruction starts source line n.
func (a *Assembler) Line(n int) *Assembler {
	a.lines = append(a.lines, LineNumber{StartPC: uint16(len(a.insns)), Line: uint16(n)})
	return a
}

// Try registers an exception handler. An empty catch type catches all.
func (a *Assembler) Try(start, end, handler Label, catch string) *Assembler {
	a.handlers = append(a.handlers, pendingHandler{start: start, end: end, handler: handler, catch: catch})
	return a
}

// Frame records a stack-map frame at l.
func (a *Assembler) Frame(l Label, locals, stack []VType) *Assembler {
	a.frames = append(a.frames, pendingFrame{at: l, locals: locals, stack: stack})
	return a
}

// Emit appends a raw instruction; branch fields must already be indices.
func (a *Assembler) Emit(in Instruction) *Assembler {
	a.emit(in)
	return a
}

func (a *Assembler) resolve(l int) (int, error) {
	if l < 0 || l >= len(a.labels) || a.labels[l] < 0 {
		return 0, fmt.Errorf("label %d not placed", l)
	}
	return a.labels[l], nil
}

// Instructions resolves labels and returns the instruction sequence.
func (a *Assembler) Instructions() ([]Instruction, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([]Instruction, len(a.insns))
	copy(out, a.insns)
	for i := range out {
		if !a.labelled[i] {
			continue
		}
		in := &out[i]
		var err error
		if in.Op.IsSwitch() {
			if in.Default, err = a.resolve(in.Default); err != nil {
				return nil, err
			}
			targets := make([]int, len(in.Targets))
			for k, t := range in.Targets {
				if targets[k], err = a.resolve(t); err != nil {
					return nil, err
				}
			}
			in.Targets = targets
		} else if in.Target, err = a.resolve(in.Target); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Code lays the body out for method m, computing max_stack and
// max_locals.
func (a *Assembler) Code(m *Member) (*Code, error) {
	insns, err := a.Instructions()
	if err != nil {
		return nil, err
	}
	if len(insns) == 0 {
		return nil, errors.New("empty method body")
	}
	bytecode, pcs, err := Encode(insns)
	if err != nil {
		return nil, err
	}
	for i := range insns {
		insns[i].PC = pcs[i]
	}
	c := &Code{Bytecode: bytecode}
	var handlers []HandlerRange
	for _, h := range a.handlers {
		s, err1 := a.resolve(int(h.start))
		e, err2 := a.resolve(int(h.end))
		t, err3 := a.resolve(int(h.handler))
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, err
		}
		var catch uint16
		if h.catch != "" {
			if catch, err = a.cf.Pool.AddClass(h.catch); err != nil {
				return nil, err
			}
		}
		c.Handlers = append(c.Handlers, Handler{StartPC: uint16(pcs[s]), EndPC: uint16(pcs[e]), HandlerPC: uint16(pcs[t]), CatchType: catch})
		handlers = append(handlers, HandlerRange{Start: s, End: e, Handler: t, CatchType: catch})
	}

	mt, err := ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	locals := mt.ParamSlots()
	if !m.Is(AccStatic) {
		locals++
	}
	for i := range insns {
		if slot, ok := insns[i].Local(); ok {
			locals = max(locals, slot+insns[i].LocalSize())
		}
	}
	stack, err := MaxStack(insns, handlers, a.cf.Pool)
	if err != nil {
		return nil, err
	}
	c.MaxStack, c.MaxLocals = uint16(stack), uint16(locals)

	if len(a.lines) > 0 {
		lines := make([]LineNumber, len(a.lines))
		for k, l := range a.lines {
			lines[k] = LineNumber{StartPC: uint16(pcs[l.StartPC]), Line: l.Line}
		}
		attr, err := NewAttribute(a.cf.Pool, attrLineNumberTable, encodeLineNumbers(lines))
		if err != nil {
			return nil, err
		}
		c.Attributes = append(c.Attributes, attr)
	}
	if len(a.frames) > 0 {
		frames := make([]Frame, len(a.frames))
		for k, f := range a.frames {
			at, err := a.resolve(int(f.at))
			if err != nil {
				return nil, err
			}
			frames[k] = Frame{Offset: pcs[at], Locals: f.locals, Stack: f.stack}
		}
		data, err := EncodeStackMap(frames, a.cf.Pool)
		if err != nil {
			return nil, err
		}
		attr, err := NewAttribute(a.cf.Pool, attrStackMapTable, data)
		if err != nil {
			return nil, err
		}
		c.Attributes = append(c.Attributes, attr)
	}
	return c, nil
}
