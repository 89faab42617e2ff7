package instrument

import (
	"errors"
	"fmt"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/verifier"
)

const (
	storageType  = "L" + classindex.StorageName + ";"
	contractType = "L" + classindex.ContractName + ";"
	dummyType    = "L" + classindex.DummyName + ";"
)

// methodPlan is what is known of a method before it is rewritten.
type methodPlan struct {
	member     *classfile.Member
	descriptor string // as compiled
	mt         classfile.MethodType
	tags       annotations.TagSet
	// entry methods receive the caller and dummy parameters at slot caller.
	entry  bool
	caller int
	// bridge is set for an existing synthetic bridge to entry code. It
	// forwards its own trailing parameters and has no prologue.
	bridge bool
	// static is the access of the method as compiled. A static lambda body
	// with receiverAdded becomes an instance method, every local moving up
	// one slot. lambdaOfEntry marks instance lambda bodies created by
	// entry code.
	static        bool
	receiverAdded bool
	lambdaOfEntry bool
}

// shift maps a local slot of the compiled method to the rewritten one.
func (p *methodPlan) shift(slot int) int {
	switch {
	case p.receiverAdded:
		return slot + 1
	case p.entry && slot >= p.caller:
		return slot + 2
	}
	return slot
}

func (p *methodPlan) shifts() bool { return p.entry || p.receiverAdded }

func (p *methodPlan) hasThis() bool { return !p.static || p.receiverAdded }

func (k *classRewriter) plan(m *classfile.Member) (*methodPlan, error) {
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	p := &methodPlan{member: m, descriptor: m.Descriptor, mt: mt, caller: mt.ParamSlots(), static: m.Is(classfile.AccStatic)}
	if p.static {
		return p, nil
	}
	p.caller++
	res, err := k.resolver.Resolve(k.cf.Name, m.Name, m.Descriptor)
	if err != nil {
		return nil, err
	}
	p.tags = res.Tags
	p.entry = res.Tags.Has(annotations.Entry)
	p.bridge = p.entry && m.Is(classfile.AccBridge) && m.Is(classfile.AccSynthetic)
	return p, nil
}

func instrumented(descriptor string) (string, error) {
	d, ok := annotations.Instrumented(descriptor)
	if !ok {
		return "", fmt.Errorf("malformed descriptor %s", descriptor)
	}
	return d, nil
}

// methodWriter emits the rewritten body of one method.
type methodWriter struct {
	*classRewriter
	plan     *methodPlan
	lambdas  *lambdaPlan
	insns    []classfile.Instruction
	handlers []classfile.HandlerRange
	flow     *classfile.Flow
	checks   map[int][]verifier.RuntimeCheck

	locals  int // max_locals once the trailing parameters are in
	scratch int // first slot above every scratch local in use
	out     []classfile.Instruction
	err     error
}

func (k *classRewriter) rewrite(p *methodPlan, lambdas *lambdaPlan) error {
	m := p.member
	code, err := k.cf.Code(m)
	if err != nil {
		return err
	}
	if code == nil {
		return k.finish(p)
	}
	insns, err := classfile.Decode(code.Bytecode)
	if err != nil {
		return err
	}
	handlers, err := classfile.ResolveHandlers(code, insns)
	if err != nil {
		return err
	}
	flow, err := classfile.Analyze(insns, handlers, k.cf.Pool, int(code.MaxStack))
	if err != nil {
		return err
	}
	initial, err := classfile.InitialLocals(k.cf.Name, m)
	if err != nil {
		return err
	}

	w := &methodWriter{
		classRewriter: k,
		plan:          p,
		lambdas:       lambdas,
		insns:         insns,
		handlers:      handlers,
		flow:          flow,
		checks:        make(map[int][]verifier.RuntimeCheck),
		locals:        int(code.MaxLocals),
	}
	switch {
	case p.entry:
		w.locals += 2
	case p.receiverAdded:
		w.locals++
	}
	w.scratch = w.locals
	for _, rc := range k.res.ChecksOf(k.cf.Name, m.Name, p.descriptor) {
		w.checks[rc.Instruction] = append(w.checks[rc.Instruction], rc)
	}
	rw, err := w.emit()
	if err != nil {
		return err
	}

	moved := make([]classfile.HandlerRange, len(handlers))
	for i, h := range handlers {
		moved[i] = classfile.HandlerRange{Start: rw.Start[h.Start], End: rw.Start[h.End], Handler: rw.Start[h.Handler], CatchType: h.CatchType}
	}
	stack, err := classfile.MaxStack(rw.Insns, moved, k.cf.Pool)
	if err != nil {
		return err
	}
	rel := classfile.Relocation{
		Initial:   initial,
		MaxStack:  max(stack, int(code.MaxStack)),
		MaxLocals: w.scratch,
	}
	switch {
	case p.entry:
		rel.ShiftLocal = p.shift
		rel.InsertSlot = p.caller
		rel.Insert = []classfile.VType{
			{Tag: classfile.VObject, Class: classindex.ContractName},
			{Tag: classfile.VObject, Class: classindex.DummyName},
		}
	case p.receiverAdded:
		rel.ShiftLocal = p.shift
		rel.Insert = []classfile.VType{{Tag: classfile.VObject, Class: k.cf.Name}}
	}
	c, err := k.cf.Relocate(code, insns, rw, rel)
	if err != nil {
		return err
	}
	if err := k.cf.SetCode(m, c); err != nil {
		return err
	}
	return k.finish(p)
}

// finish updates the signature of a rewritten method: entry code takes the
// trailing parameters, and a lambda body given a receiver is no longer
// static.
func (k *classRewriter) finish(p *methodPlan) error {
	if p.receiverAdded {
		p.member.Access &^= classfile.AccStatic
	}
	if p.entry {
		return k.setInstrumented(p.member, p.descriptor)
	}
	return nil
}

func (k *classRewriter) setInstrumented(m *classfile.Member, descriptor string) error {
	d, err := instrumented(descriptor)
	if err != nil {
		return err
	}
	return k.cf.SetDescriptor(m, d)
}

// snippet appends the code built by fn to the output.
func (w *methodWriter) snippet(fn func(a *classfile.Assembler)) {
	if w.err != nil {
		return
	}
	a := classfile.NewAssembler(w.cf)
	fn(a)
	insns, err := a.Instructions()
	if err != nil {
		w.err = err
		return
	}
	w.out = append(w.out, insns...)
}

func (w *methodWriter) emit() (*classfile.Rewrite, error) {
	n := len(w.insns)
	rw := &classfile.Rewrite{Start: make([]int, n+1), Self: make([]int, n)}
	leaders := classfile.Leaders(w.insns, w.handlers)
	m := w.plan.member

	prologue := w.plan.entry && !w.plan.bridge
	initCall := -1
	if prologue && m.IsConstructor() {
		if initCall = w.initialiserCall(); initCall < 0 {
			return nil, errors.New("constructor without an initialiser call on this")
		}
	} else if prologue {
		// Branches back to the first instruction do not re-run it.
		w.prologue()
	}

	next := 0
	for i := range w.insns {
		rw.Start[i] = len(w.out)
		if next < len(leaders) && leaders[next] == i {
			end := n
			if next+1 < len(leaders) {
				end = leaders[next+1]
			}
			w.charge(w.blockCost(i, end))
			next++
		}
		if cs := w.checks[i]; len(cs) > 0 {
			w.check(i, cs)
		}
		in := w.insns[i]
		if slot, ok := in.Local(); ok && w.plan.shifts() {
			in = in.WithLocal(w.plan.shift(slot))
		}
		switch {
		case in.Op == classfile.OpInvokedynamic:
			in = w.captureThis(in)
		case in.Op.IsInvoke():
			in = w.call(i, in)
		}
		if w.err != nil {
			return nil, w.err
		}
		rw.Self[i] = len(w.out)
		w.out = append(w.out, in)
		if i == initCall {
			w.prologue()
		}
	}
	rw.Start[n] = len(w.out)
	if w.err != nil {
		return nil, w.err
	}

	for _, s := range rw.Self {
		in := &w.out[s]
		switch {
		case in.Op.IsSwitch():
			in.Default = rw.Start[in.Default]
			targets := make([]int, len(in.Targets))
			for k, t := range in.Targets {
				targets[k] = rw.Start[t]
			}
			in.Targets = targets
		case in.Op.IsBranch():
			in.Target = rw.Start[in.Target]
		}
	}
	rw.Insns = w.out
	return rw, nil
}

func (w *methodWriter) isThis(i int) bool {
	if i < 0 {
		return false
	}
	in := &w.insns[i]
	return in.Op == classfile.OpAload0 || (in.Op == classfile.OpAload && in.Index == 0)
}

// onThis reports whether the receiver of the invoke at i is always this.
func (w *methodWriter) onThis(i int, in classfile.Instruction, mt classfile.MethodType) bool {
	if in.Op == classfile.OpInvokestatic || w.plan.static {
		return false
	}
	return w.flow.Operand(i, mt, -1).Only(w.isThis)
}

// initialiserCall finds the super(...) or this(...) call of a constructor:
// the first reachable invokespecial of <init> whose receiver is this.
func (w *methodWriter) initialiserCall() int {
	for i := range w.insns {
		in := w.insns[i]
		if in.Op != classfile.OpInvokespecial || !w.flow.Reachable(i) {
			continue
		}
		ref, err := w.cf.Pool.Member(uint16(in.Index))
		if err != nil || ref.Name != "<init>" {
			continue
		}
		mt, err := classfile.ParseMethodDescriptor(ref.Descriptor)
		if err != nil {
			continue
		}
		if w.onThis(i, in, mt) {
			return i
		}
	}
	return -1
}

// prologue binds the caller and, for payable code, moves the amount.
func (w *methodWriter) prologue() {
	p := w.plan
	w.snippet(func(a *classfile.Assembler) {
		a.Load(classfile.OpAload, 0).
			Load(classfile.OpAload, p.caller).
			Load(classfile.OpAload, p.caller+1)
		switch {
		case p.tags.Has(annotations.RedPayable), p.tags.Has(annotations.Payable):
			name := "payableFromContract"
			if p.tags.Has(annotations.RedPayable) {
				name = "redPayableFromContract"
			}
			amount := p.mt.Params[0]
			a.Load(loadOp(amount), 1).
				Invoke(classfile.OpInvokestatic, classindex.RuntimeName, name, "("+contractType+contractType+dummyType+string(amount)+")V")
		default:
			a.Invoke(classfile.OpInvokestatic, classindex.RuntimeName, "fromContract", "("+storageType+contractType+dummyType+")V")
		}
	})
}

// call extends a call to entry code with the caller and dummy arguments.
// A call on this from entry code forwards the current caller as chained,
// and one from a lambda of entry code forwards this.caller(). A bridge
// forwards its own arguments. Any other call passes this and no dummy.
func (w *methodWriter) call(i int, in classfile.Instruction) classfile.Instruction {
	ref, entry, err := w.entryCall(in)
	if err != nil {
		w.err = err
		return in
	}
	if !entry {
		return in
	}
	mt, err := classfile.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		w.err = err
		return in
	}
	if ref.Descriptor, err = instrumented(ref.Descriptor); err != nil {
		w.err = err
		return in
	}
	onThis := w.onThis(i, in, mt)
	w.snippet(func(a *classfile.Assembler) {
		switch {
		case onThis && w.plan.bridge:
			a.Load(classfile.OpAload, w.plan.caller).Load(classfile.OpAload, w.plan.caller+1)
		case onThis && w.plan.entry:
			a.Load(classfile.OpAload, w.plan.caller).
				Field(classfile.OpGetstatic, classindex.DummyName, "CHAINED", dummyType)
		case onThis && w.plan.lambdaOfEntry:
			a.Load(classfile.OpAload, 0).
				Invoke(classfile.OpInvokespecial, classindex.StorageName, "caller", "()"+contractType).
				Field(classfile.OpGetstatic, classindex.DummyName, "CHAINED", dummyType)
		default:
			a.Load(classfile.OpAload, 0).Op(classfile.OpAconstNull)
		}
	})
	idx, err := w.cf.Pool.AddMethodref(ref)
	if err != nil {
		w.err = err
		return in
	}
	in.Index = int(idx)
	if in.Op == classfile.OpInvokeinterface {
		in.Value = mt.ParamSlots() + 3
	}
	return in
}

func loadOp(t classfile.Type) classfile.Opcode {
	switch {
	case t.IsReference():
		return classfile.OpAload
	case t == "J":
		return classfile.OpLload
	case t == "F":
		return classfile.OpFload
	case t == "D":
		return classfile.OpDload
	}
	return classfile.OpIload
}

func storeOp(t classfile.Type) classfile.Opcode {
	return loadOp(t) - classfile.OpIload + classfile.OpIstore
}

func returnOp(t classfile.Type) classfile.Opcode {
	switch {
	case t == "V":
		return classfile.OpReturn
	case t.IsReference():
		return classfile.OpAreturn
	case t == "J":
		return classfile.OpLreturn
	case t == "F":
		return classfile.OpFreturn
	case t == "D":
		return classfile.OpDreturn
	}
	return classfile.OpIreturn
}
