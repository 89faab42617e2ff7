package verifier

import (
	"fmt"
	"slices"

	"github.com/gammazero/deque"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/whitelist"
)

const (
	lambdaMetafactory   = "java/lang/invoke/LambdaMetafactory"
	metafactory         = "metafactory"
	metafactoryDesc     = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;"
	stringConcatFactory = "java/lang/invoke/StringConcatFactory"
	makeConcat          = "makeConcatWithConstants"
	makeConcatDesc      = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/String;[Ljava/lang/Object;)Ljava/lang/invoke/CallSite;"
)

// body is the decoded code of one method. Err is set when the code could
// not be decoded or analysed; Flow is nil then.
type body struct {
	Code     *classfile.Code
	Insns    []classfile.Instruction
	Handlers []classfile.HandlerRange
	Flow     *classfile.Flow
	Lines    []classfile.LineNumber
	Err      error
}

// ClassContext is what class rules see. It is built once per class and
// shared by the method contexts of that class.
type ClassContext struct {
	Index    *classindex.Index
	Resolver *annotations.Resolver
	Table    *whitelist.Table
	Options  Options

	Class *classindex.Class
	File  *classfile.ClassFile
	Tags  annotations.TagSet

	IsStorage  bool
	IsContract bool

	bodies     map[*classfile.Member]*body
	bootstraps []classfile.BootstrapMethod
	bsmErr     error
	// lambdas maps each lambda body of the class to whether it can run on
	// behalf of a static method; ofEntry holds those created by entry code.
	lambdas map[*classfile.Member]bool
	ofEntry map[*classfile.Member]bool
	issues  []Issue
}

func newClassContext(v *Verifier, c *classindex.Class) *ClassContext {
	ctx := &ClassContext{
		Index:      v.idx,
		Resolver:   v.resolver,
		Table:      v.table,
		Options:    v.opts,
		Class:      c,
		File:       c.File,
		IsStorage:  v.idx.IsStorageType(c.Name),
		IsContract: v.idx.IsContractType(c.Name),
		bodies:     make(map[*classfile.Member]*body, len(c.File.Methods)),
	}
	var err error
	if ctx.Tags, err = v.resolver.ClassTags(c.Name); err != nil {
		ctx.issues = append(ctx.issues, ctx.Error(RuleCodeShape, nil, -1, "cannot decode the annotations of the class: %v", err))
	}
	ctx.bootstraps, ctx.bsmErr = c.File.BootstrapMethods()
	for _, m := range c.File.Methods {
		ctx.bodies[m] = decodeBody(c.File, m)
	}
	ctx.findLambdas()
	return ctx
}

func decodeBody(cf *classfile.ClassFile, m *classfile.Member) *body {
	b := &body{}
	code, err := cf.Code(m)
	if err != nil || code == nil {
		b.Err = err
		return b
	}
	b.Code = code
	if b.Insns, b.Err = classfile.Decode(code.Bytecode); b.Err != nil {
		return b
	}
	if b.Handlers, b.Err = classfile.ResolveHandlers(code, b.Insns); b.Err != nil {
		return b
	}
	if b.Lines, b.Err = code.LineNumbers(); b.Err != nil {
		return b
	}
	b.Flow, b.Err = classfile.Analyze(b.Insns, b.Handlers, cf.Pool, int(code.MaxStack))
	return b
}

// Bootstrap returns bootstrap method i of the class.
func (ctx *ClassContext) Bootstrap(i uint16) (classfile.BootstrapMethod, bool) {
	if ctx.bsmErr != nil || int(i) >= len(ctx.bootstraps) {
		return classfile.BootstrapMethod{}, false
	}
	return ctx.bootstraps[i], true
}

// lambdaTarget returns the implementation method of a metafactory
// invokedynamic, if the instruction is one.
func (ctx *ClassContext) lambdaTarget(in *classfile.Instruction) (uint8, classfile.MemberRef, bool) {
	if ctx.bsmErr != nil {
		return 0, classfile.MemberRef{}, false
	}
	site, ok := classfile.MetafactoryTarget(ctx.File.Pool, ctx.bootstraps, uint16(in.Index))
	return site.Kind, site.Target, ok
}

// findLambdas marks the lambda bodies created by metafactory calls of this
// class. It then propagates from static methods which of them can run in a
// static context, and from entry code which of them run on its behalf.
func (ctx *ClassContext) findLambdas() {
	ctx.lambdas = make(map[*classfile.Member]bool)
	ctx.ofEntry = make(map[*classfile.Member]bool)
	calls := make(map[*classfile.Member][]*classfile.Member)
	for _, m := range ctx.File.Methods {
		b := ctx.bodies[m]
		for i := range b.Insns {
			in := &b.Insns[i]
			if in.Op != classfile.OpInvokedynamic || ctx.bsmErr != nil {
				continue
			}
			site, ok := classfile.MetafactoryTarget(ctx.File.Pool, ctx.bootstraps, uint16(in.Index))
			if !ok {
				continue
			}
			if t := ctx.File.LambdaBody(site); t != nil {
				ctx.lambdas[t] = false
				calls[m] = append(calls[m], t)
			}
		}
	}

	var work deque.Deque
	for _, m := range ctx.File.Methods {
		if _, lambda := ctx.lambdas[m]; !lambda && m.Is(classfile.AccStatic) {
			work.PushBack(m)
		}
	}
	for work.Len() > 0 {
		m := work.PopFront().(*classfile.Member)
		for _, t := range calls[m] {
			if !ctx.lambdas[t] {
				ctx.lambdas[t] = true
				work.PushBack(t)
			}
		}
	}

	for _, m := range ctx.File.Methods {
		if m.Is(classfile.AccStatic) {
			continue
		}
		if res, err := ctx.Resolver.Resolve(ctx.Class.Name, m.Name, m.Descriptor); err == nil && res.Tags.Has(annotations.Entry) {
			work.PushBack(m)
		}
	}
	for work.Len() > 0 {
		m := work.PopFront().(*classfile.Member)
		for _, t := range calls[m] {
			if !ctx.ofEntry[t] {
				ctx.ofEntry[t] = true
				work.PushBack(t)
			}
		}
	}
}

// IsLambda reports whether m is the body of a lambda of this class.
func (ctx *ClassContext) IsLambda(m *classfile.Member) bool {
	_, ok := ctx.lambdas[m]
	return ok
}

// InStaticContext reports whether m can run without a receiver: a static
// method, unless it is a lambda only ever created by instance code.
func (ctx *ClassContext) InStaticContext(m *classfile.Member) bool {
	if !m.Is(classfile.AccStatic) {
		return false
	}
	reached, lambda := ctx.lambdas[m]
	return !lambda || reached
}

// InEntryLambda reports whether m is a lambda body created, possibly
// through other lambdas, by entry code of this class.
func (ctx *ClassContext) InEntryLambda(m *classfile.Member) bool {
	return ctx.IsLambda(m) && ctx.ofEntry[m]
}

// Error builds an error of rule about m, or about the class if m is nil.
func (ctx *ClassContext) Error(rule string, m *classfile.Member, line int, format string, args ...any) Issue {
	return ctx.issue(SeverityError, rule, m, line, -1, format, args...)
}

// Warning is Error with warning severity.
func (ctx *ClassContext) Warning(rule string, m *classfile.Member, line int, format string, args ...any) Issue {
	return ctx.issue(SeverityWarning, rule, m, line, -1, format, args...)
}

func (ctx *ClassContext) issue(sev Severity, rule string, m *classfile.Member, line, pc int, format string, args ...any) Issue {
	is := Issue{Severity: sev, Class: ctx.Class.Name, Line: line, Rule: rule, PC: pc, Message: fmt.Sprintf(format, args...)}
	if m != nil {
		is.Method, is.Descriptor = m.Name, m.Descriptor
	}
	return is
}

// MethodLine is the first source line of m, or -1.
func (ctx *ClassContext) MethodLine(m *classfile.Member) int {
	b := ctx.bodies[m]
	if b == nil || len(b.Lines) == 0 {
		return -1
	}
	line := int(b.Lines[0].Line)
	for _, l := range b.Lines[1:] {
		line = min(line, int(l.Line))
	}
	return line
}

// MethodContext is what method rules see.
type MethodContext struct {
	*ClassContext
	Method *classfile.Member
	// Declared are the tags written on the method, Tags the tags in force
	// after inheritance.
	Declared annotations.TagSet
	Tags     annotations.TagSet
	Type     classfile.MethodType

	Code     *classfile.Code
	Insns    []classfile.Instruction
	Handlers []classfile.HandlerRange
	Flow     *classfile.Flow
	CodeErr  error
	lines    []classfile.LineNumber

	checks []RuntimeCheck
}

func (ctx *ClassContext) method(m *classfile.Member) *MethodContext {
	b := ctx.bodies[m]
	mc := &MethodContext{
		ClassContext: ctx,
		Method:       m,
		Code:         b.Code,
		Insns:        b.Insns,
		Handlers:     b.Handlers,
		Flow:         b.Flow,
		CodeErr:      b.Err,
		lines:        b.Lines,
	}
	var err error
	if mc.Type, err = classfile.ParseMethodDescriptor(m.Descriptor); err != nil {
		ctx.issues = append(ctx.issues, ctx.Error(RuleCodeShape, m, -1, "malformed descriptor: %v", err))
	}
	if mc.Declared, err = ctx.Resolver.Declared(ctx.Class.Name, m); err != nil {
		ctx.issues = append(ctx.issues, ctx.Error(RuleCodeShape, m, -1, "cannot decode annotations: %v", err))
	}
	mc.Tags = mc.Declared
	if res, err := ctx.Resolver.Resolve(ctx.Class.Name, m.Name, m.Descriptor); err == nil && res.Found() {
		mc.Tags = res.Tags
	}
	return mc
}

// Line is the source line of instruction i.
func (ctx *MethodContext) Line(i int) int {
	return classfile.LineOf(ctx.lines, ctx.Insns[i].PC)
}

// IsStatic reports whether the method has no receiver.
func (ctx *MethodContext) IsStatic() bool { return ctx.Method.Is(classfile.AccStatic) }

// IsEntry reports whether the method is entry code.
func (ctx *MethodContext) IsEntry() bool { return ctx.Tags.Has(annotations.Entry) }

// At builds an error of rule at instruction i.
func (ctx *MethodContext) At(i int, rule, format string, args ...any) Issue {
	return ctx.issue(SeverityError, rule, ctx.Method, ctx.Line(i), ctx.Insns[i].PC, format, args...)
}

// Here builds an error of rule about the method as a whole.
func (ctx *MethodContext) Here(rule, format string, args ...any) Issue {
	return ctx.issue(SeverityError, rule, ctx.Method, ctx.MethodLine(ctx.Method), -1, format, args...)
}

// OnThis reports whether the value described by p is always the receiver
// of an instance method.
func (ctx *MethodContext) OnThis(p classfile.Pushers) bool {
	if ctx.IsStatic() || len(p) == 0 {
		return false
	}
	return p.Only(func(k int) bool {
		if k < 0 {
			return false
		}
		in := &ctx.Insns[k]
		return in.Op == classfile.OpAload0 || (in.Op == classfile.OpAload && in.Index == 0)
	})
}

// Invoke decodes the member an invoke instruction targets.
func (ctx *MethodContext) Invoke(i int) (classfile.MemberRef, classfile.MethodType, bool) {
	ref, err := ctx.File.Pool.Member(uint16(ctx.Insns[i].Index))
	if err != nil {
		return classfile.MemberRef{}, classfile.MethodType{}, false
	}
	mt, err := classfile.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return classfile.MemberRef{}, classfile.MethodType{}, false
	}
	return ref, mt, true
}

// EntryTarget resolves the tags of an invoked member and reports whether it
// is entry code.
func (ctx *MethodContext) EntryTarget(ref classfile.MemberRef) (annotations.Resolution, bool) {
	res, err := ctx.Resolver.Resolve(ref.Owner, ref.Name, ref.Descriptor)
	if err != nil {
		return annotations.Resolution{}, false
	}
	return res, res.Tags.Has(annotations.Entry)
}

// Each calls fn for every instruction whose opcode is in ops, or for every
// instruction when ops is empty. Unreachable code is included: rules that
// need the operand stack must ask Reachable first.
func (ctx *MethodContext) Each(fn func(i int, in *classfile.Instruction), ops ...classfile.Opcode) {
	for i := range ctx.Insns {
		in := &ctx.Insns[i]
		if len(ops) > 0 && !slices.Contains(ops, in.Op) {
			continue
		}
		fn(i, in)
	}
}

// Reachable reports whether the flow analysis reaches instruction i.
func (ctx *MethodContext) Reachable(i int) bool {
	return ctx.Flow != nil && ctx.Flow.Reachable(i)
}

// Require records a check for the instrumentor.
func (ctx *MethodContext) Require(rc RuntimeCheck) {
	rc.Class, rc.Method, rc.Descriptor = ctx.Class.Name, ctx.Method.Name, ctx.Method.Descriptor
	ctx.checks = append(ctx.checks, rc)
}
