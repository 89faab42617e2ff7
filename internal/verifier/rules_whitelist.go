package verifier

import (
	"strings"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/whitelist"
)

// permit is how a member reference is allowed: by a declaration in a loaded
// class, or by a whitelist entry with its obligations.
type permit struct {
	Declarer    string
	Platform    bool
	Obligations []whitelist.Obligation
}

// whitelisted resolves owner.name descriptor. A field declared by a loaded
// type along the lineage of owner is allowed outright. Otherwise the first
// type of the lineage that declares the member, or that the table lists it
// for, decides.
func (ctx *MethodContext) whitelisted(owner, name, descriptor string, field bool) (permit, bool) {
	if strings.HasPrefix(owner, "[") {
		if name == "clone" && !field {
			return permit{Declarer: owner}, true
		}
		owner = classindex.ObjectName
	}
	if field {
		if c, _, ok := ctx.Index.ResolveField(owner, name, descriptor); ok {
			return permit{Declarer: c.Name}, true
		}
	}
	lineage := []string{owner}
	if name != "<init>" {
		lineage = ctx.Index.Lineage(owner)
	}
	instrumented := ""
	if !field {
		instrumented, _ = annotations.Instrumented(descriptor)
	}
	for _, n := range lineage {
		c, ok := ctx.Index.Lookup(n)
		if !ok {
			continue
		}
		if c.Loaded() {
			if !field && (ctx.Index.DeclaresMethod(n, name, descriptor) ||
				instrumented != "" && ctx.Index.DeclaresMethod(n, name, instrumented)) {
				return permit{Declarer: n}, true
			}
			continue
		}
		if obl, ok := ctx.Table.Lookup(ctx.Options.Version, n, name, descriptor); ok {
			return permit{Declarer: n, Platform: true, Obligations: obl}, true
		}
	}
	return permit{}, false
}

func memberName(owner, name string) string {
	return classfile.JavaName(owner) + "." + name
}

func checkWhitelist(ctx *MethodContext) []Issue {
	var out []Issue
	pool := ctx.File.Pool
	ctx.Each(func(i int, in *classfile.Instruction) {
		switch {
		case in.Op == classfile.OpInvokedynamic:
			out = append(out, ctx.checkDynamic(i, in)...)
		case in.Op.IsInvoke():
			ref, mt, ok := ctx.Invoke(i)
			if !ok {
				return
			}
			p, ok := ctx.whitelisted(ref.Owner, ref.Name, ref.Descriptor, false)
			if !ok || in.Op == classfile.OpInvokespecial && ref.Name != "<init>" && p.Platform && hasReceiverObligation(p) {
				out = append(out, ctx.At(i, RuleWhitelist, "illegal call to non-white-listed method %s", memberName(ref.Owner, ref.Name)))
				return
			}
			for _, o := range p.Obligations {
				out = append(out, ctx.discharge(i, o, mt, ref)...)
			}
		case in.Op.IsFieldAccess():
			ref, err := pool.Member(uint16(in.Index))
			if err != nil {
				return
			}
			if _, ok := ctx.whitelisted(ref.Owner, ref.Name, ref.Descriptor, true); !ok {
				out = append(out, ctx.At(i, RuleWhitelist, "illegal access to non-white-listed field %s", memberName(ref.Owner, ref.Name)))
			}
		}
	})
	return out
}

func hasReceiverObligation(p permit) bool {
	for _, o := range p.Obligations {
		if o.Operand == whitelist.Receiver {
			return true
		}
	}
	return false
}

// discharge decides obligation o of the call at instruction i. A failing
// obligation is an issue; an undecided one becomes a runtime check.
func (ctx *MethodContext) discharge(i int, o whitelist.Obligation, mt classfile.MethodType, ref classfile.MemberRef) []Issue {
	if !ctx.Reachable(i) {
		return nil
	}
	msg := o.Message(memberName(ref.Owner, ref.Name))
	switch ctx.decide(o.Kind, ctx.Flow.Operand(i, mt, o.Operand)) {
	case fails:
		return []Issue{ctx.At(i, RuleWhitelist, "%s", msg)}
	case unknown:
		ctx.Require(RuntimeCheck{Instruction: i, PC: ctx.Insns[i].PC, Operand: o.Operand, Kind: o.Kind, Target: ref.String(), Message: msg})
	}
	return nil
}

type verdict uint8

const (
	unknown verdict = iota
	holds
	fails
)

// decide evaluates kind over every value that may reach an operand. One
// failing value fails the obligation.
func (ctx *MethodContext) decide(kind whitelist.Kind, p classfile.Pushers) verdict {
	if len(p) == 0 {
		return unknown
	}
	out := holds
	for _, k := range p {
		switch ctx.decideOne(kind, k) {
		case fails:
			return fails
		case unknown:
			out = unknown
		}
	}
	return out
}

func (ctx *MethodContext) decideOne(kind whitelist.Kind, k int) verdict {
	if k < 0 {
		return unknown
	}
	in := &ctx.Insns[k]
	pool := ctx.File.Pool
	if kind == whitelist.MustBeFalse {
		switch {
		case in.Op == classfile.OpIconst0:
			return holds
		case in.Op >= classfile.OpIconstM1 && in.Op <= classfile.OpIconst5:
			return fails
		case in.Op == classfile.OpBipush, in.Op == classfile.OpSipush:
			if in.Value == 0 {
				return holds
			}
			return fails
		}
		return unknown
	}
	var t classfile.Type
	switch in.Op {
	case classfile.OpLdc, classfile.OpLdcW:
		if pool.Tag(uint16(in.Index)) == classfile.TagString {
			return holds
		}
		return unknown
	case classfile.OpNew:
		name, err := pool.ClassName(uint16(in.Index))
		if err != nil {
			return unknown
		}
		if ctx.redefines(kind, name) {
			return holds
		}
		return fails
	case classfile.OpCheckcast:
		name, err := pool.ClassName(uint16(in.Index))
		if err != nil {
			return unknown
		}
		t = classfile.ObjectType(name)
	case classfile.OpInvokedynamic:
		_, _, desc, err := pool.InvokeDynamic(uint16(in.Index))
		if err != nil {
			return unknown
		}
		mt, err := classfile.ParseMethodDescriptor(desc)
		if err != nil {
			return unknown
		}
		t = mt.Return
	case classfile.OpInvokevirtual, classfile.OpInvokespecial, classfile.OpInvokestatic, classfile.OpInvokeinterface:
		_, mt, ok := ctx.Invoke(k)
		if !ok {
			return unknown
		}
		t = mt.Return
	case classfile.OpGetfield, classfile.OpGetstatic:
		ref, err := pool.Member(uint16(in.Index))
		if err != nil {
			return unknown
		}
		t = classfile.Type(ref.Descriptor)
	default:
		return unknown
	}
	if name, ok := t.ClassName(); ok && ctx.redefines(kind, name) {
		return holds
	}
	return unknown
}

func (ctx *MethodContext) redefines(kind whitelist.Kind, class string) bool {
	if kind == whitelist.MustRedefineHashCode {
		return ctx.Index.RedefinesHashCode(class)
	}
	return ctx.Index.RedefinesHashCodeOrToString(class)
}

func (ctx *MethodContext) checkDynamic(i int, in *classfile.Instruction) []Issue {
	if kind, target, ok := ctx.lambdaTarget(in); ok {
		p, ok := ctx.whitelisted(target.Owner, target.Name, target.Descriptor, kind <= classfile.RefPutStatic)
		switch {
		case !ok:
			return []Issue{ctx.At(i, RuleWhitelist, "illegal method reference to non-white-listed method %s", memberName(target.Owner, target.Name))}
		case len(p.Obligations) > 0:
			return []Issue{ctx.At(i, RuleWhitelist, "method reference to %s has proof obligations: wrap the call in a lambda", memberName(target.Owner, target.Name))}
		}
		return nil
	}
	bsmIndex, _, desc, err := ctx.File.Pool.InvokeDynamic(uint16(in.Index))
	if err != nil {
		return nil
	}
	bsm, ok := ctx.Bootstrap(bsmIndex)
	if !ok {
		return nil
	}
	if _, ref, err := ctx.File.Pool.MethodHandle(bsm.Method); err != nil || ref.Owner != stringConcatFactory || ref.Name != makeConcat {
		return nil
	}
	mt, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil
	}
	reachable := ctx.Reachable(i)
	concat := classfile.MemberRef{Owner: stringConcatFactory, Name: makeConcat, Descriptor: desc}
	o := whitelist.Obligation{Kind: whitelist.MustRedefineHashCodeOrToString}
	var out []Issue
	for k, t := range mt.Params {
		if !t.IsReference() {
			continue
		}
		o.Operand = k
		msg := o.Message("string concatenation")
		if t.IsArray() {
			out = append(out, ctx.At(i, RuleWhitelist, "%s", msg))
			continue
		}
		if name, ok := t.ClassName(); !reachable || ok && ctx.redefines(o.Kind, name) {
			continue
		}
		switch ctx.decide(o.Kind, ctx.Flow.Operand(i, mt, k)) {
		case fails:
			out = append(out, ctx.At(i, RuleWhitelist, "%s", msg))
		case unknown:
			ctx.Require(RuntimeCheck{Instruction: i, PC: in.PC, Operand: k, Kind: o.Kind, Target: concat.String(), Message: msg})
		}
	}
	return out
}
