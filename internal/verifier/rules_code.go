package verifier

import (
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
)

func checkCodeShape(ctx *MethodContext) []Issue {
	if ctx.CodeErr == nil {
		return nil
	}
	return []Issue{ctx.Here(RuleCodeShape, "the code of the method cannot be analysed: %v", ctx.CodeErr)}
}

func checkModifiers(ctx *MethodContext) []Issue {
	var out []Issue
	if ctx.Method.Is(classfile.AccNative) {
		out = append(out, ctx.Here(RuleModifiers, "native methods are not allowed"))
	}
	if ctx.Method.Is(classfile.AccSynchronized) {
		out = append(out, ctx.Here(RuleModifiers, "synchronized methods are not allowed"))
	}
	ctx.Each(func(i int, in *classfile.Instruction) {
		out = append(out, ctx.At(i, RuleModifiers, "synchronized blocks are not allowed"))
	}, classfile.OpMonitorenter)
	return out
}

func checkSubroutines(ctx *MethodContext) []Issue {
	var out []Issue
	for i := range ctx.Insns {
		switch ctx.Insns[i].Op {
		case classfile.OpJsr, classfile.OpJsrW, classfile.OpRet:
			out = append(out, ctx.At(i, RuleSubroutines, "subroutine instruction %s is not allowed", ctx.Insns[i].Op))
		}
	}
	return out
}

func checkThisUpdate(ctx *MethodContext) []Issue {
	if ctx.IsStatic() {
		return nil
	}
	var out []Issue
	ctx.Each(func(i int, in *classfile.Instruction) {
		if slot, ok := in.Local(); ok && slot == 0 && in.IsStore() {
			out = append(out, ctx.At(i, RuleThisUpdate, "local variable 0 holds this and cannot be modified"))
		}
	})
	return out
}

func checkStaticWrite(ctx *MethodContext) []Issue {
	if ctx.Method.IsStaticInitializer() {
		return nil
	}
	var out []Issue
	ctx.Each(func(i int, in *classfile.Instruction) {
		field := "a static field"
		if ref, err := ctx.File.Pool.Member(uint16(in.Index)); err == nil {
			field = "static field " + classfile.JavaName(ref.Owner) + "." + ref.Name
		}
		out = append(out, ctx.At(i, RuleStaticWrite, "%s can only be modified inside a static initializer", field))
	}, classfile.OpPutstatic)
	return out
}

// isUnchecked reports whether a handler of class name can catch an
// unchecked exception: it is an unchecked type, or a supertype of one.
func isUnchecked(idx *classindex.Index, name string) bool {
	for _, u := range []string{classindex.RuntimeExceptionName, classindex.ErrorName} {
		if idx.IsSubtype(name, u) || idx.IsSubtype(u, name) {
			return true
		}
	}
	return false
}

func checkUncheckedCatch(ctx *MethodContext) []Issue {
	if ctx.Options.DuringInitialization {
		return nil
	}
	var out []Issue
	for _, h := range ctx.Handlers {
		if h.CatchType == 0 {
			continue
		}
		name, err := ctx.File.Pool.ClassName(h.CatchType)
		if err != nil || !isUnchecked(ctx.Index, name) {
			continue
		}
		out = append(out, ctx.At(h.Handler, RuleUncheckedCatch, "catching %s is not allowed since it may catch an unchecked exception", classfile.JavaName(name)))
	}
	return out
}
