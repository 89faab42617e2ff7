package verifier

import (
	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
)

func checkEntryDeclaration(ctx *MethodContext) []Issue {
	if !ctx.Declared.Has(annotations.Entry) {
		return nil
	}
	var out []Issue
	if ctx.IsStatic() {
		out = append(out, ctx.Here(RuleEntryDeclaration, "@FromContract cannot be used on static methods"))
	}
	if !ctx.IsStorage && !ctx.Class.Interface {
		out = append(out, ctx.Here(RuleEntryDeclaration, "@FromContract can only be used in storage classes or interfaces"))
	}
	if bound := ctx.Declared.Bound; !ctx.Index.IsContractType(bound) {
		out = append(out, ctx.Here(RuleEntryDeclaration, "the argument of @FromContract must be a contract, not %s", classfile.JavaName(bound)))
	}
	return out
}

func checkEntryCallContext(ctx *MethodContext) []Issue {
	if ctx.Flow == nil {
		return nil
	}
	var out []Issue
	inStatic := ctx.InStaticContext(ctx.Method)
	ctx.Each(func(i int, in *classfile.Instruction) {
		ref, mt, ok := ctx.Invoke(i)
		if !ok {
			return
		}
		target, entry := ctx.EntryTarget(ref)
		if !entry {
			return
		}
		reachable := ctx.Reachable(i)
		onThis := reachable && in.Op != classfile.OpInvokestatic && ctx.OnThis(ctx.Flow.Operand(i, mt, -1))
		name := classfile.JavaName(ref.Owner) + "." + ref.Name
		switch {
		case inStatic:
			out = append(out, ctx.At(i, RuleEntryCallContext, "illegal call to @FromContract %s from a static context", name))
		case !ctx.IsContract && !onThis && reachable:
			out = append(out, ctx.At(i, RuleEntryCallContext, "illegal call to @FromContract %s from outside a contract", name))
		case !ctx.IsStorage:
			out = append(out, ctx.At(i, RuleEntryCallContext, "illegal call to @FromContract %s from a class that is not storage", name))
		}
		if inStatic || !onThis {
			return
		}
		if in.Op != classfile.OpInvokespecial || ref.Name != "<init>" {
			if !ctx.IsEntry() && !ctx.InEntryLambda(ctx.Method) {
				out = append(out, ctx.At(i, RuleEntryCallContext, "@FromContract %s can be called on this only from @FromContract code", name))
			}
			return
		}
		if !ctx.IsEntry() {
			out = append(out, ctx.At(i, RuleEntryCallContext, "@FromContract constructor %s can be chained only from a @FromContract constructor", name))
			return
		}
		if target.Tags.Has(annotations.Payable) && !ctx.Tags.Has(annotations.Payable) {
			out = append(out, ctx.At(i, RuleEntryCallContext, "@Payable constructor %s can be chained only from a @Payable constructor", name))
		}
	}, classfile.OpInvokevirtual, classfile.OpInvokespecial, classfile.OpInvokeinterface, classfile.OpInvokestatic)
	return out
}

func isAmountType(t classfile.Type) bool {
	return t == "I" || t == "J" || t == classfile.ObjectType(classindex.BigIntegerName)
}

func checkPayable(ctx *MethodContext) []Issue {
	if !ctx.Declared.Has(annotations.Payable) {
		return nil
	}
	var out []Issue
	if !ctx.Declared.Has(annotations.Entry) {
		out = append(out, ctx.Here(RulePayable, "@Payable can only be used on @FromContract methods or constructors"))
	}
	if len(ctx.Type.Params) == 0 || !isAmountType(ctx.Type.Params[0]) {
		out = append(out, ctx.Here(RulePayable, "@Payable requires a first parameter of type int, long or java.math.BigInteger"))
	}
	if !ctx.IsContract && !ctx.Class.Interface {
		out = append(out, ctx.Here(RulePayable, "@Payable can only be used in contracts or interfaces"))
	}
	return out
}

func checkRedPayable(ctx *MethodContext) []Issue {
	if !ctx.Declared.Has(annotations.RedPayable) {
		return nil
	}
	var out []Issue
	if !ctx.Declared.Has(annotations.Entry) {
		out = append(out, ctx.Here(RuleRedPayable, "@RedPayable can only be used on @FromContract methods or constructors"))
	}
	if !ctx.Index.IsTwoBalanceContractType(ctx.Class.Name) && !ctx.Class.Interface {
		out = append(out, ctx.Here(RuleRedPayable, "@RedPayable can only be used in red/green contracts"))
	}
	if len(ctx.Type.Params) == 0 || !isAmountType(ctx.Type.Params[0]) {
		out = append(out, ctx.Here(RuleRedPayable, "@RedPayable requires a first parameter of type int, long or java.math.BigInteger"))
	}
	return out
}

func checkThrowsExceptions(ctx *MethodContext) []Issue {
	if ctx.Declared.Has(annotations.ThrowsExceptions) && !ctx.Method.Is(classfile.AccPublic) {
		return []Issue{ctx.Here(RuleThrowsExceptions, "@ThrowsExceptions can only be used on public methods")}
	}
	return nil
}

func checkSelfCharged(ctx *MethodContext) []Issue {
	if !ctx.Declared.Has(annotations.SelfCharged) {
		return nil
	}
	switch {
	case !ctx.Options.AllowSelfCharged:
		return []Issue{ctx.Here(RuleSelfCharged, "@SelfCharged is not allowed by this node")}
	case !ctx.Method.Is(classfile.AccPublic), ctx.IsStatic(), ctx.Method.IsConstructor():
		return []Issue{ctx.Here(RuleSelfCharged, "@SelfCharged can only be used on public instance methods")}
	case !ctx.IsContract:
		return []Issue{ctx.Here(RuleSelfCharged, "@SelfCharged can only be used in contracts")}
	}
	return nil
}

func checkWhitelistedOnMethod(ctx *MethodContext) []Issue {
	if ctx.Declared.Has(annotations.Whitelisted) && !ctx.Options.DuringInitialization {
		return []Issue{ctx.Here(RuleWhitelistedAnnotation, "@WhiteListedDuringInitialization can only be used while the node is initialised")}
	}
	return nil
}

func checkWhitelistedOnClass(ctx *ClassContext) []Issue {
	if ctx.Options.DuringInitialization {
		return nil
	}
	var out []Issue
	if ctx.Tags.Has(annotations.Whitelisted) {
		out = append(out, ctx.Error(RuleWhitelistedAnnotation, nil, -1, "@WhiteListedDuringInitialization can only be used while the node is initialised"))
	}
	for _, f := range ctx.File.Fields {
		anns, err := ctx.File.Annotations(f.Attributes)
		if err != nil {
			continue
		}
		if tags, err := annotations.Decode(anns); err == nil && tags.Has(annotations.Whitelisted) {
			out = append(out, ctx.Error(RuleWhitelistedAnnotation, nil, -1, "@WhiteListedDuringInitialization on field %s can only be used while the node is initialised", f.Name))
		}
	}
	return out
}

func checkExported(ctx *ClassContext) []Issue {
	if ctx.Tags.Has(annotations.Exported) && !ctx.IsStorage {
		return []Issue{ctx.Error(RuleExported, nil, -1, "@Exported can only be used on storage classes")}
	}
	return nil
}

// isCallerAccessor reports whether ref resolves to Storage.caller().
func isCallerAccessor(ctx *MethodContext, ref classfile.MemberRef) bool {
	if ref.Name != "caller" || ref.Descriptor != "()"+string(classfile.ObjectType(classindex.ContractName)) {
		return false
	}
	c, _, ok := ctx.Index.ResolveMethod(ref.Owner, ref.Name, ref.Descriptor)
	return ok && c.Name == classindex.StorageName
}

func checkCaller(ctx *MethodContext) []Issue {
	var out []Issue
	ctx.Each(func(i int, in *classfile.Instruction) {
		ref, mt, ok := ctx.Invoke(i)
		if !ok || !isCallerAccessor(ctx, ref) {
			return
		}
		if !ctx.IsEntry() {
			out = append(out, ctx.At(i, RuleCaller, "caller() can only be used inside @FromContract code"))
		}
		if ctx.Reachable(i) && !ctx.OnThis(ctx.Flow.Operand(i, mt, -1)) {
			out = append(out, ctx.At(i, RuleCaller, "caller() can only be called on this"))
		}
	}, classfile.OpInvokevirtual, classfile.OpInvokespecial)
	return out
}

func checkLambdaTarget(ctx *MethodContext) []Issue {
	var out []Issue
	ctx.Each(func(i int, in *classfile.Instruction) {
		_, target, ok := ctx.lambdaTarget(in)
		if !ok {
			return
		}
		if _, entry := ctx.EntryTarget(target); entry {
			out = append(out, ctx.At(i, RuleLambdaTarget, "@FromContract %s.%s cannot be used as a method reference: wrap the call in a lambda",
				classfile.JavaName(target.Owner), target.Name))
		}
	}, classfile.OpInvokedynamic)
	return out
}

func checkView(ctx *MethodContext) []Issue {
	var out []Issue
	if ctx.Declared.Has(annotations.View) {
		if ctx.Method.IsConstructor() {
			out = append(out, ctx.Here(RuleView, "@View cannot be used on constructors"))
		} else if ctx.Type.Return == "V" {
			out = append(out, ctx.Here(RuleView, "@View methods must return a value"))
		}
	}
	if !ctx.Tags.Has(annotations.View) || ctx.Flow == nil || ctx.Method.IsConstructor() {
		return out
	}
	ctx.Each(func(i int, in *classfile.Instruction) {
		ref, err := ctx.File.Pool.Member(uint16(in.Index))
		if err != nil {
			return
		}
		t := classfile.Type(ref.Descriptor)
		if ctx.OnThis(ctx.Flow.Slot(i, t.Size())) {
			out = append(out, ctx.At(i, RuleView, "@View method modifies field %s of this", ref.Name))
		}
	}, classfile.OpPutfield)
	return out
}
