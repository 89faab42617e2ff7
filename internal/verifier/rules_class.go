package verifier

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
)

func checkPackage(ctx *ClassContext) []Issue {
	name := ctx.Class.Name
	for _, reserved := range []string{"java/", "javax/"} {
		if strings.HasPrefix(name, reserved) {
			return []Issue{ctx.Error(RulePackage, nil, -1, "package %s is reserved", classfile.JavaName(strings.TrimSuffix(reserved, "/")))}
		}
	}
	if strings.HasPrefix(name, "io/takamaka/code/") && !ctx.Options.DuringInitialization {
		return []Issue{ctx.Error(RulePackage, nil, -1, "package io.takamaka.code is reserved to the node")}
	}
	return nil
}

func checkBootstraps(ctx *ClassContext) []Issue {
	if ctx.bsmErr != nil {
		return []Issue{ctx.Error(RuleBootstrap, nil, -1, "cannot decode the bootstrap methods: %v", ctx.bsmErr)}
	}
	pool := ctx.File.Pool
	var out []Issue
	for i, bsm := range ctx.bootstraps {
		kind, ref, err := pool.MethodHandle(bsm.Method)
		if err != nil {
			out = append(out, ctx.Error(RuleBootstrap, nil, -1, "bootstrap method %d: %v", i, err))
			continue
		}
		switch {
		case kind != classfile.RefInvokeStatic:
		case ref.Owner == lambdaMetafactory && ref.Name == metafactory && ref.Descriptor == metafactoryDesc:
			if len(bsm.Arguments) == 3 && pool.Tag(bsm.Arguments[1]) == classfile.TagMethodHandle {
				continue
			}
		case ref.Owner == stringConcatFactory && ref.Name == makeConcat && ref.Descriptor == makeConcatDesc:
			continue
		}
		out = append(out, ctx.Error(RuleBootstrap, nil, -1, "illegal bootstrap method %s", memberName(ref.Owner, ref.Name)))
	}
	return out
}

func checkStorageFields(ctx *ClassContext) []Issue {
	if !ctx.IsStorage {
		return nil
	}
	var out []Issue
	for _, f := range ctx.File.Fields {
		if f.Is(classfile.AccStatic) {
			continue
		}
		if f.Is(classfile.AccTransient) {
			out = append(out, ctx.Warning(RuleStorageFields, nil, -1, "transient field %s of a storage class is not kept in store", f.Name))
			continue
		}
		t := classfile.Type(f.Descriptor)
		if !ctx.permittedFieldType(t) {
			out = append(out, ctx.Error(RuleStorageFields, nil, -1, "illegal storage field type %s for field %s", javaType(t), f.Name))
		}
	}
	return out
}

func (ctx *ClassContext) permittedFieldType(t classfile.Type) bool {
	if t.IsPrimitive() {
		return true
	}
	name, ok := t.ClassName()
	if !ok {
		return false
	}
	switch {
	case name == classindex.StringName, name == classindex.BigIntegerName:
		return true
	case name == classindex.ObjectName:
		return ctx.Options.DuringInitialization
	case ctx.Index.IsEnum(name):
		return !hasInstanceFields(ctx.Index, name)
	}
	return ctx.Index.IsStorageType(name)
}

func hasInstanceFields(idx *classindex.Index, name string) bool {
	c, ok := idx.Lookup(name)
	if !ok || !c.Loaded() {
		return false
	}
	for _, f := range c.File.Fields {
		if !f.Is(classfile.AccStatic) {
			return true
		}
	}
	return false
}

func javaType(t classfile.Type) string {
	if name, ok := t.ClassName(); ok {
		return classfile.JavaName(name)
	}
	return string(t)
}

type signature struct{ name, descriptor string }

// overridable lists the signatures a subclass can override, in lineage
// order of first declaration.
func overridable(idx *classindex.Index, class string) []signature {
	seen := mapset.NewThreadUnsafeSet[signature]()
	var out []signature
	for _, n := range idx.Lineage(class) {
		c, ok := idx.Lookup(n)
		if !ok || !c.Loaded() {
			continue
		}
		for _, m := range c.File.Methods {
			if m.IsConstructor() || m.IsStaticInitializer() || m.Is(classfile.AccPrivate) || m.Is(classfile.AccStatic) ||
				m.Is(classfile.AccBridge) && m.Is(classfile.AccSynthetic) {
				continue
			}
			if s := (signature{m.Name, m.Descriptor}); seen.Add(s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// meets reports whether class is where the lineages of a and b first join:
// no direct parent of class already has both.
func meets(idx *classindex.Index, c *classindex.Class, a, b string) bool {
	parents := append([]string{c.Super}, c.Interfaces...)
	for _, p := range parents {
		if p != "" && idx.IsSubtype(p, a) && idx.IsSubtype(p, b) {
			return false
		}
	}
	return true
}

func describe(d annotations.Declaration) string {
	return memberName(d.Class, d.Member.Name) + " (" + d.Tags.String() + ")"
}

func checkAnnotationConsistency(ctx *ClassContext) []Issue {
	var out []Issue
	name := ctx.Class.Name
	for _, s := range overridable(ctx.Index, name) {
		res, err := ctx.Resolver.Resolve(name, s.name, s.descriptor)
		if err != nil {
			out = append(out, ctx.Error(RuleAnnotationConsistency, nil, -1, "cannot resolve the annotations of %s: %v", s.name, err))
			continue
		}
		own := ctx.File.Method(s.name, s.descriptor)
		for _, c := range res.Conflicts {
			switch {
			case c.Sibling && (own != nil || !meets(ctx.Index, ctx.Class, c.Override.Class, c.Overridden.Class)):
				continue
			case !c.Sibling && c.Override.Class != name:
				continue
			}
			is := ctx.Error(RuleAnnotationConsistency, nil, -1, "the annotations of %s are inconsistent with those of %s", describe(c.Override), describe(c.Overridden))
			is.Method, is.Descriptor = s.name, s.descriptor
			if own != nil {
				is.Line = ctx.MethodLine(own)
			}
			out = append(out, is)
		}
	}
	return out
}
