package instrument

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
)

// bridgePlan is a bridge to synthesise: a method with the descriptor of an
// overridden entry method that forwards to target.
type bridgePlan struct {
	name       string
	descriptor string
	mt         classfile.MethodType
	target     *methodPlan
}

// missingBridges finds, for an Exported class, the entry methods of its
// supertypes that one of its entry methods overrides with a narrower
// signature and that no method of the class implements under the
// supertype's descriptor.
func (k *classRewriter) missingBridges(plans []*methodPlan) ([]bridgePlan, error) {
	tags, err := k.resolver.ClassTags(k.cf.Name)
	if err != nil {
		return nil, err
	}
	if !tags.Has(annotations.Exported) {
		return nil, nil
	}
	declared := mapset.NewThreadUnsafeSet[string]()
	for _, p := range plans {
		declared.Add(p.member.Name + p.descriptor)
	}
	var out []bridgePlan
	for _, p := range plans {
		m := p.member
		if !p.entry || p.bridge || m.IsConstructor() || m.Is(classfile.AccStatic) || m.Is(classfile.AccPrivate) {
			continue
		}
		for _, name := range k.idx.Ancestors(k.cf.Name) {
			c, ok := k.idx.Lookup(name)
			if !ok || !c.Loaded() {
				continue
			}
			for _, am := range c.File.Methods {
				if am.Name != m.Name || am.Descriptor == p.descriptor ||
					am.Is(classfile.AccPrivate) || am.Is(classfile.AccStatic) || am.Is(classfile.AccBridge) {
					continue
				}
				amt, err := classfile.ParseMethodDescriptor(am.Descriptor)
				if err != nil || !k.narrows(p.mt, amt) {
					continue
				}
				atags, err := k.resolver.Declared(name, am)
				if err != nil {
					return nil, err
				}
				if !atags.Has(annotations.Entry) || !declared.Add(am.Name+am.Descriptor) {
					continue
				}
				out = append(out, bridgePlan{name: am.Name, descriptor: am.Descriptor, mt: amt, target: p})
			}
		}
	}
	return out, nil
}

// narrows reports whether sub can implement sup: the same arity, each
// parameter and the result equal to or a subclass of the one in sup.
func (k *classRewriter) narrows(sub, sup classfile.MethodType) bool {
	if len(sub.Params) != len(sup.Params) {
		return false
	}
	for i := range sub.Params {
		if !k.assignable(sub.Params[i], sup.Params[i]) {
			return false
		}
	}
	return k.assignable(sub.Return, sup.Return)
}

func (k *classRewriter) assignable(sub, sup classfile.Type) bool {
	if sub == sup {
		return true
	}
	a, ok1 := sub.ClassName()
	b, ok2 := sup.ClassName()
	return ok1 && ok2 && k.idx.IsSubtype(a, b)
}

// synthesize adds a public bridge with the instrumented descriptor of the
// overridden method. It casts the arguments down, forwards them with the
// caller and dummy to the target, and returns its result.
func (k *classRewriter) synthesize(b bridgePlan) error {
	desc, err := instrumented(b.descriptor)
	if err != nil {
		return err
	}
	target, err := instrumented(b.target.descriptor)
	if err != nil {
		return err
	}
	m, err := k.cf.AddMethod(classfile.AccPublic|classfile.AccSynthetic|classfile.AccBridge, b.name, desc, nil)
	if err != nil {
		return err
	}
	a := classfile.NewAssembler(k.cf)
	a.Load(classfile.OpAload, 0)
	slot := 1
	for i, t := range b.mt.Params {
		a.Load(loadOp(t), slot)
		if want := b.target.mt.Params[i]; want != t {
			name, ok := want.ClassName()
			if !ok {
				name = string(want)
			}
			a.Class(classfile.OpCheckcast, name)
		}
		slot += t.Size()
	}
	a.Load(classfile.OpAload, slot).
		Load(classfile.OpAload, slot+1).
		Invoke(classfile.OpInvokevirtual, k.cf.Name, b.name, target).
		Op(returnOp(b.mt.Return))
	code, err := a.Code(m)
	if err != nil {
		return err
	}
	return k.cf.SetCode(m, code)
}
