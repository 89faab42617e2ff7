package instrument

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
)

// lambdaPlan is how the lambdas of one class are rewritten.
type lambdaPlan struct {
	// capture holds the bootstraps whose call sites now pass this as the
	// first captured argument.
	capture map[uint16]bool
}

// lambdaBody is what planLambdas records of the code of one method.
type lambdaBody struct {
	sites   []classfile.LambdaSite
	targets []*classfile.Member
	entry   bool // calls entry code itself
}

// planLambdas finds the static lambda bodies that lead to entry code,
// directly or through lambdas they create. Each becomes an instance method
// whose implementation handle is invoked as special, so that it has a
// contract to pass as caller. It also marks the instance lambda bodies
// created by entry code, which pass their own caller on.
func (k *classRewriter) planLambdas(plans []*methodPlan) (*lambdaPlan, error) {
	lp := &lambdaPlan{capture: make(map[uint16]bool)}
	bootstraps, err := k.cf.BootstrapMethods()
	if err != nil || len(bootstraps) == 0 {
		return lp, err
	}

	bodies := make(map[*classfile.Member]*lambdaBody, len(plans))
	byMember := make(map[*classfile.Member]*methodPlan, len(plans))
	for _, p := range plans {
		byMember[p.member] = p
		b, err := k.scanLambdas(p.member, bootstraps)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", p.member.Name, p.descriptor, err)
		}
		bodies[p.member] = b
	}

	leads := make(map[*classfile.Member]bool)
	for changed := true; changed; {
		changed = false
		for m, b := range bodies {
			if leads[m] {
				continue
			}
			if b.entry || slices.ContainsFunc(b.targets, func(t *classfile.Member) bool { return leads[t] }) {
				leads[m] = true
				changed = true
			}
		}
	}

	for _, p := range plans {
		b := bodies[p.member]
		for i, site := range b.sites {
			t := b.targets[i]
			if site.Kind != classfile.RefInvokeStatic || !t.Is(classfile.AccStatic) || !leads[t] {
				continue
			}
			byMember[t].receiverAdded = true
			lp.capture[site.Bootstrap] = true
		}
	}
	for _, i := range slices.Sorted(maps.Keys(lp.capture)) {
		if err := k.invokeAsSpecial(bootstraps, i); err != nil {
			return nil, err
		}
	}

	var work []*classfile.Member
	seen := make(map[*classfile.Member]bool)
	for _, p := range plans {
		if p.entry {
			work = append(work, p.member)
		}
	}
	for len(work) > 0 {
		m := work[len(work)-1]
		work = work[:len(work)-1]
		for _, t := range bodies[m].targets {
			if seen[t] {
				continue
			}
			seen[t] = true
			if !byMember[t].static {
				byMember[t].lambdaOfEntry = true
			}
			work = append(work, t)
		}
	}
	return lp, nil
}

func (k *classRewriter) scanLambdas(m *classfile.Member, bootstraps []classfile.BootstrapMethod) (*lambdaBody, error) {
	b := &lambdaBody{}
	code, err := k.cf.Code(m)
	if err != nil || code == nil {
		return b, err
	}
	insns, err := classfile.Decode(code.Bytecode)
	if err != nil {
		return nil, err
	}
	for _, in := range insns {
		switch {
		case in.Op == classfile.OpInvokedynamic:
			site, ok := classfile.MetafactoryTarget(k.cf.Pool, bootstraps, uint16(in.Index))
			if !ok {
				continue
			}
			if t := k.cf.LambdaBody(site); t != nil {
				b.sites = append(b.sites, site)
				b.targets = append(b.targets, t)
			}
		case in.Op.IsInvoke():
			_, entry, err := k.entryCall(in)
			if err != nil {
				return nil, err
			}
			b.entry = b.entry || entry
		}
	}
	return b, nil
}

// invokeAsSpecial retargets the implementation handle of bootstrap i to
// an invokespecial of the same method.
func (k *classRewriter) invokeAsSpecial(bootstraps []classfile.BootstrapMethod, i uint16) error {
	bm := bootstraps[i]
	_, target, err := k.cf.Pool.MethodHandle(bm.Arguments[1])
	if err != nil {
		return err
	}
	handle, err := k.cf.Pool.AddMethodHandle(classfile.RefInvokeSpecial, target)
	if err != nil {
		return err
	}
	bm.Arguments = slices.Clone(bm.Arguments)
	bm.Arguments[1] = handle
	return k.cf.SetBootstrap(i, bm)
}

// entryCall resolves the target of a non-dynamic invoke and reports
// whether it is entry code.
func (k *classRewriter) entryCall(in classfile.Instruction) (classfile.MemberRef, bool, error) {
	ref, err := k.cf.Pool.Member(uint16(in.Index))
	if err != nil {
		return ref, false, err
	}
	res, err := k.resolver.Resolve(ref.Owner, ref.Name, ref.Descriptor)
	if err != nil {
		return ref, false, err
	}
	return ref, res.Tags.Has(annotations.Entry), nil
}

// captureThis rewrites a lambda call site whose body became an instance
// method: the arguments are spilled, this is pushed below them, and the
// site descriptor gains the class as its first parameter.
func (w *methodWriter) captureThis(in classfile.Instruction) classfile.Instruction {
	bsm, name, desc, err := w.cf.Pool.InvokeDynamic(uint16(in.Index))
	if err != nil {
		w.err = err
		return in
	}
	if !w.lambdas.capture[bsm] {
		return in
	}
	if !w.plan.hasThis() {
		w.err = fmt.Errorf("lambda %s needs this, which %s does not have", name, w.plan.member.Name)
		return in
	}
	mt, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		w.err = err
		return in
	}
	slots := make([]int, len(mt.Params))
	next := w.locals
	for k, t := range mt.Params {
		slots[k] = next
		next += t.Size()
	}
	w.scratch = max(w.scratch, next)
	w.snippet(func(a *classfile.Assembler) {
		for k := len(mt.Params) - 1; k >= 0; k-- {
			a.Store(storeOp(mt.Params[k]), slots[k])
		}
		a.Load(classfile.OpAload, 0)
		for k, t := range mt.Params {
			a.Load(loadOp(t), slots[k])
		}
	})
	idx, err := w.cf.Pool.AddInvokeDynamic(bsm, name, "(L"+w.cf.Name+";"+desc[1:])
	if err != nil {
		w.err = err
		return in
	}
	in.Index = int(idx)
	return in
}
