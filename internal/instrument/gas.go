package instrument

import (
	"math"

	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/gascost"
)

// blockCost is the static cost of the compiled instructions [from, to).
func (w *methodWriter) blockCost(from, to int) gascost.ResourceCost {
	var total gascost.ResourceCost
	for i := from; i < to; i++ {
		total = total.Add(w.cost(&w.insns[i]))
	}
	return total
}

func (w *methodWriter) cost(in *classfile.Instruction) gascost.ResourceCost {
	cat := gascost.CategoryOf(in.Op)
	var extra gascost.ResourceCost
	switch {
	case in.Op == classfile.OpPutfield:
		if ref, err := w.cf.Pool.Member(uint16(in.Index)); err == nil && w.idx.IsStorageType(ref.Owner) {
			cat = gascost.StorageWrite
		}
	case in.Op == classfile.OpInvokedynamic:
		if _, _, desc, err := w.cf.Pool.InvokeDynamic(uint16(in.Index)); err == nil {
			if mt, err := classfile.ParseMethodDescriptor(desc); err == nil {
				extra = w.model.Activation(mt.ParamSlots())
			}
		}
	case in.Op.IsInvoke():
		if ref, err := w.cf.Pool.Member(uint16(in.Index)); err == nil {
			if mt, err := classfile.ParseMethodDescriptor(ref.Descriptor); err == nil {
				slots := mt.ParamSlots()
				if in.Op != classfile.OpInvokestatic {
					slots++
				}
				extra = w.model.Activation(slots)
			}
		}
	case in.Op == classfile.OpNew:
		if name, err := w.cf.Pool.ClassName(uint16(in.Index)); err == nil {
			extra = w.model.Object(w.instanceFields(name))
		}
	}
	return w.model.Cost(cat).Add(extra)
}

// instanceFields counts the instance fields of name and its superclasses
// among the loaded classes.
func (w *methodWriter) instanceFields(name string) int {
	n := 0
	for name != "" {
		c, ok := w.idx.Lookup(name)
		if !ok {
			break
		}
		if c.Loaded() {
			for _, f := range c.File.Fields {
				if !f.Is(classfile.AccStatic) {
					n++
				}
			}
		}
		name = c.Super
	}
	return n
}

var charges = [...]string{"chargeCompute", "chargeMemory", "chargeStorage"}

// charge debits c on the Runtime, one call per nonzero dimension. Amounts
// that fit an int use the (I)V overload.
func (w *methodWriter) charge(c gascost.ResourceCost) {
	if c.IsZero() {
		return
	}
	w.snippet(func(a *classfile.Assembler) {
		for k, v := range [...]uint64{c.Compute, c.Memory, c.Storage} {
			switch {
			case v == 0:
				continue
			case v <= math.MaxInt32:
				a.Int(int64(v)).Invoke(classfile.OpInvokestatic, classindex.RuntimeName, charges[k], "(I)V")
			default:
				a.Long(int64(min(v, math.MaxInt64))).Invoke(classfile.OpInvokestatic, classindex.RuntimeName, charges[k], "(J)V")
			}
		}
	})
}
