package instrument

import (
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/verifier"
	"github.com/roach88/moka/internal/whitelist"
)

const (
	checkObject  = "(Ljava/lang/Object;Ljava/lang/String;)V"
	checkBoolean = "(ZLjava/lang/String;)V"
)

// check guards the call at i with the runtime checks cs. The arguments
// above the deepest checked operand are spilled to scratch locals, each
// checked operand is passed to the Runtime with the message to raise, and
// the spilled values are reloaded.
func (w *methodWriter) check(i int, cs []verifier.RuntimeCheck) {
	in := &w.insns[i]
	var mt classfile.MethodType
	var err error
	if in.Op == classfile.OpInvokedynamic {
		var desc string
		if _, _, desc, err = w.cf.Pool.InvokeDynamic(uint16(in.Index)); err == nil {
			mt, err = classfile.ParseMethodDescriptor(desc)
		}
	} else {
		var ref classfile.MemberRef
		if ref, err = w.cf.Pool.Member(uint16(in.Index)); err == nil {
			mt, err = classfile.ParseMethodDescriptor(ref.Descriptor)
		}
	}
	if err != nil {
		w.err = err
		return
	}

	deepest := len(mt.Params)
	for _, rc := range cs {
		deepest = min(deepest, rc.Operand)
	}
	receiver := deepest == whitelist.Receiver && in.Op != classfile.OpInvokestatic && in.Op != classfile.OpInvokedynamic
	from := max(deepest, 0)
	slots := make([]int, len(mt.Params))
	next := w.locals
	for k := from; k < len(mt.Params); k++ {
		slots[k] = next
		next += mt.Params[k].Size()
	}
	self := next
	if receiver {
		next++
	}
	w.scratch = max(w.scratch, next)

	w.snippet(func(a *classfile.Assembler) {
		for k := len(mt.Params) - 1; k >= from; k-- {
			a.Store(storeOp(mt.Params[k]), slots[k])
		}
		if receiver {
			a.Store(classfile.OpAstore, self)
		}
		for _, rc := range cs {
			desc := checkObject
			switch {
			case rc.Operand == whitelist.Receiver:
				if !receiver {
					continue
				}
				a.Load(classfile.OpAload, self)
			case rc.Operand >= len(mt.Params):
				continue
			default:
				t := mt.Params[rc.Operand]
				if rc.Kind == whitelist.MustBeFalse {
					desc = checkBoolean
				}
				a.Load(loadOp(t), slots[rc.Operand])
			}
			a.String(rc.Message).Invoke(classfile.OpInvokestatic, classindex.RuntimeName, string(rc.Kind), desc)
		}
		if receiver {
			a.Load(classfile.OpAload, self)
		}
		for k := from; k < len(mt.Params); k++ {
			a.Load(loadOp(mt.Params[k]), slots[k])
		}
	})
}
