package classfile

import "fmt"

// StackEffect returns how many operand-stack slots the instruction pops
// and pushes. Long and double values count as two slots.
func StackEffect(in *Instruction, p *Pool) (pop, push int, err error) {
	op := in.Op
	switch {
	case op == OpNop, op == OpIinc, op == OpGoto, op == OpGotoW, op == OpRet, op == OpReturn:
		return 0, 0, nil
	case op == OpAconstNull, op >= OpIconstM1 && op <= OpIconst5, op == OpFconst0, op == OpFconst1, op == OpFconst2,
		op == OpBipush, op == OpSipush, op == OpLdc, op == OpLdcW:
		return 0, 1, nil
	case op == OpLconst0, op == OpLconst1, op == OpDconst0, op == OpDconst1, op == OpLdc2W:
		return 0, 2, nil
	case op == OpIload, op == OpFload, op == OpAload,
		op >= OpIload0 && op <= OpIload3, op >= OpFload0 && op <= OpFload3, op >= OpAload0 && op <= OpAload3:
		return 0, 1, nil
	case op == OpLload, op == OpDload, op >= OpLload0 && op <= OpLload3, op >= OpDload0 && op <= OpDload3:
		return 0, 2, nil
	case op == OpLaload, op == OpDaload:
		return 2, 2, nil
	case op >= OpIaload && op <= OpSaload:
		return 2, 1, nil
	case op == OpIstore, op == OpFstore, op == OpAstore,
		op >= OpIstore0 && op <= OpIstore3, op >= OpFstore0 && op <= OpFstore3, op >= OpAstore0 && op <= OpAstore3:
		return 1, 0, nil
	case op == OpLstore, op == OpDstore, op >= OpLstore0 && op <= OpLstore3, op >= OpDstore0 && op <= OpDstore3:
		return 2, 0, nil
	case op == OpLastore, op == OpDastore:
		return 4, 0, nil
	case op >= OpIastore && op <= OpSastore:
		return 3, 0, nil
	case op == OpPop:
		return 1, 0, nil
	case op == OpPop2:
		return 2, 0, nil
	case op == OpDup:
		return 1, 2, nil
	case op == OpDupX1:
		return 2, 3, nil
	case op == OpDupX2:
		return 3, 4, nil
	case op == OpDup2:
		return 2, 4, nil
	case op == OpDup2X1:
		return 3, 5, nil
	case op == OpDup2X2:
		return 4, 6, nil
	case op == OpSwap:
		return 2, 2, nil
	case op >= OpIadd && op <= OpDrem:
		if isWideArith(op) {
			return 4, 2, nil
		}
		return 2, 1, nil
	case op == OpIneg, op == OpFneg:
		return 1, 1, nil
	case op == OpLneg, op == OpDneg:
		return 2, 2, nil
	case op == OpIshl, op == OpIshr, op == OpIushr:
		return 2, 1, nil
	case op == OpLshl, op == OpLshr, op == OpLushr:
		return 3, 2, nil
	case op == OpIand, op == OpIor, op == OpIxor:
		return 2, 1, nil
	case op == OpLand, op == OpLor, op == OpLxor:
		return 4, 2, nil
	case op == OpI2l, op == OpI2d, op == OpF2l, op == OpF2d:
		return 1, 2, nil
	case op == OpI2f, op == OpF2i, op == OpI2b, op == OpI2c, op == OpI2s:
		return 1, 1, nil
	case op == OpL2i, op == OpL2f, op == OpD2i, op == OpD2f:
		return 2, 1, nil
	case op == OpL2d, op == OpD2l:
		return 2, 2, nil
	case op == OpLcmp, op == OpDcmpl, op == OpDcmpg:
		return 4, 1, nil
	case op == OpFcmpl, op == OpFcmpg:
		return 2, 1, nil
	case op >= OpIfeq && op <= OpIfle, op == OpIfnull, op == OpIfnonnull:
		return 1, 0, nil
	case op >= OpIfIcmpeq && op <= OpIfAcmpne:
		return 2, 0, nil
	case op == OpJsr, op == OpJsrW:
		return 0, 1, nil
	case op == OpTableswitch, op == OpLookupswitch:
		return 1, 0, nil
	case op == OpIreturn, op == OpFreturn, op == OpAreturn:
		return 1, 0, nil
	case op == OpLreturn, op == OpDreturn:
		return 2, 0, nil
	case op.IsFieldAccess():
		ref, err := p.Member(uint16(in.Index))
		if err != nil {
			return 0, 0, err
		}
		t, err := ParseFieldType(ref.Descriptor)
		if err != nil {
			return 0, 0, err
		}
		switch op {
		case OpGetstatic:
			return 0, t.Size(), nil
		case OpPutstatic:
			return t.Size(), 0, nil
		case OpGetfield:
			return 1, t.Size(), nil
		}
		return 1 + t.Size(), 0, nil
	case op.IsInvoke():
		desc, err := invokeDescriptor(in, p)
		if err != nil {
			return 0, 0, err
		}
		mt, err := ParseMethodDescriptor(desc)
		if err != nil {
			return 0, 0, err
		}
		pop = mt.ParamSlots()
		if op != OpInvokestatic && op != OpInvokedynamic {
			pop++
		}
		return pop, mt.Return.Size(), nil
	case op == OpNew:
		return 0, 1, nil
	case op == OpNewarray, op == OpAnewarray, op == OpArraylength, op == OpCheckcast, op == OpInstanceof:
		return 1, 1, nil
	case op == OpAthrow, op == OpMonitorenter, op == OpMonitorexit:
		return 1, 0, nil
	case op == OpMultianewarray:
		return in.Value, 1, nil
	}
	return 0, 0, fmt.Errorf("no stack effect for %s", op)
}

func isWideArith(op Opcode) bool {
	// iadd, ladd, fadd, dadd repeat in groups of four.
	k := (op - OpIadd) % 4
	return k == 1 || k == 3
}

// invokeDescriptor returns the method descriptor an invoke instruction uses.
func invokeDescriptor(in *Instruction, p *Pool) (string, error) {
	if in.Op == OpInvokedynamic {
		_, _, desc, err := p.InvokeDynamic(uint16(in.Index))
		return desc, err
	}
	ref, err := p.Member(uint16(in.Index))
	if err != nil {
		return "", err
	}
	return ref.Descriptor, nil
}
