package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Instruction is one decoded instruction. Target, Default and Targets are
// indices into the instruction slice; the index len(slice) never occurs
// as a branch target.
type Instruction struct {
	Op      Opcode
	PC      int
	Wide    bool    // local access or iinc with the wide prefix
	Index   int     // constant-pool index or local-variable slot
	Value   int     // immediate: bipush/sipush value, iinc delta, newarray type, dimensions, interface count
	Target  int     // branch target
	Default int     // switch default target
	Low     int32   // tableswitch low bound
	Keys    []int32 // lookupswitch keys
	Targets []int   // switch targets
}

// Local returns the local-variable slot accessed by a load, store, iinc or
// ret instruction, including the implicit _0.._3 forms.
func (in *Instruction) Local() (int, bool) {
	op := in.Op
	switch {
	case op >= OpIload0 && op <= OpAload3:
		return int(op-OpIload0) % 4, true
	case op >= OpIstore0 && op <= OpAstore3:
		return int(op-OpIstore0) % 4, true
	case opTable[op].kind == operandLocal, op == OpIinc:
		return in.Index, true
	}
	return 0, false
}

// WithLocal returns a copy of a load, store, iinc or ret instruction
// accessing slot instead. Loads and stores use the implicit _0.._3 form
// when it exists.
func (in Instruction) WithLocal(slot int) Instruction {
	op := in.Op
	var kind Opcode
	store := false
	switch {
	case op >= OpIload && op <= OpAload:
		kind = op - OpIload
	case op >= OpIstore && op <= OpAstore:
		kind, store = op-OpIstore, true
	case op >= OpIload0 && op <= OpAload3:
		kind = (op - OpIload0) / 4
	case op >= OpIstore0 && op <= OpAstore3:
		kind, store = (op-OpIstore0)/4, true
	default:
		in.Index = slot
		return in
	}
	in.Index = 0
	switch {
	case slot <= 3 && store:
		in.Op = OpIstore0 + kind*4 + Opcode(slot)
	case slot <= 3:
		in.Op = OpIload0 + kind*4 + Opcode(slot)
	case store:
		in.Op, in.Index = OpIstore+kind, slot
	default:
		in.Op, in.Index = OpIload+kind, slot
	}
	in.Wide = false
	return in
}

// LocalSize is 2 for long and double local accesses, 1 otherwise.
func (in *Instruction) LocalSize() int {
	op := in.Op
	var kind Opcode
	switch {
	case op >= OpIload && op <= OpAload:
		kind = op - OpIload
	case op >= OpIstore && op <= OpAstore:
		kind = op - OpIstore
	case op >= OpIload0 && op <= OpAload3:
		kind = (op - OpIload0) / 4
	case op >= OpIstore0 && op <= OpAstore3:
		kind = (op - OpIstore0) / 4
	default:
		return 1
	}
	if kind == 1 || kind == 3 {
		return 2
	}
	return 1
}

// IsStore reports whether the instruction writes a local variable.
func (in *Instruction) IsStore() bool {
	op := in.Op
	return (op >= OpIstore && op <= OpAstore) || (op >= OpIstore0 && op <= OpAstore3) || op == OpIinc
}

// Successors returns the instruction indices control may reach next,
// excluding exception handlers.
func (in *Instruction) Successors(i, n int) []int {
	var out []int
	switch {
	case in.Op.IsSwitch():
		out = append(out, in.Default)
		out = append(out, in.Targets...)
	case in.Op == OpJsr || in.Op == OpJsrW:
		out = append(out, in.Target)
	case in.Op.IsBranch():
		out = append(out, in.Target)
	}
	if in.Op.FallsThrough() && i+1 < n {
		out = append(out, i+1)
	}
	return out
}

// Decode splits bytecode into instructions and resolves branch offsets to
// instruction indices.
func Decode(code []byte) ([]Instruction, error) {
	r := newReader(code, "bytecode")
	var insns []Instruction
	var rawTargets [][]int
	for r.off < len(code) {
		pc := r.off
		in := Instruction{PC: pc}
		op := Opcode(r.u1())
		if op == OpWide {
			in.Wide = true
			op = Opcode(r.u1())
			if r.err == nil && opTable[op].kind != operandLocal && op != OpIinc {
				return nil, formatErrorf(pc, "bytecode", "wide applied to %s", op)
			}
		}
		if r.err == nil && !op.Valid() {
			return nil, formatErrorf(pc, "bytecode", "invalid opcode 0x%02x", uint8(op))
		}
		in.Op = op
		var targets []int
		switch opTable[op].kind {
		case operandByte:
			in.Value = int(int8(r.u1()))
		case operandShort:
			in.Value = int(int16(r.u2()))
		case operandLdc:
			in.Index = int(r.u1())
		case operandPool:
			in.Index = int(r.u2())
		case operandLocal:
			if in.Wide {
				in.Index = int(r.u2())
			} else {
				in.Index = int(r.u1())
			}
		case operandIinc:
			if in.Wide {
				in.Index = int(r.u2())
				in.Value = int(int16(r.u2()))
			} else {
				in.Index = int(r.u1())
				in.Value = int(int8(r.u1()))
			}
		case operandBranch:
			targets = []int{pc + int(int16(r.u2()))}
		case operandBranchWide:
			targets = []int{pc + int(int32(r.u4()))}
		case operandInvokeInterface:
			in.Index = int(r.u2())
			in.Value = int(r.u1())
			if r.u1() != 0 && r.err == nil {
				return nil, formatErrorf(pc, "bytecode", "invokeinterface reserved byte is not zero")
			}
		case operandInvokeDynamic:
			in.Index = int(r.u2())
			if r.u2() != 0 && r.err == nil {
				return nil, formatErrorf(pc, "bytecode", "invokedynamic reserved bytes are not zero")
			}
		case operandNewArray:
			in.Value = int(r.u1())
			if r.err == nil && (in.Value < 4 || in.Value > 11) {
				return nil, formatErrorf(pc, "bytecode", "bad newarray type %d", in.Value)
			}
		case operandMultiANewArray:
			in.Index = int(r.u2())
			in.Value = int(r.u1())
			if r.err == nil && in.Value == 0 {
				return nil, formatErrorf(pc, "bytecode", "multianewarray with zero dimensions")
			}
		case operandTableSwitch, operandLookupSwitch:
			for r.off%4 != 0 && r.err == nil {
				r.u1()
			}
			def := pc + int(int32(r.u4()))
			if op == OpTableswitch {
				low, high := int32(r.u4()), int32(r.u4())
				if r.err == nil && (low > high || int64(high)-int64(low) >= int64(len(code))) {
					return nil, formatErrorf(pc, "bytecode", "bad tableswitch bounds %d..%d", low, high)
				}
				in.Low = low
				for k := int64(low); k <= int64(high) && r.err == nil; k++ {
					targets = append(targets, pc+int(int32(r.u4())))
				}
			} else {
				n := int32(r.u4())
				if r.err == nil && (n < 0 || int(n) > len(code)/8) {
					return nil, formatErrorf(pc, "bytecode", "bad lookupswitch pair count %d", n)
				}
				for k := int32(0); k < n && r.err == nil; k++ {
					key := int32(r.u4())
					if len(in.Keys) > 0 && key <= in.Keys[len(in.Keys)-1] {
						return nil, formatErrorf(pc, "bytecode", "lookupswitch keys not sorted")
					}
					in.Keys = append(in.Keys, key)
					targets = append(targets, pc+int(int32(r.u4())))
				}
			}
			targets = append([]int{def}, targets...)
		}
		if r.err != nil {
			return nil, r.err
		}
		insns = append(insns, in)
		rawTargets = append(rawTargets, targets)
	}

	index := make(map[int]int, len(insns))
	for i := range insns {
		index[insns[i].PC] = i
	}
	for i := range insns {
		targets := rawTargets[i]
		if len(targets) == 0 {
			continue
		}
		resolved := make([]int, len(targets))
		for k, t := range targets {
			j, ok := index[t]
			if !ok {
				return nil, formatErrorf(insns[i].PC, "bytecode", "branch to %d is not an instruction boundary", t)
			}
			resolved[k] = j
		}
		if insns[i].Op.IsSwitch() {
			insns[i].Default = resolved[0]
			insns[i].Targets = resolved[1:]
		} else {
			insns[i].Target = resolved[0]
		}
	}
	if n := len(insns); n > 0 && insns[n-1].Op.FallsThrough() {
		return nil, formatErrorf(insns[n-1].PC, "bytecode", "control falls off the end of the code")
	}
	return insns, nil
}

// IndexOfPC maps byte offsets to instruction indices. The offset one past
// the last instruction maps to len(insns).
func IndexOfPC(insns []Instruction, codeLength int) map[int]int {
	m := make(map[int]int, len(insns)+1)
	for i := range insns {
		m[insns[i].PC] = i
	}
	m[codeLength] = len(insns)
	return m
}

func (in *Instruction) wideLocal() bool {
	return in.Wide || in.Index > math.MaxUint8 || (in.Op == OpIinc && (in.Value < math.MinInt8 || in.Value > math.MaxInt8))
}

func (in *Instruction) size(pc int, wideJump bool) int {
	switch opTable[in.Op].kind {
	case operandNone:
		return 1
	case operandByte, operandNewArray:
		return 2
	case operandLdc:
		if in.Index > math.MaxUint8 {
			return 3
		}
		return 2
	case operandShort, operandPool:
		return 3
	case operandLocal:
		if in.wideLocal() {
			return 4
		}
		return 2
	case operandIinc:
		if in.wideLocal() {
			return 6
		}
		return 3
	case operandBranch:
		if wideJump {
			return 5
		}
		return 3
	case operandBranchWide, operandInvokeInterface, operandInvokeDynamic:
		return 5
	case operandMultiANewArray:
		return 4
	case operandTableSwitch:
		return 1 + pad(pc) + 12 + 4*len(in.Targets)
	case operandLookupSwitch:
		return 1 + pad(pc) + 8 + 8*len(in.Targets)
	}
	return 1
}

func pad(pc int) int {
	return (4 - (pc+1)%4) % 4
}

// Encode lays out instructions and returns the bytecode together with the
// offset of every instruction; the extra final entry is the code length.
// goto and jsr are widened when their offset overflows 16 bits; an
// overflowing conditional branch is an error.
func Encode(insns []Instruction) ([]byte, []int, error) {
	n := len(insns)
	wideJump := make([]bool, n)
	pcs := make([]int, n+1)
	for {
		pc := 0
		for i := range insns {
			pcs[i] = pc
			pc += insns[i].size(pc, wideJump[i])
		}
		pcs[n] = pc
		if pc > maxCodeLength {
			return nil, nil, formatErrorf(-1, "bytecode", "code length %d exceeds limit", pc)
		}
		changed := false
		for i := range insns {
			in := &insns[i]
			if opTable[in.Op].kind != operandBranch || wideJump[i] {
				continue
			}
			if in.Target < 0 || in.Target >= n {
				return nil, nil, formatErrorf(-1, "bytecode", "instruction %d branches to %d", i, in.Target)
			}
			off := pcs[in.Target] - pcs[i]
			if off >= math.MinInt16 && off <= math.MaxInt16 {
				continue
			}
			if in.Op != OpGoto && in.Op != OpJsr {
				return nil, nil, formatErrorf(pcs[i], "bytecode", "%s offset %d does not fit in 16 bits", in.Op, off)
			}
			wideJump[i] = true
			changed = true
		}
		if !changed {
			break
		}
	}

	out := make([]byte, 0, pcs[n])
	for i := range insns {
		in := &insns[i]
		pc := pcs[i]
		op := in.Op
		kind := opTable[op].kind
		switch {
		case kind == operandBranch && wideJump[i]:
			if op == OpGoto {
				op = OpGotoW
			} else {
				op = OpJsrW
			}
			kind = operandBranchWide
		case kind == operandLdc && in.Index > math.MaxUint8:
			op = OpLdcW
			kind = operandPool
		case (kind == operandLocal || kind == operandIinc) && in.wideLocal():
			out = append(out, uint8(OpWide))
		}
		out = append(out, uint8(op))
		switch kind {
		case operandByte:
			out = append(out, uint8(int8(in.Value)))
		case operandShort:
			out = binary.BigEndian.AppendUint16(out, uint16(int16(in.Value)))
		case operandLdc:
			out = append(out, uint8(in.Index))
		case operandNewArray:
			out = append(out, uint8(in.Value))
		case operandPool:
			out = binary.BigEndian.AppendUint16(out, uint16(in.Index))
		case operandLocal:
			if in.wideLocal() {
				out = binary.BigEndian.AppendUint16(out, uint16(in.Index))
			} else {
				out = append(out, uint8(in.Index))
			}
		case operandIinc:
			if in.wideLocal() {
				out = binary.BigEndian.AppendUint16(out, uint16(in.Index))
				out = binary.BigEndian.AppendUint16(out, uint16(int16(in.Value)))
			} else {
				out = append(out, uint8(in.Index), uint8(int8(in.Value)))
			}
		case operandBranch:
			out = binary.BigEndian.AppendUint16(out, uint16(int16(pcs[in.Target]-pc)))
		case operandBranchWide:
			if in.Target < 0 || in.Target >= n {
				return nil, nil, formatErrorf(pc, "bytecode", "instruction %d branches to %d", i, in.Target)
			}
			out = binary.BigEndian.AppendUint32(out, uint32(int32(pcs[in.Target]-pc)))
		case operandInvokeInterface:
			out = binary.BigEndian.AppendUint16(out, uint16(in.Index))
			out = append(out, uint8(in.Value), 0)
		case operandInvokeDynamic:
			out = binary.BigEndian.AppendUint16(out, uint16(in.Index))
			out = append(out, 0, 0)
		case operandMultiANewArray:
			out = binary.BigEndian.AppendUint16(out, uint16(in.Index))
			out = append(out, uint8(in.Value))
		case operandTableSwitch, operandLookupSwitch:
			for k := 0; k < pad(pc); k++ {
				out = append(out, 0)
			}
			targets := append([]int{in.Default}, in.Targets...)
			for _, t := range targets {
				if t < 0 || t >= n {
					return nil, nil, formatErrorf(pc, "bytecode", "switch target %d out of range", t)
				}
			}
			out = binary.BigEndian.AppendUint32(out, uint32(int32(pcs[in.Default]-pc)))
			if op == OpTableswitch {
				high := in.Low + int32(len(in.Targets)) - 1
				out = binary.BigEndian.AppendUint32(out, uint32(in.Low))
				out = binary.BigEndian.AppendUint32(out, uint32(high))
				for _, t := range in.Targets {
					out = binary.BigEndian.AppendUint32(out, uint32(int32(pcs[t]-pc)))
				}
			} else {
				if len(in.Keys) != len(in.Targets) {
					return nil, nil, formatErrorf(pc, "bytecode", "lookupswitch has %d keys and %d targets", len(in.Keys), len(in.Targets))
				}
				out = binary.BigEndian.AppendUint32(out, uint32(len(in.Keys)))
				for k, t := range in.Targets {
					out = binary.BigEndian.AppendUint32(out, uint32(in.Keys[k]))
					out = binary.BigEndian.AppendUint32(out, uint32(int32(pcs[t]-pc)))
				}
			}
		}
		if len(out) != pcs[i+1] {
			return nil, nil, formatErrorf(pc, "bytecode", "internal layout mismatch for %s", in.Op)
		}
	}
	return out, pcs, nil
}
