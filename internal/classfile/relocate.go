package classfile

import "fmt"

// Rewrite is an edited copy of a method body. For every original
// instruction i, Start[i] is the index in Insns where control entering i
// now lands (any code inserted in front of i) and Self[i] is the index of
// the copy of i itself. Start has one extra entry mapping the end of the
// original code to len(Insns).
type Rewrite struct {
	Insns []Instruction
	Start []int
	Self  []int
}

// Relocation describes how locals and limits change in a rewrite.
type Relocation struct {
	Initial    []VType        // implicit locals of the original method
	ShiftLocal func(int) int  // maps original local slots, nil for identity
	InsertSlot int            // slot where Insert entries are added to every frame
	Insert     []VType
	MaxStack   int
	MaxLocals  int
}

// Relocate encodes rw and carries the exception table, line numbers,
// local-variable tables and stack-map frames of old over to it. Other
// nested attributes refer to offsets that no longer exist and are dropped.
func (cf *ClassFile) Relocate(old *Code, orig []Instruction, rw *Rewrite, rel Relocation) (*Code, error) {
	if len(rw.Start) != len(orig)+1 || len(rw.Self) != len(orig) {
		return nil, fmt.Errorf("rewrite maps %d/%d entries for %d instructions", len(rw.Start), len(rw.Self), len(orig))
	}
	if rel.MaxStack > 0xffff || rel.MaxLocals > 0xffff {
		return nil, formatErrorf(-1, "code attribute", "max_stack %d or max_locals %d too large", rel.MaxStack, rel.MaxLocals)
	}
	bytecode, pcs, err := Encode(rw.Insns)
	if err != nil {
		return nil, err
	}
	at := IndexOfPC(orig, len(old.Bytecode))
	startPC := func(pc int) (int, bool) {
		i, ok := at[pc]
		if !ok {
			return 0, false
		}
		return pcs[rw.Start[i]], true
	}
	shift := rel.ShiftLocal
	if shift == nil {
		shift = func(slot int) int { return slot }
	}

	c := &Code{MaxStack: uint16(rel.MaxStack), MaxLocals: uint16(rel.MaxLocals), Bytecode: bytecode}
	for _, h := range old.Handlers {
		s, ok1 := startPC(int(h.StartPC))
		e, ok2 := startPC(int(h.EndPC))
		t, ok3 := startPC(int(h.HandlerPC))
		if !ok1 || !ok2 || !ok3 {
			return nil, formatErrorf(int(h.StartPC), "exception table", "handler not on instruction boundaries")
		}
		c.Handlers = append(c.Handlers, Handler{StartPC: uint16(s), EndPC: uint16(e), HandlerPC: uint16(t), CatchType: h.CatchType})
	}

	for _, a := range old.Attributes {
		switch a.Name {
		case attrLineNumberTable:
			lines, err := (&Code{Attributes: []Attribute{a}}).LineNumbers()
			if err != nil {
				return nil, err
			}
			kept := lines[:0]
			for _, l := range lines {
				if pc, ok := startPC(int(l.StartPC)); ok {
					l.StartPC = uint16(pc)
					kept = append(kept, l)
				}
			}
			a.Data = encodeLineNumbers(kept)
		case attrLocalVariableTable, attrLocalVariableTypeTable:
			vars, err := decodeLocalVariables(a.Data)
			if err != nil {
				return nil, err
			}
			kept := vars[:0]
			for _, v := range vars {
				s, ok1 := startPC(int(v.StartPC))
				e, ok2 := startPC(int(v.StartPC) + int(v.Length))
				if !ok1 || !ok2 {
					continue
				}
				v.StartPC, v.Length, v.Index = uint16(s), uint16(e-s), uint16(shift(int(v.Index)))
				kept = append(kept, v)
			}
			a.Data = encodeLocalVariables(kept)
		case attrStackMapTable:
			frames, err := DecodeStackMap(a.Data, cf.Pool, rel.Initial)
			if err != nil {
				return nil, err
			}
			selfPC := func(pc int) (int, bool) {
				i, ok := at[pc]
				if !ok || i == len(orig) {
					return 0, false
				}
				return pcs[rw.Self[i]], true
			}
			for k := range frames {
				f := &frames[k]
				pc, ok := startPC(f.Offset)
				if !ok {
					return nil, formatErrorf(f.Offset, "stack map table", "frame not on an instruction boundary")
				}
				f.Offset = pc
				if len(rel.Insert) > 0 {
					f.Locals = InsertLocals(f.Locals, rel.InsertSlot, rel.Insert...)
				}
				for _, list := range [][]VType{f.Locals, f.Stack} {
					for j := range list {
						if list[j].Tag != VUninitialized {
							continue
						}
						npc, ok := selfPC(list[j].Offset)
						if !ok {
							return nil, formatErrorf(f.Offset, "stack map table", "uninitialized offset %d is not an instruction", list[j].Offset)
						}
						list[j].Offset = npc
					}
				}
			}
			if a.Data, err = EncodeStackMap(frames, cf.Pool); err != nil {
				return nil, err
			}
		default:
			continue
		}
		c.Attributes = append(c.Attributes, a)
	}
	return c, nil
}
