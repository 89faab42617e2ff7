package classfile

import (
	"fmt"
	"math"

	"github.com/gammazero/deque"
)

// HandlerPusher marks the exception object a handler starts with.
const HandlerPusher = -1

// HandlerRange is an exception-table row resolved to instruction indices.
// End is exclusive and may equal the number of instructions.
type HandlerRange struct {
	Start, End, Handler int
	CatchType           uint16
}

// ResolveHandlers converts the exception table of c to instruction indices.
func ResolveHandlers(c *Code, insns []Instruction) ([]HandlerRange, error) {
	at := IndexOfPC(insns, len(c.Bytecode))
	out := make([]HandlerRange, 0, len(c.Handlers))
	for _, h := range c.Handlers {
		s, ok1 := at[int(h.StartPC)]
		e, ok2 := at[int(h.EndPC)]
		t, ok3 := at[int(h.HandlerPC)]
		if !ok1 || !ok2 || !ok3 || t == len(insns) {
			return nil, formatErrorf(int(h.StartPC), "exception table", "range %d-%d -> %d is not on instruction boundaries", h.StartPC, h.EndPC, h.HandlerPC)
		}
		out = append(out, HandlerRange{Start: s, End: e, Handler: t, CatchType: h.CatchType})
	}
	return out, nil
}

// Leaders returns the sorted indices of the first instruction of every
// basic block.
func Leaders(insns []Instruction, handlers []HandlerRange) []int {
	n := len(insns)
	if n == 0 {
		return nil
	}
	mark := make([]bool, n)
	mark[0] = true
	for i := range insns {
		in := &insns[i]
		switch {
		case in.Op.IsSwitch():
			mark[in.Default] = true
			for _, t := range in.Targets {
				mark[t] = true
			}
		case in.Op.IsBranch():
			mark[in.Target] = true
		}
		if in.Op.EndsBlock() && i+1 < n {
			mark[i+1] = true
		}
	}
	for _, h := range handlers {
		mark[h.Handler] = true
	}
	var out []int
	for i, m := range mark {
		if m {
			out = append(out, i)
		}
	}
	return out
}

// Pushers is the sorted set of instruction indices that may have pushed a
// stack slot.
type Pushers []int

// Only reports whether every pusher satisfies pred. An empty set reports
// false.
func (p Pushers) Only(pred func(int) bool) bool {
	if len(p) == 0 {
		return false
	}
	for _, i := range p {
		if !pred(i) {
			return false
		}
	}
	return true
}

func union(a, b Pushers) (Pushers, bool) {
	out := make(Pushers, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out, len(out) != len(a)
}

// Flow is the result of the provenance analysis of one method body.
type Flow struct {
	insns []Instruction
	in    [][]Pushers // stack before each instruction, bottom first; nil if unreachable
}

// Analyze runs a forward abstract interpretation over the method body,
// tracking which instructions may have pushed each operand-stack slot.
func Analyze(insns []Instruction, handlers []HandlerRange, p *Pool, maxStack int) (*Flow, error) {
	f := &Flow{insns: insns, in: make([][]Pushers, len(insns))}
	if len(insns) == 0 {
		return f, nil
	}
	var work deque.Deque
	queued := make([]bool, len(insns))
	push := func(i int) {
		if !queued[i] {
			queued[i] = true
			work.PushBack(i)
		}
	}
	merge := func(from, to int, stack []Pushers) error {
		cur := f.in[to]
		if cur == nil {
			f.in[to] = append([]Pushers(nil), stack...)
			push(to)
			return nil
		}
		if len(cur) != len(stack) {
			return formatErrorf(insns[to].PC, "dataflow", "stack height %d from instruction %d, %d elsewhere", len(stack), from, len(cur))
		}
		changed := false
		for k := range cur {
			u, grew := union(cur[k], stack[k])
			if grew {
				cur[k] = u
				changed = true
			}
		}
		if changed {
			push(to)
		}
		return nil
	}

	f.in[0] = []Pushers{}
	push(0)
	for work.Len() > 0 {
		i := work.PopFront().(int)
		queued[i] = false
		in := &insns[i]
		out, err := step(in, i, f.in[i], p)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, in.Op, err)
		}
		if len(out) > maxStack {
			return nil, formatErrorf(in.PC, "dataflow", "stack height %d exceeds max_stack %d", len(out), maxStack)
		}
		for _, s := range in.Successors(i, len(insns)) {
			if err := merge(i, s, out); err != nil {
				return nil, err
			}
		}
		for _, h := range handlers {
			if i >= h.Start && i < h.End {
				if err := merge(i, h.Handler, []Pushers{{HandlerPusher}}); err != nil {
					return nil, err
				}
			}
		}
		if in.Op.FallsThrough() && i+1 == len(insns) {
			return nil, formatErrorf(in.PC, "dataflow", "control falls off the end of the code")
		}
	}
	return f, nil
}

func step(in *Instruction, i int, stack []Pushers, p *Pool) ([]Pushers, error) {
	pop, pushN, err := StackEffect(in, p)
	if err != nil {
		return nil, err
	}
	if pop > len(stack) {
		return nil, formatErrorf(in.PC, "dataflow", "stack underflow: pops %d of %d", pop, len(stack))
	}
	base := len(stack) - pop
	top := stack[base:]
	out := make([]Pushers, base, base+pushN)
	copy(out, stack[:base])
	switch in.Op {
	case OpDup:
		return append(out, top[0], top[0]), nil
	case OpDupX1:
		return append(out, top[1], top[0], top[1]), nil
	case OpDupX2:
		return append(out, top[2], top[0], top[1], top[2]), nil
	case OpDup2:
		return append(out, top[0], top[1], top[0], top[1]), nil
	case OpDup2X1:
		return append(out, top[1], top[2], top[0], top[1], top[2]), nil
	case OpDup2X2:
		return append(out, top[2], top[3], top[0], top[1], top[2], top[3]), nil
	case OpSwap:
		return append(out, top[1], top[0]), nil
	}
	self := Pushers{i}
	for k := 0; k < pushN; k++ {
		out = append(out, self)
	}
	return out, nil
}

// Reachable reports whether instruction i can execute.
func (f *Flow) Reachable(i int) bool {
	return f.in[i] != nil
}

// Height is the stack height before instruction i.
func (f *Flow) Height(i int) int {
	return len(f.in[i])
}

// Slot returns the pushers of the stack slot depth positions below the
// top before instruction i; depth 0 is the top slot.
func (f *Flow) Slot(i, depth int) Pushers {
	s := f.in[i]
	if depth < 0 || depth >= len(s) {
		return nil
	}
	return s[len(s)-1-depth]
}

// Operand returns the pushers of the receiver (arg -1) or of argument arg
// of the invoke instruction at i, whose descriptor is mt.
func (f *Flow) Operand(i int, mt MethodType, arg int) Pushers {
	depth := 0
	for k := len(mt.Params) - 1; k > arg; k-- {
		depth += mt.Params[k].Size()
	}
	if arg >= 0 {
		depth += mt.Params[arg].Size() - 1
	}
	return f.Slot(i, depth)
}

// MaxStack is the largest operand stack height insns reach.
func MaxStack(insns []Instruction, handlers []HandlerRange, p *Pool) (int, error) {
	flow, err := Analyze(insns, handlers, p, math.MaxUint16)
	if err != nil {
		return 0, err
	}
	stack := 0
	for i := range insns {
		if !flow.Reachable(i) {
			continue
		}
		pop, push, err := StackEffect(&insns[i], p)
		if err != nil {
			return 0, err
		}
		stack = max(stack, flow.Height(i)-pop+push, flow.Height(i))
	}
	for _, h := range handlers {
		if flow.Reachable(h.Handler) {
			stack = max(stack, 1)
		}
	}
	return stack, nil
}
