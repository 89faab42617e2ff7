package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeMergesPushers(t *testing.T) {
	insns := []Instruction{
		{Op: OpAconstNull},      // 0
		{Op: OpIload1},          // 1
		{Op: OpIfeq, Target: 5}, // 2
		{Op: OpPop},             // 3
		{Op: OpAload0},          // 4
		{Op: OpAreturn},         // 5
	}
	f, err := Analyze(insns, nil, NewPool(), 2)
	require.NoError(t, err)

	assert.Equal(t, 1, f.Height(5))
	assert.Equal(t, Pushers{0, 4}, f.Slot(5, 0))
	assert.Equal(t, Pushers{1}, f.Slot(2, 0))
	assert.Nil(t, f.Slot(5, 1))
	assert.True(t, f.Slot(5, 0).Only(func(i int) bool { return i == 0 || i == 4 }))
	assert.False(t, f.Slot(5, 0).Only(func(i int) bool { return i == 0 }))
	assert.False(t, Pushers(nil).Only(func(int) bool { return true }))
}

func TestAnalyzeDupKeepsProvenance(t *testing.T) {
	insns := []Instruction{
		{Op: OpAload0},
		{Op: OpIconst1},
		{Op: OpSwap},
		{Op: OpDupX1},
		{Op: OpPop2},
		{Op: OpAreturn},
	}
	f, err := Analyze(insns, nil, NewPool(), 3)
	require.NoError(t, err)
	// after swap: [iconst(1), aload(0)]; dup_x1 -> [aload, iconst, aload]
	assert.Equal(t, Pushers{0}, f.Slot(4, 0))
	assert.Equal(t, Pushers{1}, f.Slot(4, 1))
	assert.Equal(t, Pushers{0}, f.Slot(4, 2))
	assert.Equal(t, Pushers{0}, f.Slot(5, 0))
}

func TestAnalyzeOperandOfInvoke(t *testing.T) {
	p := NewPool()
	ref, err := p.AddMethodref(MemberRef{Owner: "a/B", Name: "m", Descriptor: "(JI)V"})
	require.NoError(t, err)
	insns := []Instruction{
		{Op: OpAload0},                         // receiver
		{Op: OpLconst1},                        // long arg
		{Op: OpIconst2},                        // int arg
		{Op: OpInvokevirtual, Index: int(ref)}, // 3
		{Op: OpReturn},
	}
	f, err := Analyze(insns, nil, p, 4)
	require.NoError(t, err)
	mt, err := ParseMethodDescriptor("(JI)V")
	require.NoError(t, err)

	assert.Equal(t, Pushers{0}, f.Operand(3, mt, -1))
	assert.Equal(t, Pushers{1}, f.Operand(3, mt, 0))
	assert.Equal(t, Pushers{2}, f.Operand(3, mt, 1))
	assert.Equal(t, 0, f.Height(4))
}

func TestAnalyzeHandlersAndUnreachable(t *testing.T) {
	insns := []Instruction{
		{Op: OpAload0},  // 0
		{Op: OpAthrow},  // 1
		{Op: OpNop},     // 2 unreachable
		{Op: OpAreturn}, // 3 handler
	}
	handlers := []HandlerRange{{Start: 0, End: 2, Handler: 3}}
	f, err := Analyze(insns, handlers, NewPool(), 1)
	require.NoError(t, err)
	assert.False(t, f.Reachable(2))
	assert.True(t, f.Reachable(3))
	assert.Equal(t, Pushers{HandlerPusher}, f.Slot(3, 0))

	assert.Equal(t, []int{0, 2, 3}, Leaders(insns, handlers))
}

func TestAnalyzeRejects(t *testing.T) {
	tests := []struct {
		name     string
		insns    []Instruction
		maxStack int
	}{
		{"inconsistent heights", []Instruction{
			{Op: OpIload1}, {Op: OpIfeq, Target: 3}, {Op: OpIconst0}, {Op: OpReturn},
		}, 2},
		{"underflow", []Instruction{{Op: OpPop}, {Op: OpReturn}}, 2},
		{"overflow", []Instruction{{Op: OpIconst0}, {Op: OpIconst0}, {Op: OpReturn}}, 1},
		{"falls off", []Instruction{{Op: OpNop}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.insns, nil, NewPool(), tt.maxStack)
			assert.Error(t, err)
		})
	}
}

func TestLeadersOfSwitch(t *testing.T) {
	insns := []Instruction{
		{Op: OpIload1},
		{Op: OpTableswitch, Low: 0, Default: 4, Targets: []int{2, 3}},
		{Op: OpReturn},
		{Op: OpReturn},
		{Op: OpReturn},
	}
	assert.Equal(t, []int{0, 2, 3, 4}, Leaders(insns, nil))
}

func TestMaxStack(t *testing.T) {
	insns := []Instruction{
		{Op: OpLconst1}, // 0
		{Op: OpLconst0}, // 1
		{Op: OpLadd},    // 2
		{Op: OpPop2},    // 3
		{Op: OpReturn},  // 4
		{Op: OpPop},     // 5, handler
		{Op: OpAconstNull},
		{Op: OpAthrow},
	}
	handlers := []HandlerRange{{Start: 0, End: 4, Handler: 5}}
	stack, err := MaxStack(insns[:5], nil, NewPool())
	require.NoError(t, err)
	assert.Equal(t, 4, stack)

	stack, err = MaxStack(insns, handlers, NewPool())
	require.NoError(t, err)
	assert.Equal(t, 4, stack)
}
