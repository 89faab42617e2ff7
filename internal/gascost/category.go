package gascost

import (
	"fmt"

	"github.com/roach88/moka/internal/classfile"
)

// Category groups instructions of equal cost.
type Category uint8

const (
	Nop Category = iota
	Constant
	Load
	Store
	Stack
	Arithmetic
	Conversion
	Comparison
	Branch
	Switch
	Return
	FieldRead
	FieldWrite
	StaticRead
	StaticWrite
	ArrayRead
	ArrayWrite
	ArrayLength
	Invoke
	InvokeDynamic
	NewObject
	NewArray
	TypeCheck
	Throw
	Monitor
	StorageWrite

	numCategories
)

var categoryNames = [numCategories]string{
	Nop:           "nop",
	Constant:      "constant",
	Load:          "load",
	Store:         "store",
	Stack:         "stack",
	Arithmetic:    "arithmetic",
	Conversion:    "conversion",
	Comparison:    "comparison",
	Branch:        "branch",
	Switch:        "switch",
	Return:        "return",
	FieldRead:     "field-read",
	FieldWrite:    "field-write",
	StaticRead:    "static-read",
	StaticWrite:   "static-write",
	ArrayRead:     "array-read",
	ArrayWrite:    "array-write",
	ArrayLength:   "array-length",
	Invoke:        "invoke",
	InvokeDynamic: "invokedynamic",
	NewObject:     "new-object",
	NewArray:      "new-array",
	TypeCheck:     "type-check",
	Throw:         "throw",
	Monitor:       "monitor",
	StorageWrite:  "storage-write",
}

func (c Category) String() string {
	if c < numCategories {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, numCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// CategoryOf classifies one opcode. A putfield is FieldWrite here; the
// Instrumentor reclassifies it as StorageWrite when the owner is a storage
// type.
func CategoryOf(op classfile.Opcode) Category {
	switch {
	case op == classfile.OpNop:
		return Nop
	case op >= classfile.OpAconstNull && op <= classfile.OpLdc2W:
		return Constant
	case op >= classfile.OpIload && op <= classfile.OpAload3:
		return Load
	case op >= classfile.OpIaload && op <= classfile.OpSaload:
		return ArrayRead
	case op >= classfile.OpIstore && op <= classfile.OpAstore3:
		return Store
	case op >= classfile.OpIastore && op <= classfile.OpSastore:
		return ArrayWrite
	case op >= classfile.OpPop && op <= classfile.OpSwap:
		return Stack
	case op >= classfile.OpIadd && op <= classfile.OpIinc:
		return Arithmetic
	case op >= classfile.OpI2l && op <= classfile.OpI2s:
		return Conversion
	case op >= classfile.OpLcmp && op <= classfile.OpDcmpg:
		return Comparison
	case op.IsSwitch():
		return Switch
	case op.IsBranch(), op == classfile.OpRet:
		return Branch
	case op.IsReturn():
		return Return
	}
	switch op {
	case classfile.OpGetfield:
		return FieldRead
	case classfile.OpPutfield:
		return FieldWrite
	case classfile.OpGetstatic:
		return StaticRead
	case classfile.OpPutstatic:
		return StaticWrite
	case classfile.OpInvokevirtual, classfile.OpInvokespecial, classfile.OpInvokestatic, classfile.OpInvokeinterface:
		return Invoke
	case classfile.OpInvokedynamic:
		return InvokeDynamic
	case classfile.OpNew:
		return NewObject
	case classfile.OpNewarray, classfile.OpAnewarray, classfile.OpMultianewarray:
		return NewArray
	case classfile.OpArraylength:
		return ArrayLength
	case classfile.OpCheckcast, classfile.OpInstanceof:
		return TypeCheck
	case classfile.OpAthrow:
		return Throw
	case classfile.OpMonitorenter, classfile.OpMonitorexit:
		return Monitor
	}
	return Nop
}
