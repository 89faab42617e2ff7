package classfile

// Opcode is a JVM instruction opcode.
type Opcode uint8

// Opcodes (JVMS chapter 6).
const (
	OpNop             Opcode = 0x00
	OpAconstNull      Opcode = 0x01
	OpIconstM1        Opcode = 0x02
	OpIconst0         Opcode = 0x03
	OpIconst1         Opcode = 0x04
	OpIconst2         Opcode = 0x05
	OpIconst3         Opcode = 0x06
	OpIconst4         Opcode = 0x07
	OpIconst5         Opcode = 0x08
	OpLconst0         Opcode = 0x09
	OpLconst1         Opcode = 0x0a
	OpFconst0         Opcode = 0x0b
	OpFconst1         Opcode = 0x0c
	OpFconst2         Opcode = 0x0d
	OpDconst0         Opcode = 0x0e
	OpDconst1         Opcode = 0x0f
	OpBipush          Opcode = 0x10
	OpSipush          Opcode = 0x11
	OpLdc             Opcode = 0x12
	OpLdcW            Opcode = 0x13
	OpLdc2W           Opcode = 0x14
	OpIload           Opcode = 0x15
	OpLload           Opcode = 0x16
	OpFload           Opcode = 0x17
	OpDload           Opcode = 0x18
	OpAload           Opcode = 0x19
	OpIload0          Opcode = 0x1a
	OpIload1          Opcode = 0x1b
	OpIload2          Opcode = 0x1c
	OpIload3          Opcode = 0x1d
	OpLload0          Opcode = 0x1e
	OpLload1          Opcode = 0x1f
	OpLload2          Opcode = 0x20
	OpLload3          Opcode = 0x21
	OpFload0          Opcode = 0x22
	OpFload1          Opcode = 0x23
	OpFload2          Opcode = 0x24
	OpFload3          Opcode = 0x25
	OpDload0          Opcode = 0x26
	OpDload1          Opcode = 0x27
	OpDload2          Opcode = 0x28
	OpDload3          Opcode = 0x29
	OpAload0          Opcode = 0x2a
	OpAload1          Opcode = 0x2b
	OpAload2          Opcode = 0x2c
	OpAload3          Opcode = 0x2d
	OpIaload          Opcode = 0x2e
	OpLaload          Opcode = 0x2f
	OpFaload          Opcode = 0x30
	OpDaload          Opcode = 0x31
	OpAaload          Opcode = 0x32
	OpBaload          Opcode = 0x33
	OpCaload          Opcode = 0x34
	OpSaload          Opcode = 0x35
	OpIstore          Opcode = 0x36
	OpLstore          Opcode = 0x37
	OpFstore          Opcode = 0x38
	OpDstore          Opcode = 0x39
	OpAstore          Opcode = 0x3a
	OpIstore0         Opcode = 0x3b
	OpIstore1         Opcode = 0x3c
	OpIstore2         Opcode = 0x3d
	OpIstore3         Opcode = 0x3e
	OpLstore0         Opcode = 0x3f
	OpLstore1         Opcode = 0x40
	OpLstore2         Opcode = 0x41
	OpLstore3         Opcode = 0x42
	OpFstore0         Opcode = 0x43
	OpFstore1         Opcode = 0x44
	OpFstore2         Opcode = 0x45
	OpFstore3         Opcode = 0x46
	OpDstore0         Opcode = 0x47
	OpDstore1         Opcode = 0x48
	OpDstore2         Opcode = 0x49
	OpDstore3         Opcode = 0x4a
	OpAstore0         Opcode = 0x4b
	OpAstore1         Opcode = 0x4c
	OpAstore2         Opcode = 0x4d
	OpAstore3         Opcode = 0x4e
	OpIastore         Opcode = 0x4f
	OpLastore         Opcode = 0x50
	OpFastore         Opcode = 0x51
	OpDastore         Opcode = 0x52
	OpAastore         Opcode = 0x53
	OpBastore         Opcode = 0x54
	OpCastore         Opcode = 0x55
	OpSastore         Opcode = 0x56
	OpPop             Opcode = 0x57
	OpPop2            Opcode = 0x58
	OpDup             Opcode = 0x59
	OpDupX1           Opcode = 0x5a
	OpDupX2           Opcode = 0x5b
	OpDup2            Opcode = 0x5c
	OpDup2X1          Opcode = 0x5d
	OpDup2X2          Opcode = 0x5e
	OpSwap            Opcode = 0x5f
	OpIadd            Opcode = 0x60
	OpLadd            Opcode = 0x61
	OpFadd            Opcode = 0x62
	OpDadd            Opcode = 0x63
	OpIsub            Opcode = 0x64
	OpLsub            Opcode = 0x65
	OpFsub            Opcode = 0x66
	OpDsub            Opcode = 0x67
	OpImul            Opcode = 0x68
	OpLmul            Opcode = 0x69
	OpFmul            Opcode = 0x6a
	OpDmul            Opcode = 0x6b
	OpIdiv            Opcode = 0x6c
	OpLdiv            Opcode = 0x6d
	OpFdiv            Opcode = 0x6e
	OpDdiv            Opcode = 0x6f
	OpIrem            Opcode = 0x70
	OpLrem            Opcode = 0x71
	OpFrem            Opcode = 0x72
	OpDrem            Opcode = 0x73
	OpIneg            Opcode = 0x74
	OpLneg            Opcode = 0x75
	OpFneg            Opcode = 0x76
	OpDneg            Opcode = 0x77
	OpIshl            Opcode = 0x78
	OpLshl            Opcode = 0x79
	OpIshr            Opcode = 0x7a
	OpLshr            Opcode = 0x7b
	OpIushr           Opcode = 0x7c
	OpLushr           Opcode = 0x7d
	OpIand            Opcode = 0x7e
	OpLand            Opcode = 0x7f
	OpIor             Opcode = 0x80
	OpLor             Opcode = 0x81
	OpIxor            Opcode = 0x82
	OpLxor            Opcode = 0x83
	OpIinc            Opcode = 0x84
	OpI2l             Opcode = 0x85
	OpI2f             Opcode = 0x86
	OpI2d             Opcode = 0x87
	OpL2i             Opcode = 0x88
	OpL2f             Opcode = 0x89
	OpL2d             Opcode = 0x8a
	OpF2i             Opcode = 0x8b
	OpF2l             Opcode = 0x8c
	OpF2d             Opcode = 0x8d
	OpD2i             Opcode = 0x8e
	OpD2l             Opcode = 0x8f
	OpD2f             Opcode = 0x90
	OpI2b             Opcode = 0x91
	OpI2c             Opcode = 0x92
	OpI2s             Opcode = 0x93
	OpLcmp            Opcode = 0x94
	OpFcmpl           Opcode = 0x95
	OpFcmpg           Opcode = 0x96
	OpDcmpl           Opcode = 0x97
	OpDcmpg           Opcode = 0x98
	OpIfeq            Opcode = 0x99
	OpIfne            Opcode = 0x9a
	OpIflt            Opcode = 0x9b
	OpIfge            Opcode = 0x9c
	OpIfgt            Opcode = 0x9d
	OpIfle            Opcode = 0x9e
	OpIfIcmpeq        Opcode = 0x9f
	OpIfIcmpne        Opcode = 0xa0
	OpIfIcmplt        Opcode = 0xa1
	OpIfIcmpge        Opcode = 0xa2
	OpIfIcmpgt        Opcode = 0xa3
	OpIfIcmple        Opcode = 0xa4
	OpIfAcmpeq        Opcode = 0xa5
	OpIfAcmpne        Opcode = 0xa6
	OpGoto            Opcode = 0xa7
	OpJsr             Opcode = 0xa8
	OpRet             Opcode = 0xa9
	OpTableswitch     Opcode = 0xaa
	OpLookupswitch    Opcode = 0xab
	OpIreturn         Opcode = 0xac
	OpLreturn         Opcode = 0xad
	OpFreturn         Opcode = 0xae
	OpDreturn         Opcode = 0xaf
	OpAreturn         Opcode = 0xb0
	OpReturn          Opcode = 0xb1
	OpGetstatic       Opcode = 0xb2
	OpPutstatic       Opcode = 0xb3
	OpGetfield        Opcode = 0xb4
	OpPutfield        Opcode = 0xb5
	OpInvokevirtual   Opcode = 0xb6
	OpInvokespecial   Opcode = 0xb7
	OpInvokestatic    Opcode = 0xb8
	OpInvokeinterface Opcode = 0xb9
	OpInvokedynamic   Opcode = 0xba
	OpNew             Opcode = 0xbb
	OpNewarray        Opcode = 0xbc
	OpAnewarray       Opcode = 0xbd
	OpArraylength     Opcode = 0xbe
	OpAthrow          Opcode = 0xbf
	OpCheckcast       Opcode = 0xc0
	OpInstanceof      Opcode = 0xc1
	OpMonitorenter    Opcode = 0xc2
	OpMonitorexit     Opcode = 0xc3
	OpWide            Opcode = 0xc4
	OpMultianewarray  Opcode = 0xc5
	OpIfnull          Opcode = 0xc6
	OpIfnonnull       Opcode = 0xc7
	OpGotoW           Opcode = 0xc8
	OpJsrW            Opcode = 0xc9
)

type operandKind uint8

const (
	operandNone operandKind = iota
	operandByte
	operandShort
	operandLdc
	operandPool
	operandLocal
	operandIinc
	operandBranch
	operandBranchWide
	operandTableSwitch
	operandLookupSwitch
	operandInvokeInterface
	operandInvokeDynamic
	operandNewArray
	operandMultiANewArray
	operandWide
)

type opInfo struct {
	name  string
	kind  operandKind
	valid bool
}

var opTable = [256]opInfo{
	OpNop:             {"nop", operandNone, true},
	OpAconstNull:      {"aconst_null", operandNone, true},
	OpIconstM1:        {"iconst_m1", operandNone, true},
	OpIconst0:         {"iconst_0", operandNone, true},
	OpIconst1:         {"iconst_1", operandNone, true},
	OpIconst2:         {"iconst_2", operandNone, true},
	OpIconst3:         {"iconst_3", operandNone, true},
	OpIconst4:         {"iconst_4", operandNone, true},
	OpIconst5:         {"iconst_5", operandNone, true},
	OpLconst0:         {"lconst_0", operandNone, true},
	OpLconst1:         {"lconst_1", operandNone, true},
	OpFconst0:         {"fconst_0", operandNone, true},
	OpFconst1:         {"fconst_1", operandNone, true},
	OpFconst2:         {"fconst_2", operandNone, true},
	OpDconst0:         {"dconst_0", operandNone, true},
	OpDconst1:         {"dconst_1", operandNone, true},
	OpBipush:          {"bipush", operandByte, true},
	OpSipush:          {"sipush", operandShort, true},
	OpLdc:             {"ldc", operandLdc, true},
	OpLdcW:            {"ldc_w", operandPool, true},
	OpLdc2W:           {"ldc2_w", operandPool, true},
	OpIload:           {"iload", operandLocal, true},
	OpLload:           {"lload", operandLocal, true},
	OpFload:           {"fload", operandLocal, true},
	OpDload:           {"dload", operandLocal, true},
	OpAload:           {"aload", operandLocal, true},
	OpIload0:          {"iload_0", operandNone, true},
	OpIload1:          {"iload_1", operandNone, true},
	OpIload2:          {"iload_2", operandNone, true},
	OpIload3:          {"iload_3", operandNone, true},
	OpLload0:          {"lload_0", operandNone, true},
	OpLload1:          {"lload_1", operandNone, true},
	OpLload2:          {"lload_2", operandNone, true},
	OpLload3:          {"lload_3", operandNone, true},
	OpFload0:          {"fload_0", operandNone, true},
	OpFload1:          {"fload_1", operandNone, true},
	OpFload2:          {"fload_2", operandNone, true},
	OpFload3:          {"fload_3", operandNone, true},
	OpDload0:          {"dload_0", operandNone, true},
	OpDload1:          {"dload_1", operandNone, true},
	OpDload2:          {"dload_2", operandNone, true},
	OpDload3:          {"dload_3", operandNone, true},
	OpAload0:          {"aload_0", operandNone, true},
	OpAload1:          {"aload_1", operandNone, true},
	OpAload2:          {"aload_2", operandNone, true},
	OpAload3:          {"aload_3", operandNone, true},
	OpIaload:          {"iaload", operandNone, true},
	OpLaload:          {"laload", operandNone, true},
	OpFaload:          {"faload", operandNone, true},
	OpDaload:          {"daload", operandNone, true},
	OpAaload:          {"aaload", operandNone, true},
	OpBaload:          {"baload", operandNone, true},
	OpCaload:          {"caload", operandNone, true},
	OpSaload:          {"saload", operandNone, true},
	OpIstore:          {"istore", operandLocal, true},
	OpLstore:          {"lstore", operandLocal, true},
	OpFstore:          {"fstore", operandLocal, true},
	OpDstore:          {"dstore", operandLocal, true},
	OpAstore:          {"astore", operandLocal, true},
	OpIstore0:         {"istore_0", operandNone, true},
	OpIstore1:         {"istore_1", operandNone, true},
	OpIstore2:         {"istore_2", operandNone, true},
	OpIstore3:         {"istore_3", operandNone, true},
	OpLstore0:         {"lstore_0", operandNone, true},
	OpLstore1:         {"lstore_1", operandNone, true},
	OpLstore2:         {"lstore_2", operandNone, true},
	OpLstore3:         {"lstore_3", operandNone, true},
	OpFstore0:         {"fstore_0", operandNone, true},
	OpFstore1:         {"fstore_1", operandNone, true},
	OpFstore2:         {"fstore_2", operandNone, true},
	OpFstore3:         {"fstore_3", operandNone, true},
	OpDstore0:         {"dstore_0", operandNone, true},
	OpDstore1:         {"dstore_1", operandNone, true},
	OpDstore2:         {"dstore_2", operandNone, true},
	OpDstore3:         {"dstore_3", operandNone, true},
	OpAstore0:         {"astore_0", operandNone, true},
	OpAstore1:         {"astore_1", operandNone, true},
	OpAstore2:         {"astore_2", operandNone, true},
	OpAstore3:         {"astore_3", operandNone, true},
	OpIastore:         {"iastore", operandNone, true},
	OpLastore:         {"lastore", operandNone, true},
	OpFastore:         {"fastore", operandNone, true},
	OpDastore:         {"dastore", operandNone, true},
	OpAastore:         {"aastore", operandNone, true},
	OpBastore:         {"bastore", operandNone, true},
	OpCastore:         {"castore", operandNone, true},
	OpSastore:         {"sastore", operandNone, true},
	OpPop:             {"pop", operandNone, true},
	OpPop2:            {"pop2", operandNone, true},
	OpDup:             {"dup", operandNone, true},
	OpDupX1:           {"dup_x1", operandNone, true},
	OpDupX2:           {"dup_x2", operandNone, true},
	OpDup2:            {"dup2", operandNone, true},
	OpDup2X1:          {"dup2_x1", operandNone, true},
	OpDup2X2:          {"dup2_x2", operandNone, true},
	OpSwap:            {"swap", operandNone, true},
	OpIadd:            {"iadd", operandNone, true},
	OpLadd:            {"ladd", operandNone, true},
	OpFadd:            {"fadd", operandNone, true},
	OpDadd:            {"dadd", operandNone, true},
	OpIsub:            {"isub", operandNone, true},
	OpLsub:            {"lsub", operandNone, true},
	OpFsub:            {"fsub", operandNone, true},
	OpDsub:            {"dsub", operandNone, true},
	OpImul:            {"imul", operandNone, true},
	OpLmul:            {"lmul", operandNone, true},
	OpFmul:            {"fmul", operandNone, true},
	OpDmul:            {"dmul", operandNone, true},
	OpIdiv:            {"idiv", operandNone, true},
	OpLdiv:            {"ldiv", operandNone, true},
	OpFdiv:            {"fdiv", operandNone, true},
	OpDdiv:            {"ddiv", operandNone, true},
	OpIrem:            {"irem", operandNone, true},
	OpLrem:            {"lrem", operandNone, true},
	OpFrem:            {"frem", operandNone, true},
	OpDrem:            {"drem", operandNone, true},
	OpIneg:            {"ineg", operandNone, true},
	OpLneg:            {"lneg", operandNone, true},
	OpFneg:            {"fneg", operandNone, true},
	OpDneg:            {"dneg", operandNone, true},
	OpIshl:            {"ishl", operandNone, true},
	OpLshl:            {"lshl", operandNone, true},
	OpIshr:            {"ishr", operandNone, true},
	OpLshr:            {"lshr", operandNone, true},
	OpIushr:           {"iushr", operandNone, true},
	OpLushr:           {"lushr", operandNone, true},
	OpIand:            {"iand", operandNone, true},
	OpLand:            {"land", operandNone, true},
	OpIor:             {"ior", operandNone, true},
	OpLor:             {"lor", operandNone, true},
	OpIxor:            {"ixor", operandNone, true},
	OpLxor:            {"lxor", operandNone, true},
	OpIinc:            {"iinc", operandIinc, true},
	OpI2l:             {"i2l", operandNone, true},
	OpI2f:             {"i2f", operandNone, true},
	OpI2d:             {"i2d", operandNone, true},
	OpL2i:             {"l2i", operandNone, true},
	OpL2f:             {"l2f", operandNone, true},
	OpL2d:             {"l2d", operandNone, true},
	OpF2i:             {"f2i", operandNone, true},
	OpF2l:             {"f2l", operandNone, true},
	OpF2d:             {"f2d", operandNone, true},
	OpD2i:             {"d2i", operandNone, true},
	OpD2l:             {"d2l", operandNone, true},
	OpD2f:             {"d2f", operandNone, true},
	OpI2b:             {"i2b", operandNone, true},
	OpI2c:             {"i2c", operandNone, true},
	OpI2s:             {"i2s", operandNone, true},
	OpLcmp:            {"lcmp", operandNone, true},
	OpFcmpl:           {"fcmpl", operandNone, true},
	OpFcmpg:           {"fcmpg", operandNone, true},
	OpDcmpl:           {"dcmpl", operandNone, true},
	OpDcmpg:           {"dcmpg", operandNone, true},
	OpIfeq:            {"ifeq", operandBranch, true},
	OpIfne:            {"ifne", operandBranch, true},
	OpIflt:            {"iflt", operandBranch, true},
	OpIfge:            {"ifge", operandBranch, true},
	OpIfgt:            {"ifgt", operandBranch, true},
	OpIfle:            {"ifle", operandBranch, true},
	OpIfIcmpeq:        {"if_icmpeq", operandBranch, true},
	OpIfIcmpne:        {"if_icmpne", operandBranch, true},
	OpIfIcmplt:        {"if_icmplt", operandBranch, true},
	OpIfIcmpge:        {"if_icmpge", operandBranch, true},
	OpIfIcmpgt:        {"if_icmpgt", operandBranch, true},
	OpIfIcmple:        {"if_icmple", operandBranch, true},
	OpIfAcmpeq:        {"if_acmpeq", operandBranch, true},
	OpIfAcmpne:        {"if_acmpne", operandBranch, true},
	OpGoto:            {"goto", operandBranch, true},
	OpJsr:             {"jsr", operandBranch, true},
	OpRet:             {"ret", operandLocal, true},
	OpTableswitch:     {"tableswitch", operandTableSwitch, true},
	OpLookupswitch:    {"lookupswitch", operandLookupSwitch, true},
	OpIreturn:         {"ireturn", operandNone, true},
	OpLreturn:         {"lreturn", operandNone, true},
	OpFreturn:         {"freturn", operandNone, true},
	OpDreturn:         {"dreturn", operandNone, true},
	OpAreturn:         {"areturn", operandNone, true},
	OpReturn:          {"return", operandNone, true},
	OpGetstatic:       {"getstatic", operandPool, true},
	OpPutstatic:       {"putstatic", operandPool, true},
	OpGetfield:        {"getfield", operandPool, true},
	OpPutfield:        {"putfield", operandPool, true},
	OpInvokevirtual:   {"invokevirtual", operandPool, true},
	OpInvokespecial:   {"invokespecial", operandPool, true},
	OpInvokestatic:    {"invokestatic", operandPool, true},
	OpInvokeinterface: {"invokeinterface", operandInvokeInterface, true},
	OpInvokedynamic:   {"invokedynamic", operandInvokeDynamic, true},
	OpNew:             {"new", operandPool, true},
	OpNewarray:        {"newarray", operandNewArray, true},
	OpAnewarray:       {"anewarray", operandPool, true},
	OpArraylength:     {"arraylength", operandNone, true},
	OpAthrow:          {"athrow", operandNone, true},
	OpCheckcast:       {"checkcast", operandPool, true},
	OpInstanceof:      {"instanceof", operandPool, true},
	OpMonitorenter:    {"monitorenter", operandNone, true},
	OpMonitorexit:     {"monitorexit", operandNone, true},
	OpWide:            {"wide", operandWide, true},
	OpMultianewarray:  {"multianewarray", operandMultiANewArray, true},
	OpIfnull:          {"ifnull", operandBranch, true},
	OpIfnonnull:       {"ifnonnull", operandBranch, true},
	OpGotoW:           {"goto_w", operandBranchWide, true},
	OpJsrW:            {"jsr_w", operandBranchWide, true},
}

func (op Opcode) String() string {
	if info := opTable[op]; info.valid {
		return info.name
	}
	return "invalid"
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool { return opTable[op].valid && op != OpWide }

// IsBranch reports conditional and unconditional jumps, including jsr.
func (op Opcode) IsBranch() bool {
	k := opTable[op].kind
	return k == operandBranch || k == operandBranchWide
}

// IsConditional reports the if* family.
func (op Opcode) IsConditional() bool {
	return op.IsBranch() && op != OpGoto && op != OpGotoW && op != OpJsr && op != OpJsrW
}

func (op Opcode) IsSwitch() bool {
	return op == OpTableswitch || op == OpLookupswitch
}

func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

func (op Opcode) IsInvoke() bool {
	return op >= OpInvokevirtual && op <= OpInvokedynamic
}

func (op Opcode) IsFieldAccess() bool {
	return op >= OpGetstatic && op <= OpPutfield
}

// FallsThrough reports whether control can continue with the next
// instruction.
func (op Opcode) FallsThrough() bool {
	switch op {
	case OpGoto, OpGotoW, OpAthrow, OpRet, OpTableswitch, OpLookupswitch:
		return false
	}
	return !op.IsReturn()
}

// EndsBlock reports whether the next instruction starts a basic block.
func (op Opcode) EndsBlock() bool {
	return op.IsBranch() || op.IsSwitch() || op.IsReturn() || op == OpAthrow || op == OpRet
}
