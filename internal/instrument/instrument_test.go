package instrument_test

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/gascost"
	"github.com/roach88/moka/internal/instrument"
	"github.com/roach88/moka/internal/testutil"
	"github.com/roach88/moka/internal/verifier"
)

const (
	pub    = classfile.AccPublic
	static = classfile.AccPublic | classfile.AccStatic
	pkg    = "com/example/"
	rt     = testutil.Runtime
)

func build(t *testing.T, module ...*classfile.Builder) *classindex.Index {
	t.Helper()
	in := classindex.Input{Classpath: testutil.Base(t)}
	for _, b := range module {
		in.Module = append(in.Module, testutil.Bytes(t, b))
	}
	idx, err := classindex.Build(in, testutil.Platform(t))
	require.NoError(t, err)
	return idx
}

func model(t *testing.T, v int) *gascost.Model {
	t.Helper()
	m, err := gascost.ForVersion(v)
	require.NoError(t, err)
	return m
}

// run verifies and instruments module with cost model v, returning the
// rewritten classes by name.
func run(t *testing.T, v int, module ...*classfile.Builder) map[string]*classfile.ClassFile {
	t.Helper()
	idx := build(t, module...)
	res, err := verifier.New(idx, testutil.Table(t)).Verify()
	require.NoError(t, err)
	require.False(t, res.HasErrors, "%v", res.Issues)
	out, err := instrument.New(idx, res, model(t, v)).Instrument()
	require.NoError(t, err)
	classes := make(map[string]*classfile.ClassFile, len(out))
	for _, o := range out {
		cf, err := classfile.Parse(o.Bytes)
		require.NoError(t, err)
		classes[o.Name] = cf
	}
	return classes
}

// code lists the instructions of one method without their offsets.
func code(t *testing.T, cf *classfile.ClassFile, name, desc string) []string {
	t.Helper()
	m := cf.Method(name, desc)
	require.NotNil(t, m, "%s%s not in %s", name, desc, cf.Name)
	lines, err := cf.Listing(m)
	require.NoError(t, err)
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func contract(name string) *classfile.Builder {
	return classfile.NewBuilder(pub|classfile.AccSuper, pkg+name, testutil.Contract).
		Method(pub, "<init>", "()V", testutil.Constructor(testutil.Contract))
}

func ret(a *classfile.Assembler) { a.Op(classfile.OpReturn) }

func charge(kind string, v int) []string {
	push := "bipush " + strconv.Itoa(v)
	if v <= 5 {
		push = "iconst_" + strconv.Itoa(v)
	}
	return []string{push, "invokestatic " + rt + "." + kind + "(I)V"}
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

const instrumentedSuffix = testutil.ContractType + testutil.DummyType

// ============================================================================
// Driver
// ============================================================================

func TestRefusesResultWithErrors(t *testing.T) {
	idx := build(t)
	_, err := instrument.New(idx, &verifier.Result{HasErrors: true}, model(t, 1)).Instrument()
	require.ErrorIs(t, err, instrument.ErrHasErrors)

	_, err = instrument.New(idx, nil, model(t, 1)).Instrument()
	require.ErrorIs(t, err, instrument.ErrHasErrors)
}

func TestWalletGolden(t *testing.T) {
	wallet := contract("Wallet").
		Method(pub, "deposit", "(I)V", ret, testutil.FromContract(), testutil.Payable).
		Method(pub, "chain", "()V", func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 0).Int(5).
				Invoke(classfile.OpInvokevirtual, pkg+"Wallet", "deposit", "(I)V").
				Op(classfile.OpReturn)
		}, testutil.FromContract())

	classes := run(t, 0, wallet)

	text, err := classfile.Disassemble(classes[pkg+"Wallet"])
	require.NoError(t, err)
	testutil.AssertGolden(t, "wallet", []byte(text))
}

func TestOutputIsDeterministicAndInModuleOrder(t *testing.T) {
	module := func() []*classfile.Builder {
		return []*classfile.Builder{
			contract("B").Method(pub, "go", "()V", ret, testutil.FromContract()),
			contract("A").Method(pub, "pay", "(J)V", ret, testutil.FromContract(), testutil.Payable),
		}
	}
	instrumentOnce := func() []instrument.Output {
		idx := build(t, module()...)
		res, err := verifier.New(idx, testutil.Table(t)).Verify()
		require.NoError(t, err)
		out, err := instrument.New(idx, res, model(t, 1), instrument.WithConcurrency(1)).Instrument()
		require.NoError(t, err)
		return out
	}

	first, second := instrumentOnce(), instrumentOnce()

	require.Len(t, first, 2)
	assert.Equal(t, pkg+"B", first[0].Name)
	assert.Equal(t, pkg+"A", first[1].Name)
	for i := range first {
		assert.True(t, bytes.Equal(first[i].Bytes, second[i].Bytes), "class %s differs", first[i].Name)
	}
}

func TestIndexIsNotModified(t *testing.T) {
	idx := build(t, contract("K").Method(pub, "go", "()V", ret, testutil.FromContract()))
	res, err := verifier.New(idx, testutil.Table(t)).Verify()
	require.NoError(t, err)
	c, _ := idx.Lookup(pkg + "K")
	before, err := c.File.Bytes()
	require.NoError(t, err)

	_, err = instrument.New(idx, res, model(t, 1)).Instrument()
	require.NoError(t, err)

	after, err := c.File.Bytes()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotNil(t, c.File.Method("go", "()V"))
}

// ============================================================================
// Gas
// ============================================================================

func TestOnlyNonzeroDimensionsAreCharged(t *testing.T) {
	c := contract("G").
		Field(classfile.AccPrivate, "count", "I").
		Method(pub, "nothing", "()V", ret).
		Method(pub, "bump", "()V", func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 0).Int(1).
				Field(classfile.OpPutfield, pkg+"G", "count", "I").
				Op(classfile.OpReturn)
		})

	cf := run(t, 1, c)[pkg+"G"]

	assert.Equal(t, concat(charge("chargeCompute", 1), []string{"return"}), code(t, cf, "nothing", "()V"))
	// load 1, constant 1, storage write 3+4, return 1
	assert.Equal(t, concat(
		charge("chargeCompute", 6),
		charge("chargeStorage", 4),
		[]string{"aload_0", "iconst_1", "putfield " + pkg + "G.count I", "return"},
	), code(t, cf, "bump", "()V"))
}

func TestLoopIsChargedAtItsHeader(t *testing.T) {
	c := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Loop", classindex.ObjectName).
		Method(pub, "<init>", "()V", testutil.Constructor(classindex.ObjectName)).
		Method(static, "spin", "()V", func(a *classfile.Assembler) {
			head := a.NewLabel()
			a.Int(0).Store(classfile.OpIstore, 0).
				Mark(head).Iinc(0, 1).Jump(classfile.OpGoto, head)
		})

	cf := run(t, 0, c)[pkg+"Loop"]
	lines, err := cf.Listing(cf.Method("spin", "()V"))
	require.NoError(t, err)

	require.Len(t, lines, 8)
	assert.Equal(t, "iconst_2", lines[0].Text)
	assert.Equal(t, "iconst_2", lines[4].Text)
	assert.Equal(t, "invokestatic "+rt+".chargeCompute(I)V", lines[5].Text)
	assert.Equal(t, "iinc 0 1", lines[6].Text)
	assert.Equal(t, "goto "+strconv.Itoa(lines[4].PC), lines[7].Text)
}

func TestAllocationAndCallsChargeMemory(t *testing.T) {
	c := contract("M").
		Field(classfile.AccPrivate, "a", "I").
		Field(classfile.AccPrivate, "b", "J").
		Field(classfile.AccPrivate|classfile.AccStatic, "c", "I").
		Method(pub, "make", "()V", func(a *classfile.Assembler) {
			a.Class(classfile.OpNew, pkg+"M").Op(classfile.OpDup).
				Invoke(classfile.OpInvokespecial, pkg+"M", "<init>", "()V").
				Op(classfile.OpPop, classfile.OpReturn)
		})

	cf := run(t, 0, c)[pkg+"M"]

	// object 8 + 2 instance fields * 4, frame 10 + 1 slot
	got := code(t, cf, "make", "()V")
	assert.Equal(t, concat(charge("chargeCompute", 5), charge("chargeMemory", 27)), got[:4])
}

// ============================================================================
// Entry code
// ============================================================================

func TestEntryLocalsAreShifted(t *testing.T) {
	c := contract("L").Method(pub, "copy", "(I)V", func(a *classfile.Assembler) {
		a.Load(classfile.OpIload, 1).Store(classfile.OpIstore, 2).
			Load(classfile.OpIload, 2).Store(classfile.OpIstore, 1).
			Op(classfile.OpReturn)
	}, testutil.FromContract())

	cf := run(t, 0, c)[pkg+"L"]

	desc := "(I" + instrumentedSuffix + ")V"
	require.Nil(t, cf.Method("copy", "(I)V"))
	got := code(t, cf, "copy", desc)
	assert.Equal(t, []string{"aload_0", "aload_2", "aload_3"}, got[:3])
	assert.Equal(t, []string{"iload_1", "istore 4", "iload 4", "istore_1", "return"}, got[len(got)-5:])

	c2, err := cf.Code(cf.Method("copy", desc))
	require.NoError(t, err)
	assert.Equal(t, uint16(5), c2.MaxLocals)
}

func TestConstructorPrologueFollowsTheInitialiserCall(t *testing.T) {
	c := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Shop", testutil.Contract).
		Method(pub, "<init>", "()V", testutil.Constructor(testutil.Contract), testutil.FromContract())

	cf := run(t, 0, c)[pkg+"Shop"]

	got := code(t, cf, "<init>", "("+instrumentedSuffix+")V")
	assert.Equal(t, []string{
		"aload_0",
		"invokespecial " + testutil.Contract + ".<init>()V",
		"aload_0",
		"aload_1",
		"aload_2",
		"invokestatic " + rt + ".fromContract(L" + testutil.Storage + ";" + instrumentedSuffix + ")V",
		"return",
	}, got[4:])
}

func TestChainedConstructorForwardsTheCaller(t *testing.T) {
	parent := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Parent", testutil.Contract).
		Method(pub, "<init>", "()V", testutil.Constructor(testutil.Contract), testutil.FromContract())
	child := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Child", pkg+"Parent").
		Method(pub, "<init>", "()V", testutil.Constructor(pkg+"Parent"), testutil.FromContract())

	cf := run(t, 0, parent, child)[pkg+"Child"]

	got := code(t, cf, "<init>", "("+instrumentedSuffix+")V")
	require.Greater(t, len(got), 7)
	assert.Equal(t, []string{
		"aload_0",
		"aload_1",
		"getstatic " + testutil.Dummy + ".CHAINED " + testutil.DummyType,
		"invokespecial " + pkg + "Parent.<init>(" + instrumentedSuffix + ")V",
		"aload_0",
		"aload_1",
		"aload_2",
	}, got[4:11])
}

func TestCallFromAnotherContractPassesThis(t *testing.T) {
	payable := "L" + testutil.PayableContract + ";"
	c := contract("Sender").Method(pub, "send", "("+payable+")V", func(a *classfile.Assembler) {
		a.Load(classfile.OpAload, 1).Int(5).
			Invoke(classfile.OpInvokevirtual, testutil.PayableContract, "receive", "(I)V").
			Op(classfile.OpReturn)
	})

	cf := run(t, 0, c)[pkg+"Sender"]

	got := code(t, cf, "send", "("+payable+")V")
	assert.Equal(t, []string{
		"aload_1",
		"iconst_5",
		"aload_0",
		"aconst_null",
		"invokevirtual " + testutil.PayableContract + ".receive(I" + instrumentedSuffix + ")V",
		"return",
	}, got[len(got)-6:])
}

func TestAbstractEntryGetsTheTrailingParameters(t *testing.T) {
	api := classfile.NewBuilder(pub|classfile.AccInterface|classfile.AccAbstract, pkg+"Api", classindex.ObjectName).
		Method(pub|classfile.AccAbstract, "call", "()V", nil, testutil.FromContract())

	cf := run(t, 0, api)[pkg+"Api"]

	assert.Nil(t, cf.Method("call", "()V"))
	assert.NotNil(t, cf.Method("call", "("+instrumentedSuffix+")V"))
}

// ============================================================================
// Runtime checks
// ============================================================================

func TestUndecidedReceiverIsCheckedAtRunTime(t *testing.T) {
	c := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"H", classindex.ObjectName).
		Method(pub, "<init>", "()V", testutil.Constructor(classindex.ObjectName)).
		Method(static, "hash", "(Ljava/lang/Object;)I", func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 0).
				Invoke(classfile.OpInvokevirtual, classindex.ObjectName, "hashCode", "()I").
				Op(classfile.OpIreturn)
		})
	idx := build(t, c)
	res, err := verifier.New(idx, testutil.Table(t)).Verify()
	require.NoError(t, err)
	require.Len(t, res.RuntimeChecks, 1)
	out, err := instrument.New(idx, res, model(t, 0)).Instrument()
	require.NoError(t, err)
	cf, err := classfile.Parse(out[0].Bytes)
	require.NoError(t, err)

	got := code(t, cf, "hash", "(Ljava/lang/Object;)I")
	assert.Equal(t, []string{
		"aload_0",
		"astore_1",
		"aload_1",
		"ldc " + strconv.Quote(res.RuntimeChecks[0].Message),
		"invokestatic " + rt + ".mustRedefineHashCode(Ljava/lang/Object;Ljava/lang/String;)V",
		"aload_1",
		"invokevirtual java/lang/Object.hashCode()I",
		"ireturn",
	}, got[4:])
	m, err := cf.Code(cf.Method("hash", "(Ljava/lang/Object;)I"))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), m.MaxLocals)
}

func TestConcatenationArgumentIsCheckedAtRunTime(t *testing.T) {
	desc := "(Ljava/lang/Object;Ljava/lang/String;)Ljava/lang/String;"
	c := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Q", classindex.ObjectName).
		Method(pub, "<init>", "()V", testutil.Constructor(classindex.ObjectName)).
		Method(static, "show", "(Ljava/lang/Object;)Ljava/lang/String;", func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 0).String("s").
				Concat("\x01\x01", desc).
				Op(classfile.OpAreturn)
		})

	cf := run(t, 0, c)[pkg+"Q"]

	got := code(t, cf, "show", "(Ljava/lang/Object;)Ljava/lang/String;")
	at := -1
	for i, l := range got {
		if strings.HasPrefix(l, "invokestatic "+rt+".mustRedefineHashCodeOrToString") {
			at = i
		}
	}
	require.GreaterOrEqual(t, at, 0, "%v", got)
	assert.Equal(t, []string{"astore_2", "astore_1", "aload_1"}, got[at-4:at-1])
	assert.Equal(t, []string{"aload_1", "aload_2"}, got[at+1:at+3])
	assert.True(t, strings.HasPrefix(got[at+3], "invokedynamic "))
}

// ============================================================================
// Bridges
// ============================================================================

func base() *classfile.Builder {
	return classfile.NewBuilder(pub|classfile.AccSuper|classfile.AccAbstract, pkg+"Base", testutil.Contract).
		Method(pub, "<init>", "()V", testutil.Constructor(testutil.Contract)).
		Method(pub, "accept", "("+testutil.ContractType+")V", ret, testutil.FromContract())
}

func TestExistingBridgeForwardsItsOwnCaller(t *testing.T) {
	payable := "L" + testutil.PayableContract + ";"
	impl := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Impl", pkg+"Base").
		Method(pub, "<init>", "()V", testutil.Constructor(pkg+"Base")).
		Method(pub, "accept", "("+payable+")V", ret, testutil.FromContract()).
		Method(pub|classfile.AccBridge|classfile.AccSynthetic, "accept", "("+testutil.ContractType+")V", func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 0).Load(classfile.OpAload, 1).
				Class(classfile.OpCheckcast, testutil.PayableContract).
				Invoke(classfile.OpInvokevirtual, pkg+"Impl", "accept", "("+payable+")V").
				Op(classfile.OpReturn)
		})

	cf := run(t, 0, base(), impl)[pkg+"Impl"]

	got := code(t, cf, "accept", "("+testutil.ContractType+instrumentedSuffix+")V")
	assert.NotContains(t, got, "invokestatic "+rt+".fromContract(L"+testutil.Storage+";"+instrumentedSuffix+")V")
	assert.Equal(t, []string{
		"aload_0",
		"aload_1",
		"checkcast " + testutil.PayableContract,
		"aload_2",
		"aload_3",
		"invokevirtual " + pkg + "Impl.accept(" + payable + instrumentedSuffix + ")V",
		"return",
	}, got[len(got)-7:])
}

func TestExportedClassGetsMissingBridge(t *testing.T) {
	payable := "L" + testutil.PayableContract + ";"
	shop := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Shop", pkg+"Base").
		Annotate(testutil.Exported).
		Method(pub, "<init>", "()V", testutil.Constructor(pkg+"Base")).
		Method(pub, "accept", "("+payable+")V", ret, testutil.FromContract())

	cf := run(t, 0, base(), shop)[pkg+"Shop"]

	bridge := cf.Method("accept", "("+testutil.ContractType+instrumentedSuffix+")V")
	require.NotNil(t, bridge)
	assert.True(t, bridge.Is(classfile.AccPublic|classfile.AccBridge|classfile.AccSynthetic))
	assert.Equal(t, []string{
		"aload_0",
		"aload_1",
		"checkcast " + testutil.PayableContract,
		"aload_2",
		"aload_3",
		"invokevirtual " + pkg + "Shop.accept(" + payable + instrumentedSuffix + ")V",
		"return",
	}, code(t, cf, "accept", "("+testutil.ContractType+instrumentedSuffix+")V"))
}

func TestClassNotExportedGetsNoBridge(t *testing.T) {
	payable := "L" + testutil.PayableContract + ";"
	shop := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Plain", pkg+"Base").
		Method(pub, "<init>", "()V", testutil.Constructor(pkg+"Base")).
		Method(pub, "accept", "("+payable+")V", ret, testutil.FromContract())

	cf := run(t, 0, base(), shop)[pkg+"Plain"]

	assert.Len(t, cf.Methods, 2)
}

// ============================================================================
// Prologues
// ============================================================================

func TestPayablePrologueMovesTheAmount(t *testing.T) {
	redGreen := func() *classfile.Builder {
		return classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Pay", testutil.RedGreenContract).
			Method(pub, "<init>", "()V", testutil.Constructor(testutil.RedGreenContract))
	}
	runtime := func(name, amount string) string {
		return "invokestatic " + rt + "." + name + "(" + testutil.ContractType + instrumentedSuffix + amount + ")V"
	}
	tests := []struct {
		name   string
		amount string
		tag    classfile.Annotation
		want   []string
	}{
		{
			name:   "red payable int",
			amount: "I",
			tag:    testutil.RedPayable,
			want:   []string{"aload_0", "aload_2", "aload_3", "iload_1", runtime("redPayableFromContract", "I")},
		},
		{
			name:   "payable long",
			amount: "J",
			tag:    testutil.Payable,
			want:   []string{"aload_0", "aload_3", "aload 4", "lload_1", runtime("payableFromContract", "J")},
		},
		{
			name:   "payable big integer",
			amount: "Ljava/math/BigInteger;",
			tag:    testutil.Payable,
			want:   []string{"aload_0", "aload_2", "aload_3", "aload_1", runtime("payableFromContract", "Ljava/math/BigInteger;")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := redGreen().Method(pub, "pay", "("+tt.amount+")V", ret, testutil.FromContract(), tt.tag)

			cf := run(t, 0, c)[pkg+"Pay"]

			got := code(t, cf, "pay", "("+tt.amount+instrumentedSuffix+")V")
			require.GreaterOrEqual(t, len(got), len(tt.want))
			assert.Equal(t, tt.want, got[:len(tt.want)])
		})
	}
}

// ============================================================================
// Interface calls and lambdas
// ============================================================================

// instructions decodes the rewritten code of one method.
func instructions(t *testing.T, cf *classfile.ClassFile, name, desc string) []classfile.Instruction {
	t.Helper()
	m := cf.Method(name, desc)
	require.NotNil(t, m, "%s%s not in %s", name, desc, cf.Name)
	c, err := cf.Code(m)
	require.NoError(t, err)
	insns, err := classfile.Decode(c.Bytecode)
	require.NoError(t, err)
	return insns
}

func TestInterfaceEntryCallCountsTheExtraArguments(t *testing.T) {
	api := classfile.NewBuilder(pub|classfile.AccInterface|classfile.AccAbstract, pkg+"Api", classindex.ObjectName).
		Method(pub|classfile.AccAbstract, "call", "(JI)V", nil, testutil.FromContract())
	apiType := "L" + pkg + "Api;"
	user := contract("User").Method(pub, "use", "("+apiType+")V", func(a *classfile.Assembler) {
		a.Load(classfile.OpAload, 1).Long(7).Int(2).
			Invoke(classfile.OpInvokeinterface, pkg+"Api", "call", "(JI)V").
			Op(classfile.OpReturn)
	})

	cf := run(t, 0, api, user)[pkg+"User"]

	got := code(t, cf, "use", "("+apiType+")V")
	assert.Equal(t, []string{
		"aload_0",
		"aconst_null",
		"invokeinterface " + pkg + "Api.call(JI" + instrumentedSuffix + ")V",
		"return",
	}, got[len(got)-4:])

	var calls []classfile.Instruction
	for _, in := range instructions(t, cf, "use", "("+apiType+")V") {
		if in.Op == classfile.OpInvokeinterface {
			calls = append(calls, in)
		}
	}
	require.Len(t, calls, 1)
	// receiver, a long, an int, the caller and the dummy
	assert.Equal(t, 6, calls[0].Value)
	assert.Equal(t, classfile.TagInterfaceMethodref, cf.Pool.Tag(uint16(calls[0].Index)))
}

func TestStaticLambdaCallingEntryCodeBecomesInstance(t *testing.T) {
	self := pkg + "Lam"
	payable := "L" + testutil.PayableContract + ";"
	body := classfile.MemberRef{Owner: self, Name: "lambda$send$0", Descriptor: "(" + payable + ")V"}
	c := contract("Lam").
		Method(classfile.AccPrivate|classfile.AccStatic|classfile.AccSynthetic, body.Name, body.Descriptor, func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 0).Int(5).
				Invoke(classfile.OpInvokevirtual, testutil.PayableContract, "receive", "(I)V").
				Op(classfile.OpReturn)
		}).
		Method(pub, "send", "("+payable+")V", func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 1).
				Lambda("run", "("+payable+")Ljava/lang/Runnable;", "()V", classfile.RefInvokeStatic, body).
				Op(classfile.OpPop, classfile.OpReturn)
		})

	cf := run(t, 0, c)[self]

	m := cf.Method(body.Name, body.Descriptor)
	require.NotNil(t, m)
	assert.False(t, m.Is(classfile.AccStatic))
	assert.True(t, m.Is(classfile.AccPrivate|classfile.AccSynthetic))
	got := code(t, cf, body.Name, body.Descriptor)
	assert.Equal(t, []string{
		"aload_1",
		"iconst_5",
		"aload_0",
		"aconst_null",
		"invokevirtual " + testutil.PayableContract + ".receive(I" + instrumentedSuffix + ")V",
		"return",
	}, got[len(got)-6:])
	lc, err := cf.Code(m)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), lc.MaxLocals)

	bootstraps, err := cf.BootstrapMethods()
	require.NoError(t, err)
	require.Len(t, bootstraps, 1)
	kind, target, err := cf.Pool.MethodHandle(bootstraps[0].Arguments[1])
	require.NoError(t, err)
	assert.Equal(t, classfile.RefInvokeSpecial, kind)
	assert.Equal(t, body.Name, target.Name)

	send := code(t, cf, "send", "("+payable+")V")
	at := -1
	for i, l := range send {
		if strings.HasPrefix(l, "invokedynamic ") {
			at = i
		}
	}
	require.GreaterOrEqual(t, at, 4, "%v", send)
	assert.Equal(t, []string{"aload_1", "astore_2", "aload_0", "aload_2"}, send[at-4:at])
	assert.Equal(t, "invokedynamic #0:run(L"+self+";"+payable+")Ljava/lang/Runnable;", send[at])
	sc, err := cf.Code(cf.Method("send", "("+payable+")V"))
	require.NoError(t, err)
	assert.Equal(t, uint16(3), sc.MaxLocals)
}

func TestLambdaOfEntryCodePassesItsCaller(t *testing.T) {
	self := pkg + "Own"
	body := classfile.MemberRef{Owner: self, Name: "lambda$run$0", Descriptor: "()V"}
	c := contract("Own").
		Method(pub, "go", "()V", ret, testutil.FromContract()).
		Method(pub, "run", "()V", func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 0).
				Lambda("run", "(L"+self+";)Ljava/lang/Runnable;", "()V", classfile.RefInvokeSpecial, body).
				Op(classfile.OpPop, classfile.OpReturn)
		}, testutil.FromContract()).
		Method(classfile.AccPrivate|classfile.AccSynthetic, body.Name, body.Descriptor, func(a *classfile.Assembler) {
			a.Load(classfile.OpAload, 0).
				Invoke(classfile.OpInvokevirtual, self, "go", "()V").
				Op(classfile.OpReturn)
		})

	cf := run(t, 0, c)[self]

	got := code(t, cf, body.Name, body.Descriptor)
	assert.Equal(t, []string{
		"aload_0",
		"aload_0",
		"invokespecial " + testutil.Storage + ".caller" + testutil.CallerDesc,
		"getstatic " + testutil.Dummy + ".CHAINED " + testutil.DummyType,
		"invokevirtual " + self + ".go(" + instrumentedSuffix + ")V",
		"return",
	}, got[len(got)-6:])

	bootstraps, err := cf.BootstrapMethods()
	require.NoError(t, err)
	require.Len(t, bootstraps, 1)
	kind, _, err := cf.Pool.MethodHandle(bootstraps[0].Arguments[1])
	require.NoError(t, err)
	assert.Equal(t, classfile.RefInvokeSpecial, kind, "instance lambdas keep their handle")
}

// ============================================================================
// Wide arguments
// ============================================================================

func TestCheckedCallSpillsWideArguments(t *testing.T) {
	tests := []struct {
		name  string
		wide  string
		load  classfile.Opcode
		spill string
		fill  string
	}{
		{"long", "J", classfile.OpLload, "lstore 4", "lload 4"},
		{"double", "D", classfile.OpDload, "dstore 4", "dload 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := "(Ljava/lang/Object;" + tt.wide + ")Ljava/lang/String;"
			c := classfile.NewBuilder(pub|classfile.AccSuper, pkg+"Wide", classindex.ObjectName).
				Method(pub, "<init>", "()V", testutil.Constructor(classindex.ObjectName)).
				Method(static, "show", desc, func(a *classfile.Assembler) {
					a.Load(classfile.OpAload, 0).Load(tt.load, 1).
						Concat("\x01\x01", desc).
						Op(classfile.OpAreturn)
				})

			cf := run(t, 0, c)[pkg+"Wide"]

			got := code(t, cf, "show", desc)
			at := -1
			for i, l := range got {
				if strings.HasPrefix(l, "invokestatic "+rt+".mustRedefineHashCodeOrToString") {
					at = i
				}
			}
			require.GreaterOrEqual(t, at, 4, "%v", got)
			assert.Equal(t, []string{tt.spill, "astore_3", "aload_3"}, got[at-4:at-1])
			assert.Equal(t, []string{"aload_3", tt.fill}, got[at+1:at+3])
			assert.True(t, strings.HasPrefix(got[at+3], "invokedynamic "))

			m, err := cf.Code(cf.Method("show", desc))
			require.NoError(t, err)
			assert.Equal(t, uint16(6), m.MaxLocals)
		})
	}
}
