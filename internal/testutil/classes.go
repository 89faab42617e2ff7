package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/whitelist"
)

// Takamaka base names, repeated here so fixtures do not depend on the
// packages they are used to test.
const (
	Lang             = "io/takamaka/code/lang/"
	Storage          = Lang + "Storage"
	Contract         = Lang + "Contract"
	PayableContract  = Lang + "PayableContract"
	RedGreenContract = Lang + "RedGreenContract"
	Runtime          = Lang + "Runtime"
	Dummy            = Lang + "Dummy"

	ContractType = "L" + Contract + ";"
	DummyType    = "L" + Dummy + ";"
	CallerDesc   = "()" + ContractType
)

// Annotations recognised by the annotation resolver.
var (
	Payable          = classfile.Tag(Lang + "Payable")
	RedPayable       = classfile.Tag(Lang + "RedPayable")
	View             = classfile.Tag(Lang + "View")
	ThrowsExceptions = classfile.Tag(Lang + "ThrowsExceptions")
	Exported         = classfile.Tag(Lang + "Exported")
	SelfCharged      = classfile.Tag(Lang + "SelfCharged")
	Whitelisted      = classfile.Tag(Lang + "WhiteListedDuringInitialization")
)

// FromContract returns the entry annotation, bound to class when given.
func FromContract(bound ...string) classfile.Annotation {
	if len(bound) == 0 {
		return classfile.Tag(Lang + "FromContract")
	}
	return classfile.Tag(Lang+"FromContract", classfile.ClassElement("value", bound[0]))
}

// Bytes serialises b, failing the test on error.
func Bytes(t testing.TB, b *classfile.Builder) []byte {
	t.Helper()
	data, err := b.Bytes()
	require.NoError(t, err)
	return data
}

// Platform returns the hierarchy of the embedded whitelist table.
func Platform(t testing.TB) whitelist.Hierarchy {
	t.Helper()
	table, err := whitelist.Default()
	require.NoError(t, err)
	return table.Hierarchy()
}

// Table returns the embedded whitelist table.
func Table(t testing.TB) *whitelist.Table {
	t.Helper()
	table, err := whitelist.Default()
	require.NoError(t, err)
	return table
}

// Constructor is a no-argument constructor calling super's.
func Constructor(super string) func(*classfile.Assembler) {
	return func(a *classfile.Assembler) {
		a.Load(classfile.OpAload, 0).
			Invoke(classfile.OpInvokespecial, super, "<init>", "()V").
			Op(classfile.OpReturn)
	}
}

// Base returns the classpath of the Takamaka base classes: Storage with
// caller(), the contract hierarchy, Dummy and Runtime with the entry
// points instrumented code calls.
func Base(t testing.TB) [][]byte {
	t.Helper()
	const public = classfile.AccPublic
	const abstract = classfile.AccPublic | classfile.AccAbstract
	storage := classfile.NewBuilder(abstract|classfile.AccSuper, Storage, "").
		Method(public, "<init>", "()V", Constructor("java/lang/Object")).
		Method(classfile.AccProtected|classfile.AccFinal, "caller", CallerDesc, func(a *classfile.Assembler) {
			a.Op(classfile.OpAconstNull, classfile.OpAreturn)
		})
	contract := classfile.NewBuilder(abstract|classfile.AccSuper, Contract, Storage).
		Method(public, "<init>", "()V", Constructor(Storage)).
		Method(public, "balance", "()Ljava/math/BigInteger;", func(a *classfile.Assembler) {
			a.Op(classfile.OpAconstNull, classfile.OpAreturn)
		}, View)
	payable := classfile.NewBuilder(abstract|classfile.AccSuper, PayableContract, Contract).
		Method(public, "<init>", "()V", Constructor(Contract)).
		Method(public, "receive", "(I)V", func(a *classfile.Assembler) {
			a.Op(classfile.OpReturn)
		}, FromContract(), Payable)
	redGreen := classfile.NewBuilder(abstract|classfile.AccSuper, RedGreenContract, Contract).
		Method(public, "<init>", "()V", Constructor(Contract))
	dummy := classfile.NewBuilder(public|classfile.AccFinal|classfile.AccSuper, Dummy, "").
		Field(public|classfile.AccStatic|classfile.AccFinal, "CHAINED", DummyType).
		Method(classfile.AccPrivate, "<init>", "()V", Constructor("java/lang/Object"))
	const native = public | classfile.AccStatic | classfile.AccNative
	runtime := classfile.NewBuilder(public|classfile.AccFinal|classfile.AccSuper, Runtime, "").
		Method(native, "fromContract", "(L"+Storage+";"+ContractType+DummyType+")V", nil)
	for _, charge := range []string{"chargeCompute", "chargeMemory", "chargeStorage"} {
		runtime.Method(native, charge, "(I)V", nil).Method(native, charge, "(J)V", nil)
	}
	for _, amount := range []string{"I", "J", "Ljava/math/BigInteger;"} {
		runtime.Method(native, "payableFromContract", "("+ContractType+ContractType+DummyType+amount+")V", nil).
			Method(native, "redPayableFromContract", "("+ContractType+ContractType+DummyType+amount+")V", nil)
	}
	runtime.Method(native, "mustBeFalse", "(ZLjava/lang/String;)V", nil).
		Method(native, "mustRedefineHashCode", "(Ljava/lang/Object;Ljava/lang/String;)V", nil).
		Method(native, "mustRedefineHashCodeOrToString", "(Ljava/lang/Object;Ljava/lang/String;)V", nil)
	out := make([][]byte, 0, 6)
	for _, b := range []*classfile.Builder{storage, contract, payable, redGreen, dummy, runtime} {
		out = append(out, Bytes(t, b))
	}
	return out
}
