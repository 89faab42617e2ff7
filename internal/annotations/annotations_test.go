package annotations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moka/internal/annotations"
	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/testutil"
)

const (
	pub   = classfile.AccPublic | classfile.AccSuper
	iface = classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract
)

func resolver(t *testing.T, module ...*classfile.Builder) *annotations.Resolver {
	t.Helper()
	var in classindex.Input
	for _, b := range module {
		in.Module = append(in.Module, testutil.Bytes(t, b))
	}
	in.Classpath = testutil.Base(t)
	idx, err := classindex.Build(in, testutil.Platform(t))
	require.NoError(t, err)
	return annotations.New(idx)
}

func ret(a *classfile.Assembler) { a.Op(classfile.OpReturn) }

// =============================================================================
// TagSet
// =============================================================================

func TestDecode(t *testing.T) {
	s, err := annotations.Decode([]classfile.Annotation{
		testutil.FromContract(),
		testutil.Payable,
		classfile.Tag("java/lang/Deprecated"),
	})
	require.NoError(t, err)
	assert.True(t, s.Has(annotations.Entry))
	assert.True(t, s.Has(annotations.Payable))
	assert.False(t, s.Has(annotations.View))
	assert.Equal(t, classindex.ContractName, s.Bound)
	assert.Equal(t, []annotations.Kind{annotations.Entry, annotations.Payable}, s.Kinds())
	assert.Equal(t, "@FromContract(io.takamaka.code.lang.Contract) @Payable", s.String())

	s, err = annotations.Decode([]classfile.Annotation{testutil.FromContract(testutil.PayableContract)})
	require.NoError(t, err)
	assert.Equal(t, testutil.PayableContract, s.Bound)

	empty, err := annotations.Decode(nil)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, "no annotations", empty.String())
}

func TestDecode_BadBound(t *testing.T) {
	bad := classfile.Tag(testutil.Lang+"FromContract", classfile.Element{
		Name:  "value",
		Value: classfile.ElementValue{Tag: 's'},
	})
	_, err := annotations.Decode([]classfile.Annotation{bad})
	assert.ErrorContains(t, err, "want a class")
}

func TestTagSet_WithWithout(t *testing.T) {
	var s annotations.TagSet
	s = s.With(annotations.Entry, testutil.Contract).With(annotations.View, "ignored")
	assert.Equal(t, testutil.Contract, s.Bound)
	s = s.Without(annotations.Entry)
	assert.Empty(t, s.Bound)
	assert.Equal(t, []annotations.Kind{annotations.View}, s.Kinds())
}

// =============================================================================
// Resolve
// =============================================================================

func TestResolve_DeclaredOnOwner(t *testing.T) {
	r := resolver(t,
		classfile.NewBuilder(pub, "com/example/Shop", testutil.Contract).
			Method(classfile.AccPublic, "buy", "(I)V", ret, testutil.FromContract(), testutil.Payable),
	)

	res, err := r.Resolve("com/example/Shop", "buy", "(I)V")
	require.NoError(t, err)
	assert.True(t, res.Found())
	assert.Equal(t, "com/example/Shop", res.Declarer)
	assert.True(t, res.Tags.Has(annotations.Payable))
	assert.Empty(t, res.Conflicts)
}

func TestResolve_InheritedFromSuperclass(t *testing.T) {
	r := resolver(t, classfile.NewBuilder(pub, "com/example/Wallet", testutil.PayableContract))

	res, err := r.Resolve("com/example/Wallet", "receive", "(I)V")
	require.NoError(t, err)
	assert.Equal(t, testutil.PayableContract, res.Declarer)
	assert.True(t, res.Tags.Has(annotations.Entry))
	assert.True(t, res.Tags.Has(annotations.Payable))
}

func TestResolve_NotDeclared(t *testing.T) {
	r := resolver(t, classfile.NewBuilder(pub, "com/example/Plain", ""))

	res, err := r.Resolve("com/example/Plain", "absent", "()V")
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.True(t, res.Tags.IsEmpty())
}

func TestResolve_OverrideWithoutTagConflicts(t *testing.T) {
	r := resolver(t, classfile.NewBuilder(pub, "com/example/Wallet", testutil.PayableContract).
		Method(classfile.AccPublic, "receive", "(I)V", ret))

	res, err := r.Resolve("com/example/Wallet", "receive", "(I)V")
	require.NoError(t, err)
	assert.True(t, res.Tags.IsEmpty(), "the overriding declaration decides")
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "com/example/Wallet", res.Conflicts[0].Override.Class)
	assert.Equal(t, testutil.PayableContract, res.Conflicts[0].Overridden.Class)
	assert.False(t, res.Conflicts[0].Sibling)
}

func TestResolve_EntryBounds(t *testing.T) {
	base := func() *classfile.Builder {
		return classfile.NewBuilder(pub, "com/example/Base", testutil.Contract).
			Method(classfile.AccPublic, "act", "()V", ret, testutil.FromContract(testutil.PayableContract))
	}
	tests := []struct {
		name      string
		bound     string
		conflicts int
	}{
		{name: "same bound", bound: testutil.PayableContract},
		{name: "wider bound", bound: testutil.Contract},
		{name: "narrower bound", bound: "com/example/Special", conflicts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resolver(t,
				base(),
				classfile.NewBuilder(pub, "com/example/Special", testutil.PayableContract),
				classfile.NewBuilder(pub, "com/example/Child", "com/example/Base").
					Method(classfile.AccPublic, "act", "()V", ret, testutil.FromContract(tt.bound)),
			)
			res, err := r.Resolve("com/example/Child", "act", "()V")
			require.NoError(t, err)
			assert.Len(t, res.Conflicts, tt.conflicts)
		})
	}
}

func TestResolve_Diamond(t *testing.T) {
	abstract := classfile.AccPublic | classfile.AccAbstract
	r := resolver(t,
		classfile.NewBuilder(iface, "com/example/L", "").
			Method(abstract, "run", "()V", nil, testutil.FromContract()),
		classfile.NewBuilder(iface, "com/example/R", "").
			Method(abstract, "run", "()V", nil),
		classfile.NewBuilder(pub|classfile.AccAbstract, "com/example/D", testutil.Contract).
			Implements("com/example/L", "com/example/R"),
	)

	res, err := r.Resolve("com/example/D", "run", "()V")
	require.NoError(t, err)
	assert.Equal(t, "com/example/L", res.Declarer, "L is declared first")
	assert.True(t, res.Tags.Has(annotations.Entry))
	require.Len(t, res.Conflicts, 1)
	assert.True(t, res.Conflicts[0].Sibling)
	assert.Equal(t, "com/example/L", res.Conflicts[0].Override.Class)
	assert.Equal(t, "com/example/R", res.Conflicts[0].Overridden.Class)

	again, err := r.Resolve("com/example/D", "run", "()V")
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestResolve_SkipsBridgesPrivateAndStatic(t *testing.T) {
	r := resolver(t,
		classfile.NewBuilder(pub, "com/example/Base", testutil.Contract).
			Method(classfile.AccPrivate, "hidden", "()V", ret, testutil.View).
			Method(classfile.AccPublic|classfile.AccStatic, "util", "()V", ret, testutil.View).
			Method(classfile.AccPublic, "value", "()Ljava/lang/Object;", func(a *classfile.Assembler) {
				a.Op(classfile.OpAconstNull, classfile.OpAreturn)
			}, testutil.View),
		classfile.NewBuilder(pub, "com/example/Child", "com/example/Base").
			Method(classfile.AccPublic|classfile.AccBridge|classfile.AccSynthetic, "value", "()Ljava/lang/Object;", func(a *classfile.Assembler) {
				a.Op(classfile.OpAconstNull, classfile.OpAreturn)
			}).
			Method(classfile.AccPrivate, "hidden", "()V", ret).
			Method(classfile.AccPublic, "util", "()V", ret),
	)

	res, err := r.Resolve("com/example/Child", "value", "()Ljava/lang/Object;")
	require.NoError(t, err)
	assert.Equal(t, "com/example/Base", res.Declarer, "the bridge is transparent")
	assert.True(t, res.Tags.Has(annotations.View))

	res, err = r.Resolve("com/example/Child", "hidden", "()V")
	require.NoError(t, err)
	assert.Equal(t, "com/example/Child", res.Declarer)
	assert.Len(t, res.Declarations, 1)
	assert.Empty(t, res.Conflicts)

	res, err = r.Resolve("com/example/Child", "util", "()V")
	require.NoError(t, err)
	assert.Len(t, res.Declarations, 1, "static methods are not overridden")
}

func TestResolve_ConstructorsStayInOwner(t *testing.T) {
	r := resolver(t, classfile.NewBuilder(pub, "com/example/Shop", testutil.Contract).
		Method(classfile.AccPublic, "<init>", "()V", testutil.Constructor(testutil.Contract)))

	res, err := r.Resolve("com/example/Shop", "<init>", "()V")
	require.NoError(t, err)
	assert.Len(t, res.Declarations, 1)
}

func TestResolve_InstrumentedDescriptor(t *testing.T) {
	instrumented := "(I" + testutil.ContractType + testutil.DummyType + ")V"
	r := resolver(t, classfile.NewBuilder(pub, "com/example/Old", testutil.Contract).
		Method(classfile.AccPublic, "pay", instrumented, ret, testutil.FromContract(), testutil.Payable))

	res, err := r.Resolve("com/example/Old", "pay", "(I)V")
	require.NoError(t, err)
	assert.True(t, res.Found())
	assert.Equal(t, instrumented, res.Descriptor)
	assert.True(t, res.Tags.Has(annotations.Payable))
}

// =============================================================================
// Class tags and compatibility
// =============================================================================

func TestClassTags(t *testing.T) {
	r := resolver(t,
		classfile.NewBuilder(pub, "com/example/Api", testutil.Contract).Annotate(testutil.Exported, testutil.Whitelisted),
		classfile.NewBuilder(pub, "com/example/Child", "com/example/Api"),
	)

	s, err := r.ClassTags("com/example/Api")
	require.NoError(t, err)
	assert.True(t, s.Has(annotations.Exported))

	s, err = r.ClassTags("com/example/Child")
	require.NoError(t, err)
	assert.False(t, s.Has(annotations.Exported))

	s, err = r.ClassTags(classindex.ObjectName)
	require.NoError(t, err)
	assert.True(t, s.IsEmpty())
}

func TestCompatible(t *testing.T) {
	r := resolver(t)
	entry := func(bound string) annotations.TagSet {
		return annotations.TagSet{}.With(annotations.Entry, bound)
	}
	view := annotations.TagSet{}.With(annotations.View, "")

	assert.True(t, r.Compatible(annotations.TagSet{}, annotations.TagSet{}))
	assert.True(t, r.Compatible(view, view))
	assert.True(t, r.Compatible(view.With(annotations.Whitelisted, ""), view))
	assert.False(t, r.Compatible(view, annotations.TagSet{}))
	assert.True(t, r.Compatible(entry(testutil.Contract), entry(testutil.PayableContract)))
	assert.False(t, r.Compatible(entry(testutil.PayableContract), entry(testutil.Contract)))
	assert.False(t, r.Compatible(entry(testutil.Contract).With(annotations.Payable, ""), entry(testutil.Contract)))
}

func TestInstrumented(t *testing.T) {
	d, ok := annotations.Instrumented("(IJ)Z")
	require.True(t, ok)
	assert.Equal(t, "(IJ"+testutil.ContractType+testutil.DummyType+")Z", d)

	_, ok = annotations.Instrumented("bogus")
	assert.False(t, ok)
}
