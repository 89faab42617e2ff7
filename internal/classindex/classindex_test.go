package classindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moka/internal/classfile"
	"github.com/roach88/moka/internal/classindex"
	"github.com/roach88/moka/internal/testutil"
)

const pub = classfile.AccPublic | classfile.AccSuper

func build(t *testing.T, module ...*classfile.Builder) *classindex.Index {
	t.Helper()
	var in classindex.Input
	for _, b := range module {
		in.Module = append(in.Module, testutil.Bytes(t, b))
	}
	in.Classpath = testutil.Base(t)
	idx, err := classindex.Build(in, testutil.Platform(t))
	require.NoError(t, err)
	return idx
}

// =============================================================================
// Build
// =============================================================================

func TestBuild_ModuleOrderAndOrigins(t *testing.T) {
	idx := build(t,
		classfile.NewBuilder(pub, "com/example/B", ""),
		classfile.NewBuilder(pub, "com/example/A", ""),
	)

	var names []string
	for _, c := range idx.Module() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"com/example/B", "com/example/A"}, names)

	c, ok := idx.Lookup(classindex.StorageName)
	require.True(t, ok)
	assert.Equal(t, classindex.Classpath, c.Origin)
	assert.True(t, c.Loaded())

	obj, ok := idx.Lookup(classindex.ObjectName)
	require.True(t, ok)
	assert.Equal(t, classindex.Platform, obj.Origin)
	assert.False(t, obj.Loaded())
	assert.Equal(t, -1, obj.Position)

	_, ok = idx.Lookup("com/example/Missing")
	assert.False(t, ok)
}

func TestBuild_Malformed(t *testing.T) {
	platform := testutil.Platform(t)
	good := testutil.Bytes(t, classfile.NewBuilder(pub, "com/example/A", ""))

	tests := []struct {
		name  string
		input classindex.Input
		index int
		class string
		want  string
	}{
		{
			name:  "unparsable",
			input: classindex.Input{Module: [][]byte{good, {0xCA, 0xFE}}},
			index: 1,
			want:  "malformed input #1",
		},
		{
			name:  "duplicate",
			input: classindex.Input{Module: [][]byte{good}, Classpath: [][]byte{good}},
			index: 1,
			class: "com/example/A",
			want:  "duplicate class, first defined by input #0",
		},
		{
			name: "shadows platform type",
			input: classindex.Input{Module: [][]byte{
				testutil.Bytes(t, classfile.NewBuilder(pub, "java/lang/Math", "")),
			}},
			index: 0,
			class: "java/lang/Math",
			want:  "redefines a platform type",
		},
		{
			name: "unresolved superclass",
			input: classindex.Input{Module: [][]byte{
				testutil.Bytes(t, classfile.NewBuilder(pub, "com/example/C", "com/example/Gone")),
			}},
			index: 0,
			class: "com/example/C",
			want:  "ancestor com/example/Gone cannot be resolved",
		},
		{
			name: "unresolved interface",
			input: classindex.Input{Module: [][]byte{
				testutil.Bytes(t, classfile.NewBuilder(pub, "com/example/C", "").Implements("com/example/I")),
			}},
			index: 0,
			class: "com/example/C",
			want:  "ancestor com/example/I cannot be resolved",
		},
		{
			name: "superclass cycle",
			input: classindex.Input{Module: [][]byte{
				testutil.Bytes(t, classfile.NewBuilder(pub, "com/example/X", "com/example/Y")),
				testutil.Bytes(t, classfile.NewBuilder(pub, "com/example/Y", "com/example/X")),
			}},
			index: 0,
			class: "com/example/X",
			want:  "superclass cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classindex.Build(tt.input, platform)
			require.Error(t, err)
			assert.True(t, classindex.IsMalformedInput(err))

			var me *classindex.MalformedInputError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.index, me.Index)
			assert.Equal(t, tt.class, me.Class)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuild_ParseErrorIsWrapped(t *testing.T) {
	_, err := classindex.Build(classindex.Input{Module: [][]byte{{0, 0, 0, 0}}}, nil)
	var fe *classfile.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "class file", fe.Context)
}

// =============================================================================
// Hierarchy
// =============================================================================

// diamond: D extends C implements L, R; L and R both extend Top.
func diamond() []*classfile.Builder {
	iface := classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract
	return []*classfile.Builder{
		classfile.NewBuilder(iface, "com/example/Top", ""),
		classfile.NewBuilder(iface, "com/example/L", "").Implements("com/example/Top"),
		classfile.NewBuilder(iface, "com/example/R", "").Implements("com/example/Top"),
		classfile.NewBuilder(pub, "com/example/C", testutil.Contract),
		classfile.NewBuilder(pub, "com/example/D", "com/example/C").Implements("com/example/L", "com/example/R"),
	}
}

func TestAncestors_DepthFirstEachOnce(t *testing.T) {
	idx := build(t, diamond()...)

	assert.Equal(t, []string{
		"com/example/C",
		testutil.Contract,
		testutil.Storage,
		classindex.ObjectName,
		"com/example/L",
		"com/example/Top",
		"com/example/R",
	}, idx.Ancestors("com/example/D"))

	assert.Equal(t, "com/example/D", idx.Lineage("com/example/D")[0])
	// Memoised answers are stable.
	assert.Equal(t, idx.Ancestors("com/example/D"), idx.Ancestors("com/example/D"))
}

func TestAncestors_PlatformTypes(t *testing.T) {
	idx := build(t)

	assert.Equal(t, []string{
		"java/lang/Exception",
		"java/lang/Throwable",
		classindex.ObjectName,
		"java/io/Serializable",
	}, idx.Ancestors(classindex.RuntimeExceptionName))
	assert.Empty(t, idx.Ancestors(classindex.ObjectName))
	assert.Empty(t, idx.Ancestors("com/example/Missing"))
}

func TestIsSubtype(t *testing.T) {
	idx := build(t, diamond()...)

	assert.True(t, idx.IsSubtype("com/example/D", "com/example/Top"))
	assert.True(t, idx.IsSubtype("com/example/D", "com/example/D"))
	assert.True(t, idx.IsSubtype("com/example/L", classindex.ObjectName))
	assert.False(t, idx.IsSubtype("com/example/Top", "com/example/L"))
	assert.False(t, idx.IsSubtype("com/example/C", "com/example/L"))
}

func TestIsSubtype_Concurrent(t *testing.T) {
	idx := build(t, diamond()...)
	done := make(chan bool)
	for i := 0; i < 8; i++ {
		go func() {
			done <- idx.IsSubtype("com/example/D", testutil.Storage) && !idx.IsSubtype("com/example/R", "com/example/L")
		}()
	}
	for i := 0; i < 8; i++ {
		assert.True(t, <-done)
	}
}

// =============================================================================
// Classification
// =============================================================================

func TestClassification(t *testing.T) {
	idx := build(t,
		classfile.NewBuilder(pub, "com/example/Wallet", testutil.PayableContract),
		classfile.NewBuilder(pub, "com/example/Split", testutil.RedGreenContract),
		classfile.NewBuilder(pub, "com/example/Record", testutil.Storage),
		classfile.NewBuilder(pub, "com/example/Plain", ""),
		classfile.NewBuilder(pub|classfile.AccFinal|classfile.AccEnum, "com/example/Color", classindex.EnumName),
		classfile.NewBuilder(classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract, "com/example/Shape", ""),
	)

	tests := []struct {
		name                         string
		storage, contract, twoBalance bool
		iface, enum                  bool
	}{
		{name: "com/example/Wallet", storage: true, contract: true},
		{name: "com/example/Split", storage: true, contract: true, twoBalance: true},
		{name: "com/example/Record", storage: true},
		{name: "com/example/Plain"},
		{name: "com/example/Color", enum: true},
		{name: "com/example/Shape", iface: true},
		{name: "java/lang/Comparable", iface: true},
		{name: "java/math/RoundingMode", enum: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.storage, idx.IsStorageType(tt.name), "storage")
			assert.Equal(t, tt.contract, idx.IsContractType(tt.name), "contract")
			assert.Equal(t, tt.twoBalance, idx.IsTwoBalanceContractType(tt.name), "two-balance")
			assert.Equal(t, tt.iface, idx.IsInterface(tt.name), "interface")
			assert.Equal(t, tt.enum, idx.IsEnum(tt.name), "enum")
		})
	}
}

func TestIsLazilyLoadedFieldType(t *testing.T) {
	idx := build(t,
		classfile.NewBuilder(pub|classfile.AccEnum, "com/example/Color", classindex.EnumName),
		classfile.NewBuilder(pub, "com/example/Record", testutil.Storage),
	)

	eager := []classfile.Type{"I", "J", "Z", "Ljava/lang/String;", "Ljava/math/BigInteger;", "Lcom/example/Color;"}
	lazy := []classfile.Type{"Lcom/example/Record;", "Ljava/lang/Object;", "[I", "[Ljava/lang/String;"}
	for _, ty := range eager {
		assert.False(t, idx.IsLazilyLoadedFieldType(ty), ty)
	}
	for _, ty := range lazy {
		assert.True(t, idx.IsLazilyLoadedFieldType(ty), ty)
	}
}

// =============================================================================
// Member resolution
// =============================================================================

func TestResolveMethodAndField(t *testing.T) {
	idx := build(t,
		classfile.NewBuilder(pub, "com/example/Base", testutil.Contract).
			Field(classfile.AccProtected, "count", "I").
			Method(classfile.AccPublic, "get", "()I", func(a *classfile.Assembler) {
				a.Op(classfile.OpIconst0, classfile.OpIreturn)
			}),
		classfile.NewBuilder(pub, "com/example/Child", "com/example/Base"),
	)

	c, m, ok := idx.ResolveMethod("com/example/Child", "get", "()I")
	require.True(t, ok)
	assert.Equal(t, "com/example/Base", c.Name)
	assert.Equal(t, "get", m.Name)

	c, _, ok = idx.ResolveMethod("com/example/Child", "caller", testutil.CallerDesc)
	require.True(t, ok)
	assert.Equal(t, testutil.Storage, c.Name)

	c, f, ok := idx.ResolveField("com/example/Child", "count", "I")
	require.True(t, ok)
	assert.Equal(t, "com/example/Base", c.Name)
	assert.Equal(t, "I", f.Descriptor)

	_, _, ok = idx.ResolveMethod("com/example/Child", "hashCode", "()I")
	assert.False(t, ok, "platform types declare no members")

	assert.True(t, idx.DeclaresMethod("com/example/Base", "get", "()I"))
	assert.False(t, idx.DeclaresMethod("com/example/Child", "get", "()I"))
}

func TestRedefinesHashCode(t *testing.T) {
	idx := build(t,
		classfile.NewBuilder(pub, "com/example/Hashed", "").
			Method(classfile.AccPublic, "hashCode", "()I", func(a *classfile.Assembler) {
				a.Op(classfile.OpIconst1, classfile.OpIreturn)
			}),
		classfile.NewBuilder(pub, "com/example/Printed", "").
			Method(classfile.AccPublic, "toString", "()Ljava/lang/String;", func(a *classfile.Assembler) {
				a.String("x").Op(classfile.OpAreturn)
			}),
		classfile.NewBuilder(pub, "com/example/Sub", "com/example/Hashed"),
		classfile.NewBuilder(pub, "com/example/Bare", ""),
	)

	assert.True(t, idx.RedefinesHashCode("com/example/Hashed"))
	assert.True(t, idx.RedefinesHashCode("com/example/Sub"))
	assert.False(t, idx.RedefinesHashCode("com/example/Printed"))
	assert.True(t, idx.RedefinesHashCodeOrToString("com/example/Printed"))
	assert.False(t, idx.RedefinesHashCodeOrToString("com/example/Bare"))
	assert.True(t, idx.RedefinesHashCode(classindex.StringName))
	assert.False(t, idx.RedefinesHashCode(classindex.ObjectName))
}
