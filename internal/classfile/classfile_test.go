package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Helpers
// ============================================================================

func sampleClass(t *testing.T) []byte {
	t.Helper()
	b := NewBuilder(AccPublic|AccSuper, "com/example/Counter", "").
		Implements("java/io/Serializable").
		Field(AccPrivate, "count", "I").
		Method(AccPublic, "<init>", "()V", func(a *Assembler) {
			a.Line(3).Load(OpAload, 0).Invoke(OpInvokespecial, "java/lang/Object", "<init>", "()V").Op(OpReturn)
		}).
		Method(AccPublic, "bump", "(I)I", func(a *Assembler) {
			loop := a.NewLabel()
			done := a.NewLabel()
			a.Line(7).Mark(loop).Load(OpIload, 1).Jump(OpIfle, done)
			a.Line(8).Load(OpAload, 0).Op(OpDup).Field(OpGetfield, "com/example/Counter", "count", "I").
				Int(1).Op(OpIadd).Field(OpPutfield, "com/example/Counter", "count", "I")
			a.Iinc(1, -1).Jump(OpGoto, loop)
			a.Line(10).Mark(done).Load(OpAload, 0).Field(OpGetfield, "com/example/Counter", "count", "I").Op(OpIreturn)
		}, Tag("io/takamaka/code/lang/View"))
	data, err := b.Bytes()
	require.NoError(t, err)
	return data
}

// ============================================================================
// Parse / Bytes
// ============================================================================

func TestParseRoundTripIsByteExact(t *testing.T) {
	data := sampleClass(t)

	cf, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "com/example/Counter", cf.Name)
	assert.Equal(t, "java/lang/Object", cf.Super)
	assert.Equal(t, []string{"java/io/Serializable"}, cf.Interfaces)
	require.Len(t, cf.Methods, 2)
	require.Len(t, cf.Fields, 1)

	out, err := cf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, out, "unedited class must re-serialise identically")
}

func TestParseRejectsMalformedInput(t *testing.T) {
	data := sampleClass(t)

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte{0xCA, 0xFE, 0xBA, 0xBF}, data[4:]...)},
		{"truncated", data[:len(data)/2]},
		{"trailing bytes", append(append([]byte{}, data...), 0)},
		{"future version", append(append([]byte{}, data[:6]...), append([]byte{0x00, 0x7f}, data[8:]...)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			var fe *FormatError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestCodeAndLineNumbers(t *testing.T) {
	cf, err := Parse(sampleClass(t))
	require.NoError(t, err)

	m := cf.Method("bump", "(I)I")
	require.NotNil(t, m)
	c, err := cf.Code(m)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), c.MaxLocals)
	assert.Equal(t, uint16(3), c.MaxStack)

	lines, err := c.LineNumbers()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, 7, LineOf(lines, 0))
	assert.Equal(t, 8, LineOf(lines, int(lines[1].StartPC)+1))
	assert.Equal(t, -1, LineOf(nil, 0))
}

func TestAnnotationsAreDecoded(t *testing.T) {
	cf, err := Parse(sampleClass(t))
	require.NoError(t, err)

	anns, err := cf.Annotations(cf.Method("bump", "(I)I").Attributes)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, "Lio/takamaka/code/lang/View;", anns[0].Type)
}

func TestClassElementAnnotation(t *testing.T) {
	data, err := NewBuilder(AccPublic, "a/B", "").
		Method(AccPublic, "m", "()V", func(a *Assembler) { a.Op(OpReturn) },
			Tag("io/takamaka/code/lang/FromContract", ClassElement("value", "a/C"))).
		Bytes()
	require.NoError(t, err)

	cf, err := Parse(data)
	require.NoError(t, err)
	anns, err := cf.Annotations(cf.Methods[0].Attributes)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	v, ok := anns[0].Element("value")
	require.True(t, ok)
	assert.Equal(t, byte('c'), v.Tag)
	assert.Equal(t, "La/C;", v.Class)
}

// ============================================================================
// Modified UTF-8
// ============================================================================

func TestMUTF8RoundTrip(t *testing.T) {
	for _, s := range []string{"", "plain", "nul\x00inside", "caffè", "emoji \U0001F600"} {
		enc := encodeMUTF8(s)
		assert.NotContains(t, string(enc), "\x00", "modified UTF-8 never contains a zero byte")
		dec, ok := decodeMUTF8(enc)
		require.True(t, ok, s)
		assert.Equal(t, s, dec)
	}
	_, ok := decodeMUTF8([]byte{0xc0})
	assert.False(t, ok)
}

// ============================================================================
// Descriptors
// ============================================================================

func TestParseMethodDescriptor(t *testing.T) {
	mt, err := ParseMethodDescriptor("(IJLjava/lang/String;[[D)V")
	require.NoError(t, err)
	assert.Equal(t, []Type{Int, Long, "Ljava/lang/String;", "[[D"}, mt.Params)
	assert.Equal(t, Void, mt.Return)
	assert.Equal(t, 5, mt.ParamSlots())
	assert.Equal(t, "(IJLjava/lang/String;[[D)V", mt.String())

	for _, bad := range []string{"", "()", "(V)V", "(L;)V", "(Ljava.lang.String;)V", "(I", "()VV", "(Lx)V"} {
		_, err := ParseMethodDescriptor(bad)
		assert.Error(t, err, bad)
	}
}

func TestTypeHelpers(t *testing.T) {
	name, ok := ObjectType("java/math/BigInteger").ClassName()
	assert.True(t, ok)
	assert.Equal(t, "java/math/BigInteger", name)
	_, ok = Type("[I").ClassName()
	assert.False(t, ok)
	assert.Equal(t, Type("I"), Type("[[I").Element())
	assert.True(t, Long.IsPrimitive())
	assert.False(t, Void.IsPrimitive())
	assert.Equal(t, 2, Double.Size())
	assert.Equal(t, "java.lang.Object", JavaName("java/lang/Object"))
	assert.Equal(t, "a/b", PackageOf("a/b/C"))
	assert.Equal(t, "", PackageOf("C"))
}

func TestListingResolvesOperands(t *testing.T) {
	cf, err := Parse(sampleClass(t))
	require.NoError(t, err)

	lines, err := cf.Listing(cf.Method("<init>", "()V"))
	require.NoError(t, err)
	assert.Equal(t, []ListingLine{
		{PC: 0, Text: "aload_0"},
		{PC: 1, Text: "invokespecial java/lang/Object.<init>()V"},
		{PC: 4, Text: "return"},
	}, lines)

	lines, err = cf.Listing(cf.Method("bump", "(I)I"))
	require.NoError(t, err)
	var texts []string
	for _, l := range lines {
		texts = append(texts, l.Text)
	}
	assert.Contains(t, texts, "getfield com/example/Counter.count I")
	assert.Contains(t, texts, "iinc 1 -1")
	assert.Contains(t, texts, "goto 0")

	text, err := Disassemble(cf)
	require.NoError(t, err)
	assert.Contains(t, text, "class com/example/Counter extends java/lang/Object\n\npublic <init>()V\n  stack=1 locals=1\n")
}

// ============================================================================
// Lambdas and bootstraps
// ============================================================================

func TestMetafactoryTargetAndBootstrapRewrite(t *testing.T) {
	body := MemberRef{Owner: "com/example/L", Name: "lambda$go$0", Descriptor: "()V"}
	data, err := NewBuilder(AccPublic|AccSuper, "com/example/L", "").
		Method(AccPrivate|AccStatic|AccSynthetic, body.Name, body.Descriptor, func(a *Assembler) { a.Op(OpReturn) }).
		Method(AccPublic|AccStatic, "go", "()V", func(a *Assembler) {
			a.Lambda("run", "()Ljava/lang/Runnable;", "()V", RefInvokeStatic, body).Op(OpPop)
			a.String("x").Concat("\x01!", "(Ljava/lang/String;)Ljava/lang/String;").Op(OpPop, OpReturn)
		}).
		Bytes()
	require.NoError(t, err)
	cf, err := Parse(data)
	require.NoError(t, err)

	bootstraps, err := cf.BootstrapMethods()
	require.NoError(t, err)
	require.Len(t, bootstraps, 2)
	c, err := cf.Code(cf.Method("go", "()V"))
	require.NoError(t, err)
	insns, err := Decode(c.Bytecode)
	require.NoError(t, err)
	var sites []uint16
	for _, in := range insns {
		if in.Op == OpInvokedynamic {
			sites = append(sites, uint16(in.Index))
		}
	}
	require.Len(t, sites, 2)

	site, ok := MetafactoryTarget(cf.Pool, bootstraps, sites[0])
	require.True(t, ok)
	assert.Equal(t, uint16(0), site.Bootstrap)
	assert.Equal(t, RefInvokeStatic, site.Kind)
	assert.Equal(t, body.Name, site.Target.Name)
	assert.Same(t, cf.Method(body.Name, body.Descriptor), cf.LambdaBody(site))

	_, ok = MetafactoryTarget(cf.Pool, bootstraps, sites[1])
	assert.False(t, ok, "string concatenation is not a lambda")

	handle, err := cf.Pool.AddMethodHandle(RefInvokeSpecial, body)
	require.NoError(t, err)
	bm := bootstraps[0]
	bm.Arguments = append([]uint16(nil), bm.Arguments...)
	bm.Arguments[1] = handle
	require.NoError(t, cf.SetBootstrap(0, bm))
	assert.Error(t, cf.SetBootstrap(2, bm))

	indy, err := cf.Pool.AddInvokeDynamic(0, "run", "(Lcom/example/L;)Ljava/lang/Runnable;")
	require.NoError(t, err)
	_, name, desc, err := cf.Pool.InvokeDynamic(indy)
	require.NoError(t, err)
	assert.Equal(t, "run", name)
	assert.Equal(t, "(Lcom/example/L;)Ljava/lang/Runnable;", desc)

	out, err := cf.Bytes()
	require.NoError(t, err)
	again, err := Parse(out)
	require.NoError(t, err)
	rewritten, err := again.BootstrapMethods()
	require.NoError(t, err)
	require.Len(t, rewritten, 2)
	site, ok = MetafactoryTarget(again.Pool, rewritten, sites[0])
	require.True(t, ok)
	assert.Equal(t, RefInvokeSpecial, site.Kind)
	assert.Equal(t, rewritten[1], bootstraps[1])
}
