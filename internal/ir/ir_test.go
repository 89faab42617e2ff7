package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Canonical JSON
// ============================================================================

func TestMarshalCanonicalSortsAndEscapes(t *testing.T) {
	v := Object{
		"b": Int(-3),
		"a": Array{String("x<y>&z"), Bool(true)},
		"c": String("line\nbreak \u2028 \x01"),
	}
	out, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":[\"x<y>&z\",true],\"b\":-3,\"c\":\"line\\nbreak \u2028 \\u0001\"}", string(out))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	composed, err := MarshalCanonical(String("caf\u00e9"))
	require.NoError(t, err)
	decomposed, err := MarshalCanonical(String("cafe\u0301"))
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)
	_, err = MarshalCanonical(Array{nil})
	assert.Error(t, err)
	_, err = MarshalCanonical(String("\xff"))
	assert.Error(t, err)
}

func TestSortedKeysUsesUTF16Order(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D..., which sort before U+FF61.
	obj := Object{"\uff61": Int(1), "\U0001F600": Int(2), "a": Int(3)}
	assert.Equal(t, []string{"a", "\U0001F600", "\uff61"}, obj.SortedKeys())
}

func TestDecode(t *testing.T) {
	v, err := Decode([]byte(`{"n": 12, "s": "x", "l": [true]}`))
	require.NoError(t, err)
	assert.Equal(t, Object{"n": Int(12), "s": String("x"), "l": Array{Bool(true)}}, v)

	for _, bad := range []string{`1.5`, `null`, `{"a": null}`, `1 2`, `{`} {
		_, err := Decode([]byte(bad))
		assert.Error(t, err, bad)
	}
}

// ============================================================================
// Hashing
// ============================================================================

func TestHashIsDomainSeparated(t *testing.T) {
	v := Object{"k": String("v")}
	a := MustHash(DomainRun, v)
	b := MustHash(DomainReport, v)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, MustHash(DomainRun, Object{"k": String("v")}))
}

func TestRunKey(t *testing.T) {
	base := RunInput{Mode: "verify", Version: 1, WhitelistDigest: "w", Module: [][]byte{{1, 2}}}

	k1, err := base.Key()
	require.NoError(t, err)
	k2, err := base.Key()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	changed := base
	changed.Module = [][]byte{{1, 3}}
	k3, err := changed.Key()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	// The cost version only matters when instrumenting.
	costly := base
	costly.CostVersion = 9
	k4, err := costly.Key()
	require.NoError(t, err)
	assert.Equal(t, k1, k4)

	_, err = RunInput{}.Key()
	assert.Error(t, err)
}

func TestRunKeyCoversToolVersion(t *testing.T) {
	obj := RunInput{Mode: "instrument", CostVersion: 2}.object()
	assert.Equal(t, String(ToolVersion), obj["tool"])
	assert.Equal(t, String(FormatVersion), obj["format"])
	assert.Equal(t, Int(2), obj["cost_version"])

	_, ok := RunInput{Mode: "verify"}.object()["cost_version"]
	assert.False(t, ok)
}
