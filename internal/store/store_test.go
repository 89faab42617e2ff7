package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func instrumentEntry(key string) Entry {
	return Entry{
		Key:    key,
		Mode:   ModeInstrument,
		Report: []byte(`{"has_errors":false}`),
		Artifacts: []Artifact{
			{Name: "b/Second", Bytes: []byte{0xca, 0xfe, 0x02}},
			{Name: "a/First", Bytes: []byte{0xca, 0xfe, 0x01}},
		},
	}
}

// =============================================================================
// Open
// =============================================================================

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"runs", "artifacts"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_RefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestClose_Nil(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

// =============================================================================
// Put / Get
// =============================================================================

func TestPutGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Put(ctx, instrumentEntry("k1")))

	got, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ModeInstrument, got.Mode)
	assert.False(t, got.HasErrors)
	assert.Equal(t, `{"has_errors":false}`, string(got.Report))
	require.Len(t, got.Artifacts, 2)
	assert.Equal(t, "b/Second", got.Artifacts[0].Name, "artifacts keep their order")
	assert.Equal(t, "a/First", got.Artifacts[1].Name)
}

func TestGet_Missing(t *testing.T) {
	s := createTestStore(t)
	_, ok, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Entry{Key: "k", Mode: ModeVerify, HasErrors: true, Report: []byte("{}")}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.HasErrors)
	assert.Empty(t, got.Artifacts)
}

func TestPut_FirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, WithCacheSize(1))

	require.NoError(t, s.Put(ctx, Entry{Key: "k", Mode: ModeVerify, Report: []byte("first")}))
	require.NoError(t, s.Put(ctx, Entry{Key: "k", Mode: ModeVerify, Report: []byte("second")}))
	// Evict k so the read goes to SQLite.
	require.NoError(t, s.Put(ctx, Entry{Key: "other", Mode: ModeVerify, Report: []byte("x")}))

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(got.Report))
}

func TestPut_Validates(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	tests := []struct {
		name  string
		entry Entry
	}{
		{"no key", Entry{Mode: ModeVerify}},
		{"unknown mode", Entry{Key: "k", Mode: "run"}},
		{"verify with artifacts", Entry{Key: "k", Mode: ModeVerify, Artifacts: []Artifact{{Name: "A"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.Put(ctx, tt.entry))
		})
	}
}

func TestGet_CachesReads(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Put(ctx, instrumentEntry("k")))
	s.lru.Purge()

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.lru.Contains("k"))
}

// =============================================================================
// List
// =============================================================================

func TestList_InsertionOrderAndMode(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Put(ctx, Entry{Key: "z", Mode: ModeVerify, Report: []byte("{}")}))
	require.NoError(t, s.Put(ctx, instrumentEntry("a")))
	require.NoError(t, s.Put(ctx, Entry{Key: "m", Mode: ModeVerify, HasErrors: true, Report: []byte("{}")}))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	keys := make([]string, len(all))
	for i, sum := range all {
		keys[i] = sum.Key
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)

	verify, err := s.List(ctx, ModeVerify)
	require.NoError(t, err)
	require.Len(t, verify, 2)
	assert.Equal(t, "m", verify[1].Key)
	assert.True(t, verify[1].HasErrors)
}
