package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moka/internal/gascost"
	"github.com/roach88/moka/internal/verifier"
)

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_AllKeys(t *testing.T) {
	src := `
verification_version: 0
during_initialization: true
allow_self_charged: true
cost_version: 0
whitelist: table.cue
concurrency: 4
cache_path: /tmp/moka.db
cache_size: 16
metrics_path: /tmp/moka.prom
`
	cfg, err := Parse([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, Config{
		VerificationVersion:  0,
		DuringInitialization: true,
		AllowSelfCharged:     true,
		CostVersion:          0,
		Whitelist:            "table.cue",
		Concurrency:          4,
		CachePath:            "/tmp/moka.db",
		CacheSize:            16,
		MetricsPath:          "/tmp/moka.prom",
	}, cfg)
}

func TestParse_KeepsDefaultsForAbsentKeys(t *testing.T) {
	cfg, err := Parse([]byte("concurrency: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, verifier.MaxVersion, cfg.VerificationVersion)
	assert.Equal(t, gascost.Latest().Version(), cfg.CostVersion)
	assert.Equal(t, 2, cfg.Concurrency)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown key", "verbose: true\n"},
		{"wrong type", "concurrency: many\n"},
		{"future version", "verification_version: 99\n"},
		{"unknown cost version", "cost_version: 99\n"},
		{"negative concurrency", "concurrency: -1\n"},
		{"negative cache size", "cache_size: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestParse_VersionErrorIsTyped(t *testing.T) {
	_, err := Parse([]byte("verification_version: 7\n"))
	assert.True(t, errors.Is(err, verifier.ErrUnsupportedVersion))
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moka.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_size: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.CacheSize)
}

func TestLoad_DefaultFileIsOptional(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestVerifierOptions(t *testing.T) {
	cfg := Default()
	cfg.AllowSelfCharged = true
	cfg.Concurrency = 3
	opts := cfg.VerifierOptions()
	assert.Equal(t, verifier.Options{Version: verifier.MaxVersion, AllowSelfCharged: true, Concurrency: 3}, opts)
}
