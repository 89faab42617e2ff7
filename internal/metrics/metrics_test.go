package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun("verify", OutcomeOK, 10*time.Millisecond)
	m.ObserveRun("verify", OutcomeOK, 20*time.Millisecond)
	m.ObserveRun("verify", OutcomeRejected, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Runs.WithLabelValues("verify", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("verify", OutcomeRejected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
}

func TestObserveIssueAndLookup(t *testing.T) {
	m := New()
	m.ObserveIssue("illegal-call", "error")
	m.ObserveIssue("illegal-call", "error")
	m.ObserveLookup(true)
	m.ObserveLookup(false)
	m.ObserveLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Issues.WithLabelValues("illegal-call", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
}

func TestRegistriesArePrivate(t *testing.T) {
	a, b := New(), New()
	a.ObserveLookup(true)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheLookups.WithLabelValues("hit")))
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.ObserveRun("instrument", OutcomeOK, time.Millisecond)

	path := filepath.Join(t.TempDir(), "moka.prom")
	require.NoError(t, m.WriteFile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `moka_run_total{mode="instrument",outcome="ok"} 1`)
	assert.Contains(t, string(b), "# TYPE moka_run_duration_seconds histogram")
}
