package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordChunk()
		m.RecordUpload(10, time.Second)
		m.RecordCancel()
		m.RecordQuotaRejection()
		m.RecordReaperScan(3)
		m.RecordReaperPurge(ReasonStale)
		m.RecordDelete(1, 10)
		m.RecordArchive()
		m.RecordReconcileFinding("drift", 1)
	})
}

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordChunk()
	m.RecordChunk()
	m.RecordUpload(600, 20*time.Millisecond)
	m.RecordReaperPurge(ReasonCorrupt)
	m.RecordReaperScan(4)
	m.RecordDelete(3, 900)
	m.RecordReconcileFinding("orphan_artifact", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunksAccepted))
	assert.Equal(t, 600.0, testutil.ToFloat64(m.BytesStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReaperPurges.WithLabelValues(ReasonCorrupt)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ReaperSessions))
	assert.Equal(t, 900.0, testutil.ToFloat64(m.DeletedBytes))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_SecondRegistrationOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
