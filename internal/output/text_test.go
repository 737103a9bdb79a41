package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vburojevic/crashwatch/internal/crashstore"
	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/protocol"
)

func TestTextWriterPlainOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf, false)

	require.NoError(t, w.WriteReady(time.Now(), "s1", testLoc, 5*time.Second))
	require.NoError(t, w.WriteCrash(protocol.TelemetryParams{SessionID: "s1", LastHeartbeat: 8000}))
	require.NoError(t, w.WriteInfo("stopped", "s1"))
	require.NoError(t, w.WriteDrainSummary(testLoc, crashstore.ScanStats{Yielded: 1}))

	out := buf.String()
	assert.Contains(t, out, "READY watching s1 in "+testLoc.String())
	assert.Contains(t, out, "CRASH s1 last heartbeat 1970-01-01T00:00:08Z")
	assert.Contains(t, out, "stopped [s1]")
	assert.Contains(t, out, "drained 1, malformed 0, skipped 0")
	assert.NotContains(t, out, "\x1b[")
}

func TestWriteRecordTable(t *testing.T) {
	buf := &bytes.Buffer{}
	records := []domain.CrashRecord{
		{SessionID: "alpha", LastHeartbeat: 1000},
		{SessionID: "beta", LastHeartbeat: 2000},
	}

	require.NoError(t, WriteRecordTable(buf, testLoc, records))

	out := buf.String()
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "beta")
	assert.Contains(t, out, "2000")
}
