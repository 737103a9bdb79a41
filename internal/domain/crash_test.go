package domain

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationDir(t *testing.T) {
	loc := Location{RootDir: "/tmp/root", ExtensionID: "ext.one"}
	assert.Equal(t, filepath.Join("/tmp/root", "ext.one", "crashedSessions"), loc.Dir())
}

func TestNewCrashRecord(t *testing.T) {
	at := time.UnixMilli(8000)
	rec := NewCrashRecord("s1", at)
	assert.Equal(t, "s1", rec.SessionID)
	assert.EqualValues(t, 8000, rec.LastHeartbeat)
	assert.True(t, rec.LastHeartbeatTime().Equal(at))
}

func TestValidateSessionID(t *testing.T) {
	require.NoError(t, ValidateSessionID("0f5b2c1e-session"))

	for _, id := range []string{"", "  ", "a/b", `a\b`, ".hidden", ".."} {
		err := ValidateSessionID(id)
		require.Error(t, err, id)
		assert.ErrorIs(t, err, ErrInvalidSessionID)
	}
}

func TestValidateSessionIDRejectsMarkerNames(t *testing.T) {
	for _, reason := range []ShutdownReason{ReasonExit, ReasonShutdown, ReasonDisconnect} {
		err := ValidateSessionID(string(reason))
		assert.ErrorIs(t, err, ErrInvalidSessionID, reason)
		assert.True(t, IsShutdownMarker(string(reason)))
	}
	assert.False(t, IsShutdownMarker("onExit2"))
	assert.NoError(t, ValidateSessionID("process.onDisconnect.1"))
}
