package host

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/vburojevic/crashwatch/internal/protocol"
)

func TestDedupeSuppressesSameRecord(t *testing.T) {
	f := NewDedupe(0, clock.NewMock())
	p := protocol.TelemetryParams{SessionID: "s1", LastHeartbeat: 8000}

	first := f.Check(p)
	assert.True(t, first.ShouldEmit)
	assert.Equal(t, 1, first.Count)

	second := f.Check(p)
	assert.False(t, second.ShouldEmit)
	assert.Equal(t, 2, second.Count)
	assert.Equal(t, map[string]int{"s1@8000": 1}, f.Suppressed())
}

func TestDedupeReportsLaterCrashOfSameSession(t *testing.T) {
	f := NewDedupe(0, clock.NewMock())

	assert.True(t, f.Check(protocol.TelemetryParams{SessionID: "s1", LastHeartbeat: 1000}).ShouldEmit)
	assert.True(t, f.Check(protocol.TelemetryParams{SessionID: "s1", LastHeartbeat: 9000}).ShouldEmit)
	assert.True(t, f.Check(protocol.TelemetryParams{SessionID: "s2", LastHeartbeat: 1000}).ShouldEmit)
}

func TestDedupeWindowExpires(t *testing.T) {
	mock := clock.NewMock()
	f := NewDedupe(time.Minute, mock)
	p := protocol.TelemetryParams{SessionID: "s1", LastHeartbeat: 8000}

	assert.True(t, f.Check(p).ShouldEmit)
	mock.Add(30 * time.Second)
	assert.False(t, f.Check(p).ShouldEmit)

	mock.Add(2 * time.Minute)
	assert.True(t, f.Check(p).ShouldEmit)
}

func TestDedupeReset(t *testing.T) {
	f := NewDedupe(0, clock.NewMock())
	p := protocol.TelemetryParams{SessionID: "s1", LastHeartbeat: 8000}

	f.Check(p)
	f.Reset()
	assert.True(t, f.Check(p).ShouldEmit)
	assert.Empty(t, f.Suppressed())
}
