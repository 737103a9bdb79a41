package host

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vburojevic/crashwatch/internal/crashstore"
	"github.com/vburojevic/crashwatch/internal/detector"
	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/metrics"
	"github.com/vburojevic/crashwatch/internal/protocol"
	"github.com/vburojevic/crashwatch/internal/session"
	"github.com/vburojevic/crashwatch/internal/transport"
	"go.uber.org/zap/zaptest"
)

func receive(t *testing.T, conn transport.Conn) transport.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := conn.Receive(ctx)
	require.NoError(t, err)
	return msg
}

type collected struct {
	mu  sync.Mutex
	got []protocol.TelemetryParams
}

func (c *collected) handle(_ context.Context, p protocol.TelemetryParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, p)
	return nil
}

func (c *collected) all() []protocol.TelemetryParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.TelemetryParams(nil), c.got...)
}

func TestClientSendsStartHeartbeatStop(t *testing.T) {
	hostEnd, peer := transport.Pipe()
	c := NewClient(hostEnd, Options{Clock: clock.NewMock(), Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	start := protocol.StartParams{SessionID: "s1", RootDir: t.TempDir(), ExtensionID: "ext"}
	require.NoError(t, c.Start(ctx, start))
	require.NoError(t, c.Heartbeat(ctx))
	require.NoError(t, c.Stop(ctx))

	msg := receive(t, peer)
	assert.Equal(t, protocol.MethodStart, msg.Method)
	var got protocol.StartParams
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, start, got)

	assert.Equal(t, protocol.MethodHeartbeat, receive(t, peer).Method)
	assert.Equal(t, protocol.MethodStop, receive(t, peer).Method)
}

func TestClientRejectsInvalidStart(t *testing.T) {
	hostEnd, _ := transport.Pipe()
	c := NewClient(hostEnd, Options{})

	err := c.Start(context.Background(), protocol.StartParams{SessionID: "", RootDir: "/r", ExtensionID: "e"})
	assert.ErrorIs(t, err, domain.ErrInvalidSessionID)
}

func TestClientRunHeartbeatsOnInterval(t *testing.T) {
	mock := clock.NewMock()
	hostEnd, peer := transport.Pipe()
	c := NewClient(hostEnd, Options{Interval: 5 * time.Second, Clock: mock})

	ctx, cancel := context.WithCancel(context.Background())
	done := c.RunHeartbeats(ctx)

	for i := 0; i < 3; i++ {
		mock.Add(5 * time.Second)
		assert.Equal(t, protocol.MethodHeartbeat, receive(t, peer).Method)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}

func TestClientRunHeartbeatsStopsWhenDetectorGone(t *testing.T) {
	mock := clock.NewMock()
	hostEnd, peer := transport.Pipe()
	c := NewClient(hostEnd, Options{Interval: time.Second, Clock: mock})

	done := c.RunHeartbeats(context.Background())
	require.NoError(t, peer.Close())
	mock.Add(time.Second)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}

func TestClientListenDropsDuplicates(t *testing.T) {
	hostEnd, peer := transport.Pipe()
	c := NewClient(hostEnd, Options{Clock: clock.NewMock(), Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	p := protocol.TelemetryParams{SessionID: "s1", LastHeartbeat: 8000}
	require.NoError(t, peer.Send(ctx, protocol.MethodTelemetry, p))
	require.NoError(t, peer.Send(ctx, protocol.MethodTelemetry, p))
	require.NoError(t, peer.Send(ctx, protocol.MethodHeartbeat, nil))
	require.NoError(t, peer.Send(ctx, protocol.MethodTelemetry, protocol.TelemetryParams{SessionID: "s2", LastHeartbeat: 9000}))
	require.NoError(t, peer.Close())

	var got collected
	require.NoError(t, c.Listen(ctx, got.handle))
	assert.Equal(t, []protocol.TelemetryParams{p, {SessionID: "s2", LastHeartbeat: 9000}}, got.all())
}

func TestClientListenReturnsHandlerError(t *testing.T) {
	hostEnd, peer := transport.Pipe()
	c := NewClient(hostEnd, Options{})
	ctx := context.Background()

	require.NoError(t, peer.Send(ctx, protocol.MethodTelemetry, protocol.TelemetryParams{SessionID: "s1"}))
	boom := errors.New("boom")
	err := c.Listen(ctx, func(context.Context, protocol.TelemetryParams) error { return boom })
	assert.ErrorIs(t, err, boom)
}

// A stalled host learns about its crash from the same detector's relay.
func TestClientReceivesCrashFromDetector(t *testing.T) {
	mock := clock.NewMock()
	hostEnd, detEnd := transport.Pipe()
	m := metrics.NewNop()
	d := detector.New(detector.Options{
		Interval: 5 * time.Second,
		Clock:    mock,
		Logger:   zaptest.NewLogger(t),
		Metrics:  m,
		OpenStore: func(loc domain.Location) (crashstore.Store, error) {
			return crashstore.NewFileStore(loc), nil
		},
		Notifier: detector.ConnNotifier(detEnd),
	})
	t.Cleanup(func() { d.Shutdown(context.Background(), domain.ReasonExit, nil) })
	go func() { _, _ = detector.NewServer(d, detEnd).Serve(context.Background()) }()

	c := NewClient(hostEnd, Options{Clock: mock, Logger: zaptest.NewLogger(t)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := t.TempDir()
	require.NoError(t, c.Start(ctx, protocol.StartParams{SessionID: "s1", RootDir: root, ExtensionID: "ext"}))
	require.Eventually(t, func() bool { return len(d.Sessions()) == 1 }, time.Second, time.Millisecond)

	var got collected
	go func() { _ = c.Listen(ctx, got.handle) }()

	// no heartbeats: the session expires at 10s, the relay tick at 10s or 20s reports it
	mock.Add(10 * time.Second)
	require.Eventually(t, func() bool {
		state, _ := d.Sessions()[0].Snapshot()
		return state == session.StateCrashed
	}, time.Second, time.Millisecond)
	mock.Add(10 * time.Second)

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.TelemetryParams{SessionID: "s1", LastHeartbeat: 0}, got.all()[0])
	assert.NoFileExists(t, filepath.Join(root, "ext", domain.CrashDirName, "s1"))
}
