package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/host"
	"github.com/vburojevic/crashwatch/internal/output"
	"github.com/vburojevic/crashwatch/internal/protocol"
	"github.com/vburojevic/crashwatch/internal/transport"
	"go.uber.org/zap"
)

// SuperviseCmd plays the host: it spawns `crashwatch serve`, keeps one
// session alive and prints every crash notification the detector relays
type SuperviseCmd struct {
	RootDir     string        `required:"" type:"path" help:"Root directory for crash records"`
	ExtensionID string        `default:"crashwatch" help:"Extension id; records go to ROOT/EXTENSION/crashedSessions"`
	SessionID   string        `help:"Session id (default: random UUID)"`
	Interval    time.Duration `default:"${config_interval}" help:"Heartbeat interval"`
	StallAfter  time.Duration `help:"Stop heartbeating after this long to provoke a crash (0 = never)"`
	Duration    time.Duration `help:"Stop cleanly after this long (0 = until interrupted)"`
	Output      string        `short:"o" type:"path" help:"Also append crash notifications to this file"`
	Detector    string        `type:"path" help:"Detector executable (default: this binary)"`
}

// Run executes the supervise command
func (c *SuperviseCmd) Run(globals *Globals) error {
	if err := validateInterval(globals, "interval", c.Interval); err != nil {
		return err
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if err := domain.ValidateSessionID(c.SessionID); err != nil {
		return outputErrorCommon(globals, codeInvalidFlags, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	bin := c.Detector
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return outputErrorCommon(globals, codeDetector, err.Error(), "pass --detector")
		}
		bin = self
	}

	// the detector outlives a cancelled ctx until it has seen Stop
	cmd := exec.Command(bin, c.detectorArgs(globals)...)
	cmd.Stderr = globals.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return outputErrorCommon(globals, codeDetector, err.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return outputErrorCommon(globals, codeDetector, err.Error())
	}
	if err := cmd.Start(); err != nil {
		return outputErrorCommon(globals, codeDetector, fmt.Sprintf("failed to start detector: %v", err), "check --detector")
	}
	globals.Debug("Started detector pid %d: %s", cmd.Process.Pid, bin)

	conn := transport.NewStreamConn(stdout, stdin)
	runErr := c.supervise(ctx, globals, conn)
	_ = conn.Close()

	waitErr := cmd.Wait()
	if runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return outputErrorCommon(globals, codeDetector, fmt.Sprintf("detector exited: %v", waitErr))
	}
	return nil
}

func (c *SuperviseCmd) detectorArgs(globals *Globals) []string {
	args := []string{
		"--level", globals.Level,
		"serve",
		"--interval", c.Interval.String(),
		"--parent-pid", strconv.Itoa(os.Getpid()),
	}
	if globals.Verbose {
		args = append([]string{"--verbose"}, args...)
	}
	return args
}

type crashWriter interface {
	WriteCrash(p protocol.TelemetryParams) error
	WriteReady(ts time.Time, sessionID string, loc domain.Location, interval time.Duration) error
	WriteInfo(message, sessionID string) error
}

// supervise drives one session over conn until ctx is done, Duration
// elapses or the detector goes away. It always tries to send Stop.
func (c *SuperviseCmd) supervise(ctx context.Context, globals *Globals, conn transport.Conn) error {
	logger, err := newLogger(globals)
	if err != nil {
		return outputErrorCommon(globals, codeConfig, err.Error())
	}
	defer func() { _ = logger.Sync() }()

	var writer crashWriter
	if globals.Format == "ndjson" {
		writer = output.NewNDJSONWriter(globals.Stdout)
	} else {
		writer = output.NewTextWriter(globals.Stdout, styled(globals))
	}

	var fileOut *output.NDJSONWriter
	if c.Output != "" {
		sink, err := openSink(c.Output)
		if err != nil {
			return outputErrorCommon(globals, codeStoreIO, err.Error())
		}
		defer sink.Close()
		fileOut = output.NewNDJSONWriter(sink)
	}

	client := host.NewClient(conn, host.Options{
		Interval:     c.Interval,
		Logger:       logger,
		DedupeWindow: 0,
	})

	loc := domain.Location{RootDir: c.RootDir, ExtensionID: c.ExtensionID}
	start := protocol.StartParams{SessionID: c.SessionID, RootDir: loc.RootDir, ExtensionID: loc.ExtensionID}
	if err := client.Start(ctx, start); err != nil {
		return outputErrorCommon(globals, codeDetector, err.Error())
	}
	now := time.Now()
	if !globals.Quiet {
		_ = writer.WriteReady(now, c.SessionID, loc, c.Interval)
	}
	if path, err := defaultLastSessionPath(); err == nil {
		if err := saveLastSession(path, newLastSession(c.SessionID, loc, now)); err != nil {
			globals.Debug("Failed to save last session: %v", err)
		}
	}

	listenDone := make(chan error, 1)
	go func() {
		listenDone <- client.Listen(ctx, func(_ context.Context, p protocol.TelemetryParams) error {
			if fileOut != nil {
				if err := fileOut.WriteCrash(p); err != nil {
					logger.Warn("failed to write crash to output file", zap.Error(err))
				}
			}
			return writer.WriteCrash(p)
		})
	}()

	hbCtx, stopHeartbeats := context.WithCancel(ctx)
	defer stopHeartbeats()
	heartbeats := client.RunHeartbeats(hbCtx)

	var stall, deadline <-chan time.Time
	if c.StallAfter > 0 {
		stall = time.After(c.StallAfter)
	}
	if c.Duration > 0 {
		deadline = time.After(c.Duration)
	}

	detectorGone := false
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-stall:
			stall = nil
			stopHeartbeats()
			if !globals.Quiet {
				_ = writer.WriteInfo("heartbeats stopped", c.SessionID)
			}
		case err := <-heartbeats:
			heartbeats = nil
			if err != nil {
				logger.Warn("heartbeat failed", zap.Error(err))
				detectorGone = true
				break loop
			}
		case err := <-listenDone:
			if ctx.Err() != nil {
				break loop
			}
			if err != nil {
				logger.Warn("listener stopped", zap.Error(err))
			}
			detectorGone = true
			break loop
		}
	}
	stopHeartbeats()

	if detectorGone {
		return outputErrorCommon(globals, codeDetector, "detector went away", "check the detector log on stderr")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := client.Stop(stopCtx); err != nil {
		return outputErrorCommon(globals, codeDetector, err.Error())
	}
	if !globals.Quiet {
		_ = writer.WriteInfo("session stopped", c.SessionID)
	}
	return nil
}
