package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vburojevic/crashwatch/internal/crashstore"
	"github.com/vburojevic/crashwatch/internal/detector"
	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/metrics"
	"github.com/vburojevic/crashwatch/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// ServeCmd runs a detector speaking the crash protocol on stdin/stdout
type ServeCmd struct {
	Interval     time.Duration `default:"${config_interval}" help:"Heartbeat interval; a silent session is declared crashed after twice this"`
	Backend      string        `default:"${config_backend}" enum:"file,sqlite" help:"Crash store backend (file, sqlite)"`
	RecordFormat string        `default:"${config_record_format}" enum:"json,plist" help:"Record document format for the file backend"`
	MetricsAddr  string        `default:"${config_metrics_addr}" help:"Serve Prometheus metrics on this address (empty = disabled)"`
	ParentPID    int           `name:"parent-pid" help:"Treat exit of this process as a disconnect (0 = don't watch)"`
	ParentPoll   time.Duration `default:"${config_parent_poll}" help:"How often to check the parent process"`
}

type serveResult struct {
	reason domain.ShutdownReason
	err    error
}

// Run executes the serve command
func (c *ServeCmd) Run(globals *Globals) error {
	if err := c.validate(globals); err != nil {
		return err
	}

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	conn := transport.NewStreamConn(globals.Stdin, globals.Stdout)
	return c.serve(context.Background(), globals, conn, sigCh)
}

func (c *ServeCmd) validate(globals *Globals) error {
	if err := validateInterval(globals, "interval", c.Interval); err != nil {
		return err
	}
	if c.ParentPID > 0 {
		if err := validateInterval(globals, "parent-poll", c.ParentPoll); err != nil {
			return err
		}
	}
	return validateStoreFlags(globals, c.Backend, c.RecordFormat)
}

func (c *ServeCmd) storeOptions(globals *Globals) crashstore.Options {
	opts := crashstore.Options{Retry: crashstore.DefaultRetryPolicy()}
	if globals.Config != nil {
		if fromConfig, err := globals.Config.Store.Options(); err == nil {
			opts = fromConfig
		}
	}
	opts.Backend = c.Backend
	opts.RecordFormat = c.RecordFormat
	return opts
}

// serve runs until the host stops or disconnects, a signal arrives or the
// parent exits. Every path ends with exit status 0.
func (c *ServeCmd) serve(ctx context.Context, globals *Globals, conn transport.Conn, signals <-chan os.Signal) error {
	logger, err := newLogger(globals)
	if err != nil {
		return outputErrorCommon(globals, codeConfig, err.Error(), "use --level debug|info|warn|error")
	}
	defer func() { _ = logger.Sync() }()

	opener, err := crashstore.NewOpener(c.storeOptions(globals))
	if err != nil {
		return outputErrorCommon(globals, codeStoreOpen, err.Error())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	d := detector.New(detector.Options{
		Interval:  c.Interval,
		Logger:    logger,
		Metrics:   m,
		OpenStore: opener,
		Notifier:  detector.ConnNotifier(conn),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, c.MetricsAddr, reg, logger); err != nil {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
	}

	var parentGone <-chan struct{}
	if c.ParentPID > 0 {
		parentGone = detector.NewParentWatcher(c.ParentPID, nil, c.ParentPoll, logger).Start(ctx)
	}

	served := make(chan serveResult, 1)
	go func() {
		reason, err := detector.NewServer(d, conn).Serve(ctx)
		served <- serveResult{reason, err}
	}()
	logger.Debug("waiting for host",
		zap.Duration("interval", c.Interval),
		zap.String("backend", c.Backend),
		zap.Int("parent_pid", c.ParentPID))

	var (
		reason domain.ShutdownReason
		detail []byte
	)
	select {
	case res := <-served:
		if res.err != nil {
			logger.Warn("transport ended with error", zap.Error(res.err))
		}
		reason = res.reason
		if reason == domain.ReasonDisconnect {
			detail = detector.TransportClosedDetail()
		}
	case sig := <-signals:
		logger.Info("received signal", zap.String("signal", sig.String()))
		reason = domain.ReasonShutdown
	case <-parentGone:
		reason = domain.ReasonDisconnect
		detail = detector.ParentGoneDetail()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := d.Shutdown(shutdownCtx, reason, detail); err != nil {
		logger.Warn("shutdown markers incomplete", zap.Error(err))
	}
	cancel()
	_ = conn.Close()
	return nil
}
