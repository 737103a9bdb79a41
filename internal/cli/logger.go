package cli

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the diagnostic logger. It writes JSON to stderr because
// stdout may carry the protocol.
func newLogger(globals *Globals) (*zap.Logger, error) {
	if globals == nil || globals.Stderr == nil {
		return zap.NewNop(), nil
	}

	level := zapcore.InfoLevel
	if globals.Level != "" {
		parsed, err := zapcore.ParseLevel(globals.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	if globals.Quiet && level < zapcore.WarnLevel {
		level = zapcore.WarnLevel
	}
	if globals.Verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.Lock(zapcore.AddSync(globals.Stderr)),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core, zap.AddCaller()).With(zap.Int("pid", os.Getpid())), nil
}
