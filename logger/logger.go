package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the process-wide logger. It is a no-op until Initialize runs,
	// so package-level use before CLI setup never panics.
	Logger = zap.NewNop().Sugar()

	// JSONOutput records whether Initialize selected JSON encoding
	JSONOutput bool
)

// Initialize sets up the global logger. jsonOutput selects production JSON
// encoding, otherwise a compact colored console encoder is used. Both write
// to stderr so logs never mix with command output on stdout. verbosity is
// the CLI -v count.
func Initialize(jsonOutput bool, verbosity int) error {
	level := zap.NewAtomicLevelAt(VerbosityToLevel(verbosity))

	var (
		zapLogger *zap.Logger
		err       error
	)
	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapLogger, err = cfg.Build(zap.Fields(zap.String("service", "cadence")))
		if err != nil {
			return err
		}
	} else {
		zapLogger = zap.New(zapcore.NewCore(consoleEncoder(), zapcore.Lock(os.Stderr), level))
	}

	JSONOutput = jsonOutput
	Logger = zapLogger.Sugar()
	return nil
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeCaller = nil
	cfg.NameKey = "component"
	return zapcore.NewConsoleEncoder(cfg)
}

// Cleanup flushes buffered entries. Sync errors on terminals are ignored.
func Cleanup() {
	_ = Logger.Sync()
}
