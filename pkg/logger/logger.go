package logger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder and level of the process logger
type Options struct {
	// Env "prod" switches to JSON output, anything else is a colored console
	Env string
	// Level overrides the default level (info in prod, debug otherwise)
	Level string
	// SentryEnabled forwards error level entries to Sentry
	SentryEnabled bool
}

func NewLogger(opts Options) (*zap.Logger, error) {
	var config zap.Config

	if opts.Env == "prod" {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		config = zap.NewProductionConfig()
		config.EncoderConfig = encoderCfg
	} else {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderCfg.EncodeDuration = zapcore.StringDurationEncoder
		encoderCfg.StacktraceKey = ""

		config = zap.Config{
			Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
			Development:      true,
			Encoding:         "console",
			EncoderConfig:    encoderCfg,
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("error creating logger: %w", err)
	}

	if opts.SentryEnabled {
		logger = logger.WithOptions(zap.Hooks(captureToSentry))
	}
	return logger, nil
}

func captureToSentry(entry zapcore.Entry) error {
	if entry.Level < zapcore.ErrorLevel {
		return nil
	}
	event := &sentry.Event{
		Message:   entry.Message,
		Level:     sentry.LevelError,
		Timestamp: entry.Time,
		Logger:    entry.LoggerName,
	}
	if entry.Stack != "" {
		stackTrace, err := parseStackTrace(entry.Stack)
		if err != nil {
			return err
		}
		event.Exception = []sentry.Exception{
			{
				Value:      entry.Message,
				Type:       "error",
				Stacktrace: stackTrace,
			},
		}
	}
	sentry.CaptureEvent(event)
	return nil
}

// parseStackTrace converts zap's "function\n\tfile:line" pairs into sentry frames
func parseStackTrace(stack string) (*sentry.Stacktrace, error) {
	var frames []sentry.Frame
	lines := strings.Split(strings.TrimSpace(stack), "\n")

	for i := 0; i+1 < len(lines); i += 2 {
		funcName := strings.TrimSpace(lines[i])
		location := strings.TrimSpace(lines[i+1])

		sep := strings.LastIndex(location, ":")
		if sep < 0 {
			return nil, fmt.Errorf("invalid stack trace line: %s", location)
		}
		lineNumber, err := strconv.Atoi(location[sep+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid stack trace line: %s", location)
		}

		frames = append(frames, sentry.Frame{
			Function: funcName,
			Filename: location[:sep],
			Lineno:   lineNumber,
		})
	}

	// sentry expects the outermost frame first
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return &sentry.Stacktrace{Frames: frames}, nil
}
