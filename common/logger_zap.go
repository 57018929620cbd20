package common

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLoggerOptions configures the gateway's zap-backed logger.
type ZapLoggerOptions struct {
	// LogFile is the path of the rotating JSON log. If empty, output goes to
	// stdout only.
	LogFile string

	// MaxSize is the size in megabytes before the log file rotates.
	// Defaults to 100.
	MaxSize int

	// MaxBackups is the number of rotated files to retain.
	MaxBackups int

	// MaxAge is the number of days to retain rotated files.
	MaxAge int

	// Compress gzips rotated files.
	Compress bool

	// DebugLevel enables debug logging; the default level is Info.
	DebugLevel bool

	// Console mirrors output to stdout in human-readable form in addition to
	// the log file. Ignored when LogFile is empty (stdout is already used).
	Console bool
}

// NewZapLogger builds the gateway logger: JSON through a lumberjack-rotated
// file when LogFile is set, console-encoded stdout otherwise or alongside it.
// Every entry is namespaced "sip2go"; WithBranch adds the branch field.
func NewZapLogger(opts ZapLoggerOptions) Logger {
	level := zapcore.InfoLevel
	if opts.DebugLevel {
		level = zapcore.DebugLevel
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if opts.LogFile != "" {
		size := opts.MaxSize
		if size <= 0 {
			size = 100
		}
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    size,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), sink, level))
	}
	if opts.LogFile == "" || opts.Console {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stdout), level))
	}

	logger := zap.New(zapcore.NewTee(cores...)).Named("sip2go")
	return &zapLogger{s: logger.Sugar()}
}

// zapLogger adapts zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) WithBranch(branchID string) Logger {
	return &zapLogger{s: z.s.With("branch", branchID)}
}

func (z *zapLogger) Debug(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...interface{})  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }
