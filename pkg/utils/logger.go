package utils

import (
	"context"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Context keys
type contextKey string

const (
	ContextKeyNodeID    contextKey = "node_id"
	ContextKeyComponent contextKey = "component"
	ContextKeyShardID   contextKey = "shard_id"
	ContextKeyOperation contextKey = "operation"
)

// Logger configuration defaults
const (
	DefaultLogLevel    = "info"
	DefaultLogFileSize = 100 // MB
	DefaultMaxBackups  = 10
	DefaultMaxAge      = 30 // days
)

// LogConfig controls logger construction
type LogConfig struct {
	Level           string
	Development     bool
	OutputPath      string // file path; empty means stdout only
	ErrorOutputPath string

	// Rotation settings (used when OutputPath is set)
	EnableRotation bool
	MaxSize        int // MB
	MaxBackups     int
	MaxAge         int // days
	Compress       bool

	// Context settings
	NodeID    string
	Component string
}

// DefaultLogConfig returns production-ready defaults
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:           getEnvOrDefault("LOG_LEVEL", DefaultLogLevel),
		Development:     getEnvOrDefault("ENVIRONMENT", "production") == "development",
		OutputPath:      getEnvOrDefault("LOG_FILE_PATH", ""),
		ErrorOutputPath: "stderr",
		EnableRotation:  getEnvOrDefault("LOG_FILE_PATH", "") != "",
		MaxSize:         getEnvAsIntOrDefault("LOG_MAX_SIZE", DefaultLogFileSize),
		MaxBackups:      getEnvAsIntOrDefault("LOG_MAX_BACKUPS", DefaultMaxBackups),
		MaxAge:          getEnvAsIntOrDefault("LOG_MAX_AGE", DefaultMaxAge),
		Compress:        getEnvAsBoolOrDefault("LOG_COMPRESS", true),
		NodeID:          getEnvOrDefault("NODE_ID", ""),
		Component:       getEnvOrDefault("SERVICE_NAME", "bleep-core"),
	}
}

// Logger provides structured logging
type Logger struct {
	base        *zap.Logger
	config      *LogConfig
	atomicLevel zap.AtomicLevel

	shutdownOnce sync.Once
}

// NewLogger creates a new logger instance
func NewLogger(config *LogConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := buildCore(config, encoderConfig, atomicLevel)

	zapLogger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	if config.NodeID != "" {
		zapLogger = zapLogger.With(zap.String("node_id", config.NodeID))
	}
	if config.Component != "" {
		zapLogger = zapLogger.With(zap.String("component", config.Component))
	}

	return &Logger{
		base:        zapLogger,
		config:      config,
		atomicLevel: atomicLevel,
	}, nil
}

// buildCore selects the output sink: rotated file, plain file, or stdout
func buildCore(config *LogConfig, encoderConfig zapcore.EncoderConfig, level zap.AtomicLevel) zapcore.Core {
	var encoder zapcore.Encoder
	if config.Development {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var sink zapcore.WriteSyncer
	switch {
	case config.OutputPath != "" && config.EnableRotation:
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.OutputPath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	case config.OutputPath != "":
		f, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			sink = zapcore.AddSync(os.Stdout)
		} else {
			sink = zapcore.AddSync(f)
		}
	default:
		sink = zapcore.AddSync(os.Stdout)
	}

	return zapcore.NewCore(encoder, sink, level)
}

// WithContext creates a new logger carrying context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	fields := extractContextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return &Logger{
		base:        l.base.With(fields...),
		config:      l.config,
		atomicLevel: l.atomicLevel,
	}
}

// WithFields creates a logger with additional fields
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{
		base:        l.base.With(fields...),
		config:      l.config,
		atomicLevel: l.atomicLevel,
	}
}

func (l *Logger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).base.Debug(msg, fields...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).base.Info(msg, fields...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).base.Warn(msg, fields...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).base.Error(msg, fields...)
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.base.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.base.Fatal(msg, fields...) }

// SetLevel changes the log level at runtime
func (l *Logger) SetLevel(level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(parsed)
	return nil
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// Shutdown flushes buffered entries
func (l *Logger) Shutdown() error {
	var err error
	l.shutdownOnce.Do(func() {
		err = l.base.Sync()
	})
	return err
}

func extractContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := ctx.Value(ContextKeyNodeID).(string); ok && v != "" {
		fields = append(fields, zap.String("node_id", v))
	}
	if v, ok := ctx.Value(ContextKeyComponent).(string); ok && v != "" {
		fields = append(fields, zap.String("component", v))
	}
	if v, ok := ctx.Value(ContextKeyShardID).(uint64); ok {
		fields = append(fields, zap.Uint64("shard_id", v))
	}
	if v, ok := ctx.Value(ContextKeyOperation).(string); ok && v != "" {
		fields = append(fields, zap.String("operation", v))
	}
	return fields
}

// Context builders

func ContextWithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, ContextKeyNodeID, nodeID)
}

func ContextWithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ContextKeyComponent, component)
}

func ContextWithShardID(ctx context.Context, shardID uint64) context.Context {
	return context.WithValue(ctx, ContextKeyShardID, shardID)
}

func ContextWithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}

// Field helpers for packages that should not import zap directly

func ZapString(key, val string) zap.Field          { return zap.String(key, val) }
func ZapInt(key string, val int) zap.Field         { return zap.Int(key, val) }
func ZapInt64(key string, val int64) zap.Field     { return zap.Int64(key, val) }
func ZapUint64(key string, val uint64) zap.Field   { return zap.Uint64(key, val) }
func ZapFloat64(key string, val float64) zap.Field { return zap.Float64(key, val) }
func ZapBool(key string, val bool) zap.Field       { return zap.Bool(key, val) }
func ZapError(err error) zap.Field                 { return zap.Error(err) }
func ZapDuration(key string, val int64) zap.Field  { return zap.Int64(key+"_ns", val) }
func ZapStringArray(key string, val []string) zap.Field {
	return zap.Strings(key, val)
}

// Env helpers shared by config and logger

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvAsBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
