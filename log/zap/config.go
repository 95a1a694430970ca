package zap

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	validLevels    = []string{"debug", "info", "warn", "error"}
	validEncodings = []string{"json", "console"}
)

// Config builds a zap logger for the cache.
type Config struct {
	// Level, debug, info, warn or error
	// default: "info"
	Level string `yaml:"level" mapstructure:"level"`
	// Encoding, json or console
	// default: "json"
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
	// default: []string{"stdout"}
	OutputPaths []string `yaml:"output_paths" mapstructure:"output_paths"`
	// default: []string{"stderr"}
	ErrorOutputPaths []string `yaml:"error_output_paths" mapstructure:"error_output_paths"`
}

func DefaultConfig() *Config {
	return &Config{
		Level:            "info",
		Encoding:         "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

func (c *Config) Validate() error {
	if !slices.Contains(validLevels, c.Level) {
		return fmt.Errorf("zap: invalid level %q, must be one of: %s", c.Level, strings.Join(validLevels, ", "))
	}
	if !slices.Contains(validEncodings, c.Encoding) {
		return fmt.Errorf("zap: invalid encoding %q, must be 'json' or 'console'", c.Encoding)
	}
	return nil
}

// New builds a zap logger from cfg and wraps it. Empty fields take their
// defaults; a nil cfg is DefaultConfig.
func New(cfg *Config) (Logger, error) {
	merged := DefaultConfig()
	if cfg != nil {
		if cfg.Level != "" {
			merged.Level = cfg.Level
		}
		if cfg.Encoding != "" {
			merged.Encoding = cfg.Encoding
		}
		if len(cfg.OutputPaths) > 0 {
			merged.OutputPaths = cfg.OutputPaths
		}
		if len(cfg.ErrorOutputPaths) > 0 {
			merged.ErrorOutputPaths = cfg.ErrorOutputPaths
		}
	}
	if err := merged.Validate(); err != nil {
		return Logger{}, err
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(merged.Level)); err != nil {
		return Logger{}, fmt.Errorf("zap: invalid level %q: %w", merged.Level, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      merged.Encoding == "console",
		Encoding:         merged.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      merged.OutputPaths,
		ErrorOutputPaths: merged.ErrorOutputPaths,
	}
	// skip the adapter frame so callers point into the cache
	l, err := zapConfig.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.DPanicLevel))
	if err != nil {
		return Logger{}, fmt.Errorf("zap: failed to build logger: %w", err)
	}
	return Wrap(l), nil
}
