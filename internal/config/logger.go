package config

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a configured Zap logger from Viper settings.
// Reads "logging.level" (debug, info, warn, error; default "info")
// and "logging.format" (json, console; default "console"). When
// "logging.file" is set, entries are also written as JSON to that file,
// rotated by size.
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	level := v.GetString("logging.level")
	format := v.GetString("logging.format")
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", format)
	}

	atomic := zap.NewAtomicLevelAt(zapLevel)
	cfg.Level = atomic

	var opts []zap.Option
	if file := v.GetString("logging.file"); file != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   file,
				MaxSize:    v.GetInt("logging.max_size_mb"),
				MaxBackups: v.GetInt("logging.max_backups"),
				MaxAge:     v.GetInt("logging.max_age_days"),
				Compress:   v.GetBool("logging.compress"),
			}),
			atomic,
		)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	return cfg.Build(opts...)
}
