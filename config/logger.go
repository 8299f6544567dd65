package config

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger creates the logger described by the configuration. Logs are
// written to stderr unless a file is given: the file is then rotated once
// it reaches MaxSize megabytes.
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	var (
		encoder zapcore.Encoder
		output  zapcore.WriteSyncer
	)
	if c.File == "" {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		output = zapcore.Lock(os.Stderr)
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		output = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
		})
	}
	core := zapcore.NewCore(encoder, output, level)
	return zap.New(core), nil
}
