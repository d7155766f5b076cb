package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // json or console
	OutputPath  string `mapstructure:"output_path"`
	ErrorPath   string `mapstructure:"error_path"`
	Development bool   `mapstructure:"development"`
}

// NewLogger creates a new configured logger instance. An empty or "stdout"
// output path logs to standard output; an empty error path disables the
// separate error log.
func NewLogger(config LoggerConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var encoder zapcore.Encoder
	if config.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	if config.Development {
		config.OutputPath = "stdout"
		config.ErrorPath = ""
	}

	output, err := openSink(config.OutputPath)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, output, level)}

	if config.ErrorPath != "" {
		errorOutput, err := openSink(config.ErrorPath)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, errorOutput, zapcore.ErrorLevel))
	}

	options := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}

	if config.Development {
		options = append(options, zap.Development())
	}

	return zap.New(zapcore.NewTee(cores...), options...), nil
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

// SyncLogger ensures all buffered logs are written before shutdown.
func SyncLogger(logger *zap.Logger) {
	_ = logger.Sync()
}
