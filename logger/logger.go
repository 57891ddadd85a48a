package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Level is one of debug, info, warn or error. Anything else falls back to info.
	Level string `yaml:"level"`

	// Format is json or console.
	Format string `yaml:"format"`

	// OutputFile is a path, or stdout/stderr.
	OutputFile string `yaml:"output_file"`
}

func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil || cfg.Level == "" {
		level.SetLevel(zap.InfoLevel)
	}

	sink, err := openSink(cfg.OutputFile)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	return zap.New(core, zap.AddCaller()).With(zap.String("service", "heapdb")), nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.EqualFold(format, "console") {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func openSink(out string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(out) {
	case "", "stderr":
		return zapcore.Lock(zapcore.AddSync(os.Stderr)), nil
	case "stdout":
		return zapcore.Lock(zapcore.AddSync(os.Stdout)), nil
	}

	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", out, err)
	}
	return zapcore.AddSync(f), nil
}
