package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewProduction builds the server's zap-backed logger. When file is empty,
// output goes to stdout; otherwise it goes to a size-rotated log file.
// The returned flush function should be deferred by the caller.
func NewProduction(level string, file string) (Logger, func(), error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	var sink zapcore.WriteSyncer
	if file == "" {
		sink = zapcore.Lock(os.Stdout)
	} else {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    64, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, lvl)
	zl := zap.New(core)

	flush := func() { _ = zl.Sync() }
	return NewZapLogger(zl), flush, nil
}
