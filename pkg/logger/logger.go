package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fatflowers/entitlement/pkg/config"
)

// New builds the process logger. Production JSON everywhere; dev additionally logs at debug.
func New(cfg *config.Config) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.TimeKey = "time"
	if cfg != nil && cfg.Env == config.EnvDev {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar().With("service", "entitlement"), nil
}

var Module = fx.Options(
	fx.Provide(New),
)
