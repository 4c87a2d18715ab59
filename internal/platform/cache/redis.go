package cache

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/pkg/config"
)

const pingTimeout = 5 * time.Second

// NewRedis connects when redis.url is set. A nil client means redis is not configured.
func NewRedis(lc fx.Lifecycle, cfg *config.Config, l *zap.SugaredLogger) (*redis.Client, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	l.Infow("connected to redis", "addr", maskURL(cfg.Redis.URL))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "redis://***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

var Module = fx.Options(
	fx.Provide(NewRedis),
)
