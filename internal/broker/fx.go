package broker

import (
	"context"

	"github.com/docflowhq/docflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewFromConfig selects the queue implementation at construction time: the
// RabbitMQ-backed queue when a broker is configured and reachable, the no-op
// queue otherwise. Callers never branch on availability.
func NewFromConfig(cfg config.Config, conn *gorm.DB, log *zap.Logger) Queue {
	if !cfg.Broker.Enabled || cfg.Broker.URL == "" {
		log.Warn("broker disabled, using no-op queue")
		return NewNoop()
	}

	store := NewJobStore(conn)
	q, err := DialAMQP(cfg.Broker.URL, cfg.Broker.DialTimeout, cfg.Broker.PublishTimeout, cfg.Broker.Prefetch, store, log)
	if err != nil {
		log.Warn("broker unreachable, using no-op queue", zap.Error(err))
		return NewNoop()
	}
	return q
}

func registerHooks(lc fx.Lifecycle, q Queue) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return q.Close(ctx)
		},
	})
}

// Module provides the queue and its job store.
var Module = fx.Module("broker",
	fx.Provide(
		NewFromConfig,
		NewJobStore,
	),
	fx.Invoke(registerHooks),
)
