package ingest

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/config"
	"github.com/docflowhq/docflow/internal/extraction"
	"github.com/docflowhq/docflow/internal/ratelimit"
	"github.com/docflowhq/docflow/internal/retention"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ingest",
	fx.Provide(
		newStorage,
		New,
		newBulkTester,
		asBlobRemover,
	),
	fx.Invoke(registerBulkWorker),
	fx.Invoke(startWatcher),
)

func newStorage(cfg config.Config) (*DiskStorage, error) {
	return NewDiskStorage(cfg.Ingest.StorageDir)
}

func newBulkTester(log *zap.Logger, engine *extraction.Engine, templates *extraction.TemplateStore, storage *DiskStorage, genID *snowflake.Node, cfg config.Config) *BulkTester {
	return NewBulkTester(log, engine, templates, storage, genID, cfg.Ingest.TempDir)
}

func asBlobRemover(s *DiskStorage) retention.BlobRemover { return s }

func registerBulkWorker(queue broker.Queue, tester *BulkTester) error {
	return queue.Process(broker.QueueBulkParsingTest,
		broker.Catalogue[broker.QueueBulkParsingTest].Concurrency,
		tester.Handle,
	)
}

func startWatcher(lc fx.Lifecycle, svc *Service, log *zap.Logger, locker *ratelimit.Locker, cfg config.Config) {
	if cfg.Ingest.DropDir == "" {
		return
	}
	watcher := NewWatcher(svc, log, locker, cfg.Ingest.DropDir, cfg.Ingest.PollInterval)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go func() {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("drop watcher stopped", zap.Error(err))
				}
			}()

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
