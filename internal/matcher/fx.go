package matcher

import (
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/matcher/repository"
	"github.com/docflowhq/docflow/internal/matcher/service"
	"go.uber.org/fx"
)

var Module = fx.Module("matcher.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewReindexer),
	fx.Invoke(registerReindexer),
)

func registerReindexer(queue broker.Queue, reindexer *service.Reindexer) error {
	return queue.Process(broker.QueueHierarchyReindex, broker.Catalogue[broker.QueueHierarchyReindex].Concurrency, reindexer.Handle)
}
