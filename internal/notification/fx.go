package notification

import (
	"github.com/docflowhq/docflow/internal/notification/domain"
	"github.com/docflowhq/docflow/internal/notification/providers"
	"github.com/docflowhq/docflow/internal/notification/service"
	"github.com/docflowhq/docflow/internal/retention"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	providers.Module,
	fx.Provide(service.New),
	fx.Provide(service.NewWorker),
	fx.Provide(asDeletionNotifier),
	fx.Invoke(service.Register),
)

func asDeletionNotifier(d domain.Dispatcher) retention.DeletionNotifier {
	return d
}
