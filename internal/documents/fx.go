package documents

import (
	"github.com/docflowhq/docflow/internal/documents/service"
	"go.uber.org/fx"
)

var Module = fx.Module("documents",
	fx.Provide(service.New),
)
