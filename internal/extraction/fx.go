package extraction

import "go.uber.org/fx"

// Module provides the extraction engine. OCR backends register themselves
// into the registry when configured; none are required for local templates.
var Module = fx.Module("extraction",
	fx.Provide(
		func() *BackendRegistry { return NewBackendRegistry() },
		NewEngine,
		NewTemplateStore,
	),
)
