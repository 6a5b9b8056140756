package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	"github.com/docflowhq/docflow/internal/config"
	"github.com/docflowhq/docflow/internal/documents"
	"github.com/docflowhq/docflow/internal/extraction"
	"github.com/docflowhq/docflow/internal/ingest"
	"github.com/docflowhq/docflow/internal/logger"
	"github.com/docflowhq/docflow/internal/matcher"
	"github.com/docflowhq/docflow/internal/notification"
	"github.com/docflowhq/docflow/internal/pipeline"
	"github.com/docflowhq/docflow/internal/ratelimit"
	"github.com/docflowhq/docflow/internal/retention"
	"github.com/docflowhq/docflow/internal/schedule"
	"github.com/docflowhq/docflow/pkg/db"
	"go.uber.org/fx"
)

// Workers only: import, email, bulk test, reindex, and scheduled-task
// consumers without the HTTP surface. Retention needs a provider here too
// because the scheduled-tasks runner dispatches sweeps.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		broker.Module,
		ratelimit.Module,
		documents.Module,
		extraction.Module,
		matcher.Module,
		notification.Module,
		ingest.Module,
		pipeline.Module,
		retention.Module,
		schedule.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
