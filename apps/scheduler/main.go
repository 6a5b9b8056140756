package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	"github.com/docflowhq/docflow/internal/config"
	"github.com/docflowhq/docflow/internal/logger"
	"github.com/docflowhq/docflow/internal/retention"
	"github.com/docflowhq/docflow/pkg/db"
	"go.uber.org/fx"
)

// The sweep loop alone: retention deletes, expiry restamps, and broker job
// pruning on a timer. Deletion notices and blob removal ride along only in
// deployments that run the full worker set.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		broker.Module,
		retention.Module,
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
