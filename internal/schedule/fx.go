package schedule

import (
	"context"

	"github.com/docflowhq/docflow/internal/broker"
	"go.uber.org/fx"
)

var Module = fx.Module("schedule",
	fx.Provide(NewRunner),
	fx.Invoke(register),
)

func register(lc fx.Lifecycle, queue broker.Queue, runner *Runner) error {
	if err := queue.Process(broker.QueueScheduledTasks, broker.Catalogue[broker.QueueScheduledTasks].Concurrency, runner.Handle); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go runner.RunEnqueuer(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
	return nil
}
