package pipeline

import (
	"errors"

	"github.com/docflowhq/docflow/internal/broker"
	"go.uber.org/fx"
)

var Module = fx.Module("pipeline",
	fx.Provide(NewWorker),
	fx.Invoke(register),
)

// register consumes both import queues with the same handler. Invoice imports
// are file imports with a dedicated queue so their backlog can be watched and
// tuned on its own.
func register(queue broker.Queue, worker *Worker) error {
	return errors.Join(
		queue.Process(broker.QueueFileImport, broker.Catalogue[broker.QueueFileImport].Concurrency, worker.Handle),
		queue.Process(broker.QueueInvoiceImport, broker.Catalogue[broker.QueueInvoiceImport].Concurrency, worker.Handle),
	)
}
