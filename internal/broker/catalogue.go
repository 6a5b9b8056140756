package broker

import "time"

// QueueName identifies a queue in the fixed catalogue.
type QueueName string

const (
	QueueFileImport       QueueName = "file-import"
	QueueInvoiceImport    QueueName = "invoice-import"
	QueueBulkParsingTest  QueueName = "bulk-parsing-test"
	QueueEmail            QueueName = "email"
	QueueScheduledTasks   QueueName = "scheduled-tasks"
	QueueHierarchyReindex QueueName = "hierarchy-reindex"
)

// QueueConfig carries the per-queue retry and retention tuning. Failed-job
// retention outlives completed-job retention because debugging needs do.
type QueueConfig struct {
	Attempts          int
	BackoffBase       time.Duration
	CompletedMaxAge   time.Duration
	CompletedMaxCount int
	FailedMaxAge      time.Duration
	Concurrency       int
}

// Catalogue is the fixed set of queues. Tuned independently per queue.
var Catalogue = map[QueueName]QueueConfig{
	QueueFileImport: {
		Attempts:          3,
		BackoffBase:       5 * time.Second,
		CompletedMaxAge:   24 * time.Hour,
		CompletedMaxCount: 1000,
		FailedMaxAge:      7 * 24 * time.Hour,
		Concurrency:       4,
	},
	QueueInvoiceImport: {
		Attempts:          3,
		BackoffBase:       5 * time.Second,
		CompletedMaxAge:   24 * time.Hour,
		CompletedMaxCount: 1000,
		FailedMaxAge:      7 * 24 * time.Hour,
		Concurrency:       4,
	},
	QueueBulkParsingTest: {
		Attempts:          1,
		BackoffBase:       time.Second,
		CompletedMaxAge:   time.Hour,
		CompletedMaxCount: 100,
		FailedMaxAge:      24 * time.Hour,
		Concurrency:       2,
	},
	QueueEmail: {
		Attempts:          5,
		BackoffBase:       10 * time.Second,
		CompletedMaxAge:   24 * time.Hour,
		CompletedMaxCount: 5000,
		FailedMaxAge:      30 * 24 * time.Hour,
		Concurrency:       0, // derived from the sum of provider concurrency settings
	},
	QueueScheduledTasks: {
		Attempts:          2,
		BackoffBase:       30 * time.Second,
		CompletedMaxAge:   6 * time.Hour,
		CompletedMaxCount: 500,
		FailedMaxAge:      7 * 24 * time.Hour,
		Concurrency:       1,
	},
	QueueHierarchyReindex: {
		Attempts:          2,
		BackoffBase:       time.Minute,
		CompletedMaxAge:   6 * time.Hour,
		CompletedMaxCount: 100,
		FailedMaxAge:      7 * 24 * time.Hour,
		Concurrency:       1,
	},
}

// BackoffDelay returns the exponential delay before attempt n (1-based).
func (c QueueConfig) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
