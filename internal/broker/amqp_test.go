package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A retry parking queue must dead-letter expired messages back onto the jobs
// exchange under its origin queue's routing key, via queue arguments; the
// broker does not honor a dead-letter routing key sent as a message header.
func TestRetryLadder_DeadLettersBackToOriginQueue(t *testing.T) {
	for _, spec := range retryLadder() {
		args := spec.arguments()
		assert.Equal(t, jobsExchange, args["x-dead-letter-exchange"], spec.Name)
		assert.Equal(t, string(spec.Queue), args["x-dead-letter-routing-key"], spec.Name)
		assert.Equal(t, spec.TTL.Milliseconds(), args["x-message-ttl"], spec.Name)
	}
}

// The routing key a failed attempt is republished under must match a ladder
// binding, or the retry message is unroutable and the job is lost.
func TestRetryLadder_CoversEveryRetryingQueue(t *testing.T) {
	bindings := map[string]retryQueueSpec{}
	names := map[string]struct{}{}
	for _, spec := range retryLadder() {
		_, dup := bindings[spec.BindingKey]
		require.False(t, dup, "binding key %s declared twice", spec.BindingKey)
		bindings[spec.BindingKey] = spec

		_, dup = names[spec.Name]
		require.False(t, dup, "retry queue %s declared twice", spec.Name)
		names[spec.Name] = struct{}{}
	}

	for queue, cfg := range Catalogue {
		for attempt := 1; attempt < cfg.Attempts; attempt++ {
			delay := cfg.BackoffDelay(attempt)
			spec, ok := bindings[retryRoutingKey(queue, delay)]
			require.True(t, ok, "queue %s attempt %d has no retry queue", queue, attempt)
			assert.Equal(t, queue, spec.Queue)
			assert.Equal(t, delay, spec.TTL)
		}
	}
}
