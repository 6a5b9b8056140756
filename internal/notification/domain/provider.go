package domain

import "context"

// Provider delivers one rendered message. MaxBatchSize reports how many
// recipients one Send may carry; 1 means strictly per-recipient delivery.
type Provider interface {
	Name() string
	MaxBatchSize() int
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (NoOpProvider) Name() string                        { return "noop" }
func (NoOpProvider) MaxBatchSize() int                   { return 1 }
func (NoOpProvider) Send(context.Context, Message) error { return nil }
