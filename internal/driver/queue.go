package driver

import "context"

// Handler processes a plan id delivered by the wake-up queue.
type Handler func(ctx context.Context, planID string) error

// Producer publishes plan ids for other workers to notice.
type Producer interface {
	Publish(ctx context.Context, planID string) error
	Close() error
}

// Consumer delivers published plan ids to a handler.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both ends of the wake-up channel. It is an optimisation over
// the driver's poll loop, never a correctness dependency: a missed
// notification only delays a plan until the next enumeration.
type Queue interface {
	Producer
	Consumer
}
