package order

import "context"

// OrderQueue abstracts over Queue and PersistentQueue so callers (the API
// layer, internal/bot) can depend on "something I can enqueue orders onto"
// without caring whether it is backed by an in-memory channel or a WAL.
type OrderQueue interface {
	Enqueue(o Order) bool
	Len() int
	Drain(ctx context.Context, handler func(Order))
	Close()
}
