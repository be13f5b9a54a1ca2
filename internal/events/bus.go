package events

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/timeloom/crawler/internal/types"
)

// StatusCallback receives crawl status events
type StatusCallback func(status types.CrawlStatus)

// StatusBus fans crawl status events out to subscribers. Publish invokes
// callbacks synchronously in registration order; a panicking subscriber is
// logged and skipped so it can neither starve other subscribers nor stop
// the scanner that published the event.
type StatusBus struct {
	mu   sync.Mutex
	subs []subscription
	logf func(format string, args ...interface{})
}

type subscription struct {
	id       string
	callback StatusCallback
}

// NewStatusBus creates an empty status bus. logf may be nil, in which case
// subscriber panics are logged to stderr.
func NewStatusBus(logf func(format string, args ...interface{})) *StatusBus {
	if logf == nil {
		logf = func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	return &StatusBus{logf: logf}
}

// Subscribe registers a callback and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *StatusBus) Subscribe(callback StatusCallback) func() {
	id := uuid.NewString()

	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, callback: callback})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers status to every subscriber in registration order
func (b *StatusBus) Publish(status types.CrawlStatus) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s, status)
	}
}

func (b *StatusBus) deliver(s subscription, status types.CrawlStatus) {
	defer func() {
		if r := recover(); r != nil {
			b.logf("status subscriber %s panicked: %v", s.id, r)
		}
	}()
	s.callback(status)
}

// SubscriberCount returns the number of active subscriptions (for tests and
// diagnostics)
func (b *StatusBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
