package auction_test

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gavel/adapters/auction"
)

func init() {
	log.SetOutput(io.Discard)
}

// fakeClock is a settable time source shared with the engine under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier records published events for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	topics []string
	events []auction.Event
}

func (n *captureNotifier) Publish(topic string, event auction.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
	n.events = append(n.events, event)
	return nil
}

func (n *captureNotifier) byType(eventType string) []auction.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []auction.Event
	for _, ev := range n.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
