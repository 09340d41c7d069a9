package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"support-calls/internal/signalbus"
)

const outboxSendTimeout = 5 * time.Second

type outbound struct {
	to      string
	typ     signalbus.Type
	payload any
}

// outbox sends signals in order on its own goroutine so the run loop never
// waits on the network.
type outbox struct {
	bus Sender
	log *slog.Logger

	mu     sync.Mutex
	queue  []outbound
	closed bool
	wake   chan struct{}
}

func newOutbox(bus Sender, log *slog.Logger) *outbox {
	return &outbox{bus: bus, log: log, wake: make(chan struct{}, 1)}
}

func (o *outbox) enqueue(m outbound) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.log.Warn("signal dropped after shutdown", "to", m.to, "type", m.typ)
		return
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// run sends until close has been called and the queue is empty.
func (o *outbox) run() {
	for range o.wake {
		for {
			o.mu.Lock()
			if len(o.queue) == 0 {
				closed := o.closed
				o.mu.Unlock()
				if closed {
					return
				}
				break
			}
			m := o.queue[0]
			o.queue = o.queue[1:]
			o.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), outboxSendTimeout)
			if err := o.bus.Send(ctx, m.to, m.typ, m.payload); err != nil {
				o.log.Warn("signal send failed", "to", m.to, "type", m.typ, "err", err)
			} else {
				o.log.Debug("signal sent", "to", m.to, "type", m.typ)
			}
			cancel()
		}
	}
}
