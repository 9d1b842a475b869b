package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kings-storefront/internal/logger"
)

// Handler receives messages for one event name. Handlers run on the hub's
// dispatch goroutine and must not call Close.
type Handler func(ctx context.Context, msg Message)

// Backoff is the reconnect delay schedule: Initial, doubling up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff starts at one second and caps at thirty.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 30 * time.Second}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	if d <= 0 {
		d = DefaultBackoff.Initial
	}
	for i := 1; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Hub multiplexes one Source connection over many subscribers. The stream is
// opened by the first Subscribe and torn down when the last subscriber
// leaves. While anyone is subscribed, dropped streams are reopened with
// backoff.
type Hub struct {
	source  Source
	backoff Backoff
	log     *logrus.Entry

	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
	count    int
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBackoff sets the reconnect schedule.
func WithBackoff(b Backoff) HubOption { return func(h *Hub) { h.backoff = b } }

// WithHubLogger sets the log entry.
func WithHubLogger(l *logrus.Entry) HubOption { return func(h *Hub) { h.log = l } }

// NewHub returns an idle hub over source.
func NewHub(source Source, opts ...HubOption) *Hub {
	h := &Hub{
		source:   source,
		backoff:  DefaultBackoff,
		log:      logger.WithModule("push"),
		handlers: make(map[string]map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers handler for event and returns its unsubscribe func.
// Calling the returned func more than once is harmless.
func (h *Hub) Subscribe(event string, handler Handler) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}

	h.nextID++
	id := h.nextID
	if h.handlers[event] == nil {
		h.handlers[event] = make(map[uint64]Handler)
	}
	h.handlers[event][id] = handler
	h.count++
	if h.count == 1 {
		h.startLocked()
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(event, id) })
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Close removes every subscriber, tears the connection down and waits for
// the connection goroutine to exit. Later Subscribe calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.handlers = make(map[string]map[uint64]Handler)
	h.count = 0
	done := h.stopLocked()
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (h *Hub) unsubscribe(event string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.handlers[event]
	if !ok {
		return
	}
	if _, ok := subs[id]; !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.handlers, event)
	}
	h.count--
	if h.count == 0 {
		h.stopLocked()
	}
}

func (h *Hub) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	prev := h.done
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done
	go h.run(ctx, prev, done)
}

func (h *Hub) stopLocked() chan struct{} {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	return h.done
}

// run owns the connection for one subscribed period. It waits for the
// previous period's connection to be gone so at most one is ever open.
func (h *Hub) run(ctx context.Context, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	failures := 0
	for {
		stream, err := h.source.Open(ctx)
		if err == nil {
			h.log.Info("push stream opened")
			failures = 0
			err = h.pump(ctx, stream)
			if cerr := stream.Close(); cerr != nil {
				h.log.WithError(cerr).Debug("closing push stream")
			}
		}
		if ctx.Err() != nil {
			h.log.Info("push stream closed")
			return
		}
		failures++
		delay := h.backoff.Delay(failures)
		h.log.WithError(err).WithField("retry_in", delay.String()).Warn("push stream unavailable, reconnecting")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (h *Hub) pump(ctx context.Context, stream Stream) error {
	for {
		msg, err := stream.Recv(ctx)
		if errors.Is(err, ErrMalformed) {
			h.log.WithError(err).Warn("dropping push message")
			continue
		}
		if err != nil {
			return err
		}
		h.dispatch(ctx, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, msg Message) {
	h.mu.Lock()
	subs := h.handlers[msg.Event]
	targets := make([]Handler, 0, len(subs))
	for _, fn := range subs {
		targets = append(targets, fn)
	}
	h.mu.Unlock()

	for _, fn := range targets {
		fn(ctx, msg)
	}
}
