package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jyhwng/boardlink/internal/wire"
)

// DefaultRequestTimeout bounds every correlated request.
const DefaultRequestTimeout = 10 * time.Second

type result struct {
	data json.RawMessage
	err  error
}

type pendingRequest struct {
	id    string
	typ   string
	done  chan result // buffered; written exactly once by whoever takes the entry
	timer *time.Timer
}

// SendFunc writes one envelope to the peer.
type SendFunc func(ctx context.Context, env *wire.Envelope) error

// Correlator matches correlated responses to in-flight requests. Each
// request resolves exactly once: by a matching response, by its own
// timeout, or immediately on a write failure. Closing the transport does
// not cancel outstanding requests; they drain via their timeouts.
type Correlator struct {
	send    SendFunc
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func NewCorrelator(send SendFunc, timeout time.Duration, logger *zap.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		send:    send,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}
}

// Do sends a correlated request and blocks until it resolves. The
// correlation id is unique among outstanding requests; a payload that
// fails to encode resolves immediately without registering anything.
func (c *Correlator) Do(ctx context.Context, msgType string, payload any) (json.RawMessage, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &TransportError{Op: "encode", Err: err}
		}
		data = raw
	}

	id := uuid.NewString()
	p := &pendingRequest{id: id, typ: msgType, done: make(chan result, 1)}

	// Register and arm the timer under one lock so the expiry callback
	// always observes a complete entry.
	c.mu.Lock()
	p.timer = time.AfterFunc(c.timeout, func() {
		if q := c.take(id); q != nil {
			c.logger.Warn("request_timeout", zap.String("type", q.typ), zap.String("id", id))
			q.done <- result{err: &TimeoutError{Type: q.typ, ID: id}}
		}
	})
	c.pending[id] = p
	c.mu.Unlock()

	if err := c.send(ctx, &wire.Envelope{Type: msgType, Data: data, ID: id}); err != nil {
		if c.take(id) != nil {
			return nil, &TransportError{Op: "send", Err: err}
		}
		// The timer won the entry first; its verdict stands.
		r := <-p.done
		return r.data, r.err
	}

	select {
	case r := <-p.done:
		return r.data, r.err
	case <-ctx.Done():
		if c.take(id) != nil {
			return nil, ctx.Err()
		}
		r := <-p.done
		return r.data, r.err
	}
}

// Resolve hands an inbound response to its pending request. It reports
// false when no request with this id is outstanding, in which case the
// caller treats the envelope as an ordinary push.
func (c *Correlator) Resolve(id string, data json.RawMessage) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.done <- result{data: data}
	return true
}

// take removes a pending entry and stops its timer. Only one caller can
// win the entry, which is what makes resolution exactly-once.
func (c *Correlator) take(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// Outstanding reports how many requests are in flight.
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
