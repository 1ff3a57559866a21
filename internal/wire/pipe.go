package wire

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Pipe returns two in-memory transports wired back to back. Envelopes
// written on one end arrive on the other in send order. It backs local
// two-seat play (one process hosting both surfaces) and protocol tests.
func Pipe() (*PipeEnd, *PipeEnd) {
	a := newPipeEnd()
	b := newPipeEnd()
	a.peer, b.peer = b, a
	return a, b
}

type closeNotice struct {
	code   int
	reason string
}

// PipeEnd is one side of an in-memory transport pair.
type PipeEnd struct {
	peer *PipeEnd

	inbox   chan *Envelope
	closeCh chan closeNotice

	onMessage MessageHandler
	onClose   CloseHandler

	mu     sync.Mutex
	closed bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newPipeEnd() *PipeEnd {
	return &PipeEnd{
		inbox:   make(chan *Envelope, 64),
		closeCh: make(chan closeNotice, 1),
		stopCh:  make(chan struct{}),
	}
}

func (p *PipeEnd) OnMessage(h MessageHandler) { p.onMessage = h }
func (p *PipeEnd) OnClose(h CloseHandler)     { p.onClose = h }

// Connect starts the delivery loop. A single goroutine drains the inbox
// so handlers observe arrival order.
func (p *PipeEnd) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("pipe closed")
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.deliver()
	return nil
}

func (p *PipeEnd) deliver() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case n := <-p.closeCh:
			// Envelopes queued before the close still arrive first.
			for {
				select {
				case env := <-p.inbox:
					if h := p.onMessage; h != nil {
						h(env)
					}
					continue
				default:
				}
				break
			}
			// The handler runs on its own goroutine so it may call
			// Close on this end without deadlocking on the delivery
			// loop it was invoked from.
			if h := p.onClose; h != nil {
				go h(n.code, n.reason)
			}
			return
		case env := <-p.inbox:
			if h := p.onMessage; h != nil {
				h(env)
			}
		}
	}
}

// Send duplicates the envelope through JSON so the receiver never shares
// memory with the sender, matching real wire behavior.
func (p *PipeEnd) Send(ctx context.Context, env *Envelope) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("pipe closed")
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var copied Envelope
	if err := json.Unmarshal(raw, &copied); err != nil {
		return err
	}

	select {
	case p.peer.inbox <- &copied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops this end and reports the close code to the peer. Idempotent.
func (p *PipeEnd) Close(ctx context.Context, code int, reason string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case p.peer.closeCh <- closeNotice{code: code, reason: reason}:
	default:
	}
	p.peer.mu.Lock()
	p.peer.closed = true
	p.peer.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	return nil
}
