package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jyhwng/boardlink/internal/wire"
	"github.com/jyhwng/boardlink/pkg/gamedto"
)

// fakeTransport records outbound traffic and lets tests inject inbound
// envelopes and close notifications synchronously.
type fakeTransport struct {
	mu         sync.Mutex
	onMessage  wire.MessageHandler
	onClose    wire.CloseHandler
	connectErr error
	sendErr    error
	sent       []*wire.Envelope
	closes     []closeCall
}

type closeCall struct {
	code   int
	reason string
}

func (f *fakeTransport) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeTransport) Send(ctx context.Context, env *wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := *env
	f.sent = append(f.sent, &cp)
	return nil
}

func (f *fakeTransport) OnMessage(h wire.MessageHandler) { f.onMessage = h }
func (f *fakeTransport) OnClose(h wire.CloseHandler)     { f.onClose = h }

func (f *fakeTransport) Close(ctx context.Context, code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, closeCall{code: code, reason: reason})
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, msgType string, payload any, id string) {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = raw
	}
	f.onMessage(&wire.Envelope{Type: msgType, Data: data, ID: id})
}

func (f *fakeTransport) sentEnvelopes() []*wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*wire.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) closeCalls() []closeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]closeCall, len(f.closes))
	copy(out, f.closes)
	return out
}

// fakePresenter records every notification.
type fakePresenter struct {
	mu       sync.Mutex
	connects []int
	starts   int
	turns    []json.RawMessage
	ends     []gamedto.GameResult
	errors   []string
}

func (p *fakePresenter) ConnectSuccess(_ string, camp int) {
	p.mu.Lock()
	p.connects = append(p.connects, camp)
	p.mu.Unlock()
}

func (p *fakePresenter) GameStart(string) {
	p.mu.Lock()
	p.starts++
	p.mu.Unlock()
}

func (p *fakePresenter) TurnChange(_ string, payload json.RawMessage) {
	p.mu.Lock()
	p.turns = append(p.turns, payload)
	p.mu.Unlock()
}

func (p *fakePresenter) GameEnd(_ string, res gamedto.GameResult) {
	p.mu.Lock()
	p.ends = append(p.ends, res)
	p.mu.Unlock()
}

func (p *fakePresenter) ShowError(_ string, msg string) {
	p.mu.Lock()
	p.errors = append(p.errors, msg)
	p.mu.Unlock()
}

func (p *fakePresenter) errorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.errors)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, within time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("%s: not observed within %v", what, within)
}
