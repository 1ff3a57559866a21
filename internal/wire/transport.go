package wire

import "context"

// Close codes distinguished by the protocol. The 4xxx values live in the
// WebSocket private-use range; CloseNormal matches the standard code.
const (
	CloseNormal = 1000
	// CloseHandshakeAbandoned is sent by the client when no handshake
	// push arrives within the handshake window.
	CloseHandshakeAbandoned = 4001
	// ClosePeerForced is sent by the peer to force the local session to
	// terminate, e.g. when the opposing player disconnected.
	ClosePeerForced = 4002
)

// MessageHandler receives inbound envelopes in arrival order.
type MessageHandler func(env *Envelope)

// CloseHandler fires once when the far end terminates the connection,
// with the reported close code and reason (code 0 when unknown). It does
// not fire for a locally initiated Close.
type CloseHandler func(code int, reason string)

// Transport is a duplex message-oriented connection carrying envelopes.
// Handlers must be registered before Connect.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, env *Envelope) error
	OnMessage(h MessageHandler)
	OnClose(h CloseHandler)
	Close(ctx context.Context, code int, reason string) error
}
