package protocol

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/jyhwng/boardlink/internal/wire"
)

// PushHandler consumes the payload of one push type. Handlers decode
// their own payloads and drop malformed ones.
type PushHandler func(data json.RawMessage)

// Dispatcher routes inbound envelopes: responses with a registered
// pending request go to the correlator and stop there; everything else
// is switched on the type tag. Unrecognized tags are logged and dropped
// without touching any pending request or session state.
type Dispatcher struct {
	corr   *Correlator
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]PushHandler
}

func NewDispatcher(corr *Correlator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		corr:     corr,
		logger:   logger,
		handlers: make(map[string]PushHandler),
	}
}

// HandlePush registers the handler for one push type.
func (d *Dispatcher) HandlePush(msgType string, h PushHandler) {
	d.mu.Lock()
	d.handlers[msgType] = h
	d.mu.Unlock()
}

// Dispatch routes one envelope. A matched response is never treated as
// a push; a response whose request already resolved falls through and
// is dropped like any unrecognized tag.
func (d *Dispatcher) Dispatch(env *wire.Envelope) {
	if env == nil {
		return
	}
	if env.ID != "" && d.corr != nil && d.corr.Resolve(env.ID, env.Data) {
		return
	}

	d.mu.RLock()
	h := d.handlers[env.Type]
	d.mu.RUnlock()
	if h == nil {
		d.logger.Warn("drop_unrecognized", zap.String("type", env.Type), zap.String("id", env.ID))
		return
	}
	h(env.Data)
}
