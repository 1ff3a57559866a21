package wire

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// HeaderProvider injects headers at WebSocket handshake time, e.g. for
// authentication.
type HeaderProvider func() map[string]string

// WebSocket is a Transport over a single nhooyr connection. It never
// reconnects: the session layer treats a lost connection as terminal.
type WebSocket struct {
	url string

	dialTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	onMessage MessageHandler
	onClose   CloseHandler
	closeOnce sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
	logger         *zap.Logger
}

func NewWebSocket(url string, logger *zap.Logger) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocket{
		url:          url,
		dialTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
		logger:       logger,
	}
}

// SetHeaderProvider injects handshake headers; must be called before Connect.
func (ws *WebSocket) SetHeaderProvider(h HeaderProvider) { ws.headerProvider = h }

func (ws *WebSocket) OnMessage(h MessageHandler) { ws.onMessage = h }
func (ws *WebSocket) OnClose(h CloseHandler)     { ws.onClose = h }

func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.rootCtx, ws.rootCancel = context.WithCancel(context.Background())

	dialCtx, cancel := context.WithTimeout(ctx, ws.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	if err != nil {
		ws.rootCancel()
		return err
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()

	ws.wg.Add(2)
	go ws.listen()
	go ws.pingLoop()
	return nil
}

func (ws *WebSocket) listen() {
	defer ws.wg.Done()
	for {
		select {
		case <-ws.stopCh:
			return
		default:
		}

		conn := ws.current()
		if conn == nil {
			return
		}
		var env Envelope
		if err := wsjson.Read(ws.rootCtx, conn, &env); err != nil {
			if ws.isStopping() {
				return
			}
			code := 0
			reason := ""
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = int(ce.Code), ce.Reason
			}
			ws.logger.Debug("ws_read_end", zap.Int("code", code), zap.String("reason", reason), zap.Error(err))
			// Fired off the read loop so the handler may call Close
			// without waiting on itself.
			go ws.fireClose(code, reason)
			return
		}
		if h := ws.onMessage; h != nil {
			h(&env)
		}
	}
}

func (ws *WebSocket) pingLoop() {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			conn := ws.current()
			if conn == nil {
				return
			}
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures < 2 {
				continue
			}
			if ws.isStopping() {
				return
			}
			ws.logger.Warn("ws_ping_failed", zap.Error(err))
			_ = ws.closeConn(websocket.StatusGoingAway, "ping failure")
			go ws.fireClose(0, "ping failure")
			return
		}
	}
}

// Send writes one envelope. Writes are serialized with a mutex because
// wsjson.Write is not safe for concurrent use on one connection.
func (ws *WebSocket) Send(ctx context.Context, env *Envelope) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return errors.New("ws not connected")
	}
	dctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, ws.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(dctx, ws.conn, env)
}

func (ws *WebSocket) Close(ctx context.Context, code int, reason string) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	ws.closeOnce.Do(func() {}) // a deliberate close never reports itself
	_ = ws.closeConn(websocket.StatusCode(code), reason)

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if ws.rootCancel != nil {
			ws.rootCancel()
		}
		return nil
	}
}

func (ws *WebSocket) fireClose(code int, reason string) {
	ws.closeOnce.Do(func() {
		if h := ws.onClose; h != nil {
			h(code, reason)
		}
	})
}

func (ws *WebSocket) current() *websocket.Conn {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conn
}

func (ws *WebSocket) closeConn(code websocket.StatusCode, reason string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return nil
	}
	defer func() { ws.conn = nil }()
	return ws.conn.Close(code, reason)
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headerProvider == nil {
		return hdr
	}
	for k, v := range ws.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
