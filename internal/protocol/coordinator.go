package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jyhwng/boardlink/internal/board"
	"github.com/jyhwng/boardlink/internal/wire"
	"github.com/jyhwng/boardlink/pkg/gamedto"
)

var (
	// ErrUnknownSurface means a local action referenced a surface id the
	// coordinator does not own. A programming error, but fatal only for
	// that call.
	ErrUnknownSurface = errors.New("unknown surface")
	// ErrCoordinatorClosed means the coordinator already tore down.
	ErrCoordinatorClosed = errors.New("coordinator closed")
)

// Coordinator owns the active sessions: one for networked play, two for
// local two-seat play in a single process. It routes local actions by
// surface id and guarantees idempotent teardown.
type Coordinator struct {
	logger  *zap.Logger
	confirm Confirmer

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	detach   func()
	teardown func()
}

// NewCoordinator builds a coordinator. teardown fires exactly once on
// the first Close; detach (optional, see SetDetach) unregisters the
// local action router.
func NewCoordinator(confirm Confirmer, teardown func(), logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		logger:   logger,
		confirm:  confirm,
		sessions: make(map[string]*Session),
		teardown: teardown,
	}
}

// SetDetach registers the callback that unhooks the action router on Close.
func (c *Coordinator) SetDetach(f func()) {
	c.mu.Lock()
	c.detach = f
	c.mu.Unlock()
}

// Attach registers a session under its surface id and wires its
// transport-drop trigger to the shared Close.
func (c *Coordinator) Attach(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoordinatorClosed
	}
	if _, dup := c.sessions[s.surface]; dup {
		return fmt.Errorf("surface %q already attached", s.surface)
	}
	s.onTerminate = func(code int, reason string) {
		c.logger.Info("session_terminated", zap.String("surface", s.surface),
			zap.Int("code", code), zap.String("reason", reason))
		c.Close()
	}
	c.sessions[s.surface] = s
	return nil
}

// session resolves a surface id under the closed guard.
func (c *Coordinator) session(surface string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCoordinatorClosed
	}
	s, ok := c.sessions[surface]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSurface, surface)
	}
	return s, nil
}

// Move routes a move request to the session owning surface.
func (c *Coordinator) Move(ctx context.Context, surface string, from, to board.Position) (*wire.MoveResult, error) {
	s, err := c.session(surface)
	if err != nil {
		return nil, err
	}
	return s.Move(ctx, from, to)
}

// GetState routes a state-sync request.
func (c *Coordinator) GetState(ctx context.Context, surface string) (*wire.StateResponse, error) {
	s, err := c.session(surface)
	if err != nil {
		return nil, err
	}
	return s.GetState(ctx)
}

// AvailableMoves resolves the local get-available-moves action.
func (c *Coordinator) AvailableMoves(surface string, from board.Position) ([]board.Position, error) {
	s, err := c.session(surface)
	if err != nil {
		return nil, err
	}
	return s.AvailableMoves(from), nil
}

// IsChecked resolves the local get-is-checked action.
func (c *Coordinator) IsChecked(surface string) ([]board.Position, error) {
	s, err := c.session(surface)
	if err != nil {
		return nil, err
	}
	return s.IsChecked(), nil
}

// Info resolves the local get-info action.
func (c *Coordinator) Info(surface string) (gamedto.SessionInfo, error) {
	s, err := c.session(surface)
	if err != nil {
		return gamedto.SessionInfo{}, err
	}
	return s.Info(), nil
}

// RequestClose handles a user-initiated close for one surface. A session
// that already ended closes without asking; otherwise the user must
// confirm first.
func (c *Coordinator) RequestClose(ctx context.Context, surface string) error {
	s, err := c.session(surface)
	if err != nil {
		return err
	}
	if !s.Ended() && c.confirm != nil && !c.confirm.ConfirmClose(ctx, surface) {
		return nil
	}
	c.Close()
	return nil
}

// Close tears down every owned session, unregisters the action router
// and fires the teardown callback. Idempotent: a boolean guard under the
// mutex makes the first caller do all the work and every later caller a
// no-op, even when a transport drop and a user close race each other.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	detach := c.detach
	teardown := c.teardown
	c.mu.Unlock()

	// Mark every session first: closing one pipe end notifies its
	// sibling before this loop would reach it.
	for _, s := range sessions {
		s.beginShutdown()
	}
	for _, s := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.CloseTransport(ctx, wire.CloseNormal, "shutdown"); err != nil {
			c.logger.Warn("transport_close_failed", zap.String("surface", s.surface), zap.Error(err))
		}
		cancel()
	}
	if detach != nil {
		detach()
	}
	if teardown != nil {
		teardown()
	}
	c.logger.Info("coordinator_closed", zap.Int("sessions", len(sessions)))
}
