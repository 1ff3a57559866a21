package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jyhwng/boardlink/internal/board"
	"github.com/jyhwng/boardlink/internal/ext"
	"github.com/jyhwng/boardlink/internal/msgcat"
	"github.com/jyhwng/boardlink/internal/wire"
	"github.com/jyhwng/boardlink/pkg/gamedto"
)

// State is the session lifecycle position.
type State string

const (
	StateConnecting  State = "CONNECTING"
	StateNegotiating State = "NEGOTIATING"
	StateReady       State = "READY"
	StateActive      State = "ACTIVE"
	StateRejected    State = "REJECTED"
	StateAborted     State = "ABORTED"
	StateFailed      State = "FAILED"
	StateEnded       State = "ENDED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateAborted, StateFailed, StateEnded:
		return true
	}
	return false
}

// Mode distinguishes networked sessions from local two-seat ones. Local
// sessions skip extension negotiation and suppress disconnect dialogs.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// Presenter receives push notifications for one surface. Implemented by
// the presentation layer; ShowError is a blocking user-facing message.
type Presenter interface {
	ConnectSuccess(surface string, camp int)
	GameStart(surface string)
	TurnChange(surface string, payload json.RawMessage)
	GameEnd(surface string, result gamedto.GameResult)
	ShowError(surface string, message string)
}

// Confirmer blocks for user intent before a destructive close.
type Confirmer interface {
	ConfirmClose(ctx context.Context, surface string) bool
}

// ExtensionSource lists the locally available extensions. Lookups may be
// remote, hence the context.
type ExtensionSource interface {
	Available(ctx context.Context) ([]ext.Info, error)
}

// Recorder persists finished games.
type Recorder interface {
	SaveResult(ctx context.Context, res gamedto.GameResult) error
}

const defaultHandshakeTimeout = 10 * time.Second
const defaultCloseDelay = 3 * time.Second

// Options configures a session. Transport, Surface and Presenter are
// required; everything else has a usable zero value.
type Options struct {
	Surface   string
	Mode      Mode
	Transport wire.Transport
	Presenter Presenter

	Extensions ExtensionSource
	Hooks      *ext.Runner
	Rules      board.MoveSource
	Recorder   Recorder
	Messages   *msgcat.Catalog

	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	CloseDelay       time.Duration

	Logger *zap.Logger
}

// Session drives one connection from handshake to termination. Inbound
// messages are dispatched by the transport's single reader, so a
// response is always matched to its pending request before any later
// message is handled.
type Session struct {
	id      string
	surface string
	mode    Mode

	tr        wire.Transport
	corr      *Correlator
	disp      *Dispatcher
	presenter Presenter
	extsrc    ExtensionSource
	hooks     *ext.Runner
	rules     board.MoveSource
	recorder  Recorder
	msgs      *msgcat.Catalog
	logger    *zap.Logger

	handshakeTimeout time.Duration
	closeDelay       time.Duration

	mu        sync.Mutex
	state     State
	camp      int
	snapshot  *board.Board
	required  map[string]string
	ended     bool
	closing   bool
	startedAt time.Time
	hsTimer   *time.Timer

	// onTerminate is set by the coordinator; it fires when a transport
	// drop requires the whole coordinator to close.
	onTerminate func(code int, reason string)
}

func NewSession(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: transport required")
	}
	if opts.Surface == "" {
		return nil, errors.New("session: surface required")
	}
	if opts.Presenter == nil {
		return nil, errors.New("session: presenter required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeRemote
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = defaultCloseDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Session{
		id:               uuid.NewString(),
		surface:          opts.Surface,
		mode:             opts.Mode,
		tr:               opts.Transport,
		presenter:        opts.Presenter,
		extsrc:           opts.Extensions,
		hooks:            opts.Hooks,
		rules:            opts.Rules,
		recorder:         opts.Recorder,
		msgs:             opts.Messages,
		logger:           opts.Logger.With(zap.String("surface", opts.Surface)),
		handshakeTimeout: opts.HandshakeTimeout,
		closeDelay:       opts.CloseDelay,
		state:            StateConnecting,
	}
	s.corr = NewCorrelator(s.tr.Send, opts.RequestTimeout, s.logger)
	s.disp = NewDispatcher(s.corr, s.logger)

	s.disp.HandlePush(wire.TypeHandshakeSuccess, s.handleHandshakeSuccess)
	s.disp.HandlePush(wire.TypeHandshakeFailure, s.handleHandshakeFailure)
	s.disp.HandlePush(wire.TypeGameStart, s.handleGameStart)
	s.disp.HandlePush(wire.TypeChangeTurn, s.handleChangeTurn)
	s.disp.HandlePush(wire.TypeGameEnd, s.handleGameEnd)

	s.tr.OnMessage(s.disp.Dispatch)
	s.tr.OnClose(s.handleClose)
	return s, nil
}

// Start connects the transport and arms the handshake window.
func (s *Session) Start(ctx context.Context) error {
	if err := s.tr.Connect(ctx); err != nil {
		s.setState(StateFailed)
		s.presenter.ShowError(s.surface, s.text("session.cannot_reach",
			map[string]any{"Detail": err.Error()}, "cannot reach peer"))
		return &TransportError{Op: "connect", Err: err}
	}
	s.mu.Lock()
	s.hsTimer = time.AfterFunc(s.handshakeTimeout, s.abandonHandshake)
	s.mu.Unlock()
	s.logger.Info("session_connecting", zap.String("session_id", s.id), zap.String("mode", string(s.mode)))
	return nil
}

// abandonHandshake fires when no handshake-success arrived in time.
func (s *Session) abandonHandshake() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateAborted
	s.mu.Unlock()

	s.logger.Warn("handshake_abandoned")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = s.tr.Close(ctx, wire.CloseHandshakeAbandoned, "handshake abandoned")
	cancel()
	s.presenter.ShowError(s.surface, s.text("session.handshake_abandoned",
		map[string]any{"Seconds": int(s.handshakeTimeout.Seconds())}, "handshake timed out"))
}

func (s *Session) handleHandshakeSuccess(data json.RawMessage) {
	var p wire.HandshakeSuccess
	if err := json.Unmarshal(data, &p); err != nil {
		s.dropMalformed(wire.TypeHandshakeSuccess, err)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		st := s.state
		s.mu.Unlock()
		s.logger.Warn("handshake_out_of_state", zap.String("state", string(st)))
		return
	}
	if s.hsTimer != nil {
		s.hsTimer.Stop()
	}
	s.state = StateNegotiating
	s.camp = p.Camp
	s.snapshot = board.FromMeta(p.Board)
	s.required = p.Extensions
	s.mu.Unlock()

	s.logger.Info("handshake_success", zap.Int("camp", p.Camp),
		zap.Int("rows", p.Board.Rows), zap.Int("cols", p.Board.Cols))

	// Negotiation runs inline on the reader goroutine so later pushes
	// wait behind it, preserving arrival order.
	s.negotiate()
}

func (s *Session) negotiate() {
	ctx, cancel := context.WithTimeout(context.Background(), s.handshakeTimeout)
	defer cancel()

	if s.mode != ModeLocal {
		var available []ext.Info
		if s.extsrc != nil {
			list, err := s.extsrc.Available(ctx)
			if err != nil {
				s.logger.Warn("extension_lookup_failed", zap.Error(err))
			}
			available = list
		}
		if err := ext.Negotiate(s.requiredExtensions(), available); err != nil {
			s.setState(StateRejected)
			s.logger.Warn("negotiation_failed", zap.Error(err))
			s.presenter.ShowError(s.surface, err.Error())
			_ = s.tr.Close(ctx, wire.CloseNormal, "extension mismatch")
			return
		}
	}

	s.mu.Lock()
	s.state = StateReady
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.tr.Send(ctx, &wire.Envelope{Type: wire.TypePrepared}); err != nil {
		s.logger.Warn("prepared_send_failed", zap.Error(err))
	}
	s.presenter.ConnectSuccess(s.surface, s.Camp())

	if err := s.hooks.Init(ctx); err != nil {
		s.logger.Warn("extension_init_failed", zap.Error(err))
	}
}

func (s *Session) handleHandshakeFailure(data json.RawMessage) {
	var p wire.HandshakeFailure
	if err := json.Unmarshal(data, &p); err != nil {
		s.dropMalformed(wire.TypeHandshakeFailure, err)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		st := s.state
		s.mu.Unlock()
		s.logger.Warn("handshake_failure_out_of_state", zap.String("state", string(st)))
		return
	}
	if s.hsTimer != nil {
		s.hsTimer.Stop()
	}
	s.state = StateFailed
	s.mu.Unlock()

	if p.Reason == wire.ReasonTooManyClients {
		s.logger.Warn("capacity_rejected")
		s.presenter.ShowError(s.surface, s.text("session.room_full", nil, "the room is full"))
		time.AfterFunc(s.closeDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.tr.Close(ctx, wire.CloseNormal, p.Reason)
			cancel()
		})
		return
	}

	s.logger.Warn("handshake_failure", zap.String("reason", p.Reason))
	s.presenter.ShowError(s.surface, p.Reason)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = s.tr.Close(ctx, wire.CloseNormal, p.Reason)
	cancel()
}

func (s *Session) handleGameStart(json.RawMessage) {
	s.mu.Lock()
	if s.state != StateReady {
		st := s.state
		s.mu.Unlock()
		s.logger.Warn("game_start_out_of_state", zap.String("state", string(st)))
		return
	}
	s.state = StateActive
	s.mu.Unlock()

	s.logger.Info("game_start")
	s.presenter.GameStart(s.surface)
}

func (s *Session) handleChangeTurn(data json.RawMessage) {
	if s.State() != StateActive {
		s.logger.Warn("change_turn_out_of_state", zap.String("state", string(s.State())))
		return
	}
	var p wire.ChangeTurn
	if err := json.Unmarshal(data, &p); err != nil {
		s.dropMalformed(wire.TypeChangeTurn, err)
		return
	}
	s.applyTurn(&p)
	// forwarded verbatim
	s.presenter.TurnChange(s.surface, data)
}

// applyTurn replays a move onto the local snapshot and runs the
// extension hooks. The lock is held across the hooks too: they may
// mutate the board, and readers on other goroutines only ever see the
// snapshot between complete turns. Hooks hold no session reference, so
// they cannot re-enter the lock.
func (s *Session) applyTurn(p *wire.ChangeTurn) {
	if p.From == nil || p.To == nil {
		return
	}
	from := board.Position{Row: p.From.Row, Col: p.From.Col}
	to := board.Position{Row: p.To.Row, Col: p.To.Col}

	s.mu.Lock()
	b := s.snapshot
	if b == nil {
		s.mu.Unlock()
		return
	}
	from, to = s.hooks.ModifyMove(b, from, to)
	captured, moved := b.MovePiece(from, to)
	if moved {
		if captured != nil {
			s.hooks.OnDeath(b, *captured, to)
		}
		s.hooks.AfterMove(b, from, to)
	}
	s.mu.Unlock()

	if !moved {
		s.logger.Warn("turn_move_ignored", zap.Stringer("from", from), zap.Stringer("to", to))
	}
}

func (s *Session) handleGameEnd(data json.RawMessage) {
	var p wire.GameEnd
	if err := json.Unmarshal(data, &p); err != nil {
		s.dropMalformed(wire.TypeGameEnd, err)
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		st := s.state
		s.mu.Unlock()
		s.logger.Warn("game_end_out_of_state", zap.String("state", string(st)))
		return
	}
	s.state = StateEnded
	s.ended = true
	started := s.startedAt
	s.mu.Unlock()

	res := gamedto.GameResult{
		SessionID: s.id,
		Surface:   s.surface,
		Camp:      s.Camp(),
		Winner:    p.Winner,
		Reason:    p.Reason,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	if s.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.recorder.SaveResult(ctx, res); err != nil {
			s.logger.Warn("record_result_failed", zap.Error(err))
		}
		cancel()
	}
	s.logger.Info("game_end", zap.Int("winner", p.Winner), zap.String("reason", p.Reason))
	// The transport stays open; teardown is explicit via the coordinator.
	s.presenter.GameEnd(s.surface, res)
}

// handleClose reacts to the far end dropping the connection. During the
// handshake a peer-forced code means the connection was rejected as a
// duplicate; afterwards it means the whole coordinator must close.
func (s *Session) handleClose(code int, reason string) {
	s.mu.Lock()
	prev := s.state
	closing := s.closing
	switch {
	case prev == StateConnecting && code == wire.ClosePeerForced:
		s.state = StateRejected
	case !prev.Terminal():
		s.state = StateFailed
	}
	if s.hsTimer != nil {
		s.hsTimer.Stop()
	}
	s.mu.Unlock()

	s.logger.Info("transport_closed", zap.Int("code", code), zap.String("reason", reason),
		zap.String("prev_state", string(prev)))

	// A close we asked for ourselves (coordinator shutdown) needs no
	// dialog and no second teardown, whatever reason rode along.
	if closing {
		return
	}

	// Local sessions share a process with their peer; an unexplained
	// drop there is not worth a dialog.
	suppress := s.mode == ModeLocal && reason == ""

	switch {
	case prev == StateConnecting && code == wire.ClosePeerForced:
		if !suppress {
			s.presenter.ShowError(s.surface, s.text("session.rejected",
				map[string]any{"Reason": reason}, "connection rejected by peer"))
		}
	case code == wire.ClosePeerForced:
		if !suppress {
			s.presenter.ShowError(s.surface, s.text("session.peer_closed",
				map[string]any{"Reason": reason}, "the peer ended the session"))
		}
	case prev.Terminal():
		// Nothing to report for a session that already concluded.
		return
	default:
		if !suppress {
			s.presenter.ShowError(s.surface, s.text("session.disconnected",
				map[string]any{"Reason": reason}, "connection lost"))
		}
	}

	if s.onTerminate != nil {
		s.onTerminate(code, reason)
	}
}

// GetState refreshes the board snapshot from the peer.
func (s *Session) GetState(ctx context.Context) (*wire.StateResponse, error) {
	raw, err := s.corr.Do(ctx, wire.TypeGetState, nil)
	if err != nil {
		return nil, err
	}
	var p wire.StateResponse
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ProtocolError{Type: wire.TypeGetState, Err: err}
	}
	s.mu.Lock()
	s.snapshot = board.FromMeta(p.Board)
	s.mu.Unlock()
	return &p, nil
}

// Move submits a move to the peer and returns its verdict.
func (s *Session) Move(ctx context.Context, from, to board.Position) (*wire.MoveResult, error) {
	req := wire.MoveRequest{
		From: wire.Coord{Row: from.Row, Col: from.Col},
		To:   wire.Coord{Row: to.Row, Col: to.Col},
	}
	raw, err := s.corr.Do(ctx, wire.TypeMove, req)
	if err != nil {
		return nil, err
	}
	var p wire.MoveResult
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ProtocolError{Type: wire.TypeMove, Err: err}
	}
	return &p, nil
}

// AvailableMoves resolves get-available-moves locally via the rules
// collaborator. Before a handshake (or state sync) the board is not
// meaningful and the result is empty.
func (s *Session) AvailableMoves(from board.Position) []board.Position {
	b := s.boardCopy()
	if b == nil || s.rules == nil {
		return nil
	}
	return s.rules.MovesFrom(b, from)
}

// IsChecked resolves get-is-checked locally: the session camp's royal
// positions currently under attack.
func (s *Session) IsChecked() []board.Position {
	b := s.boardCopy()
	if b == nil || s.rules == nil {
		return nil
	}
	return board.AttackedRoyals(b, s.Camp(), s.rules)
}

// Info resolves get-info locally.
func (s *Session) Info() gamedto.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	exts := make(map[string]string, len(s.required))
	for k, v := range s.required {
		exts[k] = v
	}
	return gamedto.SessionInfo{
		SessionID:  s.id,
		Surface:    s.surface,
		State:      string(s.state),
		Camp:       s.camp,
		Mode:       string(s.mode),
		Extensions: exts,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ended reports whether the game concluded normally.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) Camp() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camp
}

func (s *Session) Surface() string { return s.surface }

// beginShutdown marks the close as deliberate so a close notice
// arriving over the transport (e.g. from a pipe sibling) is not
// presented as a disconnect.
func (s *Session) beginShutdown() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
}

// CloseTransport shuts the connection; used by the coordinator teardown.
func (s *Session) CloseTransport(ctx context.Context, code int, reason string) error {
	s.beginShutdown()
	return s.tr.Close(ctx, code, reason)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) boardCopy() *board.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.Clone()
}

func (s *Session) requiredExtensions() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.required
}

func (s *Session) dropMalformed(msgType string, err error) {
	perr := &ProtocolError{Type: msgType, Err: err}
	s.logger.Warn("drop_malformed", zap.String("type", msgType), zap.Error(perr))
}

// text renders a catalog message, falling back to a literal when the
// catalog is absent or the key missing.
func (s *Session) text(key string, data map[string]any, fallback string) string {
	if s.msgs == nil {
		return fallback
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := s.msgs.Render(key, data)
	if err != nil {
		return fallback
	}
	return out
}
