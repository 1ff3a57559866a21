package localgame

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/jyhwng/boardlink/internal/board"
	"github.com/jyhwng/boardlink/internal/wire"
)

// Host is the authoritative end of local two-seat play. It owns the
// board, speaks the wire contract over two in-memory pipes and treats
// the two client sessions exactly like a remote server would: it
// greets each seat with handshake-success, starts the game once both
// are prepared, judges moves and announces turns and the result.
type Host struct {
	logger *zap.Logger
	rules  board.MoveSource

	seats [2]*wire.PipeEnd

	mu       sync.Mutex
	board    *board.Board
	turn     int
	prepared [2]bool
	started  bool
	over     bool
}

// New builds a host around the given starting position and returns the
// two client-side transports. Seat 0 plays camp 0 and moves first.
func New(start *board.Board, rules board.MoveSource, logger *zap.Logger) (*Host, [2]*wire.PipeEnd) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{logger: logger, rules: rules, board: start.Clone()}
	var clients [2]*wire.PipeEnd
	for i := range h.seats {
		hostEnd, clientEnd := wire.Pipe()
		seat := i
		hostEnd.OnMessage(func(env *wire.Envelope) { h.handle(seat, env) })
		h.seats[i] = hostEnd
		clients[i] = clientEnd
	}
	return h, clients
}

// Start connects both host ends and greets each seat with its camp and
// the starting board.
func (h *Host) Start(ctx context.Context) error {
	for i, end := range h.seats {
		if err := end.Connect(ctx); err != nil {
			return err
		}
		data, err := json.Marshal(wire.HandshakeSuccess{Camp: i, Board: h.meta()})
		if err != nil {
			return err
		}
		if err := end.Send(ctx, &wire.Envelope{Type: wire.TypeHandshakeSuccess, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts both pipes. Idempotent; closing the client ends first is
// equally fine.
func (h *Host) Close(ctx context.Context) {
	for _, end := range h.seats {
		_ = end.Close(ctx, wire.CloseNormal, "")
	}
}

func (h *Host) handle(seat int, env *wire.Envelope) {
	ctx := context.Background()
	switch env.Type {
	case wire.TypePrepared:
		h.onPrepared(ctx, seat)
	case wire.TypeMove:
		h.onMove(ctx, seat, env)
	case wire.TypeGetState:
		h.onGetState(ctx, seat, env)
	default:
		h.logger.Warn("host_drop_unrecognized", zap.String("type", env.Type), zap.Int("seat", seat))
	}
}

func (h *Host) onPrepared(ctx context.Context, seat int) {
	h.mu.Lock()
	h.prepared[seat] = true
	begin := h.prepared[0] && h.prepared[1] && !h.started
	if begin {
		h.started = true
	}
	h.mu.Unlock()

	if begin {
		h.logger.Info("local_game_start")
		h.broadcast(ctx, wire.TypeGameStart, nil)
	}
}

func (h *Host) onMove(ctx context.Context, seat int, env *wire.Envelope) {
	var req wire.MoveRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		h.reply(ctx, seat, env, wire.MoveResult{Detail: "malformed move"})
		return
	}
	from := board.Position{Row: req.From.Row, Col: req.From.Col}
	to := board.Position{Row: req.To.Row, Col: req.To.Col}

	h.mu.Lock()
	verdict := h.judge(seat, from, to)
	var turnPush *wire.ChangeTurn
	var endPush *wire.GameEnd
	if verdict == "" {
		captured, moved := h.board.MovePiece(from, to)
		if !moved {
			verdict = "illegal move"
		} else {
			h.turn = 1 - h.turn
			turnPush = &wire.ChangeTurn{Turn: h.turn, From: &req.From, To: &req.To}
			if captured != nil && captured.Royal {
				h.over = true
				endPush = &wire.GameEnd{Winner: seat, Reason: "royal-captured"}
			}
		}
	}
	h.mu.Unlock()

	h.reply(ctx, seat, env, wire.MoveResult{Accepted: verdict == "", Detail: verdict})
	if turnPush != nil {
		h.broadcast(ctx, wire.TypeChangeTurn, turnPush)
	}
	if endPush != nil {
		h.logger.Info("local_game_end", zap.Int("winner", endPush.Winner))
		h.broadcast(ctx, wire.TypeGameEnd, endPush)
	}
}

// judge validates a move request. Empty verdict means legal. Caller
// holds the lock.
func (h *Host) judge(seat int, from, to board.Position) string {
	if !h.started {
		return "game not started"
	}
	if h.over {
		return "game over"
	}
	if seat != h.turn {
		return "not your turn"
	}
	pc, ok := h.board.At(from)
	if !ok {
		return "no piece on origin square"
	}
	if pc.Camp != seat {
		return "not your piece"
	}
	if h.rules != nil {
		for _, d := range h.rules.MovesFrom(h.board, from) {
			if d == to {
				return ""
			}
		}
		return "illegal move"
	}
	return ""
}

func (h *Host) onGetState(ctx context.Context, seat int, env *wire.Envelope) {
	h.mu.Lock()
	resp := wire.StateResponse{Turn: h.turn, Board: h.board.Meta()}
	h.mu.Unlock()
	h.reply(ctx, seat, env, resp)
}

func (h *Host) meta() wire.BoardMeta {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.board.Meta()
}

func (h *Host) reply(ctx context.Context, seat int, req *wire.Envelope, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("host_reply_encode", zap.Error(err))
		return
	}
	if err := h.seats[seat].Send(ctx, &wire.Envelope{Type: req.Type, Data: data, ID: req.ID}); err != nil {
		h.logger.Warn("host_reply_send", zap.Int("seat", seat), zap.Error(err))
	}
}

func (h *Host) broadcast(ctx context.Context, msgType string, payload any) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			h.logger.Warn("host_broadcast_encode", zap.Error(err))
			return
		}
		data = raw
	}
	for seat, end := range h.seats {
		if err := end.Send(ctx, &wire.Envelope{Type: msgType, Data: data}); err != nil {
			h.logger.Warn("host_broadcast_send", zap.Int("seat", seat), zap.Error(err))
		}
	}
}
