package ext

import (
	"context"

	"github.com/jyhwng/boardlink/internal/board"
)

// Module is the minimal contract of a loaded extension.
type Module interface {
	Key() string
	Version() string
}

// Optional capabilities. A module implements only the hooks it needs;
// absent hooks are skipped.

// Initializer runs once when the session becomes ready.
type Initializer interface {
	Init(ctx context.Context) error
}

// MoveModifier may rewrite a move before it is applied to the local
// board snapshot.
type MoveModifier interface {
	ModifyMove(b *board.Board, from, to board.Position) (board.Position, board.Position)
}

// AfterMoveHook observes a move after it was applied.
type AfterMoveHook interface {
	AfterMove(b *board.Board, from, to board.Position)
}

// DeathHook observes a capture.
type DeathHook interface {
	OnDeath(b *board.Board, pc board.Piece, at board.Position)
}

// Runner invokes each hook present on each module in registration order.
type Runner struct {
	modules []Module
}

func NewRunner(modules ...Module) *Runner {
	return &Runner{modules: modules}
}

// Infos lists the loaded modules as negotiable {key, version} pairs in
// registration order.
func (r *Runner) Infos() []Info {
	if r == nil {
		return nil
	}
	out := make([]Info, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, Info{Key: m.Key(), Version: m.Version()})
	}
	return out
}

// Init runs every Initializer; the first error aborts the chain.
func (r *Runner) Init(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for _, m := range r.modules {
		if h, ok := m.(Initializer); ok {
			if err := h.Init(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// ModifyMove threads the move through every MoveModifier in order.
func (r *Runner) ModifyMove(b *board.Board, from, to board.Position) (board.Position, board.Position) {
	if r == nil {
		return from, to
	}
	for _, m := range r.modules {
		if h, ok := m.(MoveModifier); ok {
			from, to = h.ModifyMove(b, from, to)
		}
	}
	return from, to
}

func (r *Runner) AfterMove(b *board.Board, from, to board.Position) {
	if r == nil {
		return
	}
	for _, m := range r.modules {
		if h, ok := m.(AfterMoveHook); ok {
			h.AfterMove(b, from, to)
		}
	}
}

func (r *Runner) OnDeath(b *board.Board, pc board.Piece, at board.Position) {
	if r == nil {
		return
	}
	for _, m := range r.modules {
		if h, ok := m.(DeathHook); ok {
			h.OnDeath(b, pc, at)
		}
	}
}
