package board

import (
	"fmt"

	"github.com/jyhwng/boardlink/internal/wire"
)

// Position is a board coordinate. Structural equality makes it usable
// directly as a map key; it is never compared through a serialized form.
type Position struct {
	Row int
	Col int
}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.Row, p.Col) }

// Piece occupies one square. Camp identifies the owning side; Royal
// marks the piece whose capture ends the game for its owner. Name is a
// display identity only.
type Piece struct {
	Camp  int
	Royal bool
	Name  string
}

// Board is a rectangular grid of optional pieces.
type Board struct {
	rows  int
	cols  int
	cells [][]*Piece
}

func New(rows, cols int) *Board {
	cells := make([][]*Piece, rows)
	for r := range cells {
		cells[r] = make([]*Piece, cols)
	}
	return &Board{rows: rows, cols: cols, cells: cells}
}

// FromMeta builds a board from its wire description. Out-of-bounds
// pieces are dropped rather than trusted.
func FromMeta(meta wire.BoardMeta) *Board {
	b := New(meta.Rows, meta.Cols)
	for _, pm := range meta.Pieces {
		b.Place(Position{Row: pm.Row, Col: pm.Col}, Piece{Camp: pm.Camp, Royal: pm.Royal, Name: pm.Name})
	}
	return b
}

func (b *Board) Rows() int { return b.rows }
func (b *Board) Cols() int { return b.cols }

func (b *Board) InBounds(p Position) bool {
	return p.Row >= 0 && p.Row < b.rows && p.Col >= 0 && p.Col < b.cols
}

// At returns the piece on p, if any.
func (b *Board) At(p Position) (Piece, bool) {
	if !b.InBounds(p) {
		return Piece{}, false
	}
	pc := b.cells[p.Row][p.Col]
	if pc == nil {
		return Piece{}, false
	}
	return *pc, true
}

// Place puts a piece on p, replacing any occupant. No-op out of bounds.
func (b *Board) Place(p Position, pc Piece) {
	if !b.InBounds(p) {
		return
	}
	cp := pc
	b.cells[p.Row][p.Col] = &cp
}

// Remove clears p and returns the removed piece, if any.
func (b *Board) Remove(p Position) (Piece, bool) {
	if !b.InBounds(p) {
		return Piece{}, false
	}
	pc := b.cells[p.Row][p.Col]
	if pc == nil {
		return Piece{}, false
	}
	b.cells[p.Row][p.Col] = nil
	return *pc, true
}

// MovePiece relocates the occupant of from to to and returns the
// captured piece when to was occupied. Moves from an empty square or
// with either end out of bounds are ignored.
func (b *Board) MovePiece(from, to Position) (captured *Piece, moved bool) {
	if !b.InBounds(to) {
		return nil, false
	}
	pc, ok := b.Remove(from)
	if !ok {
		return nil, false
	}
	if prev, had := b.At(to); had {
		captured = &prev
	}
	b.Place(to, pc)
	return captured, true
}

// Meta renders the board back to its wire description, pieces in
// row-major order.
func (b *Board) Meta() wire.BoardMeta {
	meta := wire.BoardMeta{Rows: b.rows, Cols: b.cols}
	for r := 0; r < b.rows; r++ {
		for c := 0; c < b.cols; c++ {
			if pc := b.cells[r][c]; pc != nil {
				meta.Pieces = append(meta.Pieces, wire.PieceMeta{
					Row: r, Col: c, Camp: pc.Camp, Royal: pc.Royal, Name: pc.Name,
				})
			}
		}
	}
	return meta
}

// Clone returns a deep copy.
func (b *Board) Clone() *Board {
	out := New(b.rows, b.cols)
	for r := 0; r < b.rows; r++ {
		for c := 0; c < b.cols; c++ {
			if pc := b.cells[r][c]; pc != nil {
				cp := *pc
				out.cells[r][c] = &cp
			}
		}
	}
	return out
}
