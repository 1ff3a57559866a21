package rules

import (
	"sort"
	"testing"

	"github.com/jyhwng/boardlink/internal/board"
)

// initialBoard sets up the standard chess opening position. Row 0 is
// the black back rank.
func initialBoard() *board.Board {
	b := board.New(8, 8)
	back := []string{"rook", "knight", "bishop", "queen", "king", "bishop", "knight", "rook"}
	for c := 0; c < 8; c++ {
		b.Place(board.Position{Row: 0, Col: c}, board.Piece{Camp: CampBlack, Name: back[c], Royal: back[c] == "king"})
		b.Place(board.Position{Row: 1, Col: c}, board.Piece{Camp: CampBlack, Name: "pawn"})
		b.Place(board.Position{Row: 6, Col: c}, board.Piece{Camp: CampWhite, Name: "pawn"})
		b.Place(board.Position{Row: 7, Col: c}, board.Piece{Camp: CampWhite, Name: back[c], Royal: back[c] == "king"})
	}
	return b
}

func sorted(ps []board.Position) []board.Position {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Row != ps[j].Row {
			return ps[i].Row < ps[j].Row
		}
		return ps[i].Col < ps[j].Col
	})
	return ps
}

func TestMovesFromOpeningPawn(t *testing.T) {
	b := initialBoard()
	// e2 pawn: single and double push.
	got := sorted(Chess{}.MovesFrom(b, board.Position{Row: 6, Col: 4}))
	want := []board.Position{{Row: 4, Col: 4}, {Row: 5, Col: 4}}
	if len(got) != len(want) {
		t.Fatalf("moves = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("moves = %v, want %v", got, want)
		}
	}
}

func TestMovesFromBlackKnight(t *testing.T) {
	b := initialBoard()
	// b8 knight jumps over the pawn rank.
	got := sorted(Chess{}.MovesFrom(b, board.Position{Row: 0, Col: 1}))
	want := []board.Position{{Row: 2, Col: 0}, {Row: 2, Col: 2}}
	if len(got) != len(want) {
		t.Fatalf("moves = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("moves = %v, want %v", got, want)
		}
	}
}

func TestMovesFromBlockedPiece(t *testing.T) {
	b := initialBoard()
	// a1 rook is boxed in.
	if got := (Chess{}).MovesFrom(b, board.Position{Row: 7, Col: 0}); len(got) != 0 {
		t.Fatalf("moves = %v, want none", got)
	}
}

func TestMovesFromEmptySquare(t *testing.T) {
	b := initialBoard()
	if got := (Chess{}).MovesFrom(b, board.Position{Row: 4, Col: 4}); got != nil {
		t.Fatalf("moves = %v, want nil", got)
	}
}

func TestMovesFromNonChessBoard(t *testing.T) {
	b := board.New(9, 10)
	b.Place(board.Position{Row: 0, Col: 0}, board.Piece{Camp: CampWhite, Name: "rook"})
	if got := (Chess{}).MovesFrom(b, board.Position{Row: 0, Col: 0}); got != nil {
		t.Fatalf("moves = %v on a non-8x8 board", got)
	}
}

func TestMovesFromUnknownPieceName(t *testing.T) {
	b := board.New(8, 8)
	b.Place(board.Position{Row: 4, Col: 4}, board.Piece{Camp: CampWhite, Name: "dragon"})
	b.Place(board.Position{Row: 7, Col: 4}, board.Piece{Camp: CampWhite, Name: "king", Royal: true})
	b.Place(board.Position{Row: 0, Col: 4}, board.Piece{Camp: CampBlack, Name: "king", Royal: true})
	if got := (Chess{}).MovesFrom(b, board.Position{Row: 4, Col: 4}); got != nil {
		t.Fatalf("moves = %v for a piece chess cannot name", got)
	}
}
