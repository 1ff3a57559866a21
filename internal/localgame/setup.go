package localgame

import "github.com/jyhwng/boardlink/internal/board"

// ChessStart builds the standard chess opening position. Camp 0 sits
// on rows 6-7 (white), camp 1 on rows 0-1. The piece names carry chess
// identities so the chess rules adapter can judge moves.
func ChessStart() *board.Board {
	b := board.New(8, 8)
	back := []string{"rook", "knight", "bishop", "queen", "king", "bishop", "knight", "rook"}
	for c := 0; c < 8; c++ {
		b.Place(board.Position{Row: 0, Col: c}, board.Piece{Camp: 1, Name: back[c], Royal: back[c] == "king"})
		b.Place(board.Position{Row: 1, Col: c}, board.Piece{Camp: 1, Name: "pawn"})
		b.Place(board.Position{Row: 6, Col: c}, board.Piece{Camp: 0, Name: "pawn"})
		b.Place(board.Position{Row: 7, Col: c}, board.Piece{Camp: 0, Name: back[c], Royal: back[c] == "king"})
	}
	return b
}
