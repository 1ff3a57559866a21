package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/jyhwng/boardlink/internal/board"
)

// Camps recognized by the chess adapter.
const (
	CampWhite = 0
	CampBlack = 1
)

// Chess generates moves for classic 8x8 boards with the corentings
// engine. Piece names must carry chess identities, either FEN letters
// or the English names; camp decides the color. It serves as the default move-generation
// collaborator: the protocol core only consumes the aggregate move set.
type Chess struct{}

// MovesFrom reports the legal destinations of the piece on from. The
// generic board converts to FEN with the side to move forced to the
// queried piece's camp, so opponent pieces can be queried too. Castling
// and en passant state is not tracked on the generic board.
func (Chess) MovesFrom(b *board.Board, from board.Position) []board.Position {
	if b == nil || b.Rows() != 8 || b.Cols() != 8 {
		return nil
	}
	pc, ok := b.At(from)
	if !ok {
		return nil
	}

	fen, err := boardFEN(b, pc.Camp)
	if err != nil {
		return nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil
	}
	game := nchess.NewGame(opt)

	origin := squareAt(from)
	var out []board.Position
	for _, mv := range game.ValidMoves() {
		if mv.S1() == origin {
			out = append(out, positionOf(mv.S2()))
		}
	}
	return out
}

// boardFEN renders the board with turnCamp to move. Row 0 is rank 8.
func boardFEN(b *board.Board, turnCamp int) (string, error) {
	ranks := make([]string, 0, 8)
	for r := 0; r < 8; r++ {
		var sb strings.Builder
		empty := 0
		for c := 0; c < 8; c++ {
			pc, ok := b.At(board.Position{Row: r, Col: c})
			if !ok {
				empty++
				continue
			}
			letter, err := fenLetter(pc)
			if err != nil {
				return "", err
			}
			if empty > 0 {
				sb.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			sb.WriteString(letter)
		}
		if empty > 0 {
			sb.WriteString(strconv.Itoa(empty))
		}
		ranks = append(ranks, sb.String())
	}

	side := "w"
	if turnCamp == CampBlack {
		side = "b"
	}
	return strings.Join(ranks, "/") + " " + side + " - - 0 1", nil
}

// fenLetters accepts both bare FEN letters and the English piece names.
var fenLetters = map[string]string{
	"k": "k", "q": "q", "r": "r", "b": "b", "n": "n", "p": "p",
	"king": "k", "queen": "q", "rook": "r", "bishop": "b", "knight": "n", "pawn": "p",
}

func fenLetter(pc board.Piece) (string, error) {
	name := strings.ToLower(strings.TrimSpace(pc.Name))
	letter, ok := fenLetters[name]
	if !ok {
		return "", fmt.Errorf("piece %q is not a chess identity", pc.Name)
	}
	if pc.Camp == CampWhite {
		return strings.ToUpper(letter), nil
	}
	return letter, nil
}

func squareAt(p board.Position) nchess.Square {
	return nchess.NewSquare(nchess.File(p.Col), nchess.Rank(7-p.Row))
}

func positionOf(sq nchess.Square) board.Position {
	return board.Position{Row: 7 - int(sq.Rank()), Col: int(sq.File())}
}
