package board

// MoveSource reports the destinations reachable from a square. The
// per-piece rules live in an external collaborator; the check detector
// only aggregates whatever move set it reports.
type MoveSource interface {
	MovesFrom(b *Board, from Position) []Position
}

// MoveSourceFunc adapts a plain function to MoveSource.
type MoveSourceFunc func(b *Board, from Position) []Position

func (f MoveSourceFunc) MovesFrom(b *Board, from Position) []Position { return f(b, from) }

// AttackedRoyals returns the positions of camp's royal pieces that some
// other piece can currently reach, in row-major scan order. Every
// occupied square that is not one of camp's royals contributes its move
// set to the reach set; royal pieces are evaluated independently, so
// multiple royals may all appear in the result. Nothing is cached: the
// board may have changed between calls.
func AttackedRoyals(b *Board, camp int, moves MoveSource) []Position {
	if b == nil || moves == nil {
		return nil
	}

	var royals []Position
	reach := make(map[Position]struct{})
	for r := 0; r < b.Rows(); r++ {
		for c := 0; c < b.Cols(); c++ {
			pos := Position{Row: r, Col: c}
			pc, ok := b.At(pos)
			if !ok {
				continue
			}
			if pc.Camp == camp && pc.Royal {
				royals = append(royals, pos)
				continue
			}
			for _, d := range moves.MovesFrom(b, pos) {
				reach[d] = struct{}{}
			}
		}
	}

	out := make([]Position, 0, len(royals))
	for _, p := range royals {
		if _, hit := reach[p]; hit {
			out = append(out, p)
		}
	}
	return out
}
