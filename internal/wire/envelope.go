package wire

import "encoding/json"

// Envelope is the discrete unit exchanged with the peer. A non-empty ID
// marks a response to a correlated request; pushes carry no ID.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// Peer → client pushes.
const (
	TypeHandshakeSuccess = "handshake-success"
	TypeHandshakeFailure = "handshake-failure"
	TypeGameStart        = "game-start"
	TypeChangeTurn       = "change-turn"
	TypeGameEnd          = "game-end"
)

// Client → peer. TypePrepared is a push; the others are correlated
// requests routed through the correlator.
const (
	TypePrepared = "prepared"
	TypeGetState = "get-state"
	TypeMove     = "move"
)

// Local-only request types. Resolved in-process and never written to
// the peer.
const (
	TypeGetAvailableMoves = "get-available-moves"
	TypeGetIsChecked      = "get-is-checked"
	TypeGetInfo           = "get-info"
)

// ReasonTooManyClients is the handshake-failure reason a peer sends
// when the room is at capacity.
const ReasonTooManyClients = "too-many-clients"

// Coord is a wire-level board coordinate.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// PieceMeta describes one occupied square in a board payload.
type PieceMeta struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Camp  int    `json:"camp"`
	Royal bool   `json:"royal"`
	Name  string `json:"name"`
}

// BoardMeta is the full board description carried by handshake-success
// and get-state responses.
type BoardMeta struct {
	Rows   int         `json:"rows"`
	Cols   int         `json:"cols"`
	Pieces []PieceMeta `json:"pieces"`
}

// HandshakeSuccess carries the assigned camp, the board metadata and
// the extensions the room requires.
type HandshakeSuccess struct {
	Camp       int               `json:"camp"`
	Board      BoardMeta         `json:"board"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// HandshakeFailure carries the reason the peer refused the session.
type HandshakeFailure struct {
	Reason string `json:"reason"`
}

// ChangeTurn announces whose turn it is and, when a move caused the
// change, the move itself.
type ChangeTurn struct {
	Turn int    `json:"turn"`
	From *Coord `json:"from,omitempty"`
	To   *Coord `json:"to,omitempty"`
}

// GameEnd carries the final result.
type GameEnd struct {
	Winner int    `json:"winner"`
	Reason string `json:"reason,omitempty"`
}

// MoveRequest asks the peer to apply a move.
type MoveRequest struct {
	From Coord `json:"from"`
	To   Coord `json:"to"`
}

// MoveResult is the peer's verdict on a move request.
type MoveResult struct {
	Accepted bool   `json:"accepted"`
	Detail   string `json:"detail,omitempty"`
}

// StateResponse answers a get-state request.
type StateResponse struct {
	Turn  int       `json:"turn"`
	Board BoardMeta `json:"board"`
}
