package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jyhwng/boardlink/internal/board"
	"github.com/jyhwng/boardlink/internal/ext"
	"github.com/jyhwng/boardlink/internal/wire"
	"github.com/jyhwng/boardlink/pkg/gamedto"
)

type staticExtensions []ext.Info

func (s staticExtensions) Available(context.Context) ([]ext.Info, error) { return s, nil }

type fakeRecorder struct {
	mu      sync.Mutex
	results []gamedto.GameResult
}

func (r *fakeRecorder) SaveResult(_ context.Context, res gamedto.GameResult) error {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	return nil
}

func newTestSession(t *testing.T, mutate func(*Options)) (*Session, *fakeTransport, *fakePresenter) {
	t.Helper()
	ft := &fakeTransport{}
	fp := &fakePresenter{}
	opts := Options{
		Surface:          "main",
		Transport:        ft,
		Presenter:        fp,
		RequestTimeout:   time.Second,
		HandshakeTimeout: time.Second,
		CloseDelay:       10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSession(opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, ft, fp
}

func startSession(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func handshake(t *testing.T, ft *fakeTransport, camp int, exts map[string]string) {
	t.Helper()
	ft.deliver(t, wire.TypeHandshakeSuccess, wire.HandshakeSuccess{
		Camp: camp,
		Board: wire.BoardMeta{Rows: 3, Cols: 3, Pieces: []wire.PieceMeta{
			{Row: 2, Col: 1, Camp: camp, Royal: true, Name: "king"},
			{Row: 0, Col: 1, Camp: 1 - camp, Name: "rook"},
		}},
		Extensions: exts,
	}, "")
}

func TestSessionConnectFailure(t *testing.T) {
	s, ft, fp := newTestSession(t, nil)
	ft.connectErr = errors.New("refused")

	err := s.Start(context.Background())
	var tre *TransportError
	if !errors.As(err, &tre) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if st := s.State(); st != StateFailed {
		t.Fatalf("state = %s", st)
	}
	if fp.errorCount() != 1 {
		t.Fatalf("errors shown = %d", fp.errorCount())
	}
}

func TestSessionHandshakeToReady(t *testing.T) {
	s, ft, fp := newTestSession(t, nil)
	startSession(t, s)
	handshake(t, ft, 1, nil)

	if st := s.State(); st != StateReady {
		t.Fatalf("state = %s", st)
	}
	sent := ft.sentEnvelopes()
	if len(sent) != 1 || sent[0].Type != wire.TypePrepared {
		t.Fatalf("sent = %+v, want single prepared", sent)
	}
	if len(fp.connects) != 1 || fp.connects[0] != 1 {
		t.Fatalf("connects = %v", fp.connects)
	}
	info := s.Info()
	if info.State != string(StateReady) || info.Camp != 1 {
		t.Fatalf("info = %+v", info)
	}
}

func TestSessionHandshakeTimeout(t *testing.T) {
	s, ft, fp := newTestSession(t, func(o *Options) { o.HandshakeTimeout = 20 * time.Millisecond })
	startSession(t, s)

	eventually(t, time.Second, "handshake abandoned", func() bool { return s.State() == StateAborted })
	eventually(t, time.Second, "transport closed", func() bool { return len(ft.closeCalls()) == 1 })
	if cc := ft.closeCalls()[0]; cc.code != wire.CloseHandshakeAbandoned {
		t.Fatalf("close code = %d", cc.code)
	}
	eventually(t, time.Second, "user told", func() bool { return fp.errorCount() == 1 })
}

func TestSessionHandshakeTimeoutDisarmedBySuccess(t *testing.T) {
	s, ft, _ := newTestSession(t, func(o *Options) { o.HandshakeTimeout = 30 * time.Millisecond })
	startSession(t, s)
	handshake(t, ft, 0, nil)

	time.Sleep(60 * time.Millisecond)
	if st := s.State(); st != StateReady {
		t.Fatalf("state = %s after disarmed timer", st)
	}
	if len(ft.closeCalls()) != 0 {
		t.Fatal("transport closed despite successful handshake")
	}
}

func TestSessionCapacityRejection(t *testing.T) {
	s, ft, fp := newTestSession(t, func(o *Options) { o.CloseDelay = 20 * time.Millisecond })
	startSession(t, s)
	ft.deliver(t, wire.TypeHandshakeFailure, wire.HandshakeFailure{Reason: wire.ReasonTooManyClients}, "")

	if st := s.State(); st != StateFailed {
		t.Fatalf("state = %s", st)
	}
	if fp.errorCount() != 1 {
		t.Fatalf("errors shown = %d", fp.errorCount())
	}
	// The message renders before the connection drops.
	if len(ft.closeCalls()) != 0 {
		t.Fatal("closed before the delay elapsed")
	}
	eventually(t, time.Second, "delayed close", func() bool { return len(ft.closeCalls()) == 1 })
	if cc := ft.closeCalls()[0]; cc.code != wire.CloseNormal || cc.reason != wire.ReasonTooManyClients {
		t.Fatalf("close = %+v", cc)
	}
}

func TestSessionNegotiationMismatch(t *testing.T) {
	s, ft, fp := newTestSession(t, func(o *Options) {
		o.Extensions = staticExtensions{{Key: "fog", Version: "1"}}
	})
	startSession(t, s)
	handshake(t, ft, 0, map[string]string{"fog": "2"})

	if st := s.State(); st != StateRejected {
		t.Fatalf("state = %s", st)
	}
	if len(ft.sentEnvelopes()) != 0 {
		t.Fatal("prepared sent despite rejection")
	}
	if fp.errorCount() != 1 {
		t.Fatalf("errors shown = %d", fp.errorCount())
	}
	fp.mu.Lock()
	msg := fp.errors[0]
	fp.mu.Unlock()
	if !strings.Contains(msg, "fog@2") || !strings.Contains(msg, "fog@1") {
		t.Fatalf("diagnostic missing versions: %q", msg)
	}
	if cc := ft.closeCalls(); len(cc) != 1 || cc[0].code != wire.CloseNormal {
		t.Fatalf("close = %+v", cc)
	}
}

func TestSessionLocalModeSkipsNegotiation(t *testing.T) {
	s, ft, _ := newTestSession(t, func(o *Options) { o.Mode = ModeLocal })
	startSession(t, s)
	// Required extensions present but no source configured: local mode
	// must not care.
	handshake(t, ft, 0, map[string]string{"fog": "2"})

	if st := s.State(); st != StateReady {
		t.Fatalf("state = %s", st)
	}
	if len(ft.closeCalls()) != 0 {
		t.Fatal("local session closed during handshake")
	}
}

func TestSessionGameFlow(t *testing.T) {
	rec := &fakeRecorder{}
	occupiedOnly := board.MoveSourceFunc(func(b *board.Board, from board.Position) []board.Position {
		if _, ok := b.At(from); !ok {
			return nil
		}
		return []board.Position{{Row: 0, Col: 0}}
	})
	s, ft, fp := newTestSession(t, func(o *Options) {
		o.Rules = occupiedOnly
		o.Recorder = rec
	})
	startSession(t, s)
	handshake(t, ft, 0, nil)

	ft.deliver(t, wire.TypeGameStart, nil, "")
	if st := s.State(); st != StateActive {
		t.Fatalf("state = %s", st)
	}
	if fp.starts != 1 {
		t.Fatalf("starts = %d", fp.starts)
	}

	// Rook moves from (0,1) to (2,1), capturing the king on the snapshot.
	ft.deliver(t, wire.TypeChangeTurn, wire.ChangeTurn{
		Turn: 0,
		From: &wire.Coord{Row: 0, Col: 1},
		To:   &wire.Coord{Row: 2, Col: 1},
	}, "")
	if len(fp.turns) != 1 {
		t.Fatalf("turns = %d", len(fp.turns))
	}
	if got := s.AvailableMoves(board.Position{Row: 0, Col: 1}); got != nil {
		t.Fatalf("origin square still occupied, moves = %v", got)
	}
	if got := s.AvailableMoves(board.Position{Row: 2, Col: 1}); len(got) != 1 {
		t.Fatalf("destination square empty, moves = %v", got)
	}

	ft.deliver(t, wire.TypeGameEnd, wire.GameEnd{Winner: 1, Reason: "royal-captured"}, "")
	if st := s.State(); st != StateEnded {
		t.Fatalf("state = %s", st)
	}
	if !s.Ended() {
		t.Fatal("Ended() = false")
	}
	if len(fp.ends) != 1 || fp.ends[0].Winner != 1 {
		t.Fatalf("ends = %+v", fp.ends)
	}
	rec.mu.Lock()
	saved := len(rec.results)
	rec.mu.Unlock()
	if saved != 1 {
		t.Fatalf("results saved = %d", saved)
	}
	// Teardown is explicit; game end leaves the connection up.
	if len(ft.closeCalls()) != 0 {
		t.Fatal("transport closed on game end")
	}
}

func TestSessionIgnoresPushesOutOfState(t *testing.T) {
	s, ft, fp := newTestSession(t, nil)
	startSession(t, s)
	handshake(t, ft, 0, nil)

	// Not active yet: change-turn and game-end are dropped.
	ft.deliver(t, wire.TypeChangeTurn, wire.ChangeTurn{Turn: 1}, "")
	ft.deliver(t, wire.TypeGameEnd, wire.GameEnd{Winner: 0}, "")
	if st := s.State(); st != StateReady {
		t.Fatalf("state = %s", st)
	}
	if len(fp.turns) != 0 || len(fp.ends) != 0 {
		t.Fatalf("out-of-state pushes forwarded: turns=%d ends=%d", len(fp.turns), len(fp.ends))
	}

	// Malformed payload never advances anything.
	ft.onMessage(&wire.Envelope{Type: wire.TypeGameStart, Data: json.RawMessage(`{`)})
	ft.deliver(t, wire.TypeGameStart, nil, "")
	ft.onMessage(&wire.Envelope{Type: wire.TypeChangeTurn, Data: json.RawMessage(`not json`)})
	if st := s.State(); st != StateActive {
		t.Fatalf("state = %s", st)
	}
	if len(fp.turns) != 0 {
		t.Fatal("malformed change-turn forwarded")
	}
}

func TestSessionRejectedDuringConnecting(t *testing.T) {
	s, ft, fp := newTestSession(t, nil)
	startSession(t, s)

	terminated := make(chan closeCall, 1)
	s.onTerminate = func(code int, reason string) { terminated <- closeCall{code, reason} }

	ft.onClose(wire.ClosePeerForced, "duplicate connection")
	if st := s.State(); st != StateRejected {
		t.Fatalf("state = %s", st)
	}
	if fp.errorCount() != 1 {
		t.Fatalf("errors shown = %d", fp.errorCount())
	}
	select {
	case cc := <-terminated:
		if cc.code != wire.ClosePeerForced {
			t.Fatalf("terminate code = %d", cc.code)
		}
	default:
		t.Fatal("onTerminate not fired")
	}
}

func TestSessionLocalPeerForcedCloseIsSilent(t *testing.T) {
	s, ft, fp := newTestSession(t, func(o *Options) { o.Mode = ModeLocal })
	startSession(t, s)
	handshake(t, ft, 0, nil)
	ft.deliver(t, wire.TypeGameStart, nil, "")

	fired := 0
	s.onTerminate = func(int, string) { fired++ }

	// Empty reason from the in-process peer: teardown runs, no dialog.
	ft.onClose(wire.ClosePeerForced, "")
	if fp.errorCount() != 0 {
		t.Fatalf("dialog shown %d times", fp.errorCount())
	}
	if fired != 1 {
		t.Fatalf("onTerminate fired %d times", fired)
	}
	if st := s.State(); st != StateFailed {
		t.Fatalf("state = %s", st)
	}
}

func TestSessionCloseAfterEndedIsQuiet(t *testing.T) {
	s, ft, fp := newTestSession(t, nil)
	startSession(t, s)
	handshake(t, ft, 0, nil)
	ft.deliver(t, wire.TypeGameStart, nil, "")
	ft.deliver(t, wire.TypeGameEnd, wire.GameEnd{Winner: 0}, "")

	fired := 0
	s.onTerminate = func(int, string) { fired++ }
	before := fp.errorCount()

	ft.onClose(wire.CloseNormal, "")
	if fp.errorCount() != before {
		t.Fatal("dialog shown for a session that already concluded")
	}
	if fired != 0 {
		t.Fatal("terminate fired after normal conclusion")
	}
}

func TestSessionDeliberateCloseIsSilent(t *testing.T) {
	s, ft, fp := newTestSession(t, nil)
	startSession(t, s)
	handshake(t, ft, 0, nil)

	fired := 0
	s.onTerminate = func(int, string) { fired++ }

	// The coordinator marks the session, closes the transport, and the
	// close notice echoes back with a reason. Still no dialog.
	if err := s.CloseTransport(context.Background(), wire.CloseNormal, "shutdown"); err != nil {
		t.Fatalf("CloseTransport: %v", err)
	}
	ft.onClose(wire.CloseNormal, "shutdown")

	if fp.errorCount() != 0 {
		t.Fatalf("dialogs shown = %d", fp.errorCount())
	}
	if fired != 0 {
		t.Fatal("terminate fired for a deliberate close")
	}
}

func TestSessionIgnoresHandshakeFailureOutOfState(t *testing.T) {
	s, ft, fp := newTestSession(t, nil)
	startSession(t, s)
	handshake(t, ft, 0, nil)
	ft.deliver(t, wire.TypeGameStart, nil, "")

	ft.deliver(t, wire.TypeHandshakeFailure, wire.HandshakeFailure{Reason: "stray"}, "")

	if st := s.State(); st != StateActive {
		t.Fatalf("state = %s after stray handshake-failure", st)
	}
	if fp.errorCount() != 0 {
		t.Fatalf("dialogs shown = %d", fp.errorCount())
	}
	if len(ft.closeCalls()) != 0 {
		t.Fatal("transport closed by stray handshake-failure")
	}
}

// markerModule drops a marker piece next to every applied move.
type markerModule struct{}

func (markerModule) Key() string     { return "marker" }
func (markerModule) Version() string { return "1" }

func (markerModule) AfterMove(b *board.Board, _, to board.Position) {
	b.Place(board.Position{Row: to.Row, Col: 0}, board.Piece{Camp: 0, Name: "marker"})
}

func TestSessionHookMutationsLandInSnapshot(t *testing.T) {
	occupiedOnly := board.MoveSourceFunc(func(b *board.Board, from board.Position) []board.Position {
		if _, ok := b.At(from); !ok {
			return nil
		}
		return []board.Position{{Row: 0, Col: 0}}
	})
	s, ft, _ := newTestSession(t, func(o *Options) {
		o.Rules = occupiedOnly
		o.Hooks = ext.NewRunner(markerModule{})
	})
	startSession(t, s)
	handshake(t, ft, 0, nil)
	ft.deliver(t, wire.TypeGameStart, nil, "")

	// Readers on other goroutines clone the snapshot while turns apply.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.IsChecked()
				s.AvailableMoves(board.Position{Row: 2, Col: 1})
			}
		}
	}()

	ft.deliver(t, wire.TypeChangeTurn, wire.ChangeTurn{
		Turn: 0,
		From: &wire.Coord{Row: 0, Col: 1},
		To:   &wire.Coord{Row: 1, Col: 1},
	}, "")
	close(stop)
	wg.Wait()

	if got := s.AvailableMoves(board.Position{Row: 1, Col: 0}); len(got) != 1 {
		t.Fatalf("marker square empty, moves = %v", got)
	}
}

func TestSessionRequestRoundTrip(t *testing.T) {
	s, ft, _ := newTestSession(t, nil)
	startSession(t, s)
	handshake(t, ft, 0, nil)

	type outcome struct {
		res *wire.MoveResult
		err error
	}
	got := make(chan outcome, 1)
	go func() {
		res, err := s.Move(context.Background(), board.Position{Row: 2, Col: 1}, board.Position{Row: 1, Col: 1})
		got <- outcome{res, err}
	}()

	eventually(t, time.Second, "move sent", func() bool {
		for _, env := range ft.sentEnvelopes() {
			if env.Type == wire.TypeMove {
				return true
			}
		}
		return false
	})
	var moveEnv *wire.Envelope
	for _, env := range ft.sentEnvelopes() {
		if env.Type == wire.TypeMove {
			moveEnv = env
		}
	}
	ft.deliver(t, wire.TypeMove, wire.MoveResult{Accepted: true}, moveEnv.ID)

	o := <-got
	if o.err != nil {
		t.Fatalf("Move: %v", o.err)
	}
	if !o.res.Accepted {
		t.Fatal("move not accepted")
	}
}
