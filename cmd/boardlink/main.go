package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/jyhwng/boardlink/internal/config"
	"github.com/jyhwng/boardlink/internal/extreg"
	"github.com/jyhwng/boardlink/internal/lobbyapi"
	"github.com/jyhwng/boardlink/internal/localgame"
	"github.com/jyhwng/boardlink/internal/msgcat"
	"github.com/jyhwng/boardlink/internal/obslog"
	"github.com/jyhwng/boardlink/internal/protocol"
	"github.com/jyhwng/boardlink/internal/record"
	"github.com/jyhwng/boardlink/internal/rules"
	"github.com/jyhwng/boardlink/internal/wire"
	"github.com/jyhwng/boardlink/pkg/gamedto"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	logger := obslog.L()

	msgs, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		logger.Fatal("message catalog init failed", zap.Error(err))
	}

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.AuthUserID != "" {
			h["X-User-Id"] = cfg.AuthUserID
		}
		if cfg.AuthSession != "" {
			h["X-Session-Id"] = cfg.AuthSession
		}
		return h
	}

	// Peek at the lobby before opening any session.
	if cfg.LobbyBaseURL != "" {
		lobby := lobbyapi.NewClient(cfg.LobbyBaseURL, lobbyapi.WithHeaderProvider(headers))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if info, err := lobby.ServerInfo(ctx); err != nil {
			logger.Warn("lobby unreachable", zap.Error(err))
		} else {
			logger.Info("lobby",
				zap.String("name", info.Name),
				zap.String("version", info.Version),
				zap.Int("capacity", info.Capacity),
				zap.Int("rooms", info.Rooms))
		}
		cancel()
	}

	var extsrc protocol.ExtensionSource
	if cfg.RedisURL != "" {
		reg, err := extreg.New(cfg.RedisURL)
		if err != nil {
			logger.Fatal("extension registry init failed", zap.Error(err))
		}
		defer reg.Close()
		extsrc = reg
	}

	var recorder protocol.Recorder
	if cfg.DatabaseURL != "" {
		repo, err := record.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("result repository init failed", zap.Error(err))
		}
		defer repo.Close()
		recorder = repo
	}

	done := make(chan struct{})
	coord := protocol.NewCoordinator(
		stdinConfirmer{msgs: msgs},
		func() { close(done) },
		logger,
	)

	mode := protocol.ModeRemote
	if cfg.LocalMode {
		mode = protocol.ModeLocal
	}

	// Remote surfaces each dial the server. Local two-seat play wires
	// each pair of surfaces through an in-process host over in-memory
	// pipes; the host owns the board and judges moves.
	transports := make(map[string]wire.Transport, len(cfg.Surfaces))
	var hosts []*localgame.Host
	if cfg.LocalMode {
		if len(cfg.Surfaces)%2 != 0 {
			logger.Fatal("local mode needs surfaces in pairs", zap.Strings("surfaces", cfg.Surfaces))
		}
		for i := 0; i < len(cfg.Surfaces); i += 2 {
			host, ends := localgame.New(localgame.ChessStart(), rules.Chess{}, logger)
			hosts = append(hosts, host)
			transports[cfg.Surfaces[i]] = ends[0]
			transports[cfg.Surfaces[i+1]] = ends[1]
		}
	} else {
		for _, surface := range cfg.Surfaces {
			ws := wire.NewWebSocket(cfg.ServerWSURL, logger)
			ws.SetHeaderProvider(headers)
			transports[surface] = ws
		}
	}
	for _, host := range hosts {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := host.Start(ctx); err != nil {
			cancel()
			logger.Fatal("local host start failed", zap.Error(err))
		}
		cancel()
	}

	for _, surface := range cfg.Surfaces {
		sess, err := protocol.NewSession(protocol.Options{
			Surface:          surface,
			Mode:             mode,
			Transport:        transports[surface],
			Presenter:        &logPresenter{logger: logger},
			Extensions:       extsrc,
			Rules:            rules.Chess{},
			Recorder:         recorder,
			Messages:         msgs,
			RequestTimeout:   cfg.RequestTimeout,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CloseDelay:       cfg.CloseDelay,
			Logger:           logger,
		})
		if err != nil {
			logger.Fatal("session init failed", zap.String("surface", surface), zap.Error(err))
		}
		if err := coord.Attach(sess); err != nil {
			logger.Fatal("session attach failed", zap.String("surface", surface), zap.Error(err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := sess.Start(ctx); err != nil {
			cancel()
			logger.Fatal("session start failed", zap.String("surface", surface), zap.Error(err))
		}
		cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("signal received, shutting down")
	case <-done:
		logger.Info("all sessions terminated")
	}
	coord.Close()
	for _, host := range hosts {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		host.Close(ctx)
		cancel()
	}
}

// logPresenter is a headless presentation layer: every push lands in
// the log.
type logPresenter struct {
	logger *zap.Logger
}

func (p *logPresenter) ConnectSuccess(surface string, camp int) {
	p.logger.Info("connected", zap.String("surface", surface), zap.Int("camp", camp))
}

func (p *logPresenter) GameStart(surface string) {
	p.logger.Info("game started", zap.String("surface", surface))
}

func (p *logPresenter) TurnChange(surface string, payload json.RawMessage) {
	p.logger.Info("turn changed", zap.String("surface", surface), zap.ByteString("payload", payload))
}

func (p *logPresenter) GameEnd(surface string, result gamedto.GameResult) {
	p.logger.Info("game ended",
		zap.String("surface", surface),
		zap.Int("winner", result.Winner),
		zap.String("reason", result.Reason))
}

func (p *logPresenter) ShowError(surface string, message string) {
	p.logger.Error(message, zap.String("surface", surface))
}

// stdinConfirmer asks on the terminal before a destructive close.
type stdinConfirmer struct {
	msgs *msgcat.Catalog
}

func (c stdinConfirmer) ConfirmClose(ctx context.Context, surface string) bool {
	prompt := "A game is in progress. Close anyway?"
	if c.msgs != nil {
		if out, err := c.msgs.Render("close.confirm", map[string]any{}); err == nil {
			prompt = out
		}
	}
	fmt.Printf("[%s] %s [y/N]: ", surface, prompt)

	answer := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		if sc.Scan() {
			answer <- sc.Text()
			return
		}
		answer <- ""
	}()

	select {
	case <-ctx.Done():
		return false
	case a := <-answer:
		a = strings.ToLower(strings.TrimSpace(a))
		return a == "y" || a == "yes"
	}
}
