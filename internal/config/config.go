package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the process configuration, read from the environment.
type AppConfig struct {
	ServerWSURL  string
	LobbyBaseURL string

	RedisURL    string
	DatabaseURL string

	LocalMode bool
	Surfaces  []string

	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	CloseDelay       time.Duration

	MsgOverrideDir string

	AuthUserID  string
	AuthSession string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		RequestTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		CloseDelay:       3 * time.Second,
		Surfaces:         []string{"main"},
	}

	cfg.ServerWSURL = strings.TrimSpace(os.Getenv("SERVER_WS_URL"))
	cfg.LobbyBaseURL = strings.TrimSpace(os.Getenv("LOBBY_BASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))
	cfg.AuthUserID = strings.TrimSpace(os.Getenv("AUTH_USER_ID"))
	cfg.AuthSession = strings.TrimSpace(os.Getenv("AUTH_SESSION_ID"))

	if v := strings.TrimSpace(os.Getenv("LOCAL_MODE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LocalMode = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("SURFACE_IDS")); v != "" {
		var surfaces []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				surfaces = append(surfaces, s)
			}
		}
		if len(surfaces) > 0 {
			cfg.Surfaces = surfaces
		}
	}
	if d, ok := envSeconds("REQUEST_TIMEOUT_SEC"); ok {
		cfg.RequestTimeout = d
	}
	if d, ok := envSeconds("HANDSHAKE_TIMEOUT_SEC"); ok {
		cfg.HandshakeTimeout = d
	}
	if d, ok := envSeconds("CLOSE_DELAY_SEC"); ok {
		cfg.CloseDelay = d
	}

	if cfg.ServerWSURL == "" && !cfg.LocalMode {
		return nil, errors.New("SERVER_WS_URL is required")
	}
	return cfg, nil
}

func envSeconds(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
