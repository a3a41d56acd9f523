package daemon

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lojinha/chatd/internal/auth"
	"github.com/lojinha/chatd/internal/bus"
	"github.com/lojinha/chatd/internal/config"
	"github.com/lojinha/chatd/internal/engine"
	"github.com/lojinha/chatd/internal/lock"
	"github.com/lojinha/chatd/internal/logging"
	"github.com/lojinha/chatd/internal/profile"
	"github.com/lojinha/chatd/internal/rest"
	"github.com/lojinha/chatd/internal/status"
	"github.com/lojinha/chatd/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the chat daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideConfig,
			provideIdentity,
			provideBackend,
			provideTransport,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := profile.ConfigPath(p.Profile)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.APIBaseURL == "" || cfg.GatewayURL == "" {
		return nil, fmt.Errorf("config %s: api_base_url and gateway_url are required", path)
	}
	logger.Info("config loaded", zap.String("path", path))
	return cfg, nil
}

func provideIdentity(cfg *config.Config, logger *zap.Logger) (*auth.Context, error) {
	token := cfg.Token
	if cfg.TokenFile != "" {
		raw, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	}
	if token == "" {
		return nil, fmt.Errorf("no token configured: set token or token_file")
	}
	ac, err := auth.FromToken(token)
	if err != nil {
		return nil, err
	}
	logger.Info("identity resolved",
		zap.String("identity", ac.IdentityID),
		zap.String("role", string(ac.Role)))
	return ac, nil
}

func provideBackend(cfg *config.Config, ac *auth.Context, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.APIBaseURL, ac, logger)
}

func provideTransport(cfg *config.Config, ac *auth.Context, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *transport.Manager {
	return transport.NewManager(transport.Config{
		URL:            cfg.GatewayURL,
		ReconnectDelay: time.Duration(cfg.ReconnectDelayMS) * time.Millisecond,
		MaxAttempts:    cfg.MaxReconnectAttempts,
	}, ac, machine, b, logger)
}

func provideEngine(cfg *config.Config, ac *auth.Context, tm *transport.Manager, api *rest.Client, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.New(engine.Config{
		TypingWindow:    time.Duration(cfg.TypingWindowMS) * time.Millisecond,
		HistoryPageSize: cfg.HistoryPageSize,
	}, ac, tm, api, machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, eng *engine.Engine, tm *transport.Manager, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine first: its inbox subscriptions must be registered
			// before the first successful dial issues SUBSCRIBE frames.
			eng.Start(context.Background())
			tm.Connect(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			tm.Disconnect()
			eng.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
