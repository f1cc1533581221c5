package app

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/matheus3301/chatrelay/internal/api"
	"github.com/matheus3301/chatrelay/internal/auth"
	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/config"
	"github.com/matheus3301/chatrelay/internal/health"
	"github.com/matheus3301/chatrelay/internal/lock"
	"github.com/matheus3301/chatrelay/internal/logging"
	"github.com/matheus3301/chatrelay/internal/pipeline"
	"github.com/matheus3301/chatrelay/internal/profile"
	"github.com/matheus3301/chatrelay/internal/realtime"
	"github.com/matheus3301/chatrelay/internal/store"
	intsync "github.com/matheus3301/chatrelay/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	// Console mirrors logs to stderr; off while the TUI owns the terminal.
	Console bool
	// Overrides for testing; empty = profile defaults.
	ConfigPath string
	SocketPath string
}

// Module returns the fx module for the chat client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chat",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideTokenFile,
			provideCredentials,
			provideManager,
			provideAPIClient,
			provideRegistry,
			provideSyncEngine,
			provideHealthServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// WithLogger routes fx's own events through the profile logger.
func WithLogger() fx.Option {
	return fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: logger.Named("fx")}
	})
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokenFile(p Params, cfg *config.Config, logger *zap.Logger) *auth.TokenFile {
	path := cfg.Server.TokenFile
	if path == "" {
		path = profile.TokenPath(p.Profile)
	}
	return auth.NewTokenFile(path, logger)
}

// provideCredentials prefers the bearer token file. A configured cookie is
// used instead only when no token file exists.
func provideCredentials(cfg *config.Config, tf *auth.TokenFile, logger *zap.Logger) auth.HeaderProvider {
	if cfg.Server.Cookie != "" {
		if _, err := os.Stat(tf.Path()); errors.Is(err, fs.ErrNotExist) {
			logger.Info("using cookie credentials")
			return auth.Ambient(http.Header{"Cookie": {cfg.Server.Cookie}})
		}
	}
	logger.Info("using bearer token credentials", zap.String("token_file", tf.Path()))
	return auth.Bearer(tf)
}

func provideManager(cfg *config.Config, creds auth.HeaderProvider, b *bus.Bus, logger *zap.Logger) (*realtime.Manager, error) {
	url, err := realtime.WebSocketURL(cfg.Server.BaseURL)
	if err != nil {
		return nil, err
	}
	return realtime.NewManager(realtime.Options{
		URL:               url,
		Transport:         realtime.WebSocketTransport{ReadLimit: cfg.Realtime.ReadLimit},
		Credentials:       creds,
		ReconnectInterval: cfg.Realtime.ReconnectInterval.Duration,
		DialTimeout:       cfg.Realtime.DialTimeout.Duration,
		Bus:               b,
		Logger:            logger.Named("realtime"),
	})
}

func provideAPIClient(cfg *config.Config, creds auth.HeaderProvider, logger *zap.Logger) (*api.Client, error) {
	return api.NewClient(api.Options{
		BaseURL:     cfg.Server.BaseURL,
		Credentials: creds,
		Logger:      logger.Named("api"),
	})
}

func provideRegistry(cfg *config.Config, m *realtime.Manager, client *api.Client, b *bus.Bus, logger *zap.Logger) *pipeline.Registry {
	if cfg.User.ID == "" {
		logger.Warn("user.id is not configured; sending is disabled")
	}
	return pipeline.NewRegistry(pipeline.RegistryOptions{
		Realtime: m,
		Creator:  client,
		History:  client,
		User: chat.Sender{
			ID:    cfg.User.ID,
			Name:  cfg.User.Name,
			Image: cfg.User.Image,
		},
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		BackoffBase:  cfg.Pipeline.BackoffBase.Duration,
		DrainDelay:   cfg.Pipeline.DrainDelay.Duration,
		HistoryLimit: cfg.Pipeline.HistoryLimit,
		Bus:          b,
		Logger:       logger.Named("pipeline"),
	})
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("sync"))
}

func provideHealthServer(p Params, b *bus.Bus, logger *zap.Logger) (*health.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}
	return health.NewServer(socketPath, b, logger)
}

type lifecycleParams struct {
	fx.In

	Lock      *lock.Lock
	DB        *store.DB
	TokenFile *auth.TokenFile
	Manager   *realtime.Manager
	Registry  *pipeline.Registry
	Engine    *intsync.Engine
	Health    *health.Server
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Cache writer first so no confirmed message is missed.
			p.Engine.Start(context.Background())

			if err := p.TokenFile.Watch(context.Background()); err != nil {
				p.Logger.Warn("token file watch unavailable", zap.Error(err))
			}

			p.Registry.Start()

			go func() {
				if err := p.Health.Start(); err != nil {
					p.Logger.Error("health server error", zap.Error(err))
				}
			}()

			p.Manager.Connect()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Registry.Stop()
			p.Manager.Disconnect()
			if err := p.TokenFile.Close(); err != nil {
				p.Logger.Warn("error closing token watcher", zap.Error(err))
			}
			p.Engine.Stop()
			p.Health.Stop(ctx)
			if err := p.DB.Close(); err != nil {
				p.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				p.Logger.Warn("error releasing lock", zap.Error(err))
			}
			p.Logger.Info("chat client stopped")
			_ = p.Logger.Sync()
			return nil
		},
	})
}
