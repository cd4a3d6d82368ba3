// Package daemon composes the orbitd process out of the internal
// packages via fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/pcardosol/orbit/internal/account"
	"github.com/pcardosol/orbit/internal/api"
	"github.com/pcardosol/orbit/internal/bus"
	"github.com/pcardosol/orbit/internal/chat"
	"github.com/pcardosol/orbit/internal/config"
	"github.com/pcardosol/orbit/internal/gateway"
	"github.com/pcardosol/orbit/internal/lock"
	"github.com/pcardosol/orbit/internal/logging"
	"github.com/pcardosol/orbit/internal/presence"
	"github.com/pcardosol/orbit/internal/rest"
	"github.com/pcardosol/orbit/internal/session"
	"github.com/pcardosol/orbit/internal/status"
	"github.com/pcardosol/orbit/internal/store"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      config.Config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRESTClient,
			provideGateway,
			provideEngine,
			providePresence,
			provideManager,
			provideHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideRESTClient(p Params, logger *zap.Logger) (*rest.Client, error) {
	return rest.NewClient(p.Config.ServerURL, logger)
}

func provideGateway(p Params, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *gateway.Client {
	return gateway.NewClient(p.Config.GatewayURL, b, machine, logger)
}

func provideEngine(rc *rest.Client, b *bus.Bus, logger *zap.Logger) *chat.Engine {
	return chat.NewEngine(rc, b, logger)
}

func providePresence(b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(b, logger)
}

func provideManager(rc *rest.Client, gw *gateway.Client, db *store.DB, engine *chat.Engine, machine *status.Machine, logger *zap.Logger) *account.Manager {
	return account.NewManager(rc, gw, db, engine, machine, logger)
}

func provideHandler(p Params, machine *status.Machine, manager *account.Manager, engine *chat.Engine, tracker *presence.Tracker, gw *gateway.Client, logger *zap.Logger) *api.Handler {
	return api.NewHandler(p.SessionName, machine, manager, engine, tracker, gw, logger)
}

func provideServer(p Params, h *api.Handler, logger *zap.Logger) (*api.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}
	return api.NewServer(socketPath, h.Router(), logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *api.Server, lk *lock.Lock, engine *chat.Engine, tracker *presence.Tracker, gw *gateway.Client, manager *account.Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first, so nothing published during resume is lost.
			engine.Start(context.Background())
			tracker.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control API error", zap.Error(err))
				}
			}()

			// Resume in the background: the control API answers status
			// queries while the backend is being contacted.
			go func() {
				resumed, err := manager.Resume(context.Background())
				if err != nil {
					logger.Warn("session resume failed", zap.Error(err))
					return
				}
				if !resumed {
					logger.Info("no stored session, auth required")
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			gw.Disconnect()
			engine.Stop()
			tracker.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
