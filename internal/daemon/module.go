package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/sigstate/internal/account"
	"github.com/matheus3301/sigstate/internal/api"
	"github.com/matheus3301/sigstate/internal/bus"
	"github.com/matheus3301/sigstate/internal/config"
	"github.com/matheus3301/sigstate/internal/datadir"
	"github.com/matheus3301/sigstate/internal/legacy"
	"github.com/matheus3301/sigstate/internal/lock"
	"github.com/matheus3301/sigstate/internal/logging"
	"github.com/matheus3301/sigstate/internal/metrics"
	"github.com/matheus3301/sigstate/internal/receiver"
	"github.com/matheus3301/sigstate/internal/status"
	"github.com/matheus3301/sigstate/internal/store"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	Account    string
	SocketPath string // optional override for testing; empty = use default
	// ImportPath names an exported account document to load into the store
	// before the account is opened. Empty skips the import.
	ImportPath string
	// Poller is the protocol engine's receive side. Without one the daemon
	// serves state but cannot receive.
	Poller receiver.Poller
	Config *config.Config
}

func (p Params) config() *config.Config {
	if p.Config == nil {
		return config.Default()
	}
	return p.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideManager,
			provideReceiver,
			provideControlService,
			provideRegistry,
			NewMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(datadir.LogPath(p.Account), p.Account, p.config().LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := datadir.EnsureDir(p.Account); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.Account))
	l, err := lock.Acquire(datadir.AccountDir(p.Account), p.Account)
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := datadir.DBPath(p.Account)
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

func provideManager(p Params, db *store.DB, logger *zap.Logger) (*account.Manager, error) {
	settings := db.Settings(p.Account)
	opts := []account.Option{
		account.WithLogger(logger),
		account.WithMigrationSink(func(ie *legacy.ItemError) {
			logger.Warn("legacy record dropped", zap.String("thread", ie.ThreadID), zap.Error(ie.Err))
		}),
	}

	if p.ImportPath != "" {
		blob, err := os.ReadFile(p.ImportPath)
		if err != nil {
			return nil, fmt.Errorf("read import: %w", err)
		}
		st, err := account.Import(blob, settings, opts...)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", p.ImportPath, err)
		}
		if st.Handle != p.Account {
			return nil, fmt.Errorf("import %s: document belongs to %s, not %s", p.ImportPath, st.Handle, p.Account)
		}
		logger.Info("account imported", zap.String("path", p.ImportPath))
	}

	m, err := account.Open(settings, opts...)
	if errors.Is(err, account.ErrNotFound) {
		return nil, fmt.Errorf("no stored state for %s; import one with --import: %w", p.Account, err)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("account state loaded")
	return m, nil
}

func provideReceiver(p Params, m *account.Manager, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *receiver.Receiver {
	cfg := p.config()
	return receiver.New(
		p.Poller,
		receiver.NewLogHost(logger),
		m,
		machine,
		b,
		receiver.Config{
			PollTimeout:  cfg.PollTimeout.Std(),
			ErrorBackoff: cfg.ErrorBackoff.Std(),
		},
		logger,
	)
}

func provideControlService(m *account.Manager, r *receiver.Receiver, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *api.ControlService {
	return api.NewControlService(context.Background(), m, r, machine, b, logger)
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.MustRegister(reg)
	return reg
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, ms *MetricsServer, rcv *receiver.Receiver, m *account.Manager, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := ms.Start(); err != nil {
				return err
			}

			switch {
			case !p.config().AutoReceive:
				logger.Info("auto receive disabled")
			case p.Poller == nil:
				logger.Info("no protocol engine attached, not receiving")
			default:
				if err := rcv.Start(context.Background()); err != nil {
					return err
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			rcv.Stop()
			if err := m.Save(); err != nil {
				logger.Error("final save failed", zap.Error(err))
			}
			srv.Stop(ctx)
			ms.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
