package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/inkbridge/inkbridge-agent/internal/accessorysvc"
	accessorylinux "github.com/inkbridge/inkbridge-agent/internal/accessorysvc/linux"
	"github.com/inkbridge/inkbridge-agent/internal/configsvc"
	"github.com/inkbridge/inkbridge-agent/internal/hoststore"
	"github.com/inkbridge/inkbridge-agent/internal/inputsvc"
	"github.com/inkbridge/inkbridge-agent/internal/metrics"
	"github.com/inkbridge/inkbridge-agent/internal/notify"
	"github.com/inkbridge/inkbridge-agent/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

type Agent struct {
	config Config

	log         *zap.Logger
	db          *badger.DB
	configSvc   *configsvc.Service
	notifyBus   *notify.Bus
	dispatcher  *inputsvc.Dispatcher
	metrics     *metrics.Metrics
	registry    *prometheus.Registry
	accessories accessorysvc.Manager
	sessions    *session.Service
	hosts       *hoststore.Store
}

func newLogger() (*zap.Logger, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func NewAgent(config Config) (*Agent, error) {
	c := dig.New()
	constructors := []any{
		newLogger,
		func(logger *zap.Logger) (*badger.DB, error) {
			dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
			dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
			db, err := badger.Open(dbOptions)
			if err != nil {
				return nil, fmt.Errorf("failed to open badger db: %w", err)
			}
			return db, nil
		},
		func(logger *zap.Logger) *configsvc.Service {
			return configsvc.New(logger.Named("config"))
		},
		func(logger *zap.Logger) *notify.Bus {
			return notify.NewBus(logger.Named("notify"))
		},
		inputsvc.NewDispatcher,
		func() (*metrics.Metrics, *prometheus.Registry, error) {
			m := metrics.New("inkbridge")
			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector())
			if err := m.Register(registry); err != nil {
				return nil, nil, err
			}
			return m, registry, nil
		},
		func(logger *zap.Logger) accessorysvc.Manager {
			return accessorylinux.NewManager(logger.Named("accessory.linux"))
		},
		func(logger *zap.Logger, manager accessorysvc.Manager, bus *notify.Bus, m *metrics.Metrics) session.Connector {
			return session.NewConnector(logger.Named("transport"), manager,
				accessorysvc.WithNotify(notify.Publish(bus)),
				accessorysvc.WithPollHook(func(accessorysvc.State) { m.DiscoveryPolled() }),
			)
		},
		func(logger *zap.Logger, d *inputsvc.Dispatcher, connect session.Connector, bus *notify.Bus, m *metrics.Metrics) *session.Service {
			return session.NewService(logger.Named("session"), d, connect, notify.Publish(bus), m)
		},
		func(db *badger.DB) *hoststore.Store {
			return hoststore.New(db, time.Now)
		},
	}
	for _, constructor := range constructors {
		if err := c.Provide(constructor); err != nil {
			return nil, fmt.Errorf("failed to provide dependency: %w", err)
		}
	}

	a := &Agent{config: config}
	err := c.Invoke(func(
		logger *zap.Logger,
		db *badger.DB,
		configSvc *configsvc.Service,
		bus *notify.Bus,
		dispatcher *inputsvc.Dispatcher,
		m *metrics.Metrics,
		registry *prometheus.Registry,
		accessories accessorysvc.Manager,
		sessions *session.Service,
		hosts *hoststore.Store,
	) {
		a.log = logger
		a.db = db
		a.configSvc = configSvc
		a.notifyBus = bus
		a.dispatcher = dispatcher
		a.metrics = m
		a.registry = registry
		a.accessories = accessories
		a.sessions = sessions
		a.hosts = hosts
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build agent: %w", err)
	}
	return a, nil
}

func (a *Agent) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the agent and blocks until the context is cancelled.
// Agent startup will fail if no input device can be opened.
// A bridge configuration change replaces the running session with a new one.
func (a *Agent) Run(ctx context.Context, overrides ...Override) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.notifyBus.Start(groupCtx)
	})
	group.Go(func() error {
		a.logNotifications(groupCtx)
		return nil
	})
	if a.config.MetricsAddr != "" {
		group.Go(func() error {
			return metrics.Serve(groupCtx, a.log.Named("metrics"), a.config.MetricsAddr, a.registry)
		})
	}
	group.Go(func() error {
		return a.runBridge(groupCtx, overrides)
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) logNotifications(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-a.notifyBus.Ready():
	}
	log := a.log.Named("notify")
	for msg := range a.notifyBus.Subscribe(ctx) {
		n := msg.Message
		fields := []zap.Field{zap.Stringer("kind", n.Kind)}
		if n.Session != "" {
			fields = append(fields, zap.String("session", n.Session))
		}
		if n.Message != "" {
			fields = append(fields, zap.String("message", n.Message))
		}
		if n.Err != nil {
			fields = append(fields, zap.Error(n.Err))
		}
		log.Info("Notification", fields...)
	}
}

func (a *Agent) Logger() *zap.Logger {
	return a.log
}

func (a *Agent) Hosts() *hoststore.Store {
	return a.hosts
}

func (a *Agent) Accessories() accessorysvc.Manager {
	return a.accessories
}
