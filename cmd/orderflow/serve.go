package main

import (
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/aggregate/snapshot"
	"github.com/jpkontreras/orderflow/aggregate/snapshot/memsnap"
	"github.com/jpkontreras/orderflow/aggregate/snapshot/mongosnap"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventbus"
	"github.com/jpkontreras/orderflow/event/eventbus/chanbus"
	"github.com/jpkontreras/orderflow/event/eventbus/natsbus"
	"github.com/jpkontreras/orderflow/event/eventlog"
	"github.com/jpkontreras/orderflow/event/eventlog/memlog"
	"github.com/jpkontreras/orderflow/event/eventlog/pglog"
	"github.com/jpkontreras/orderflow/order"
	"github.com/jpkontreras/orderflow/ordersession"
	"github.com/jpkontreras/orderflow/projection"
	"github.com/jpkontreras/orderflow/saga"
	"github.com/jpkontreras/orderflow/sessioncache"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type serveConfig struct {
	postgres      string
	nats          string
	mongo         string
	redis         string
	snapshotEvery int
	idleAfter     time.Duration
	sweepInterval time.Duration
	debug         bool
}

func newServe() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the order processing daemons",
		Long: heredoc.Doc(`
			Run the projector, the take-order coordinator and the idle session
			sweeper against the configured backends.

			Without flags everything runs in memory, which is useful for local
			experiments but loses all state on exit.
		`),
		Example: heredoc.Doc(`
			Run fully in memory:

			$ orderflow serve

			Run against real backends:

			$ orderflow serve \
			    --postgres postgres://localhost/orderflow \
			    --nats nats://localhost:4222 \
			    --mongo mongodb://localhost:27017 \
			    --redis redis://localhost:6379
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.postgres, "postgres", "", "PostgreSQL event log URL (in-memory log if empty)")
	cmd.Flags().StringVar(&cfg.nats, "nats", "", "NATS event bus URL (in-process bus if empty)")
	cmd.Flags().StringVar(&cfg.mongo, "mongo", "", "MongoDB snapshot store URL (in-memory store if empty)")
	cmd.Flags().StringVar(&cfg.redis, "redis", "", "Redis session cache URL (no cache if empty)")
	cmd.Flags().IntVar(&cfg.snapshotEvery, "snapshot-every", 100, "Take an aggregate snapshot every n events")
	cmd.Flags().DurationVar(&cfg.idleAfter, "idle-after", 30*time.Minute, "Abandon sessions after this much inactivity")
	cmd.Flags().DurationVar(&cfg.sweepInterval, "sweep-interval", time.Minute, "How often to scan for idle sessions")
	cmd.Flags().BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	return cmd
}

func serve(cmd *cobra.Command, cfg serveConfig) error {
	logger, err := newLogger(cfg.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := event.NewRegistry()
	ordersession.RegisterEvents(reg)
	order.RegisterEvents(reg)

	var log eventlog.Log
	if cfg.postgres != "" {
		log = pglog.New(reg, pglog.URL(cfg.postgres))
	} else {
		log = memlog.New()
	}

	var bus eventbus.Bus
	if cfg.nats != "" {
		bus = natsbus.New(reg, natsbus.URL(cfg.nats))
	} else {
		bus = chanbus.New()
	}

	var snapshots snapshot.Store
	if cfg.mongo != "" {
		snapshots = mongosnap.New(mongosnap.URL(cfg.mongo))
	} else {
		snapshots = memsnap.New()
	}

	repo := aggregate.NewRepository(log,
		aggregate.WithBus(bus),
		aggregate.WithSnapshots(snapshots, cfg.snapshotEvery),
	)

	cat := demoCatalog()
	engine := catalog.ThresholdEngine(10000, 1000)

	sessionOpts := []ordersession.ServiceOption{ordersession.WithLogger(logger)}

	var cache *sessioncache.Cache
	if cfg.redis != "" {
		cache, err = sessioncache.New(sessioncache.URL(cfg.redis))
		if err != nil {
			return err
		}
		sessionOpts = append(sessionOpts, ordersession.WithActivityRecorder(cache))
	}

	sessions := ordersession.NewService(repo, cat, sessionOpts...)
	orders := order.NewService(repo, cat)

	sessionList := projection.NewSessionList()
	orderList := projection.NewOrderList()
	statusHistory := projection.NewStatusHistory()
	lineItems := projection.NewLineItems()

	projector := projection.NewProjector(
		log,
		projection.NewMemoryCheckpoints(),
		[]projection.Projection{sessionList, orderList, statusHistory, lineItems},
		projection.WithBus(bus, reg.Names()...),
		projection.WithLogger(logger),
	)

	coordinator := saga.NewCoordinator(bus, orders, cat, engine, saga.WithLogger(logger))

	sweeper := sessioncache.NewSweeper(sessionList, sessions,
		sessioncache.IdleAfter(cfg.idleAfter),
		sessioncache.SweepInterval(cfg.sweepInterval),
		sessioncache.SweepLogger(logger),
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return projector.Run(ctx) })
	g.Go(func() error { return coordinator.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })

	logger.Info("orderflow serving",
		zap.Bool("postgres", cfg.postgres != ""),
		zap.Bool("nats", cfg.nats != ""),
		zap.Bool("mongo", cfg.mongo != ""),
		zap.Bool("redis", cfg.redis != ""),
	)

	return g.Wait()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func demoCatalog() catalog.Catalog {
	return catalog.NewInMemory(
		catalog.Item{ID: "empanada-pino", Name: "Empanada de Pino", CurrentPrice: 2500, IsActive: true, Category: "food"},
		catalog.Item{ID: "completo", Name: "Completo Italiano", CurrentPrice: 3500, IsActive: true, Category: "food"},
		catalog.Item{ID: "cola-330", Name: "Cola 330ml", CurrentPrice: 1500, IsActive: true, Category: "drinks"},
	)
}
