package kds

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"coffee-kds/internal/common/httpx"
	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/config"
	"coffee-kds/internal/connections/database"
	"coffee-kds/internal/connections/kafka"
	"coffee-kds/internal/connections/rabbitmq"
	"coffee-kds/internal/microservices/kds/handler"
	"coffee-kds/internal/microservices/kds/notify"
	"coffee-kds/internal/microservices/kds/repository"
	"coffee-kds/internal/microservices/kds/scheduler"
	"coffee-kds/internal/microservices/kds/service"
)

// App holds the wired KDS components. Build it once per process.
type App struct {
	Cfg      *config.Config
	Log      *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	KdsDB *pgxpool.Pool
	PosDB *sql.DB
	RMQ   *rabbitmq.Client // nil unless the rabbitmq notifier is active

	Repo    *repository.Repository
	Hub     *notify.Hub
	Service *service.Service
	Runner  *scheduler.Runner

	closers []func()
}

// Build connects both databases, creates the KDS schema when missing and
// wires the notifier chosen by cfg.KDS.Notifier.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	kdsDB, err := database.ConnectPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.KdsDB = kdsDB
	a.closers = append(a.closers, kdsDB.Close)

	posDB, err := database.ConnectPOS(ctx, cfg.POS)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.PosDB = posDB
	a.closers = append(a.closers, func() { _ = posDB.Close() })

	a.Repo = repository.New(kdsDB, posDB)
	if err := a.Repo.KdsRepo.InitSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init kds schema: %w", err)
	}

	// the hub's snapshot needs the display service, which needs the notifier
	var display service.DisplayServiceInterface
	a.Hub = notify.NewHub(func(ctx context.Context) (any, error) {
		return display.CurrentOrders(ctx)
	}, log.Named("kds-stream"), a.Metrics)

	drivers := []notify.Notifier{a.Hub}
	switch cfg.KDS.Notifier {
	case config.NotifierRabbitMQ:
		rmqClient, err := rabbitmq.Dial(cfg.RabbitMQ)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.RMQ = rmqClient
		a.closers = append(a.closers, rmqClient.Close)
		if err := rmqClient.DeclareFanout(cfg.RabbitMQ.Exchange); err != nil {
			a.Close()
			return nil, fmt.Errorf("declare %s: %w", cfg.RabbitMQ.Exchange, err)
		}
		drivers = append(drivers, notify.NewRabbitMQNotifier(rmqClient, cfg.RabbitMQ.Exchange))
	case config.NotifierKafka:
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, func() { _ = producer.Close() })
		drivers = append(drivers, notify.NewKafkaNotifier(producer))
	}
	notifier := notify.NewMulti(log.Named("kds-notify"), a.Metrics, drivers...)

	a.Service = service.New(a.Repo, notifier, cfg.KDS, log, a.Metrics)
	display = a.Service.DisplayService

	locker := scheduler.NewAdvisoryLocker(kdsDB, cfg.KDS.LockKey)
	a.Runner = scheduler.NewRunner(a.Service.IngestService, locker, log.Named("kds-runner"), a.Metrics)

	log.Info("kds_ready", map[string]any{"notifier": cfg.KDS.Notifier, "coffee_category": cfg.KDS.CoffeeCategory})
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Router exposes the display API, the event stream, health and metrics.
func (a *App) Router() *handler.Handler {
	return handler.New(a.Service.DisplayService, a.Runner, a.Hub, a.healthChecks(), a.Log.Named("kds-http"))
}

// healthChecks pings both databases and, when it is the notifier, the broker.
func (a *App) healthChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{
		"kds": a.KdsDB.Ping,
		"pos": a.PosDB.PingContext,
	}
	if a.RMQ != nil {
		checks["rabbitmq"] = a.RMQ.Ping
	}
	return checks
}

// Serve runs the HTTP server, the stream hub and, unless withScheduler is
// false, the ingestion scheduler until ctx is done.
func (a *App) Serve(ctx context.Context, withScheduler bool) error {
	mux := handler.Router(a.Router(), promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	srv := httpx.New(a.Cfg.HTTP.Addr, mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Hub.Run(ctx, a.Cfg.KDS.StreamInterval)
		return nil
	})
	if withScheduler {
		sched := scheduler.New(a.Runner, a.Cfg.KDS.PollInterval, a.Log.Named("kds-scheduler"))
		g.Go(func() error { return sched.Run(ctx) })
	}
	g.Go(func() error {
		a.Log.Info("http_listening", map[string]any{"addr": a.Cfg.HTTP.Addr})
		return srv.Run(ctx)
	})
	return g.Wait()
}
