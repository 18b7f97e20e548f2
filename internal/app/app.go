// Package app assembles the backends, the orchestrator and the rivers from configuration
// and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/paracore/internal/cache"
	"github.com/devrev/paracore/internal/config"
	"github.com/devrev/paracore/internal/health"
	"github.com/devrev/paracore/internal/idgen"
	"github.com/devrev/paracore/internal/metrics"
	"github.com/devrev/paracore/internal/queue"
	"github.com/devrev/paracore/internal/river"
	"github.com/devrev/paracore/internal/search"
	"github.com/devrev/paracore/internal/service"
	"github.com/devrev/paracore/internal/store"
	"github.com/devrev/paracore/internal/validation"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyStarted is returned by Init on a running app
var ErrAlreadyStarted = errors.New("app already started")

type closer struct {
	name string
	fn   func() error
}

// App is the application context: typed backends, the orchestrated store and the rivers
// feeding it
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Health   *health.Checker

	Store    store.Store
	Index    search.Index
	Cache    cache.Cache
	Queue    queue.Queue
	IDs      *idgen.Generator
	Objects  *service.ConsistentStore
	Webhooks *river.HTTPDispatcher

	logger  *zap.Logger
	closers []closer

	mu      sync.Mutex
	rivers  []*river.River
	polling bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New builds every backend named by cfg. Resources opened before a failure are released.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Registry: reg,
		Metrics:  metrics.NewMetrics(reg),
		Health:   health.NewChecker(logger),
		logger:   logger,
	}

	if err := a.build(ctx); err != nil {
		if cerr := a.closeAll(); cerr != nil {
			logger.Warn("Failed to release resources", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	a.IDs = idgen.NewGenerator(idgen.Config{
		WorkerID:     cfg.IDGen.WorkerID,
		DatacenterID: cfg.IDGen.DatacenterID,
		Epoch:        cfg.IDGen.Epoch,
	}, a.logger)

	var err error
	if a.Store, err = a.buildStore(ctx); err != nil {
		return err
	}
	if a.Cache, err = a.buildCache(); err != nil {
		return err
	}
	a.Index = search.NewMemoryIndex(a.logger.Named("index"))

	a.Objects = service.NewConsistentStore(
		a.Store,
		a.Index,
		a.Cache,
		a.IDs,
		validation.NewValidator(validation.DefaultRegistry()),
		a.Metrics,
		service.Config{
			SearchEnabled: cfg.Orchestrator.SearchEnabled,
			CacheEnabled:  cfg.Orchestrator.CacheEnabled,
			CacheTTL:      cfg.Orchestrator.CacheTTL,
			Production:    cfg.IsProduction(),
		},
		a.logger.Named("orchestrator"),
	)
	a.AddListener(CallLogger(a.logger.Named("calls")))

	if cfg.Webhooks.Enabled {
		a.Webhooks = river.NewHTTPDispatcher(river.WebhookConfig{
			Workers:   cfg.Webhooks.Workers,
			QueueSize: cfg.Webhooks.QueueSize,
			Timeout:   cfg.Webhooks.Timeout,
			Secret:    cfg.Webhooks.Secret,
		}, a.Metrics, a.logger.Named("webhooks"))
	}

	if cfg.River.Enabled {
		if a.Queue, err = a.buildQueue(ctx); err != nil {
			return err
		}
		var dispatcher river.WebhookDispatcher
		if a.Webhooks != nil {
			dispatcher = a.Webhooks
		}
		a.AddRiver(river.New(river.Config{
			Name:           cfg.River.Name,
			PageSize:       cfg.River.PageSize,
			IdleSleep:      cfg.River.IdleSleep,
			PagesPerSecond: cfg.River.PagesPerSecond,
			Whitelist:      cfg.River.Whitelist,
		}, a.Queue, a.Objects, dispatcher, a.Metrics, a.logger.Named("river")))
	}

	a.Health.Register("store", a.Store)
	a.Health.Register("cache", a.Cache)
	if a.Queue != nil {
		a.Health.Register("queue", a.Queue)
	}

	a.logger.Info("Application assembled",
		zap.String("store", store.BackendName(a.Store)),
		zap.String("cache", store.BackendName(a.Cache)),
		zap.String("index", store.BackendName(a.Index)),
		zap.Bool("river", cfg.River.Enabled),
		zap.Bool("webhooks", cfg.Webhooks.Enabled))
	return nil
}

func (a *App) buildStore(ctx context.Context) (store.Store, error) {
	cfg := a.Config.Store
	logger := a.logger.Named("store")

	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := store.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		a.onClose("store", st.Close)
		return st, nil
	case config.BackendPostgres:
		st, err := store.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.MaxConns, cfg.MinConns, logger)
		if err != nil {
			return nil, err
		}
		a.onClose("store", st.Close)
		return st, nil
	case config.BackendMemory:
		return store.NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func (a *App) buildCache() (cache.Cache, error) {
	cfg := a.Config.Cache
	logger := a.logger.Named("cache")

	switch cfg.Backend {
	case config.BackendRedis:
		client, err := cache.DialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		c := cache.NewRedisCache(client, cfg.RedisPrefix, cfg.TTL, logger)
		a.onClose("cache", c.Close)
		return c, nil
	case config.BackendMemory:
		c := cache.NewMemoryCache(cfg.Capacity, cfg.TTL, logger)
		a.onClose("cache", c.Close)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func (a *App) buildQueue(ctx context.Context) (queue.Queue, error) {
	cfg := a.Config.Queue
	logger := a.logger.Named("queue")

	switch cfg.Backend {
	case config.BackendMemory:
		return queue.NewMemoryQueue(), nil
	case config.BackendRedis:
		client, err := cache.DialRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.onClose("queue", client.Close)
		return queue.NewRedisQueue(client, cfg.Redis.Key, logger), nil
	case config.BackendSQS:
		sqsCfg := queue.SQSConfig{
			QueueURL:        cfg.SQS.QueueURL,
			Region:          cfg.SQS.Region,
			Endpoint:        cfg.SQS.Endpoint,
			WaitTimeSeconds: cfg.SQS.WaitTimeSeconds,
		}
		client, err := queue.NewSQSClient(ctx, sqsCfg)
		if err != nil {
			return nil, err
		}
		return queue.NewSQSQueue(client, sqsCfg, logger), nil
	case config.BackendNATS:
		conn, err := queue.ConnectNATS(cfg.NATS.URL, a.Config.Server.NodeID)
		if err != nil {
			return nil, err
		}
		a.onClose("queue", func() error {
			conn.Close()
			return nil
		})
		return queue.NewNATSQueue(conn, cfg.NATS.Subject, cfg.NATS.Group, cfg.NATS.BufferSize, logger), nil
	case config.BackendKafka:
		q := queue.NewKafkaQueue(queue.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
			MaxWait: cfg.Kafka.MaxWait,
		}, logger)
		a.onClose("queue", q.Close)
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// AddListener registers a listener on the orchestrated store
func (a *App) AddListener(l service.Listener) {
	a.Objects.AddListener(l)
}

// AddRiver registers a river to run on Init
func (a *App) AddRiver(r *river.River) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rivers = append(a.rivers, r)
}

// Rivers returns the registered rivers
func (a *App) Rivers() []*river.River {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*river.River(nil), a.rivers...)
}

// Init starts queue polling and runs every river until Shutdown or ctx is done
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	if a.Queue != nil && len(a.rivers) > 0 {
		if err := a.Queue.StartPolling(ctx); err != nil {
			cancel()
			return fmt.Errorf("failed to start queue polling: %w", err)
		}
		a.polling = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range a.rivers {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}
	a.group = g
	a.cancel = cancel

	a.logger.Info("Application started", zap.Int("rivers", len(a.rivers)))
	return nil
}

// Wait blocks until every river has returned
func (a *App) Wait() error {
	a.mu.Lock()
	g := a.group
	a.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Shutdown stops the rivers, drains webhook deliveries and closes every backend. All
// failures are collected into the returned error.
func (a *App) Shutdown(ctx context.Context) error {
	var result error

	a.mu.Lock()
	cancel, g, polling := a.cancel, a.group, a.polling
	a.cancel, a.polling = nil, false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("river: %w", err))
			}
		case <-ctx.Done():
			result = multierror.Append(result, fmt.Errorf("rivers did not stop: %w", ctx.Err()))
		}
	}

	if polling {
		if err := a.Queue.StopPolling(); err != nil {
			result = multierror.Append(result, fmt.Errorf("queue: %w", err))
		}
	}

	if a.Webhooks != nil {
		if err := a.Webhooks.Close(remaining(ctx, a.Config.Server.ShutdownTimeout)); err != nil {
			result = multierror.Append(result, fmt.Errorf("webhooks: %w", err))
		}
	}

	if err := a.closeAll(); err != nil {
		result = multierror.Append(result, err)
	}

	if result != nil {
		a.logger.Warn("Shutdown completed with errors", zap.Error(result))
	} else {
		a.logger.Info("Shutdown complete")
	}
	return result
}

// closeAll closes backends in reverse order of creation
func (a *App) closeAll() error {
	var result error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return result
}

func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	if fallback <= 0 {
		return 30 * time.Second
	}
	return fallback
}
