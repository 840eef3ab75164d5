package di

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/salles-management/api/internal/platform/config"
	pfirestore "github.com/salles-management/api/internal/platform/firestore"
	"github.com/salles-management/api/internal/platform/idempotency"
	"github.com/salles-management/api/internal/platform/jobs"
	"github.com/salles-management/api/internal/platform/observability"
	"github.com/salles-management/api/internal/repositories"
	firestoreRepo "github.com/salles-management/api/internal/repositories/firestore"
	"github.com/salles-management/api/internal/repositories/memory"
	"github.com/salles-management/api/internal/repositories/postgres"
	"github.com/salles-management/api/internal/services"
)

const (
	idempotencyStoreMemory    = "memory"
	idempotencyStoreRedis     = "redis"
	idempotencyStoreFirestore = "firestore"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Inventory services.InventoryLedger
	Ledger    services.LoyaltyLedger
	Loyalty   services.LoyaltyService
	Cart      services.CartService
	Orders    services.OrderService
	Sales     services.SaleService
}

// HealthCheck is a named readiness probe for a backing dependency.
type HealthCheck struct {
	Name  string
	Check func(context.Context) error
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store
	Publishers   *jobs.Publishers

	logger    *zap.Logger
	checks    []HealthCheck
	closers   []func(context.Context) error
	provider  *pfirestore.Provider
	closeOnce sync.Once
	cancelBG  context.CancelFunc
	bgDone    chan struct{}
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	registry      repositories.Registry
	logger        *zap.Logger
	clock         func() time.Time
	pubsubOptions []option.ClientOption
	redisClient   redis.UniversalClient
}

// WithRegistry supplies a pre-built registry, bypassing the configured persistence driver.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

// WithLogger sets the base logger used by services and background workers.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source shared by repositories and services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithPubSubClientOptions forwards client options to the Pub/Sub publishers.
func WithPubSubClientOptions(opts ...option.ClientOption) Option {
	return func(o *containerOptions) {
		o.pubsubOptions = append(o.pubsubOptions, opts...)
	}
}

// WithRedisClient supplies the client used by the redis idempotency store.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *containerOptions) {
		o.redisClient = client
	}
}

// NewContainer constructs the runtime dependencies from configuration. Tests can supply an
// in-memory registry through WithRegistry.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{
		Config: cfg,
		logger: options.logger,
	}

	reg := options.registry
	if reg == nil {
		var err error
		reg, err = c.openRegistry(ctx, cfg, options)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
	}
	c.Repositories = reg

	store, err := c.openIdempotencyStore(cfg, options)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Idempotency = store

	publishers, err := jobs.OpenPublishers(ctx, cfg.PubSub, options.pubsubOptions...)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("open pubsub publishers: %w", err)
	}
	c.Publishers = publishers
	c.closers = append(c.closers, func(context.Context) error { return publishers.Close() })

	svc, err := buildServices(reg, publishers, cfg, options)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc

	return c, nil
}

func (c *Container) openRegistry(ctx context.Context, cfg config.Config, options containerOptions) (repositories.Registry, error) {
	switch cfg.Persistence.Driver {
	case "", config.DriverMemory:
		return memory.NewStore(memory.WithClock(options.clock)), nil

	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.Options{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		},
			postgres.WithClock(options.clock),
			postgres.WithMigrationLogger(observability.NewPrintfAdapter(c.logger.Named("migrations"))),
		)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		c.closers = append(c.closers, store.Close)
		if cfg.Postgres.MigrateOnStart {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate postgres store: %w", err)
			}
		}
		c.checks = append(c.checks, HealthCheck{Name: "postgres", Check: store.Ping})
		return store, nil

	case config.DriverFirestore:
		provider := c.firestoreProvider(cfg)
		store, err := firestoreRepo.New(provider, firestoreRepo.WithClock(options.clock))
		if err != nil {
			return nil, fmt.Errorf("open firestore store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported persistence driver %q", cfg.Persistence.Driver)
	}
}

func (c *Container) openIdempotencyStore(cfg config.Config, options containerOptions) (idempotency.Store, error) {
	switch cfg.Idempotency.Store {
	case "", idempotencyStoreMemory:
		return idempotency.NewMemoryStore(), nil

	case idempotencyStoreRedis:
		client := options.redisClient
		if client == nil {
			owned := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			c.closers = append(c.closers, func(context.Context) error { return owned.Close() })
			client = owned
		}
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			return nil, fmt.Errorf("open redis idempotency store: %w", err)
		}
		c.checks = append(c.checks, HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
		return store, nil

	case idempotencyStoreFirestore:
		store, err := idempotency.NewFirestoreStore(c.firestoreProvider(cfg))
		if err != nil {
			return nil, fmt.Errorf("open firestore idempotency store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported idempotency store %q", cfg.Idempotency.Store)
	}
}

// firestoreProvider shares one client between the repositories and the idempotency store.
func (c *Container) firestoreProvider(cfg config.Config) *pfirestore.Provider {
	if c.provider == nil {
		c.provider = pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, c.provider.Close)
		c.checks = append(c.checks, HealthCheck{Name: "firestore", Check: c.provider.Ping})
	}
	return c.provider
}

// HealthChecks returns the readiness probes for the dependencies the container opened.
func (c *Container) HealthChecks() []HealthCheck {
	if c == nil {
		return nil
	}
	checks := append([]HealthCheck(nil), c.checks...)
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return checks
}

// StartBackground launches the idempotency cleaner. It stops when ctx ends or Close is called.
func (c *Container) StartBackground(ctx context.Context) {
	if c == nil || c.Idempotency == nil || c.cancelBG != nil {
		return
	}
	interval := c.Config.Idempotency.CleanupInterval
	if interval <= 0 {
		return
	}
	bgCtx, cancel := context.WithCancel(ctx)
	c.cancelBG = cancel
	c.bgDone = make(chan struct{})

	cleaner := idempotency.NewCleaner(c.Idempotency, interval, c.Config.Idempotency.CleanupBatchSize, c.logger.Named("idempotency"))
	go func() {
		defer close(c.bgDone)
		cleaner.Run(bgCtx)
	}()
}

// Close stops background workers and releases clients in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	c.closeOnce.Do(func() {
		if c.cancelBG != nil {
			c.cancelBG()
			<-c.bgDone
		}
		for i := len(c.closers) - 1; i >= 0; i-- {
			if err := c.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func buildServices(reg repositories.Registry, publishers *jobs.Publishers, cfg config.Config, options containerOptions) (Services, error) {
	var svc Services
	logEvent := observability.ServiceLogger(options.logger)

	inventory, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Inventory:         reg.Inventory(),
		Events:            publishers.InventoryPublisher(),
		LowStockThreshold: cfg.Orders.LowStockThreshold,
		Clock:             options.clock,
		Logger:            logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory ledger: %w", err)
	}
	svc.Inventory = inventory

	ledger, err := services.NewLoyaltyLedger(services.LoyaltyLedgerDeps{
		Loyalty: reg.Loyalty(),
		Logger:  logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build loyalty ledger: %w", err)
	}
	svc.Ledger = ledger

	loyalty, err := services.NewLoyaltyService(ledger)
	if err != nil {
		return Services{}, fmt.Errorf("build loyalty service: %w", err)
	}
	svc.Loyalty = loyalty

	cart, err := services.NewCartService(services.CartServiceDeps{
		Carts:      reg.Carts(),
		Products:   reg.Products(),
		Inventory:  inventory,
		UnitOfWork: reg,
		Clock:      options.clock,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cart

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:             reg.Orders(),
		Carts:              reg.Carts(),
		Inventory:          inventory,
		Loyalty:            ledger,
		UnitOfWork:         reg,
		Events:             publishers.OrderPublisher(),
		PickupCodeAttempts: cfg.Orders.PickupCodeAttempts,
		PickupWindow:       cfg.Orders.PickupWindow,
		Clock:              options.clock,
		Logger:             logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	sales, err := services.NewSaleService(services.SaleServiceDeps{
		Orders:     reg.Orders(),
		Products:   reg.Products(),
		Inventory:  inventory,
		Lifecycle:  orders,
		UnitOfWork: reg,
		Events:     publishers.OrderPublisher(),
		Clock:      options.clock,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build sale service: %w", err)
	}
	svc.Sales = sales

	return svc, nil
}
