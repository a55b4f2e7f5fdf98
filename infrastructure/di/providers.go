package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/application/services"
	"github.com/teesha-ghevariya/to-do/infrastructure/config"
	"github.com/teesha-ghevariya/to-do/infrastructure/messaging"
	"github.com/teesha-ghevariya/to-do/infrastructure/persistence/dynamodb"
	"github.com/teesha-ghevariya/to-do/infrastructure/persistence/memory"
	"github.com/teesha-ghevariya/to-do/infrastructure/persistence/postgres"
	"github.com/teesha-ghevariya/to-do/interfaces/http/rest"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
	"github.com/teesha-ghevariya/to-do/pkg/observability"
)

// Logging carries the root logger and the level the config watcher adjusts
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// Backend bundles the persistence adapters selected by STORE_BACKEND
type Backend struct {
	Nodes      ports.NodeStore
	UnitOfWork ports.UnitOfWork
	Ready      rest.ReadinessCheck
}

// ProvideLogging creates the logger for the configured environment and level
func ProvideLogging(cfg *config.Config) (*Logging, func(), error) {
	logger, level, err := observability.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = logger.Sync()
	}
	return &Logging{Logger: logger, Level: level}, cleanup, nil
}

// ProvideLogger exposes the root logger
func ProvideLogger(logging *Logging) *zap.Logger {
	return logging.Logger
}

// ProvideMetrics creates the Prometheus collector, or nil when metrics are disabled
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("outliner")
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	return dynamodb.NewClientFromConfig(awsCfg, cfg.DynamoDBEndpoint)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideBackend opens the configured node store. Against a local DynamoDB
// endpoint the table is created on first start.
func ProvideBackend(
	ctx context.Context,
	cfg *config.Config,
	client *awsdynamodb.Client,
	logger *zap.Logger,
) (*Backend, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreDynamoDB:
		if cfg.DynamoDBEndpoint != "" {
			if err := dynamodb.EnsureTable(ctx, client, cfg.TableName); err != nil {
				return nil, nil, err
			}
		}
		store := dynamodb.NewNodeStore(client, cfg.TableName, logger)
		logger.Info("Using DynamoDB node store", zap.String("table", cfg.TableName))
		return &Backend{Nodes: store, UnitOfWork: store, Ready: store.Ping}, func() {}, nil

	case config.StorePostgres:
		db, err := postgres.Open(cfg.DatabaseURL, postgres.Options{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewNodeStore(db, logger)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("failed to migrate nodes table: %w", err)
		}
		cleanup := func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}
		logger.Info("Using PostgreSQL node store")
		return &Backend{Nodes: store, UnitOfWork: store, Ready: store.Ping}, cleanup, nil

	case config.StoreMemory:
		store := memory.NewNodeStore()
		logger.Info("Using in-memory node store")
		return &Backend{Nodes: store, UnitOfWork: store}, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// ProvideNodeStore exposes the committed-read store of the backend
func ProvideNodeStore(b *Backend) ports.NodeStore {
	return b.Nodes
}

// ProvideUnitOfWork exposes the transaction boundary of the backend
func ProvideUnitOfWork(b *Backend) ports.UnitOfWork {
	return b.UnitOfWork
}

// ProvideReadinessCheck exposes the readiness probe of the backend
func ProvideReadinessCheck(b *Backend) rest.ReadinessCheck {
	return b.Ready
}

// ProvideGroupLocker selects the sibling group locker. The DynamoDB locker is
// used with the DynamoDB backend and whenever LOCK_TABLE_NAME is set, so that
// several instances serialize on the same groups. Otherwise locks are held
// in process.
func ProvideGroupLocker(
	ctx context.Context,
	cfg *config.Config,
	client *awsdynamodb.Client,
	logger *zap.Logger,
) (ports.GroupLocker, error) {
	if cfg.StoreBackend != config.StoreDynamoDB && cfg.LockTableName == "" {
		return services.NewKeyedLocker(), nil
	}

	table := cfg.LockTable()
	if cfg.DynamoDBEndpoint != "" && table != cfg.TableName {
		if err := dynamodb.EnsureTable(ctx, client, table); err != nil {
			return nil, err
		}
	}
	logger.Info("Using DynamoDB group locks",
		zap.String("table", table),
		zap.Duration("lease", cfg.LockLease),
	)
	return dynamodb.NewGroupLocker(client, table, cfg.LockLease, logger), nil
}

// ProvideEventPublisher publishes to EventBridge when events are enabled. In
// development the events are logged instead; otherwise nothing is published.
func ProvideEventPublisher(
	cfg *config.Config,
	client *awseventbridge.Client,
	logger *zap.Logger,
) ports.EventPublisher {
	switch {
	case cfg.EnableEvents:
		return messaging.NewEventBridgePublisher(client, cfg.EventBusName, logger)
	case cfg.IsDevelopment():
		return messaging.NewLogPublisher(logger)
	default:
		return nil
	}
}

// ProvideNodeService creates the node service
func ProvideNodeService(
	store ports.NodeStore,
	uow ports.UnitOfWork,
	locker ports.GroupLocker,
	publisher ports.EventPublisher,
	metrics *observability.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *services.NodeService {
	return services.NewNodeService(
		store,
		uow,
		locker,
		publisher,
		metrics,
		services.NodeServiceConfig{
			Domain:      cfg.Domain(),
			LockTimeout: cfg.LockTimeout,
		},
		logger,
	)
}

// ProvideErrorHandler creates the HTTP error handler. Stack traces are only
// included in development.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	service *services.NodeService,
	errHandler *pkgerrors.ErrorHandler,
	metrics *observability.Collector,
	ready rest.ReadinessCheck,
	cfg *config.Config,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(service, errHandler, metrics, ready, rest.RouterConfig{
		EnableCORS:    cfg.EnableCORS,
		CORSOrigins:   cfg.CORSOrigins,
		EnableMetrics: cfg.EnableMetrics,
	}, logger)
}
