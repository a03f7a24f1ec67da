package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/dinehub/services/orders/config"
	"example.com/dinehub/services/orders/internal/api"
	"example.com/dinehub/services/orders/internal/audit"
	"example.com/dinehub/services/orders/internal/cache"
	"example.com/dinehub/services/orders/internal/catalog"
	"example.com/dinehub/services/orders/internal/messaging"
	"example.com/dinehub/services/orders/internal/metrics"
	"example.com/dinehub/services/orders/internal/models"
	"example.com/dinehub/services/orders/internal/repository"
	"example.com/dinehub/services/orders/internal/search"
	"example.com/dinehub/services/orders/internal/service"
	"example.com/dinehub/services/orders/internal/task"
	"example.com/dinehub/services/orders/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server handling order placement, edits and staff actions`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	busClient, err := messaging.NewServiceBusClient(cfg.Azure, "orders-api")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus client, audit events stay database-only")
	}

	metricsCollector := metrics.NewMetrics()
	metricsCollector.SetHealth("database", true)
	metricsCollector.SetHealth("redis", redisCache != nil && redisCache.Healthy(ctx))
	metricsCollector.SetHealth("elasticsearch", elasticClient != nil)

	tasks := task.NewRunner()
	auditRecorder := audit.NewRecorder(db, busClient, elasticClient)
	resolver := catalog.NewCachedResolver(catalog.NewHTTPSource(cfg.Catalog), redisCache, cfg.Catalog.CacheTTL)

	orderService := service.NewOrderService(
		repository.NewOrderRepository(db),
		auditRecorder,
		resolver,
		redisCache,
		elasticClient,
		metricsCollector,
		tasks,
		clockwork.NewRealClock(),
		cfg.Retention.Cap,
	)

	server := api.NewServer(cfg, orderService, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Let in-flight audit and cleanup tasks finish before exiting.
	tasks.Wait()

	log.Info().Msg("Shutting down API server")
	return nil
}

func initDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, nil
}
