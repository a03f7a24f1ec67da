package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/dinehub/services/orders/config"
	"example.com/dinehub/services/orders/internal/audit"
	"example.com/dinehub/services/orders/internal/cache"
	"example.com/dinehub/services/orders/internal/messaging"
	"example.com/dinehub/services/orders/internal/metrics"
	"example.com/dinehub/services/orders/internal/repository"
	"example.com/dinehub/services/orders/internal/search"
	"example.com/dinehub/services/orders/internal/service"
	"example.com/dinehub/services/orders/internal/task"
)

const (
	sweepInterval     = 30 * time.Second
	retentionInterval = 5 * time.Minute
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that auto-confirms expired orders and enforces the retention cap`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	busClient, err := messaging.NewServiceBusClient(cfg.Azure, "orders-worker")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus client, audit events stay database-only")
	}

	metricsCollector := metrics.NewMetrics()
	tasks := task.NewRunner()
	repo := repository.NewOrderRepository(db)

	orderService := service.NewOrderService(
		repo,
		audit.NewRecorder(db, busClient, elasticClient),
		nil,
		redisCache,
		elasticClient,
		metricsCollector,
		tasks,
		clockwork.NewRealClock(),
		cfg.Retention.Cap,
	)

	// The expiry sweep is the server-side backstop for pending orders whose
	// devices went away before their local countdown fired.
	g.Go(func() error {
		log.Info().Dur("interval", sweepInterval).Msg("Starting expired-order sweep")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(sweepInterval),
			gocron.NewTask(func() {
				confirmed, err := orderService.SweepExpired(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Expired-order sweep failed")
					return
				}
				if confirmed > 0 {
					log.Info().Int("confirmed", confirmed).Msg("Auto-confirmed expired orders")
				}
				metricsCollector.SetGauge("last_sweep_confirmed", int64(confirmed))
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	// Retention enforcement also runs on creates; this job catches up after
	// worker downtime or failed fire-and-forget cleanups.
	g.Go(func() error {
		log.Info().Dur("interval", retentionInterval).Msg("Starting retention fallback job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(retentionInterval),
			gocron.NewTask(func() {
				pruned, err := repo.PruneToCap(ctx, cfg.Retention.Cap)
				if err != nil {
					log.Error().Err(err).Msg("Retention fallback failed")
					return
				}
				if pruned > 0 {
					log.Info().Int("pruned", pruned).Msg("Retention fallback removed old orders")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	tasks.Wait()

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
