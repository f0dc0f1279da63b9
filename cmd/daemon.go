package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/storesync/config"
	"example.com/storesync/internal/api"
	"example.com/storesync/internal/cache"
	"example.com/storesync/internal/database"
	"example.com/storesync/internal/ingest"
	"example.com/storesync/internal/metrics"
	"example.com/storesync/internal/models"
	"example.com/storesync/internal/pipeline"
	"example.com/storesync/internal/printing"
	"example.com/storesync/internal/render"
	"example.com/storesync/internal/repositories"
	"example.com/storesync/internal/search"
	"example.com/storesync/internal/shipping"
	"example.com/storesync/internal/status"
	"example.com/storesync/internal/supervisor"
	"example.com/storesync/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run both sync pipelines on their timers together with the local control
API. The inventory pipeline watches the export folder; the order pipeline
polls the remote store for unprinted orders.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := models.SetupModels(db); err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis, continuing without status mirroring")
		redisCache = nil
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}
	if tracer != nil {
		defer tracer.Close()
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch, continuing without indexing")
		elasticClient = nil
	}

	metricsCollector := metrics.NewMetrics()
	tracker := status.NewTracker(redisCache)

	inventoryRepo := repositories.NewInventoryRepository(db)
	orderRepo := repositories.NewOrderRepository(db)
	salesRepo := repositories.NewDailySalesRepository(db)

	inventoryPipeline := pipeline.NewInventoryPipeline(
		cfg,
		ingest.NewIngestor(cfg.Watch.SettleWindow),
		inventoryRepo,
		salesRepo,
		tracker,
		metricsCollector,
		tracer,
		elasticClient,
	)

	ordersPipeline := pipeline.NewOrdersPipeline(
		cfg,
		orderRepo,
		render.NewRenderer(),
		tracker,
		metricsCollector,
		tracer,
		elasticClient,
		labelFetcherOrNil(cfg),
		printDispatcherOrNil(cfg),
	)

	sup, err := supervisor.New(map[string]time.Duration{
		pipeline.InventoryName: cfg.Poll.InventoryInterval,
		pipeline.OrdersName:    cfg.Poll.OrdersInterval,
	}, inventoryPipeline, ordersPipeline)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg, sup, tracker, metricsCollector, orderRepo)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("watch_folder", cfg.Watch.Folder).
			Str("store", cfg.Store.Name).
			Msg("Starting sync pipelines")
		sup.Start()
		<-ctx.Done()
		return sup.Shutdown()
	})

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Daemon error")
		return err
	}

	log.Info().Msg("Daemon shutting down gracefully")
	return nil
}

// labelFetcherOrNil avoids handing the pipeline a typed-nil interface when
// shipping labels are disabled.
func labelFetcherOrNil(cfg config.Config) pipeline.LabelFetcher {
	if client := shipping.NewFedExClient(cfg.FedEx); client != nil {
		return client
	}
	return nil
}

func printDispatcherOrNil(cfg config.Config) pipeline.PrintDispatcher {
	if spooler := printing.NewSpooler(cfg.Printer); spooler != nil {
		return spooler
	}
	return nil
}
