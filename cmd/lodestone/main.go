package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/lodestone-labs/lodestone/internal/common"
	"github.com/lodestone-labs/lodestone/internal/config"
	"github.com/lodestone-labs/lodestone/internal/db"
	"github.com/lodestone-labs/lodestone/internal/host"
	"github.com/lodestone-labs/lodestone/internal/ingest"
	"github.com/lodestone-labs/lodestone/internal/logger"
	"github.com/lodestone-labs/lodestone/internal/metrics"
	"github.com/lodestone-labs/lodestone/internal/migrations"
	"github.com/lodestone-labs/lodestone/internal/source"
	"github.com/lodestone-labs/lodestone/internal/store"
	"github.com/lodestone-labs/lodestone/internal/supervisor"
	sourcetypes "github.com/lodestone-labs/lodestone/internal/types"
	"github.com/lodestone-labs/lodestone/pkg/api"
	pkgconfig "github.com/lodestone-labs/lodestone/pkg/config"
	"github.com/spf13/cobra"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

var (
	configPath string
)

// ingestConfig assembles the per-loop tunables from the service config.
func ingestConfig(cfg *pkgconfig.Config) ingest.Config {
	return ingest.Config{
		PollInterval:           cfg.Source.PollInterval.Duration,
		Retry:                  cfg.Retry,
		MaxConsecutiveFailures: cfg.Supervisor.MaxConsecutiveFailures,
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lodestone",
	Short: "Lodestone - WASM indexer execution engine",
	Long: `Lodestone runs user-provided WASM indexer modules against a chain's
finalized blocks. Each indexer executes in a deterministic sandbox,
stages entities through a cross-boundary protocol and commits them
transactionally alongside its block checkpoint.`,
	Version: version,
	RunE:    runService,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file and its indexer manifests",
	Long: `Load the configuration file, apply defaults, and resolve every declared
indexer's WASM module from disk without starting the service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		manifests, err := config.LoadManifests(cfg)
		if err != nil {
			return fmt.Errorf("invalid indexer manifests: %w", err)
		}

		fmt.Printf("Configuration OK: %d indexer(s)\n", len(manifests))
		for _, manifest := range manifests {
			fmt.Printf("  - %s (module sha256 %s, start block %d)\n",
				manifest.ID, manifest.ModuleDigest, manifest.StartBlock)
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration file JSON schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{ExpandedStruct: true}
		schema := reflector.Reflect(&pkgconfig.Config{})

		encoded, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}

		fmt.Println(string(encoded))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentSupervisor, cfg.Logging)

	// Resolve indexer manifests before opening anything
	manifests, err := config.LoadManifests(cfg)
	if err != nil {
		return fmt.Errorf("failed to load indexer manifests: %w", err)
	}
	if len(manifests) == 0 {
		log.Warn("No indexers configured. Exiting.")
		return nil
	}

	// Initialize metrics server if enabled
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	// Run engine migrations
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg.Database.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize database
	database, err := db.NewSQLiteDBFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer database.Close()

	// Initialize maintenance coordinator
	dbMaintenance := db.NewMaintenanceCoordinator(
		cfg.Database.Path,
		database,
		cfg.Database.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)
	if err := dbMaintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start database maintenance: %w", err)
	}
	defer func() {
		if err := dbMaintenance.Stop(); err != nil {
			log.Warnf("Failed to stop database maintenance: %v", err)
		}
	}()

	// Initialize entity store
	entityStore := store.New(
		database,
		logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging),
		dbMaintenance,
	)

	// Connect to the block source
	finality, err := sourcetypes.ParseBlockFinality(cfg.Source.Finality)
	if err != nil {
		return err
	}

	log.Infof("Connecting to block source %s (%s)...", cfg.Source.URL, finality)
	blockSource, err := source.NewClient(ctx, cfg.Source.URL, finality,
		logger.NewComponentLoggerFromConfig(common.ComponentBlockSource, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to connect to block source: %w", err)
	}
	defer blockSource.Close()

	// Initialize the WASM module host
	moduleHost, err := host.NewHost(ctx, cfg.Runtime, entityStore,
		logger.NewComponentLoggerFromConfig(common.ComponentModuleHost, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create module host: %w", err)
	}
	defer func() {
		if err := moduleHost.Close(context.Background()); err != nil {
			log.Warnf("Failed to close module host: %v", err)
		}
	}()

	// Initialize the supervisor
	sup := supervisor.New(
		moduleHost,
		blockSource,
		entityStore,
		cfg.Supervisor,
		ingestConfig(cfg),
		logger.NewComponentLoggerFromConfig(common.ComponentIngest, cfg.Logging),
	)

	// Start every configured indexer
	log.Infof("Starting %d indexer(s)...", len(manifests))
	for _, manifest := range manifests {
		if err := sup.Start(ctx, manifest); err != nil {
			return fmt.Errorf("failed to start indexer %s: %w", manifest.ID, err)
		}
	}
	sup.StartWatching(ctx)

	// Start API server if enabled
	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(
			cfg.API,
			sup,
			entityStore,
			blockSource,
			logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging),
		)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
	}

	log.Info("Lodestone started")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := sup.Close(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop indexers: %w", err)
	}

	log.Info("Lodestone stopped successfully")
	return nil
}
