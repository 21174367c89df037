package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpermissions/chubindex/pkg/accounts"
	"github.com/openpermissions/chubindex/pkg/api"
	"github.com/openpermissions/chubindex/pkg/config"
	"github.com/openpermissions/chubindex/pkg/crawler"
	"github.com/openpermissions/chubindex/pkg/index"
	"github.com/openpermissions/chubindex/pkg/log"
	"github.com/openpermissions/chubindex/pkg/notify"
	"github.com/openpermissions/chubindex/pkg/registry"
	"github.com/openpermissions/chubindex/pkg/repofeed"
	"github.com/openpermissions/chubindex/pkg/scheduler"
	"github.com/openpermissions/chubindex/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chubindex",
	Short: "Index service for the Open Permissions Platform",
	Long: `chubindex tracks which repositories hold data about an entity.

It crawls repository services for identifier mappings, stores them in an
external triple store and answers queries over HTTP.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"chubindex version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(loadCmd)
}

// setup loads configuration, initializes logging and opens the index store
// adapter.
func setup() (*config.Config, *index.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	db := index.NewDB(cfg.URLIndexDB, cfg.IndexDBPort, cfg.IndexDBPath, cfg.IndexSchema)
	return cfg, db, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the index service (HTTP API and crawler)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(true)
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run only the repository crawler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(false)
	},
}

func run(withAPI bool) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	if err := db.CreateNamespace(context.Background()); err != nil {
		// the store may come up later; ingest and queries will retry
		log.Errorf("failed to create triple store namespace", err)
	}

	store, err := storage.NewBoltStore(cfg.LocalDB)
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}
	defer store.Close()

	accountsClient := accounts.NewClient(cfg.URLAccounts)
	reg := registry.New(store, accountsClient, cfg.OpenService)
	sched := scheduler.New(cfg.DefaultPoll())
	queue := notify.NewQueue(cfg.NotificationsQueueMaxSize)

	drainer := notify.NewDrainer(queue, sched,
		cfg.NotificationPoll(), cfg.NotifyDelay(), cfg.NotifyQueueOverloadWarning)
	drainer.Start()
	defer drainer.Stop()

	mgr := crawler.New(cfg, reg, sched, accountsClient, repofeed.NewClient(), db)
	mgr.Start()
	defer mgr.Stop()

	log.Info("crawler started")

	errCh := make(chan error, 1)
	var apiServer *api.Server
	if withAPI {
		apiServer = api.NewServer(cfg, db, queue, Version)
		go func() {
			log.Info("listening on " + cfg.Listen)
			errCh <- apiServer.Start()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("api server error: %w", err)
	}

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop api server: %w", err)
		}
	}
	return nil
}

var loadCmd = &cobra.Command{
	Use:   "load FILE...",
	Short: "Load fixture data into the triple store",
	Long: `Load fixture files into the triple store. Files ending in .ttl are
posted as Turtle, files ending in .xml as RDF/XML.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := setup()
		if err != nil {
			return err
		}

		ctx := context.Background()
		if err := db.CreateNamespace(ctx); err != nil {
			return fmt.Errorf("failed to create triple store namespace: %w", err)
		}

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read fixture %s: %w", path, err)
			}

			var contentType string
			switch {
			case strings.HasSuffix(path, ".ttl"):
				contentType = "text/turtle"
			case strings.HasSuffix(path, ".xml"):
				contentType = "application/xml"
			default:
				log.Warn("skipping fixture with unknown extension: " + path)
				continue
			}

			if err := db.Store(ctx, string(data), contentType); err != nil {
				return fmt.Errorf("failed to load fixture %s: %w", path, err)
			}
			log.Info("loaded fixture " + path)
		}
		return nil
	},
}
