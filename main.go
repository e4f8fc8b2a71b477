package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/spf13/cobra"

	"github.com/singer-io/tap-gemini/internal/catalog"
	"github.com/singer-io/tap-gemini/internal/config"
	"github.com/singer-io/tap-gemini/internal/gemini"
	"github.com/singer-io/tap-gemini/internal/server"
	"github.com/singer-io/tap-gemini/internal/singer"
	"github.com/singer-io/tap-gemini/internal/state"
	"github.com/singer-io/tap-gemini/internal/sync"
)

var (
	configPath  string
	statePath   string
	catalogPath string
	discover    bool
)

var rootCmd = &cobra.Command{
	Use:   "tap-gemini",
	Short: "Singer tap for the Yahoo Gemini reporting API",
	Long: `tap-gemini extracts advertising performance data from the Yahoo
Gemini Native & Search API and emits it as Singer messages with
incremental-sync bookmarks.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	// Singer messages own stdout; everything else goes to stderr
	log.SetHandler(text.New(os.Stderr))
	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config JSON")
	rootCmd.Flags().StringVarP(&statePath, "state", "s", "", "path to state JSON")
	rootCmd.Flags().StringVar(&catalogPath, "catalog", "", "path to catalog JSON")
	rootCmd.Flags().BoolVarP(&discover, "discover", "d", false, "run discovery mode and print the catalog")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if discover {
		return runDiscovery(cfg)
	}
	return runSync(cfg)
}

// runDiscovery builds the catalog from local schema files and prints it.
func runDiscovery(cfg *config.Config) error {
	cat, err := catalog.Discover(cfg.Sync.SchemaDir)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cat)
}

func runSync(cfg *config.Config) error {
	if len(cfg.Sync.AdvertiserIDs) == 0 {
		return fmt.Errorf("missing required config key: advertiser_ids")
	}

	var cat *catalog.Catalog
	var err error
	if catalogPath != "" {
		cat, err = catalog.Load(catalogPath)
	} else {
		cat, err = catalog.Discover(cfg.Sync.SchemaDir)
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	if statePath != "" {
		cfg.State.Type = "file"
		cfg.State.Path = statePath
	}
	store, err := state.NewStore(cfg.State)
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}
	defer store.Close()

	session := gemini.NewSession(cfg.Gemini)
	writer := singer.NewWriter(os.Stdout)
	syncer := sync.New(session, store, writer, cfg.Sync)

	// Cancel the run between windows on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Info("shutdown signal received, finishing current window")
		cancel()
	}()

	// Optional status/metrics server for long runs
	var httpServer *server.Server
	if cfg.Server.Port > 0 {
		httpServer = server.NewServer(cfg.Server, syncer)
		go func() {
			log.WithField("port", cfg.Server.Port).Info("starting status server")
			if err := httpServer.Start(); err != nil {
				log.WithError(err).Debug("status server stopped")
			}
		}()
	}

	runErr := syncer.Run(ctx, cat)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("status server shutdown error")
		}
	}

	return runErr
}
