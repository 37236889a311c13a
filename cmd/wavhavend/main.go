// Package main is the entry point for the wavhavend daemon.
// wavhavend is a headless audio analysis daemon: clients submit uploads or
// library files over IPC and get back tempo, key, energy, genre and mood.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wavhaven/wavhaven/analyzerd/internal/analysis"
	"github.com/wavhaven/wavhaven/analyzerd/internal/config"
	"github.com/wavhaven/wavhaven/analyzerd/internal/engine"
	"github.com/wavhaven/wavhaven/analyzerd/internal/ipc"
	"github.com/wavhaven/wavhaven/analyzerd/internal/scanner"
)

// Version is set at build time via ldflags
var Version = "dev"

// Config holds daemon configuration
type Config struct {
	SocketPath string
	ConfigDir  string
	Verbose    bool
}

func main() {
	cfg := parseFlags()

	if cfg.Verbose {
		log.Printf("wavhavend version %s starting...", Version)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.SocketPath, "socket", "", "IPC socket path (default: server.socketPath, else based on UID)")
	flag.StringVar(&cfg.ConfigDir, "config", "", "Configuration directory (default: ~/.config/wavhaven)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	if cfg.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		cfg.ConfigDir = filepath.Join(homeDir, ".config", "wavhaven")
	}

	return cfg
}

func run(ctx context.Context, cfg *Config) error {
	configMgr := config.NewManager(cfg.ConfigDir)
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	daemonCfg := configMgr.Get()

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = daemonCfg.Server.SocketPath
	}
	if socketPath == "" {
		socketPath = fmt.Sprintf("/tmp/wavhaven-%d.sock", os.Getuid())
	}

	eng, err := engine.New(daemonCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize analyzer: %w", err)
	}
	defer eng.Close()

	store, err := analysis.OpenResultStore(daemonCfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer store.Close()

	if daemonCfg.Store.DataDir == "" {
		log.Printf("[STORE] No data directory configured, results are kept in memory")
	} else {
		stats := store.Stats()
		log.Printf("[STORE] Opened %s with %d results", daemonCfg.Store.DataDir, stats.Results)
	}

	similarity := analysis.NewSimilarityEngine(store)
	similarity.SetWeights(engine.SimilarityWeights(daemonCfg))

	// server is assigned before the worker starts, so job updates always see it
	var server *ipc.Server
	worker := analysis.NewWorker(eng.Analyzer, engine.WorkerConfig(daemonCfg, store, func(job analysis.Job) {
		if cfg.Verbose {
			log.Printf("[ANALYSIS] Job %s: %s/%s", job.ID, job.State, job.Stage)
		}
		server.PublishJob(job)
	}))

	ipc.Version = Version
	server = ipc.NewServer(socketPath, configMgr, worker, store, similarity, scanner.NewScanner(false))

	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start analysis worker: %w", err)
	}
	defer worker.Stop()

	if daemonCfg.Library.ScanOnStart && len(daemonCfg.Library.Paths) > 0 {
		go func() {
			select {
			case <-server.Ready():
			case <-ctx.Done():
				return
			}
			if _, err := server.QueueScan(ctx, daemonCfg.Library.Paths, analysis.Options{}); err != nil {
				log.Printf("[SCANNER] Startup scan failed: %v", err)
			}
		}()
	}

	log.Printf("wavhavend running, socket: %s", socketPath)

	return server.Start(ctx)
}
