package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xplab/imagery-node/internal/camera"
	"github.com/xplab/imagery-node/internal/config"
	"github.com/xplab/imagery-node/internal/logger"
	"github.com/xplab/imagery-node/internal/power"
	"github.com/xplab/imagery-node/internal/schedule"
	"github.com/xplab/imagery-node/internal/service"
	"github.com/xplab/imagery-node/internal/state"
	"github.com/xplab/imagery-node/internal/upload"
	"github.com/xplab/imagery-node/internal/video"
	"github.com/xplab/imagery-node/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	os.Exit(run(configPath))
}

// run wires and supervises the node. It returns the process exit code from a
// normal function exit, so deferred cleanup (state store, logger) always runs.
func run(configPath string) int {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	log.Info("Starting imagery node",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the operational history store
	store, err := state.NewStore(cfg.State.Path, log)
	if err != nil {
		log.Error("Failed to open state store", "error", err)
		return 1
	}
	defer store.Close()

	// Open the camera
	cam, err := camera.New(cfg.Camera, log)
	if err != nil {
		log.Error("Failed to initialize camera", "error", err)
		return 1
	}

	cache := video.NewCache()
	acquisition := video.NewAcquisition(cam, cache, log)

	uploader := upload.NewClient(upload.ClientConfig{
		AggregatorURL: cfg.Aggregator.URL,
		Timeout:       cfg.Aggregator.Timeout,
	}, log)

	scheduler := schedule.NewScheduler(cache, uploader, store, log)
	janitor := state.NewJanitor(store, cfg.State.PruneSchedule, cfg.State.RetentionDays, log)
	supply := power.NewSupply(cfg.Power, log)
	server := web.NewServer(&cfg.Server, cam, cache, uploader, scheduler, store, store, log)

	// A camera fault terminates the node; the coordinator restarts it
	fatal := make(chan error, 1)
	acquisition.OnFatal = func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	// Start order matters: the command server comes up last so commands are
	// only accepted once the frame loop is running.
	svcMgr := service.NewManager(log)
	svcMgr.Register(supply)
	svcMgr.Register(acquisition)
	svcMgr.Register(scheduler)
	svcMgr.Register(janitor)
	svcMgr.Register(server)

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		return 1
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-fatal:
		log.Error("Frame acquisition failed, shutting down", "error", err)
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		return 1
	}

	log.Info("Shutdown complete")
	return exitCode
}
