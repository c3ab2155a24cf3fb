package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/events"
	"github.com/zsiec/cadence/internal/health"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/playback/driver"
	"github.com/zsiec/cadence/internal/playback/scheduler"
	"github.com/zsiec/cadence/internal/playback/types"
	"github.com/zsiec/cadence/internal/remotesync"
	"github.com/zsiec/cadence/internal/server"
	"github.com/zsiec/cadence/internal/sim"
	"github.com/zsiec/cadence/internal/store"
	"github.com/zsiec/cadence/pkg/version"
)

func main() {
	var (
		configPath  string
		resumeID    string
		showVersion bool
		dumpConfig  bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&resumeID, "resume", "", "Restore a persisted playback session by ID")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&dumpConfig, "dump-config", false, "Print the effective configuration as YAML and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	if dumpConfig {
		out, err := config.Dump(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to dump config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting cadence playback service")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	if err := run(cfg, log, resumeID); err != nil {
		log.WithError(err).Fatal("Playback service failed")
	}
	log.Info("Playback service shutdown complete")
}

func run(cfg *config.Config, log *logrus.Logger, resumeID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	var (
		redisClient *redis.Client
		sessions    *store.RedisSessionStore
	)
	if cfg.Redis.Enabled {
		redisClient = newRedisClient(cfg.Redis)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()
		log.Info("Connected to Redis successfully")
		sessions = store.NewRedisSessionStore(redisClient, log, cfg.Redis.SessionTTL)
	}

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	bus := events.NewBus(cfg.Events, logger.FromLogrus(log, "events"))
	defer bus.Close()

	// Headless collaborators stand in for the image graph and devices.
	graph := sim.NewGraph(cfg.Simulation, cfg.Playback.MaxBufferCacheSize, logger.FromLogrus(log, "sim_graph"))
	graph.Start(ctx)
	defer graph.Stop()

	display := sim.NewDisplay(cfg.Simulation.DisplayHz, logger.FromLogrus(log, "sim_display"))
	renderer := sim.NewRenderer()

	sessionID := resumeID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	collab := scheduler.Collaborators{
		Graph:    graph,
		Cache:    graph,
		Device:   display,
		Renderer: renderer,
		Notifier: bus,
	}
	var audio *sim.AudioDevice
	if cfg.Simulation.AudioEnabled {
		audio = sim.NewAudioDevice(cfg.Simulation, logger.FromLogrus(log, "sim_audio"))
		defer audio.Close()
		collab.Audio = audio
		// The scheduler only recomputes audio ranges once the graph has a
		// configuration to replace.
		graph.AudioConfigure(types.AudioConfiguration{
			Rate:            cfg.Simulation.AudioRate,
			Layout:          cfg.Simulation.AudioChannels,
			FramesPerBuffer: cfg.Simulation.FramesPerBuffer,
			FPS:             cfg.Playback.FPS,
		})
	}

	sched, err := scheduler.New(sessionID, cfg.Playback, collab, logger.NewLogrusAdapter(logger.WithSession(log, sessionID)))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.SetFrameRange(cfg.Simulation.RangeStart, cfg.Simulation.RangeEnd); err != nil {
		sched.Close()
		return fmt.Errorf("invalid simulation range: %w", err)
	}
	if audio != nil {
		audio.OnTimeShift(sched.ReportAudioTimeShift)
	}
	if cfg.Playback.ExternalVSync {
		display.Run(ctx, sched.VSyncMailbox())
		defer display.Stop()
	}

	if resumeID != "" {
		if sessions == nil {
			sched.Close()
			return fmt.Errorf("-resume requires redis to be enabled")
		}
		rec, err := sessions.Load(ctx, resumeID)
		if err != nil {
			sched.Close()
			return fmt.Errorf("failed to load session %s: %w", resumeID, err)
		}
		if err := store.Restore(sched, rec.State); err != nil {
			sched.Close()
			return fmt.Errorf("failed to restore session %s: %w", resumeID, err)
		}
		log.WithField("session_id", resumeID).Info("Restored playback session")
	}

	drv := driver.New(sched, driver.Config{Hz: cfg.Simulation.DisplayHz}, logger.FromLogrus(log, "driver"))
	drv.Start()
	defer drv.Stop()

	if sessions != nil {
		persister := store.NewPersister(sessions, bus, drv.State, cfg.Events.PersistQueue, logger.FromLogrus(log, "persister"))
		persister.Start(ctx)
		defer persister.Stop()
	}

	if cfg.RemoteSync.Enabled {
		bc, err := remotesync.New(cfg.RemoteSync, bus, drv.State, logger.FromLogrus(log, "remote_sync"))
		if err != nil {
			return fmt.Errorf("failed to start remote sync: %w", err)
		}
		bc.Start(ctx)
		defer bc.Stop()
	}

	srv := server.New(&cfg.Server, log, redisClient)
	srv.RegisterHealthChecker(health.NewPlaybackChecker(drv, time.Second, cfg.Playback.BufferWaitTimeout))
	srv.RegisterPlayback(drv, bus)

	log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"range":      fmt.Sprintf("[%d, %d)", cfg.Simulation.RangeStart, cfg.Simulation.RangeEnd),
		"fps":        cfg.Playback.FPS,
		"timing":     cfg.Playback.TimingModel,
	}).Info("Playback session ready")

	return srv.Start(ctx)
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

// startMetricsServer starts the Prometheus metrics server
func startMetricsServer(cfg config.MetricsConfig, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
