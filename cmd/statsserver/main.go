// Stats Server - share-stats ingestion, storage and query service.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tos-network/statsserver/internal/api"
	"github.com/tos-network/statsserver/internal/bus/redisstream"
	"github.com/tos-network/statsserver/internal/config"
	"github.com/tos-network/statsserver/internal/flush"
	"github.com/tos-network/statsserver/internal/guard"
	"github.com/tos-network/statsserver/internal/live"
	"github.com/tos-network/statsserver/internal/newrelic"
	"github.com/tos-network/statsserver/internal/notify"
	"github.com/tos-network/statsserver/internal/profiling"
	"github.com/tos-network/statsserver/internal/registry"
	"github.com/tos-network/statsserver/internal/sharelog"
	"github.com/tos-network/statsserver/internal/storage"
	"github.com/tos-network/statsserver/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	mode := flag.String("mode", "combined", "Run mode: live, writer, combined")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Stats Server v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	util.Infof("Stats Server v%s starting in %s mode", version, *mode)

	runLive := *mode == "live" || *mode == "combined"
	runWriter := *mode == "writer" || *mode == "combined"
	if !runLive && !runWriter {
		util.Fatalf("Invalid mode: %s", *mode)
	}

	reg := registry.New()

	notifier := notify.NewNotifier(&notify.WebhookConfig{
		DiscordURL:   cfg.Notify.DiscordURL,
		TelegramBot:  cfg.Notify.TelegramBot,
		TelegramChat: cfg.Notify.TelegramChat,
		Enabled:      cfg.Notify.Enabled,
		PoolName:     cfg.Notify.PoolName,
	})

	nr := newrelic.NewAgent(&cfg.NewRelic)
	if err := nr.Start(); err != nil {
		util.Warnf("New Relic agent failed to start: %v", err)
	}

	g := guard.New(guard.Config{
		CostMalformed:  cfg.Guard.CostMalformed,
		MaxScore:       cfg.Guard.MaxScore,
		ScoreResetTime: cfg.Guard.ScoreResetTime,
		ResetInterval:  cfg.Guard.ResetInterval,
		StaleAfter:     cfg.Guard.StaleAfter,
	}, func(ip string, score int32) {
		notifier.NotifyMalformedRate(ip, score)
		nr.RecordMalformedShare(ip, score)
	})
	g.Start()

	endpoints := make([]storage.EndpointConfig, 0, 1+len(cfg.DB.Replicas))
	endpoints = append(endpoints, storage.EndpointConfig{Name: "primary", Path: cfg.DB.Primary, Weight: 10})
	for i, replica := range cfg.DB.Replicas {
		endpoints = append(endpoints, storage.EndpointConfig{Name: fmt.Sprintf("replica-%d", i), Path: replica, Weight: 5})
	}

	pool, err := storage.NewPool(storage.PoolConfig{
		Endpoints:           endpoints,
		HealthCheckInterval: cfg.DB.HealthCheckInterval,
		HealthCheckTimeout:  cfg.DB.HealthCheckTimeout,
		MaxFailures:         cfg.DB.MaxFailures,
		RecoveryThreshold:   cfg.DB.RecoveryThreshold,
	})
	if err != nil {
		util.Fatalf("Failed to open storage pool: %v", err)
	}
	pool.Start()

	var profServer *profiling.Server
	if cfg.Profiling.Enabled {
		profServer = profiling.NewServer(&cfg.Profiling)
		if err := profServer.Start(); err != nil {
			util.Fatalf("Failed to start profiling server: %v", err)
		}
	}

	var apiServer *api.Server
	var ingestor *live.Ingestor
	var dbFlusher *flush.DBFlusher
	var writer *sharelog.Writer

	if runLive {
		liveConsumer, err := redisstream.NewConsumer(redisstream.Options{
			Addr:     cfg.Bus.Addr,
			Password: cfg.Bus.Password,
			DB:       cfg.Bus.DB,
			Stream:   cfg.Bus.Stream,
			Group:    cfg.Bus.LiveGroup,
			Consumer: cfg.Bus.ConsumerName,
		})
		if err != nil {
			util.Fatalf("Failed to connect live consumer: %v", err)
		}

		ingestor = live.New(liveConsumer, reg, g)
		ingestor.Start()

		dbFlusher = flush.New(flush.Config{
			Interval:        cfg.Flush.Interval,
			IdleSeconds:     cfg.Flush.IdleSeconds,
			AlertAfterFails: cfg.Flush.AlertAfterFails,
		}, reg, pool, func(consecutiveFailures int, lastErr error) {
			notifier.NotifyFlushFailure(consecutiveFailures, lastErr)
			nr.RecordFlushResult(0, consecutiveFailures, lastErr)
		})
		dbFlusher.Start()

		if cfg.API.Enabled {
			apiServer = api.NewServer(api.Config{Bind: cfg.API.Bind}, reg)
			if err := apiServer.Start(); err != nil {
				util.Fatalf("Failed to start API server: %v", err)
			}
		}
	}

	if runWriter {
		writerConsumer, err := redisstream.NewConsumer(redisstream.Options{
			Addr:     cfg.Bus.Addr,
			Password: cfg.Bus.Password,
			DB:       cfg.Bus.DB,
			Stream:   cfg.Bus.Stream,
			Group:    cfg.Bus.ShareLogGroup,
			Consumer: cfg.Bus.ConsumerName,
		})
		if err != nil {
			util.Fatalf("Failed to connect sharelog consumer: %v", err)
		}

		writer = sharelog.New(sharelog.Config{
			DataDir:       cfg.ShareLog.DataDir,
			FlushSize:     cfg.ShareLog.FlushSize,
			FlushInterval: cfg.ShareLog.FlushInterval,
		}, writerConsumer)
		writer.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("Stats server started successfully. Press Ctrl+C to stop.")

	<-sigChan
	util.Info("Shutting down...")

	if writer != nil {
		writer.Stop()
	}
	if apiServer != nil {
		apiServer.Stop()
	}
	if dbFlusher != nil {
		dbFlusher.Stop()
	}
	if ingestor != nil {
		ingestor.Stop()
	}
	if profServer != nil {
		profServer.Stop()
	}
	pool.Stop()
	g.Stop()
	nr.Stop()

	util.Info("Stats server stopped")

	// Ensure the final log flush isn't lost to a signal-driven os.Exit.
	time.Sleep(50 * time.Millisecond)
}
