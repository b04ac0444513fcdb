// Command tracker runs the sensor fusion front end: it ingests camera
// frames and IMU samples over MQTT, drives the tracking engine, and
// serves pose output and map maintenance commands over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/fusiontrack/internal/api"
	"github.com/banshee-data/fusiontrack/internal/config"
	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/geom"
	"github.com/banshee-data/fusiontrack/internal/ingest"
	"github.com/banshee-data/fusiontrack/internal/storage/sqlite"
	"github.com/banshee-data/fusiontrack/internal/tracker"
	"github.com/banshee-data/fusiontrack/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to tuning config JSON (optional)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	broker     = flag.String("broker", "", "MQTT broker URL (overrides config)")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	devMode    = flag.Bool("dev", false, "Run with the scripted engine instead of a linked backend")
)

func main() {
	flag.Parse()
	log.Printf("fusiontrack %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	listenAddr := cfg.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}
	brokerURL := cfg.GetMQTTBroker()
	if *broker != "" {
		brokerURL = *broker
	}
	databasePath := cfg.GetDBPath()
	if *dbPath != "" {
		databasePath = *dbPath
	}

	var eng engine.Engine
	if *devMode {
		mock := engine.NewMockEngine()
		mock.AutoComplete = true
		eng = mock
		log.Printf("dev mode: using the scripted tracking engine")
	} else {
		log.Fatal("no tracking engine backend is linked into this build; run with -dev for the scripted engine")
	}

	db, err := sqlite.NewDB(databasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	orchestrator, err := tracker.New(tracker.Config{
		Engine:                    eng,
		NumCameras:                cfg.GetNumCameras(),
		NumMasks:                  cfg.GetNumMasks(),
		MatchingThresholdNanos:    cfg.GetMatchingThreshold().Nanoseconds(),
		MinRequiredStreams:        cfg.GetMinRequiredStreams(),
		ImageBufferSize:           cfg.GetImageBufferSize(),
		ImuBufferSize:             cfg.GetImuBufferSize(),
		ImuJitterThresholdNanos:   cfg.GetImuJitterThreshold().Nanoseconds(),
		ImageJitterThresholdNanos: cfg.GetImageJitterThreshold().Nanoseconds(),
		PoseHistorySize:           cfg.GetPoseHistorySize(),
		CovarianceMinSamples:      cfg.GetCovarianceMinSamples(),
		MappingEnabled:            cfg.GetEnableMapping(),
	})
	if err != nil {
		log.Fatalf("failed to build tracking pipeline: %v", err)
	}
	defer orchestrator.Close()

	server := api.NewServer(api.Config{
		ListenAddr: listenAddr,
		Commander:  orchestrator,
		Status:     orchestrator,
		DB:         db,
	})

	// PublishTick queues the tick for the server's fan-out worker,
	// which persists it and feeds websocket subscribers; the tracking
	// tick itself never touches storage or the network.
	orchestrator.RegisterSink(server.PublishTick)

	subscriber := ingest.NewSubscriber(ingest.Config{
		Broker:      brokerURL,
		TopicPrefix: cfg.GetMQTTTopic(),
		NumStreams:  cfg.GetNumCameras() + cfg.GetNumMasks(),
	}, orchestrator)
	if err := subscriber.Start(); err != nil {
		log.Fatalf("failed to start MQTT ingest: %v", err)
	}
	defer subscriber.Stop()

	if cfg.GetEnableMapping() && cfg.GetLocalizeOnStartup() {
		orchestrator.LocalizeOnStartup(cfg.GetMapFolderPath(), geom.IdentityPose())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
	case err := <-errCh:
		log.Fatalf("api server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown error: %v", err)
	}
}
