package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yegors/flightfusion/internal/adsb"
	"github.com/yegors/flightfusion/internal/api"
	"github.com/yegors/flightfusion/internal/config"
	"github.com/yegors/flightfusion/internal/enrichment"
	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/internal/observability"
	"github.com/yegors/flightfusion/internal/schedule"
	"github.com/yegors/flightfusion/internal/simulation"
	"github.com/yegors/flightfusion/internal/storage/redis"
	"github.com/yegors/flightfusion/internal/storage/sqlite"
	"github.com/yegors/flightfusion/internal/websocket"
	"github.com/yegors/flightfusion/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	station := geo.Point{Lat: cfg.Station.Latitude, Lon: cfg.Station.Longitude}
	airportIATA := departureAirport(cfg)

	log.Info("Starting flight fusion server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("airport_icao", cfg.Station.AirportCode),
		logger.String("airport_iata", airportIATA),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	var metrics *observability.Collector
	if cfg.Metrics.Enabled {
		metrics, err = observability.NewCollector(prometheus.DefaultRegisterer)
		if err != nil {
			log.Error("Failed to register metrics", logger.Error(err))
			os.Exit(1)
		}
	}

	// Upstream sources
	deps := enrichment.Dependencies{
		Telemetry: adsb.NewClient(adsb.ClientConfig{
			BaseURL:         cfg.Telemetry.BaseURL,
			CredentialsPath: cfg.Telemetry.CredentialsPath,
			Username:        cfg.Telemetry.Username,
			Password:        cfg.Telemetry.Password,
			Timeout:         config.Seconds(cfg.Telemetry.TimeoutSecs),
		}, log),
		Metrics: metrics,
	}

	if cfg.Schedule.Enabled {
		deps.Schedules = schedule.NewClient(schedule.ClientConfig{
			BaseURL:    cfg.Schedule.BaseURL,
			AccessKey:  cfg.Schedule.AccessKey,
			Timeout:    config.Seconds(cfg.Schedule.TimeoutSecs),
			MaxRetries: cfg.Schedule.MaxRetries,
		}, log)
	} else {
		log.Info("Schedule source disabled in configuration")
	}

	// Stores
	if cfg.Redis.Enabled {
		cache, err := redis.NewPositionCache(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      config.Seconds(cfg.Redis.TTLSecs),
		}, log)
		if err != nil {
			log.Warn("Position cache unavailable, continuing without it", logger.Error(err))
		} else {
			defer cache.Close()
			deps.Cache = cache
		}
	}

	var scheduleStore *sqlite.ScheduleStore
	if cfg.Storage.Enabled {
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Error("Failed to create storage directory", logger.String("dir", dir), logger.Error(err))
				os.Exit(1)
			}
		}
		scheduleStore, err = sqlite.NewScheduleStore(cfg.Storage.SQLitePath, log)
		if err != nil {
			log.Error("Failed to open schedule store", logger.Error(err))
			os.Exit(1)
		}
		defer scheduleStore.Close()
		deps.Store = scheduleStore
	}

	// Demo fallback
	if cfg.Demo.Enabled {
		deps.Demo = simulation.NewService(simulation.Config{
			Count:       cfg.Demo.AircraftCount,
			Seed:        cfg.Demo.Seed,
			Center:      station,
			RadiusKm:    demoRadius(cfg),
			AirportIATA: airportIATA,
			AirportICAO: cfg.Station.AirportCode,
			AirportName: cfg.Station.Name,
		}, log)
	}

	// Pipeline and cycle service
	var zone *geo.Zone
	if cfg.Zone.Enabled {
		zone = &geo.Zone{Center: station, RadiusKm: cfg.Zone.RadiusKm}
	}

	pipeline, err := enrichment.NewPipeline(enrichment.Config{
		Station:     station,
		AirportIATA: airportIATA,
		Zone:        zone,
	}, deps, log)
	if err != nil {
		log.Error("Failed to create enrichment pipeline", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Telemetry query tiles", logger.Int("count", len(pipeline.Tiles())))

	service := enrichment.NewService(pipeline, cfg.Interval(), log)

	wsServer := websocket.NewServer(service.Latest, log)
	go wsServer.Run(ctx)
	service.OnPublish(wsServer.PublishSnapshot)

	if err := service.Start(ctx); err != nil {
		log.Error("Failed to start enrichment service", logger.Error(err))
		os.Exit(1)
	}

	// HTTP
	var reader api.ScheduleReader
	if scheduleStore != nil {
		reader = scheduleStore
	}
	handler := api.NewHandler(service, reader, station, zone, pipeline.Tiles(), log)
	router := api.NewRouter(handler, wsServer.HandleConnection, metrics, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  config.Seconds(cfg.Server.ReadTimeoutSecs),
		WriteTimeout: config.Seconds(cfg.Server.WriteTimeoutSecs),
		IdleTimeout:  config.Seconds(cfg.Server.IdleTimeoutSecs),
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	service.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}

// departureAirport picks the IATA code used for schedule queries
func departureAirport(cfg *config.Config) string {
	switch {
	case cfg.Schedule.AirportIATA != "":
		return cfg.Schedule.AirportIATA
	case cfg.Station.AirportIATA != "":
		return cfg.Station.AirportIATA
	default:
		return schedule.ICAOToIATA(cfg.Station.AirportCode)
	}
}

func demoRadius(cfg *config.Config) float64 {
	if cfg.Zone.Enabled && cfg.Zone.RadiusKm < 80 {
		return cfg.Zone.RadiusKm
	}
	return 80
}
