package main

import (
	"fmt"
	logger "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/nats-io/nats.go"

	"github.com/oriontransit/orion/app/vehicle-monitor/monitor"
	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/data/gtfs"
	"github.com/oriontransit/orion/business/data/telemetry"
	"github.com/oriontransit/orion/business/locations"
	"github.com/oriontransit/orion/foundation/metrics"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "VEHICLE_MONITOR : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args     conf.Args
		Agencies struct {
			File string `conf:"default:agencies.json"`
		}
		GTFS struct {
			SnapshotUrlTemplate string `conf:"default:http://localhost:8080/gtfs/%s/%s"`
			SnapshotDir         string `conf:"default:./snapshots"`
		}
		Telemetry struct {
			Path string `conf:"default:./telemetry.db"`
		}
		Monitor struct {
			LoopEverySeconds int `conf:"default:10"`
		}
		NATS struct {
			Url            string `conf:"default:nats://localhost:4222"`
			PublishResults bool   `conf:"default:true"`
		}
		Web struct {
			MetricsHost string `conf:"default:0.0.0.0:4000"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Poll agency realtime feeds and publish reconciled vehicle locations"
	const prefix = "MONITOR"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	agencies, err := agency.LoadAgencies(cfg.Agencies.File)
	if err != nil {
		return fmt.Errorf("loading agencies: %w", err)
	}
	log.Printf("main: monitoring %d agencies", len(agencies))

	// =========================================================================
	// Start Databases

	log.Println("main: Initializing telemetry sink")
	telemetryDB, err := telemetry.Open(log, cfg.Telemetry.Path)
	if err != nil {
		return fmt.Errorf("opening telemetry sink: %w", err)
	}
	defer func() {
		log.Println("main: Telemetry sink stopping")
		if err := telemetryDB.Close(); err != nil {
			log.Printf("main: error closing telemetry sink: %v", err)
		}
	}()

	store := gtfs.NewStore(log, gtfs.StoreConfig{
		SnapshotURLTemplate: cfg.GTFS.SnapshotUrlTemplate,
		SnapshotDir:         cfg.GTFS.SnapshotDir,
	})
	defer store.Close()

	engine := locations.NewEngine(log, store, telemetryDB)

	// =========================================================================
	// Start NATS

	var natsConnection *nats.Conn
	if cfg.NATS.PublishResults {
		natsConnection, err = nats.Connect(cfg.NATS.Url, nats.Name("vehicle-monitor"))
		if err != nil {
			return fmt.Errorf("connecting to nats at %s: %w", cfg.NATS.Url, err)
		}
		defer natsConnection.Close()
	}

	collector := metrics.NewCollector()
	publisher := monitor.MakeResultsPublisher(log, natsConnection, collector, cfg.NATS.PublishResults)

	// =========================================================================
	// Start metrics endpoint

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		log.Printf("main: metrics listening on %s", cfg.Web.MetricsHost)
		if err := http.ListenAndServe(cfg.Web.MetricsHost, mux); err != nil {
			log.Printf("main: metrics server stopped: %v", err)
		}
	}()

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return monitor.RunVehicleMonitorLoops(log, engine, telemetryDB, agencies, publisher, collector,
		time.Duration(cfg.Monitor.LoopEverySeconds)*time.Second, shutdown)
}
