package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ardanlabs/conf"

	"github.com/oriontransit/orion/app/vehicle-api/api"
	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/data/gtfs"
	"github.com/oriontransit/orion/business/data/telemetry"
	"github.com/oriontransit/orion/business/locations"
	"github.com/oriontransit/orion/foundation/metrics"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "VEHICLE_API : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
		Web struct {
			HttpPort int `conf:"default:8000"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Serve reconciled vehicle locations over http"
	const prefix = "VEHICLE_API"
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
	collector := metrics.NewCollector()

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	webShutdown := make(chan bool)
	wg := sync.WaitGroup{}
	go api.RunWebService(log, &wg, engine, agencies, collector, cfg.Web.HttpPort, webShutdown)

	<-shutdown
	close(webShutdown)
	wg.Wait()
	return nil
}
