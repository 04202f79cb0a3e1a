package main

import (
	"errors"
	"fmt"
	logger "log"
	"os"
	"path/filepath"

	"github.com/ardanlabs/conf"

	"github.com/oriontransit/orion/app/snapshot-builder/builder"
	"github.com/oriontransit/orion/business/data/gtfs"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "SNAPSHOT_BUILDER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args   conf.Args
		Agency struct {
			Id string `conf:"default:agency"`
		}
		GTFS struct {
			Url         string
			ZipFile     string
			ServiceDate string
			SnapshotDir string `conf:"default:./snapshots"`
			WorkDir     string `conf:"default:./work"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Build a sqlite timetable snapshot from a static gtfs feed"
	const prefix = "SNAPSHOT"
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

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	if cfg.GTFS.ServiceDate == "" {
		return errors.New("a service date is required, use --gtfs-service-date YYYY-MM-DD")
	}
	if cfg.GTFS.Url == "" && cfg.GTFS.ZipFile == "" {
		return errors.New("a gtfs source is required, use --gtfs-url or --gtfs-zip-file")
	}

	if err = os.MkdirAll(cfg.GTFS.SnapshotDir, os.ModePerm); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	destPath := filepath.Join(cfg.GTFS.SnapshotDir, gtfs.SnapshotFileName(cfg.Agency.Id, cfg.GTFS.ServiceDate))

	if cfg.GTFS.ZipFile != "" {
		err = builder.BuildSnapshot(log, cfg.GTFS.ZipFile, destPath)
	} else {
		err = builder.DownloadAndBuild(log, cfg.GTFS.Url, cfg.GTFS.WorkDir, destPath)
	}
	if err != nil {
		return fmt.Errorf("building snapshot for %s on %s: %w", cfg.Agency.Id, cfg.GTFS.ServiceDate, err)
	}
	log.Printf("main: snapshot written to %s", destPath)
	return nil
}
