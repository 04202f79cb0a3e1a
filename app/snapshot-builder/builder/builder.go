// Package builder turns a static gtfs zip into the sqlite timetable snapshot
// the location services consume, one file per agency and service date.
package builder

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/oriontransit/orion/foundation/database"
	"github.com/oriontransit/orion/foundation/httpclient"
)

const snapshotSchema = `
create table trips (
	trip_id text primary key,
	route_id text not null,
	service_id text,
	trip_headsign text,
	block_id text,
	shape_id text,
	direction_id integer
);
create table routes (
	route_id text primary key,
	route_short_name text,
	route_long_name text
);
create table stops (
	stop_id text primary key,
	stop_name text,
	stop_lat real not null,
	stop_lon real not null
);
create table stop_times (
	trip_id text not null,
	arrival_time text not null,
	departure_time text not null,
	stop_id text not null,
	stop_sequence integer not null,
	shape_dist_traveled real
);
create index idx_stop_times_trip_id on stop_times (trip_id, stop_sequence);
create table shapes (
	shape_id text not null,
	shape_pt_lat real not null,
	shape_pt_lon real not null,
	shape_pt_sequence integer not null
);
create index idx_shapes_shape_id on shapes (shape_id, shape_pt_sequence);
create table calendar (
	service_id text primary key,
	monday integer, tuesday integer, wednesday integer, thursday integer,
	friday integer, saturday integer, sunday integer,
	start_date integer, end_date integer
);
create table calendar_dates (
	service_id text not null,
	date integer not null,
	exception_type integer not null
);`

// gtfsFiles holds the gtfs files a snapshot is built from. Calendar, calendar
// dates and shapes may legitimately be absent from a feed.
type gtfsFiles struct {
	tripFile         *zip.File
	routeFile        *zip.File
	stopFile         *zip.File
	stopTimeFile     *zip.File
	shapeFile        *zip.File
	calendarFile     *zip.File
	calendarDateFile *zip.File
}

func newGTFSFiles(zipReader *zip.ReadCloser) (*gtfsFiles, error) {
	files := gtfsFiles{}
	for _, f := range zipReader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch filepath.Base(f.Name) {
		case "trips.txt":
			files.tripFile = f
		case "routes.txt":
			files.routeFile = f
		case "stops.txt":
			files.stopFile = f
		case "stop_times.txt":
			files.stopTimeFile = f
		case "shapes.txt":
			files.shapeFile = f
		case "calendar.txt":
			files.calendarFile = f
		case "calendar_dates.txt":
			files.calendarDateFile = f
		}
	}
	if files.tripFile == nil || files.routeFile == nil || files.stopFile == nil || files.stopTimeFile == nil {
		return nil, errors.New("gtfs zip is missing one of trips.txt, routes.txt, stops.txt or stop_times.txt")
	}
	return &files, nil
}

// BuildSnapshot reads the gtfs zip at zipPath and writes a complete snapshot to
// destPath. The snapshot is built in a temporary file and moved into place so
// readers never observe a partial database.
func BuildSnapshot(log *log.Logger, zipPath string, destPath string) error {
	zipReader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("unable to open gtfs zip %s: %w", zipPath, err)
	}
	defer func() {
		if err := zipReader.Close(); err != nil {
			log.Printf("unable to close zip file %s, error: %v", zipPath, err)
		}
	}()

	files, err := newGTFSFiles(zipReader)
	if err != nil {
		return err
	}

	buildPath := destPath + ".building"
	if err = os.Remove(buildPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	db, err := database.Open(buildPath)
	if err != nil {
		return fmt.Errorf("unable to create snapshot %s: %w", buildPath, err)
	}

	err = populateSnapshot(log, db, files)
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(buildPath)
		return err
	}
	return os.Rename(buildPath, destPath)
}

func populateSnapshot(log *log.Logger, db *sqlx.DB, files *gtfsFiles) error {
	if _, err := db.Exec(snapshotSchema); err != nil {
		return fmt.Errorf("unable to create snapshot schema: %w", err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}

	sources := []struct {
		file   *zip.File
		reader gtfsRowReader
	}{
		{files.routeFile, &routeRowReader{}},
		{files.stopFile, &stopRowReader{}},
		{files.tripFile, &tripRowReader{}},
		{files.stopTimeFile, &stopTimeRowReader{}},
		{files.shapeFile, &shapeRowReader{}},
		{files.calendarFile, &calendarRowReader{}},
		{files.calendarDateFile, &calendarDateRowReader{}},
	}
	for _, source := range sources {
		if source.file == nil {
			continue
		}
		if err = loadFile(log, tx, source.file, source.reader); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// loadFile runs every row of one csv file through its reader
func loadFile(log *log.Logger, tx *sqlx.Tx, zipFile *zip.File, reader gtfsRowReader) error {
	fileReader, err := zipFile.Open()
	if err != nil {
		return fmt.Errorf("unable to open %s in zip: %w", zipFile.Name, err)
	}
	defer func() {
		_ = fileReader.Close()
	}()

	parser, err := makeRowParser(fileReader, zipFile.Name)
	if err != nil {
		return err
	}

	rows := 0
	for {
		err = parser.nextLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s line %d: %w", zipFile.Name, parser.line, err)
		}
		if err = reader.addRow(parser, tx); err != nil {
			return err
		}
		rows++
	}
	if err = reader.flush(tx); err != nil {
		return err
	}
	log.Printf("loaded %d rows from %s", rows, zipFile.Name)
	return nil
}

// DownloadAndBuild fetches a gtfs zip from url and builds a snapshot from it,
// removing the downloaded file afterwards
func DownloadAndBuild(log *log.Logger, url string, workDir string, destPath string) error {
	if err := os.MkdirAll(workDir, os.ModePerm); err != nil {
		return err
	}
	localZip := filepath.Join(workDir, "gtfs.zip")
	log.Printf("downloading gtfs zip from %s to %s", url, localZip)
	downloaded, err := httpclient.DownloadRemoteFile(localZip, url)
	defer func() {
		if _, statErr := os.Stat(localZip); statErr == nil {
			if removeErr := os.Remove(localZip); removeErr != nil {
				log.Printf("unable to remove downloaded file. error:%v", removeErr)
			}
		}
	}()
	if err != nil {
		return err
	}
	log.Printf("downloaded %d bytes", downloaded.Size)
	return BuildSnapshot(log, localZip, destPath)
}
