package locations

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/data/gtfs"
	"github.com/oriontransit/orion/business/data/telemetry"
	"github.com/oriontransit/orion/foundation/database"
)

// buildSnapshot writes a small timetable snapshot for one service date into
// dir, where the engine's store will find it without downloading
func buildSnapshot(t *testing.T, dir string, serviceDate string) {
	t.Helper()
	db, err := database.Open(filepath.Join(dir, "gtfs-ttc-"+serviceDate+".db"))
	if err != nil {
		t.Fatalf("unable to create snapshot: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	db.MustExec(`create table trips (
		trip_id text primary key, route_id text, service_id text,
		trip_headsign text, block_id text, shape_id text, direction_id integer)`)
	db.MustExec(`create table calendar (
		service_id text primary key, monday integer, tuesday integer, wednesday integer,
		thursday integer, friday integer, saturday integer, sunday integer,
		start_date integer, end_date integer)`)
	db.MustExec(`create table calendar_dates (service_id text, date integer, exception_type integer)`)
	db.MustExec(`create table stops (stop_id text primary key, stop_name text, stop_lat real, stop_lon real)`)
	db.MustExec(`create table stop_times (
		trip_id text, arrival_time text, departure_time text,
		stop_id text, stop_sequence integer, shape_dist_traveled real)`)
	db.MustExec(`create table shapes (shape_id text, shape_pt_lat real, shape_pt_lon real, shape_pt_sequence integer)`)

	db.MustExec(`insert into calendar values ('wk', 1,1,1,1,1,1,1, 20250101, 20261231)`)

	db.MustExec(`insert into trips values
		('trip-1',     'r1', 'wk', 'Downtown', 'b1', 'sh1', 0),
		('trip-2',     'r1', 'wk', 'Uptown',   'b1', null,  1),
		('trip-3',     'r2', 'wk', 'Airport',  'b2', null,  0),
		('trip-night', 'r9', 'wk', 'Owl',      null, null,  0)`)

	db.MustExec(`insert into stops values
		('s1', 'First',  43.6500, -79.4000),
		('s2', 'Second', 43.6500, -79.3800),
		('s3', 'Third',  43.6500, -79.3600)`)

	db.MustExec(`insert into stop_times values
		('trip-1', '08:00:00', '08:00:00', 's1', 1, 0),
		('trip-1', '08:10:00', '08:10:00', 's2', 2, 1000),
		('trip-1', '08:20:00', '08:20:00', 's3', 3, 2000),
		('trip-2', '07:30:00', '07:30:00', 's1', 1, null),
		('trip-2', '07:50:00', '07:50:00', 's2', 2, null),
		('trip-3', '08:30:00', '08:30:00', 's1', 1, null),
		('trip-3', '08:40:00', '08:40:00', 's2', 2, null),
		('trip-night', '25:25:00', '25:25:00', 's1', 1, null),
		('trip-night', '25:35:00', '25:35:00', 's2', 2, null)`)

	db.MustExec(`insert into shapes values
		('sh1', 43.6500, -79.4000, 1),
		('sh1', 43.6500, -79.3800, 2),
		('sh1', 43.6500, -79.3600, 3)`)
}

func newTestEngine(t *testing.T, serviceDates ...string) (*Engine, agency.Agency, *telemetry.DB) {
	t.Helper()
	dir := t.TempDir()
	for _, serviceDate := range serviceDates {
		buildSnapshot(t, dir, serviceDate)
	}

	logger := log.New(os.Stdout, "test ", log.LstdFlags)
	telemetryDB, err := telemetry.Open(logger, filepath.Join(dir, "telemetry.db"))
	if err != nil {
		t.Fatalf("unable to open telemetry sink: %v", err)
	}
	t.Cleanup(func() {
		_ = telemetryDB.Close()
	})

	store := gtfs.NewStore(logger, gtfs.StoreConfig{
		SnapshotURLTemplate: "http://unused.invalid/%s/%s",
		SnapshotDir:         dir,
	})
	t.Cleanup(store.Close)

	// timezone left empty so service dates resolve in UTC
	a := agency.Agency{Id: "ttc"}
	return NewEngine(logger, store, telemetryDB), a, telemetryDB
}

func positionsByTrip(positions []VehiclePosition) map[string]VehiclePosition {
	byTrip := make(map[string]VehiclePosition, len(positions))
	for _, position := range positions {
		byTrip[position.TripId] = position
	}
	return byTrip
}

func TestScheduledVehicleLocations(t *testing.T) {
	is := is.New(t)
	engine, a, _ := newTestEngine(t, "2025-06-11")

	at := time.Date(2025, 6, 11, 8, 5, 0, 0, time.UTC)
	positions, err := engine.ScheduledVehicleLocations(a, at)
	is.NoErr(err)
	is.Equal(len(positions), 3)
	byTrip := positionsByTrip(positions)

	// trip-1 is halfway between its 08:00 and 08:10 stops
	running := byTrip["trip-1"]
	is.Equal(running.ScheduledStatus, StatusRunning)
	is.Equal(running.Source, SourceScheduled)
	is.Equal(running.Vid, scheduledVid)
	is.Equal(running.Rid, "r1")
	is.Equal(*running.BlockId, "b1")
	is.Equal(*running.TripHeadsign, "Downtown")
	is.Equal(running.TerminalDepartureTime, "08:00:00")
	is.Equal(*running.DistanceAlongRoute, 500.0)
	is.Equal(running.Lat, 43.65)
	is.True(running.Lon > -79.40 && running.Lon < -79.38)

	// trip-2 finished at 07:50 and sits at its last stop
	ended := byTrip["trip-2"]
	is.Equal(ended.ScheduledStatus, StatusEnded)
	is.Equal(ended.Lat, 43.65)
	is.Equal(ended.Lon, -79.38)

	// trip-3 has not left its first stop yet
	notStarted := byTrip["trip-3"]
	is.Equal(notStarted.ScheduledStatus, StatusNotStarted)
	is.Equal(notStarted.Lon, -79.40)
	is.Equal(*notStarted.DistanceAlongRoute, 0.0)
}

func TestScheduledVehicleLocationsOvernightTrip(t *testing.T) {
	is := is.New(t)
	engine, a, _ := newTestEngine(t, "2025-06-12")

	// 01:30 on the 12th, when trip-night runs at 25:30 of the 11th's service day
	at := time.Date(2025, 6, 12, 1, 30, 0, 0, time.UTC)
	positions, err := engine.ScheduledVehicleLocations(a, at)
	is.NoErr(err)
	is.Equal(len(positions), 1)

	night := positions[0]
	is.Equal(night.TripId, "trip-night")
	is.Equal(night.ScheduledStatus, StatusRunning)
	// halfway between its stops, interpolated on a straight line without a shape
	is.Equal(night.Lat, 43.65)
	is.True(night.Lon > -79.3905 && night.Lon < -79.3895)
}

func TestVehicleLocationsReconciled(t *testing.T) {
	is := is.New(t)
	engine, a, telemetryDB := newTestEngine(t, "2025-06-11")

	at := time.Date(2025, 6, 11, 8, 5, 0, 0, time.UTC)
	status := 2
	row := telemetry.VehiclePositionRow{
		AgencyId:   "ttc",
		Vid:        "4021",
		ServerTime: at.Add(-time.Minute).UnixMilli(),
		ServerDate: "2025-06-11",
		Rid:        "r1",
		Lat:        telemetry.FormatCoordinate(43.65),
		Lon:        telemetry.FormatCoordinate(-79.38),
		TripId:     "trip-1",
		Status:     &status,
	}
	is.NoErr(telemetryDB.RecordVehiclePositions([]telemetry.VehiclePositionRow{row}))

	results, err := engine.VehicleLocations(a, at)
	is.NoErr(err)

	// trip-1 pairs the timetable position with the live vehicle
	matched, present := results["trip-1"]
	is.True(present)
	is.True(matched.Scheduled != nil)
	is.True(matched.Live != nil)
	is.Equal(matched.Live.Vid, "4021")
	is.Equal(matched.Live.ScheduledStatus, StatusRunning)
	is.Equal(*matched.Live.TripHeadsign, "Downtown")

	// the vehicle sits at the second stop while the schedule expects it well
	// before it, so it runs early by minutes but within the trust threshold
	is.True(matched.CalculatedDelay != nil)
	is.True(*matched.CalculatedDelay < 0)
	is.True(*matched.CalculatedDelay > -DefaultDistanceDelayTrust)
	is.True(*matched.Live.DistanceAlongRoute > 1500 && *matched.Live.DistanceAlongRoute < 1700)

	// trips with no live vehicle and not running are dropped
	_, present = results["trip-2"]
	is.True(!present)
	_, present = results["trip-3"]
	is.True(!present)
}

func TestVehicleLocationsStaleLiveRecordExcluded(t *testing.T) {
	is := is.New(t)
	engine, a, telemetryDB := newTestEngine(t, "2025-06-11")

	at := time.Date(2025, 6, 11, 8, 5, 0, 0, time.UTC)
	// within the sink query window but reported too long ago on the vehicle side
	stale := 280
	row := telemetry.VehiclePositionRow{
		AgencyId:        "ttc",
		Vid:             "4022",
		ServerTime:      at.Add(-time.Minute).UnixMilli(),
		ServerDate:      "2025-06-11",
		Rid:             "r1",
		Lat:             telemetry.FormatCoordinate(43.65),
		Lon:             telemetry.FormatCoordinate(-79.38),
		TripId:          "trip-1",
		SecsSinceReport: &stale,
	}
	is.NoErr(telemetryDB.RecordVehiclePositions([]telemetry.VehiclePositionRow{row}))

	live, err := engine.LiveVehicleLocations(a, at)
	is.NoErr(err)
	is.Equal(len(live), 0)
}

func TestScheduledVehicleLocationsDuplicateTripIds(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	for _, serviceDate := range []string{"2025-06-11", "2025-06-12"} {
		buildSnapshot(t, dir, serviceDate)
		// a trip scheduled both late on the previous service day and early on
		// the current one shows up in both passes of the overnight lookup
		db, err := database.Open(filepath.Join(dir, "gtfs-ttc-"+serviceDate+".db"))
		is.NoErr(err)
		db.MustExec(`insert into trips values ('trip-wrap', 'r9', 'wk', 'Loop', null, null, 0)`)
		db.MustExec(`insert into stop_times values
			('trip-wrap', '25:25:00', '25:25:00', 's1', 1, null),
			('trip-wrap', '25:35:00', '25:35:00', 's2', 2, null),
			('trip-wrap', '01:25:00', '01:25:00', 's1', 3, null),
			('trip-wrap', '01:35:00', '01:35:00', 's2', 4, null)`)
		is.NoErr(db.Close())
	}

	logger := log.New(os.Stdout, "test ", log.LstdFlags)
	telemetryDB, err := telemetry.Open(logger, filepath.Join(dir, "telemetry.db"))
	is.NoErr(err)
	t.Cleanup(func() {
		_ = telemetryDB.Close()
	})
	store := gtfs.NewStore(logger, gtfs.StoreConfig{
		SnapshotURLTemplate: "http://unused.invalid/%s/%s",
		SnapshotDir:         dir,
	})
	t.Cleanup(store.Close)
	engine := NewEngine(logger, store, telemetryDB)

	at := time.Date(2025, 6, 12, 1, 30, 0, 0, time.UTC)
	_, err = engine.ScheduledVehicleLocations(agency.Agency{Id: "ttc"}, at)
	var dup *TripIdsNotUniqueError
	is.True(errors.As(err, &dup))
	is.Equal(dup.TripId, "trip-wrap")
}

func TestDecodeMalformedPayloadYieldsNoRecords(t *testing.T) {
	is := is.New(t)
	engine, a, _ := newTestEngine(t, "2025-06-11")

	at := time.Date(2025, 6, 11, 8, 5, 0, 0, time.UTC)
	// agencies serve garbage during outages, decode failures are not errors
	garbage := []byte{0xff, 0xff, 0xff, 0x01}

	positions, err := engine.DecodeVehiclePositions(a, garbage, at)
	is.NoErr(err)
	is.Equal(len(positions), 0)

	rows, err := engine.DecodeTripUpdates(a, garbage, at)
	is.NoErr(err)
	is.Equal(len(rows), 0)
}

func TestVehicleLocationsBlockMatch(t *testing.T) {
	is := is.New(t)
	engine, a, telemetryDB := newTestEngine(t, "2025-06-11")

	at := time.Date(2025, 6, 11, 8, 5, 0, 0, time.UTC)
	// a live record on an unscheduled trip but sharing block b1 with the
	// running trip-1
	blockId := "b1"
	row := telemetry.VehiclePositionRow{
		AgencyId:   "ttc",
		Vid:        "4030",
		ServerTime: at.Add(-time.Minute).UnixMilli(),
		ServerDate: "2025-06-11",
		Rid:        "r1",
		Lat:        telemetry.FormatCoordinate(43.65),
		Lon:        telemetry.FormatCoordinate(-79.38),
		TripId:     "trip-unknown",
		BlockId:    &blockId,
	}
	is.NoErr(telemetryDB.RecordVehiclePositions([]telemetry.VehiclePositionRow{row}))

	results, err := engine.VehicleLocations(a, at)
	is.NoErr(err)

	// the live record lands under the running trip's id, not its own
	matched, present := results["trip-1"]
	is.True(present)
	is.True(matched.Scheduled != nil)
	is.True(matched.Live != nil)
	is.Equal(matched.Live.Vid, "4030")
	is.Equal(matched.Live.TripId, "trip-unknown")
	is.Equal(matched.MatchKey, "trip-1")
	is.Equal(matched.Live.ScheduledStatus, StatusRunning)

	_, present = results["trip-unknown"]
	is.True(!present)
}
