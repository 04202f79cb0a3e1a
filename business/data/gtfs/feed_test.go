package gtfs

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/oriontransit/orion/foundation/database"
)

// newTestFeed builds an in memory snapshot with a weekday service, a holiday
// only service, a service with no calendar data at all, and one shaped trip
func newTestFeed(t *testing.T) *Feed {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("unable to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	db.MustExec(`create table trips (
		trip_id text primary key, route_id text, service_id text,
		trip_headsign text, block_id text, shape_id text, direction_id integer)`)
	db.MustExec(`create table calendar (
		service_id text primary key, monday integer, tuesday integer, wednesday integer,
		thursday integer, friday integer, saturday integer, sunday integer,
		start_date integer, end_date integer)`)
	db.MustExec(`create table calendar_dates (service_id text, date integer, exception_type integer)`)
	db.MustExec(`create table routes (route_id text primary key, route_short_name text, route_long_name text)`)
	db.MustExec(`create table stops (stop_id text primary key, stop_name text, stop_lat real, stop_lon real)`)
	db.MustExec(`create table stop_times (
		trip_id text, arrival_time text, departure_time text,
		stop_id text, stop_sequence integer, shape_dist_traveled real)`)
	db.MustExec(`create table shapes (shape_id text, shape_pt_lat real, shape_pt_lon real, shape_pt_sequence integer)`)

	db.MustExec(`insert into calendar values
		('wk',  1,1,1,1,1,1,1, 20250101, 20261231),
		('hol', 0,0,0,0,0,0,0, 20250101, 20261231)`)
	// the weekday service takes the holiday off, the holiday service covers it
	db.MustExec(`insert into calendar_dates values
		('wk',  20250704, 2),
		('hol', 20250704, 1)`)

	db.MustExec(`insert into trips values
		('trip-1',    'r1', 'wk',    'Downtown', 'b1', 'sh1', 0),
		('trip-2',    'r1', 'wk',    'Uptown',   'b1', null,  1),
		('trip-3',    'r2', 'wk',    'Airport',  'b2', null,  0),
		('trip-hol',  'r1', 'hol',   'Parade',   null, null,  0),
		('trip-null', 'r3', 'nocal', 'Shuttle',  null, null,  0)`)

	db.MustExec(`insert into routes values
		('r1', '501', 'Queen'),
		('r2', '192', 'Airport Rocket'),
		('r3', null,  null)`)

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
		('trip-hol', '08:00:00', '08:00:00', 's1', 1, null),
		('trip-hol', '08:10:00', '08:10:00', 's2', 2, null),
		('trip-null', '08:01:00', '08:01:00', 's1', 1, null),
		('trip-null', '08:09:00', '08:09:00', 's2', 2, null)`)

	db.MustExec(`insert into shapes values
		('sh1', 43.6500, -79.4000, 1),
		('sh1', 43.6500, -79.3800, 2),
		('sh1', 43.6500, -79.3600, 3)`)

	return &Feed{
		AgencyId:    "test-agency",
		ServiceDate: "2025-06-11",
		Location:    time.UTC,
		Db:          db,
		shapeCache:  make(map[string]*cachedShape),
	}
}

func TestClosestStopTimes(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	// a wednesday at 08:05
	serviceDate := time.Date(2025, 6, 11, 8, 5, 0, 0, time.UTC)
	rows, err := feed.ClosestStopTimes(serviceDate, 8*3600+5*60, 30*time.Minute, 30*time.Minute, "")
	is.NoErr(err)
	is.Equal(len(rows), 6)

	// trip-1 is mid journey and brackets the query time
	is.Equal(rows[0].TripId, "trip-1")
	is.Equal(rows[0].Source, SourceBefore)
	is.Equal(rows[0].StopId, "s1")
	is.Equal(rows[0].DepartureTime, "08:00:00")
	is.Equal(*rows[0].ShapeDistTraveled, 0.0)
	is.Equal(rows[1].TripId, "trip-1")
	is.Equal(rows[1].Source, SourceAfter)
	is.Equal(rows[1].StopId, "s2")
	is.Equal(rows[1].ArrivalTime, "08:10:00")

	// trip-2 finished at 07:50, only a before row lands in the window
	is.Equal(rows[2].TripId, "trip-2")
	is.Equal(rows[2].Source, SourceBefore)
	is.Equal(rows[2].StopId, "s2")

	// trip-3 starts at 08:30, only an after row
	is.Equal(rows[3].TripId, "trip-3")
	is.Equal(rows[3].Source, SourceAfter)
	is.Equal(rows[3].StopId, "s1")

	// trip-null has no calendar data and runs every day
	is.Equal(rows[4].TripId, "trip-null")
	is.Equal(rows[4].Source, SourceBefore)
	is.Equal(rows[5].TripId, "trip-null")
	is.Equal(rows[5].Source, SourceAfter)
}

func TestClosestStopTimesHolidayExceptions(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	// july 4th: the weekday service is removed, the holiday service is added
	serviceDate := time.Date(2025, 7, 4, 8, 5, 0, 0, time.UTC)
	rows, err := feed.ClosestStopTimes(serviceDate, 8*3600+5*60, 30*time.Minute, 30*time.Minute, "")
	is.NoErr(err)
	is.Equal(len(rows), 4)
	is.Equal(rows[0].TripId, "trip-hol")
	is.Equal(rows[1].TripId, "trip-hol")
	is.Equal(rows[2].TripId, "trip-null")
	is.Equal(rows[3].TripId, "trip-null")
}

func TestClosestStopTimesSingleTrip(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	serviceDate := time.Date(2025, 6, 11, 8, 5, 0, 0, time.UTC)
	rows, err := feed.ClosestStopTimes(serviceDate, 8*3600+5*60, 30*time.Minute, 30*time.Minute, "trip-1")
	is.NoErr(err)
	is.Equal(len(rows), 2)
	is.Equal(rows[0].TripId, "trip-1")
	is.Equal(rows[1].TripId, "trip-1")
}

func TestClosestStopTimesWindowBounds(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	// a tight window excludes trips that ended or start outside it
	serviceDate := time.Date(2025, 6, 11, 8, 5, 0, 0, time.UTC)
	rows, err := feed.ClosestStopTimes(serviceDate, 8*3600+5*60, 5*time.Minute, 5*time.Minute, "")
	is.NoErr(err)
	for _, row := range rows {
		is.True(row.TripId != "trip-2")
		is.True(row.TripId != "trip-3")
	}
}

func TestGetTrip(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	trip, err := feed.GetTrip("trip-1")
	is.NoErr(err)
	is.Equal(trip.RouteId, "r1")
	is.Equal(*trip.TripHeadsign, "Downtown")
	is.Equal(*trip.BlockId, "b1")

	missing, err := feed.GetTrip("no-such-trip")
	is.NoErr(err)
	is.True(missing == nil)
}

func TestGetRoute(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	route, err := feed.GetRoute("r1")
	is.NoErr(err)
	is.Equal(*route.RouteShortName, "501")
	is.Equal(*route.RouteLongName, "Queen")

	unnamed, err := feed.GetRoute("r3")
	is.NoErr(err)
	is.True(unnamed.RouteShortName == nil)

	missing, err := feed.GetRoute("no-such-route")
	is.NoErr(err)
	is.True(missing == nil)
}

func TestGetTripStopTime(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	stopTime, err := feed.GetTripStopTime("trip-1", "s2")
	is.NoErr(err)
	is.Equal(stopTime.DepartureTime, "08:10:00")
	is.Equal(stopTime.StopSequence, 2)

	missing, err := feed.GetTripStopTime("trip-1", "no-such-stop")
	is.NoErr(err)
	is.True(missing == nil)
}

func TestGetTerminalDepartureTime(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	departure, err := feed.GetTerminalDepartureTime("trip-1")
	is.NoErr(err)
	is.Equal(departure, "08:00:00")

	none, err := feed.GetTerminalDepartureTime("no-such-trip")
	is.NoErr(err)
	is.Equal(none, "")
}

func TestGetShapeByTripID(t *testing.T) {
	is := is.New(t)
	feed := newTestFeed(t)

	shape, err := feed.GetShapeByTripID("trip-1", false)
	is.NoErr(err)
	is.True(shape.Length() > 0)
	is.True(!shape.HasStops())

	// asking again with stops rebuilds the cached shape with stop annotations
	withStops, err := feed.GetShapeByTripID("trip-1", true)
	is.NoErr(err)
	is.True(withStops.HasStops())
	is.Equal(len(withStops.Stops()), 3)

	_, err = feed.GetShapeByTripID("trip-2", false)
	is.True(errors.Is(err, ErrNoShape))
}
