package locations

import (
	"math"
	"testing"

	"github.com/matryer/is"

	"github.com/oriontransit/orion/business/data/gtfs"
	"github.com/oriontransit/orion/business/geo"
)

func beforeRow(tripId, stopId, departure string, dist *float64) gtfs.ClosestStopTime {
	return gtfs.ClosestStopTime{
		TripId:            tripId,
		StopId:            stopId,
		DepartureTime:     departure,
		ArrivalTime:       departure,
		ShapeDistTraveled: dist,
		Source:            gtfs.SourceBefore,
	}
}

func afterRow(tripId, stopId, arrival string, dist *float64) gtfs.ClosestStopTime {
	return gtfs.ClosestStopTime{
		TripId:            tripId,
		StopId:            stopId,
		ArrivalTime:       arrival,
		DepartureTime:     arrival,
		ShapeDistTraveled: dist,
		Source:            gtfs.SourceAfter,
	}
}

func TestPairClosestStopTimes(t *testing.T) {
	is := is.New(t)

	rows := []gtfs.ClosestStopTime{
		beforeRow("trip-1", "stop-a", "08:00:00", nil),
		afterRow("trip-1", "stop-b", "08:10:00", nil),
		beforeRow("trip-2", "stop-c", "07:58:00", nil),
		afterRow("trip-3", "stop-d", "08:05:00", nil),
	}

	brackets := pairClosestStopTimes(rows, 8*3600+5*60)
	is.Equal(len(brackets), 3)

	is.Equal(brackets[0].tripId, "trip-1")
	is.Equal(brackets[0].status(), StatusRunning)
	is.Equal(brackets[0].before.StopId, "stop-a")
	is.Equal(brackets[0].after.StopId, "stop-b")

	is.Equal(brackets[1].tripId, "trip-2")
	is.Equal(brackets[1].status(), StatusEnded)
	is.True(brackets[1].after == nil)

	is.Equal(brackets[2].tripId, "trip-3")
	is.Equal(brackets[2].status(), StatusNotStarted)
	is.True(brackets[2].before == nil)
}

func TestPairClosestStopTimesEmpty(t *testing.T) {
	is := is.New(t)
	is.Equal(len(pairClosestStopTimes(nil, 0)), 0)
}

func TestElapsedFraction(t *testing.T) {
	tests := []struct {
		name           string
		departure      string
		arrival        string
		queryTimeOfDay int
		want           float64
	}{
		{"midpoint", "08:00:00", "08:10:00", 8*3600 + 5*60, 0.5},
		{"at departure", "08:00:00", "08:10:00", 8 * 3600, 0},
		{"at arrival", "08:00:00", "08:10:00", 8*3600 + 10*60, 1},
		{"clamped past arrival", "08:00:00", "08:02:00", 8*3600 + 10*60, 1},
		{"zero interval", "08:00:00", "08:00:00", 8 * 3600, 0},
		{"overnight trip at shifted query time", "25:00:00", "25:20:00", 25*3600 + 10*60, 0.5},
		{"before stop past midnight but query clock time is not", "23:58:00", "24:06:00", 2 * 60, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			bracket := tripBracket{
				tripId:         "trip-1",
				queryTimeOfDay: tt.queryTimeOfDay,
			}
			before := beforeRow("trip-1", "stop-a", tt.departure, nil)
			after := afterRow("trip-1", "stop-b", tt.arrival, nil)
			bracket.before = &before
			bracket.after = &after
			is.Equal(elapsedFraction(&bracket), tt.want)
		})
	}
}

func TestMatchLiveToScheduled(t *testing.T) {
	blockA := "block-a"
	running := &VehiclePosition{TripId: "trip-running", ScheduledStatus: StatusRunning, BlockId: &blockA}
	ended := &VehiclePosition{TripId: "trip-ended", ScheduledStatus: StatusEnded}
	byTrip := map[string]*VehiclePosition{
		"trip-running": running,
		"trip-ended":   ended,
	}
	runningBlocks := map[string]string{"block-a": "trip-running"}

	tests := []struct {
		name      string
		live      VehiclePosition
		wantKey   string
		wantMatch *VehiclePosition
	}{
		{"running trip id wins", VehiclePosition{TripId: "trip-running"}, "trip-running", running},
		{"block match redirects to running trip", VehiclePosition{TripId: "trip-other", BlockId: &blockA}, "trip-running", running},
		{"non running trip id as fallback", VehiclePosition{TripId: "trip-ended"}, "trip-ended", ended},
		{"no match keys under own trip id", VehiclePosition{TripId: "trip-unknown"}, "trip-unknown", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			key, matched := matchLiveToScheduled(&tt.live, byTrip, runningBlocks)
			is.Equal(key, tt.wantKey)
			is.Equal(matched, tt.wantMatch)
		})
	}
}

func TestRolloverCorrected(t *testing.T) {
	tests := []struct {
		name          string
		recordSecs    int
		scheduledSecs int
		want          int
	}{
		{"late schedule early record shifts a day", 30 * 60, 23 * 3600, 30*60 + gtfs.SecondsPerDay},
		{"daytime record unchanged", 14 * 3600, 14*3600 + 120, 14 * 3600},
		{"early schedule early record unchanged", 30 * 60, 45 * 60, 30 * 60},
		{"late schedule late record unchanged", 23 * 3600, 23*3600 + 300, 23 * 3600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(rolloverCorrected(tt.recordSecs, tt.scheduledSecs), tt.want)
		})
	}
}

func TestSecsSinceReport(t *testing.T) {
	is := is.New(t)

	is.True(secsSinceReport(1700000000, nil) == nil)

	zero := uint64(0)
	is.True(secsSinceReport(1700000000, &zero) == nil)

	reported := uint64(1700000000 - 42)
	is.Equal(*secsSinceReport(1700000000, &reported), 42)

	// milliseconds feed timestamps are normalized before subtracting
	reportedMillis := uint64((1700000000 - 42) * 1000)
	is.Equal(*secsSinceReport(1700000000*1000, &reportedMillis), 42)

	// reports from the future clamp to zero
	future := uint64(1700000000 + 30)
	is.Equal(*secsSinceReport(1700000000, &future), 0)
}

func TestRoundCoordinate(t *testing.T) {
	is := is.New(t)
	is.Equal(roundCoordinate(43.123456789), 43.12346)
	is.Equal(roundCoordinate(-79.000004), -79.0)
}

func TestPlaceAtShapeDistance(t *testing.T) {
	is := is.New(t)

	// straight path heading due east along a parallel
	shape := geo.MakeShape([]geo.Point{
		{Lat: 43.65, Lon: -79.40},
		{Lat: 43.65, Lon: -79.38},
		{Lat: 43.65, Lon: -79.36},
	})

	var position VehiclePosition
	err := placeAtShapeDistance(shape, shape.Length()/2, &position)
	is.NoErr(err)
	is.Equal(position.Lat, 43.65)
	is.True(math.Abs(position.Lon-(-79.38)) < 1e-6)
	is.True(*position.DistanceAlongRoute == shape.Length()/2)
	is.True(math.Abs(position.Heading-90) < 1.0)

	// at the end of the path the heading is cleared
	err = placeAtShapeDistance(shape, shape.Length(), &position)
	is.NoErr(err)
	is.Equal(position.Heading, 0.0)
	is.True(math.Abs(position.Lon-(-79.36)) < 1e-6)
}
