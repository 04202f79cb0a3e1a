package locations

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/data/gtfs"
	"github.com/oriontransit/orion/business/geo"
)

// statusInTransitTo mirrors the gtfs-realtime VehicleStopStatus value used for
// vehicles between stops, so timetable records look like live ones downstream
const statusInTransitTo = 2

// tripBracket holds the stop times bracketing the query time for one trip.
// queryTimeOfDay is the service day time the bracket was searched at, shifted
// past 24:00:00 for trips found on the previous service day.
type tripBracket struct {
	tripId         string
	before         *gtfs.ClosestStopTime
	after          *gtfs.ClosestStopTime
	queryTimeOfDay int
}

func (b *tripBracket) status() ScheduledStatus {
	switch {
	case b.before != nil && b.after != nil:
		return StatusRunning
	case b.before != nil:
		return StatusEnded
	default:
		return StatusNotStarted
	}
}

// pairClosestStopTimes groups bracketing rows by trip. Rows arrive ordered by
// trip id then source tag, so each trip contributes at most one before and one
// after row.
func pairClosestStopTimes(rows []gtfs.ClosestStopTime, queryTimeOfDay int) []tripBracket {
	var brackets []tripBracket
	for i := range rows {
		row := rows[i]
		if len(brackets) == 0 || brackets[len(brackets)-1].tripId != row.TripId {
			brackets = append(brackets, tripBracket{tripId: row.TripId, queryTimeOfDay: queryTimeOfDay})
		}
		current := &brackets[len(brackets)-1]
		if row.Source == gtfs.SourceBefore {
			current.before = &rows[i]
		} else {
			current.after = &rows[i]
		}
	}
	return brackets
}

// activeTripBrackets finds the bracketing stop times for every trip active
// around localTime. In the first hours of a calendar day the previous service
// day is searched too, at the equivalent past-24:00:00 time, so overnight trips
// are not lost at midnight. When tripId is non-empty only that trip is searched.
func (e *Engine) activeTripBrackets(feed *gtfs.Feed, localTime time.Time, tripId string) ([]tripBracket, error) {
	timeOfDay := gtfs.TimeOfDaySeconds(localTime)

	var brackets []tripBracket
	if timeOfDay < overnightWindowSeconds {
		overnightTime := timeOfDay + gtfs.SecondsPerDay
		rows, err := feed.ClosestStopTimes(localTime.AddDate(0, 0, -1), overnightTime, e.LookBack, e.LookAhead, tripId)
		if err != nil {
			return nil, fmt.Errorf("unable to find overnight stop times: %w", err)
		}
		brackets = pairClosestStopTimes(rows, overnightTime)
	}

	rows, err := feed.ClosestStopTimes(localTime, timeOfDay, e.LookBack, e.LookAhead, tripId)
	if err != nil {
		return nil, fmt.Errorf("unable to find stop times: %w", err)
	}
	return append(brackets, pairClosestStopTimes(rows, timeOfDay)...), nil
}

// ScheduledVehicleLocations produces a timetable position for every trip active
// around the requested time. Trips that have recently ended or not yet started
// are included and tagged with their status so callers can decide whether to
// keep them.
func (e *Engine) ScheduledVehicleLocations(a agency.Agency, at time.Time) ([]VehiclePosition, error) {
	feed, err := e.store.GetFeed(a, at)
	if err != nil {
		return nil, err
	}
	localTime := at.In(feed.Location)

	brackets, err := e.activeTripBrackets(feed, localTime, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(brackets))
	positions := make([]VehiclePosition, 0, len(brackets))
	for i := range brackets {
		bracket := &brackets[i]
		if seen[bracket.tripId] {
			return nil, &TripIdsNotUniqueError{TripId: bracket.tripId}
		}
		seen[bracket.tripId] = true

		position, err := e.scheduledPosition(feed, bracket, at)
		if err != nil {
			e.log.Printf("%s: skipping scheduled position for trip %s: %v", a.Id, bracket.tripId, err)
			continue
		}
		positions = append(positions, *position)
	}
	return positions, nil
}

// scheduledPosition builds the timetable record for one bracketed trip
func (e *Engine) scheduledPosition(feed *gtfs.Feed, bracket *tripBracket, at time.Time) (*VehiclePosition, error) {
	trip, err := feed.GetTrip(bracket.tripId)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, fmt.Errorf("trip %s has stop times but no trips row", bracket.tripId)
	}

	terminalDeparture, err := feed.GetTerminalDepartureTime(bracket.tripId)
	if err != nil {
		return nil, err
	}

	position := VehiclePosition{
		Rid:                   trip.RouteId,
		Vid:                   scheduledVid,
		TripId:                bracket.tripId,
		Status:                statusInTransitTo,
		TripHeadsign:          trip.TripHeadsign,
		SecsSinceReport:       intPtr(0),
		BlockId:               trip.BlockId,
		ServerTime:            at.UnixMilli(),
		Source:                SourceScheduled,
		TerminalDepartureTime: terminalDeparture,
		ScheduledStatus:       bracket.status(),
	}

	if err := e.placeOnTrip(feed, bracket, &position); err != nil {
		return nil, err
	}
	return &position, nil
}

// placeOnTrip fills in the coordinate, heading and distance along the route
// for a bracketed trip
func (e *Engine) placeOnTrip(feed *gtfs.Feed, bracket *tripBracket, position *VehiclePosition) error {
	shape, err := feed.GetShapeByTripID(bracket.tripId, false)
	if err != nil && !errors.Is(err, gtfs.ErrNoShape) {
		return err
	}

	switch bracket.status() {
	case StatusEnded:
		lat, lon, err := feed.GetStopLocation(bracket.before.StopId)
		if err != nil {
			return err
		}
		position.Lat, position.Lon = lat, lon
		if shape != nil {
			position.DistanceAlongRoute = float64Ptr(shape.Length())
		}
		return nil

	case StatusNotStarted:
		lat, lon, err := feed.GetStopLocation(bracket.after.StopId)
		if err != nil {
			return err
		}
		position.Lat, position.Lon = lat, lon
		position.DistanceAlongRoute = float64Ptr(0)
		return nil
	}

	fraction := elapsedFraction(bracket)

	if shape != nil && bracket.before.ShapeDistTraveled != nil && bracket.after.ShapeDistTraveled != nil {
		distance := *bracket.before.ShapeDistTraveled +
			fraction*(*bracket.after.ShapeDistTraveled-*bracket.before.ShapeDistTraveled)
		distance = math.Max(0, math.Min(distance, shape.Length()))
		return placeAtShapeDistance(shape, distance, position)
	}

	// no usable shape distances, fall back to a straight line between the stops
	beforeLat, beforeLon, err := feed.GetStopLocation(bracket.before.StopId)
	if err != nil {
		return err
	}
	afterLat, afterLon, err := feed.GetStopLocation(bracket.after.StopId)
	if err != nil {
		return err
	}
	position.Lat = beforeLat + fraction*(afterLat-beforeLat)
	position.Lon = beforeLon + fraction*(afterLon-beforeLon)
	position.Heading = geo.BearingDegrees(beforeLat, beforeLon, afterLat, afterLon)
	if shape != nil {
		ratio, err := shape.Project(position.Lat, position.Lon)
		if err == nil {
			position.DistanceAlongRoute = float64Ptr(ratio * shape.Length())
		}
	}
	return nil
}

// placeAtShapeDistance positions the record at a distance along the shape,
// pointing it at a spot slightly further down the path
func placeAtShapeDistance(shape *geo.Shape, distance float64, position *VehiclePosition) error {
	ratio := 0.0
	if shape.Length() > 0 {
		ratio = distance / shape.Length()
	}
	point, err := shape.Interpolate(ratio)
	if err != nil {
		return err
	}
	position.Lat = point.Lat
	position.Lon = point.Lon
	position.DistanceAlongRoute = float64Ptr(distance)

	if ratio >= 1 {
		position.Heading = 0
		return nil
	}
	aheadRatio := math.Min(ratio+0.005, 1)
	ahead, err := shape.Interpolate(aheadRatio)
	if err != nil {
		return err
	}
	position.Heading = geo.BearingDegrees(point.Lat, point.Lon, ahead.Lat, ahead.Lon)
	return nil
}

// elapsedFraction is how far through the bracketed interval the query time is,
// clamped to [0, 1]. A negative elapsed time means the before stop's departure
// is expressed past 24:00:00 while the query time is not, so a service day is
// added back.
func elapsedFraction(bracket *tripBracket) float64 {
	beforeSecs, err := gtfs.HHMMSSToSeconds(bracket.before.DepartureTime)
	if err != nil {
		return 0
	}
	afterSecs, err := gtfs.HHMMSSToSeconds(bracket.after.ArrivalTime)
	if err != nil {
		return 0
	}
	elapsed := bracket.queryTimeOfDay - beforeSecs
	if elapsed < 0 {
		elapsed += gtfs.SecondsPerDay
	}
	interval := afterSecs - beforeSecs
	if interval <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, float64(elapsed)/float64(interval)))
}
