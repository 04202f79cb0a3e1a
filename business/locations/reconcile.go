package locations

import (
	"errors"
	"math"
	"time"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/data/gtfs"
	"github.com/oriontransit/orion/business/geo"
)

// rollover correction bounds: a record in the first hours of a calendar day
// against a stop scheduled late in the previous service day belongs to that
// previous day, so a service day is added to the record's clock time
const (
	rolloverScheduledAfter = 21 * 3600
	rolloverRecordBefore   = 3 * 3600
)

// VehicleLocations produces the reconciled view for an agency: every running
// scheduled trip paired with the live record that matches it, plus live
// records that matched nothing in the timetable. Scheduled entries for trips
// that are not running and drew no live match are dropped.
func (e *Engine) VehicleLocations(a agency.Agency, at time.Time) (map[string]ReconciledPosition, error) {
	scheduled, err := e.ScheduledVehicleLocations(a, at)
	if err != nil {
		return nil, err
	}
	live, err := e.LiveVehicleLocations(a, at)
	if err != nil {
		return nil, err
	}

	feed, err := e.store.GetFeed(a, at)
	if err != nil {
		return nil, err
	}

	byTrip := make(map[string]*VehiclePosition, len(scheduled))
	runningBlocks := make(map[string]string)
	result := make(map[string]ReconciledPosition, len(scheduled))
	for i := range scheduled {
		position := &scheduled[i]
		byTrip[position.TripId] = position
		if position.ScheduledStatus == StatusRunning && position.BlockId != nil {
			runningBlocks[*position.BlockId] = position.TripId
		}
		result[position.TripId] = ReconciledPosition{Scheduled: position, MatchKey: position.TripId}
	}

	for i := range live {
		position := &live[i]
		matchKey, matched := matchLiveToScheduled(position, byTrip, runningBlocks)
		if matched != nil {
			position.ScheduledStatus = matched.ScheduledStatus
		} else {
			e.log.Printf("%s: no scheduled trip for live vehicle %s on trip %s", a.Id, position.Vid, position.TripId)
		}

		delay, err := e.calculatedDelay(feed, position, at)
		if err != nil {
			e.log.Printf("%s: unable to calculate delay for vehicle %s on trip %s: %v", a.Id, position.Vid, position.TripId, err)
			delay = nil
		}

		entry := result[matchKey]
		entry.MatchKey = matchKey
		entry.Scheduled = matched
		entry.Live = position
		entry.CalculatedDelay = delay
		result[matchKey] = entry
	}

	for key, entry := range result {
		if entry.Live == nil && entry.Scheduled.ScheduledStatus != StatusRunning {
			delete(result, key)
		}
	}
	return result, nil
}

// matchLiveToScheduled resolves the scheduled trip a live record belongs to.
// A running scheduled trip with the same trip id wins, then a running trip on
// the same block, then a non running trip with the same trip id. A record that
// matches nothing keys under its own trip id.
func matchLiveToScheduled(live *VehiclePosition,
	byTrip map[string]*VehiclePosition,
	runningBlocks map[string]string) (string, *VehiclePosition) {

	if scheduled, ok := byTrip[live.TripId]; ok && scheduled.ScheduledStatus == StatusRunning {
		return live.TripId, scheduled
	}
	if live.BlockId != nil {
		if tripId, ok := runningBlocks[*live.BlockId]; ok {
			return tripId, byTrip[tripId]
		}
	}
	if scheduled, ok := byTrip[live.TripId]; ok {
		return live.TripId, scheduled
	}
	return live.TripId, nil
}

// calculatedDelay estimates how far off schedule a live vehicle is, in
// seconds, positive when behind. The primary estimate converts the gap between
// scheduled and actual distance along the route to time at a nominal average
// speed. When that estimate is implausibly large the schedule time at the last
// stop the vehicle passed is compared against the report time instead. As a
// side effect the record's distance along the route is filled in.
// nil when the trip has no shape to measure against.
func (e *Engine) calculatedDelay(feed *gtfs.Feed, position *VehiclePosition, at time.Time) (*float64, error) {
	shape, err := feed.GetShapeByTripID(position.TripId, true)
	if errors.Is(err, gtfs.ErrNoShape) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	actualRatio, err := shape.Project(position.Lat, position.Lon)
	if err != nil {
		return nil, err
	}
	actualDistance := actualRatio * shape.Length()
	position.DistanceAlongRoute = float64Ptr(actualDistance)

	recordTime := at
	if position.SecsSinceReport != nil {
		recordTime = at.Add(-time.Duration(*position.SecsSinceReport) * time.Second)
	}
	localRecordTime := recordTime.In(feed.Location)

	scheduledDistance, err := e.scheduledDistance(feed, shape, position.TripId, localRecordTime)
	if err != nil {
		return nil, err
	}

	distanceDelay := (scheduledDistance - actualDistance) / e.AverageSpeed
	if math.Abs(distanceDelay) <= e.DistanceDelayTrust {
		return &distanceDelay, nil
	}

	timeDelay, ok, err := e.timeDelay(feed, shape, position.TripId, actualDistance, localRecordTime)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &distanceDelay, nil
	}
	return &timeDelay, nil
}

// scheduledDistance is where along the shape the trip should be at localTime.
// With a bracketing pair of stop times the distance is interpolated between
// them. Without one the trip is pinned to its start or end depending on
// whether localTime is before or after the terminal departure.
func (e *Engine) scheduledDistance(feed *gtfs.Feed, shape *geo.Shape, tripId string, localTime time.Time) (float64, error) {
	brackets, err := e.activeTripBrackets(feed, localTime, tripId)
	if err != nil {
		return 0, err
	}

	var bracket *tripBracket
	for i := range brackets {
		if brackets[i].status() == StatusRunning {
			bracket = &brackets[i]
			break
		}
	}

	if bracket != nil {
		fraction := elapsedFraction(bracket)
		if bracket.before.ShapeDistTraveled != nil && bracket.after.ShapeDistTraveled != nil {
			distance := *bracket.before.ShapeDistTraveled +
				fraction*(*bracket.after.ShapeDistTraveled-*bracket.before.ShapeDistTraveled)
			return math.Max(0, math.Min(distance, shape.Length())), nil
		}
		if beforeDistance, afterDistance, ok := stopDistancesOnShape(shape, bracket); ok {
			distance := beforeDistance + fraction*(afterDistance-beforeDistance)
			return math.Max(0, math.Min(distance, shape.Length())), nil
		}
	}

	terminalDeparture, err := feed.GetTerminalDepartureTime(tripId)
	if err != nil {
		return 0, err
	}
	terminalSecs, err := gtfs.HHMMSSToSeconds(terminalDeparture)
	if err != nil {
		return 0, err
	}
	recordSecs := rolloverCorrected(gtfs.TimeOfDaySeconds(localTime), terminalSecs)
	if recordSecs <= terminalSecs {
		return 0, nil
	}
	return shape.Length(), nil
}

// stopDistancesOnShape looks up the bracketing stops' distances from the
// shape's projected stop annotations, for feeds without shape_dist_traveled
func stopDistancesOnShape(shape *geo.Shape, bracket *tripBracket) (float64, float64, bool) {
	var beforeDistance, afterDistance *float64
	for _, stop := range shape.Stops() {
		stop := stop
		if stop.ID == bracket.before.StopId {
			beforeDistance = &stop.Distance
		}
		if stop.ID == bracket.after.StopId {
			afterDistance = &stop.Distance
		}
	}
	if beforeDistance == nil || afterDistance == nil {
		return 0, 0, false
	}
	return *beforeDistance, *afterDistance, true
}

// timeDelay compares the report time against the scheduled departure at the
// last stop the vehicle passed. ok is false when the stop or its schedule
// cannot be resolved.
func (e *Engine) timeDelay(feed *gtfs.Feed, shape *geo.Shape, tripId string, actualDistance float64, localTime time.Time) (float64, bool, error) {
	stopId, ok := shape.ProjectDistanceToStopID(actualDistance)
	if !ok {
		return 0, false, nil
	}
	stopTime, err := feed.GetTripStopTime(tripId, stopId)
	if err != nil {
		return 0, false, err
	}
	if stopTime == nil {
		return 0, false, nil
	}
	scheduledSecs, err := gtfs.HHMMSSToSeconds(stopTime.DepartureTime)
	if err != nil {
		return 0, false, err
	}
	recordSecs := rolloverCorrected(gtfs.TimeOfDaySeconds(localTime), scheduledSecs)
	return float64(recordSecs - scheduledSecs), true, nil
}

// rolloverCorrected shifts an early morning record time into the previous
// service day when the schedule time it is compared against is late in that day
func rolloverCorrected(recordSecs int, scheduledSecs int) int {
	if scheduledSecs > rolloverScheduledAfter && recordSecs < rolloverRecordBefore {
		return recordSecs + gtfs.SecondsPerDay
	}
	return recordSecs
}
