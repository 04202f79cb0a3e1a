package gtfs

import (
	"errors"
	"fmt"

	"github.com/oriontransit/orion/business/geo"
)

// ErrNoShape indicates a trip has no shape rows in the snapshot. Callers must
// treat this as "cannot compute geometry for this trip" and skip distance
// features rather than fail the batch.
var ErrNoShape = errors.New("no shape for trip")

// GetShapeByTripID returns the trip's cached route shape, building it on first
// access. When includeStops is requested and the cached shape was built without
// stop annotations it is rebuilt with the trip's stops projected onto it.
func (f *Feed) GetShapeByTripID(tripId string, includeStops bool) (*geo.Shape, error) {
	f.shapeMu.Lock()
	cached, present := f.shapeCache[tripId]
	f.shapeMu.Unlock()
	if present && (cached.withStops || !includeStops) {
		return cached.shape, nil
	}

	shape, err := f.buildShape(tripId, includeStops)
	if err != nil {
		return nil, err
	}

	f.shapeMu.Lock()
	f.shapeCache[tripId] = &cachedShape{shape: shape, withStops: includeStops}
	f.shapeMu.Unlock()
	return shape, nil
}

func (f *Feed) buildShape(tripId string, includeStops bool) (*geo.Shape, error) {
	query := "select s.shape_pt_lat, s.shape_pt_lon " +
		"from trips t inner join shapes s on t.shape_id = s.shape_id " +
		"where t.trip_id = ? order by cast(s.shape_pt_sequence as integer) asc"

	var rows []struct {
		Lat float64 `db:"shape_pt_lat"`
		Lon float64 `db:"shape_pt_lon"`
	}
	if err := f.Db.Select(&rows, f.Db.Rebind(query), tripId); err != nil {
		return nil, fmt.Errorf("unable to retrieve shape points for trip %s: %w", tripId, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoShape
	}

	points := make([]geo.Point, 0, len(rows))
	for _, row := range rows {
		points = append(points, geo.Point{Lat: row.Lat, Lon: row.Lon})
	}
	shape := geo.MakeShape(points)

	if includeStops {
		stops, err := f.stopPointsOnTrip(tripId)
		if err != nil {
			return nil, err
		}
		stopPoints := make([]geo.StopPoint, 0, len(stops))
		for _, stop := range stops {
			stopPoints = append(stopPoints, geo.StopPoint{ID: stop.StopId, Lat: stop.StopLat, Lon: stop.StopLon})
		}
		if err = shape.ProjectStops(stopPoints); err != nil {
			return nil, fmt.Errorf("unable to project stops onto shape for trip %s: %w", tripId, err)
		}
	}
	return shape, nil
}
