// Package geo provides route shape polyline operations: path length, projection
// of a point onto the path, interpolation along the path and nearest stop lookup.
package geo

import (
	"errors"
	"math"
	"sort"
)

// ErrNoGeometry indicates an operation was attempted on a shape without any points
var ErrNoGeometry = errors.New("shape has no geometry")

// Point is a single coordinate pair
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// StopPoint identifies a transit stop location to be projected onto a Shape
type StopPoint struct {
	ID  string
	Lat float64
	Lon float64
}

// ShapeStop is a stop annotated with its distance in meters along the owning shape
type ShapeStop struct {
	ID       string
	Lat      float64
	Lon      float64
	Distance float64
}

// Shape is an immutable route polyline. The cumulative distance at each point is
// computed once at construction so interpolation and projection are cheap.
type Shape struct {
	points     []Point
	cumulative []float64
	length     float64
	stops      []ShapeStop
}

// MakeShape builds a Shape from an ordered list of points.
// A shape with fewer than two points has zero length, operations on a shape
// with no points at all return ErrNoGeometry.
func MakeShape(points []Point) *Shape {
	s := Shape{
		points:     points,
		cumulative: make([]float64, len(points)),
	}
	for i := 1; i < len(points); i++ {
		prev := points[i-1]
		cur := points[i]
		s.cumulative[i] = s.cumulative[i-1] + HaversineMeters(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
	}
	if len(points) > 0 {
		s.length = s.cumulative[len(points)-1]
	}
	return &s
}

// Length returns the total path length in meters
func (s *Shape) Length() float64 {
	return s.length
}

// HasStops returns true when stops have been projected onto this shape
func (s *Shape) HasStops() bool {
	return len(s.stops) > 0
}

// ProjectStops annotates the shape with stops, caching each stop's distance
// along the path. Stops are kept in ascending distance order.
func (s *Shape) ProjectStops(stops []StopPoint) error {
	if len(s.points) == 0 {
		return ErrNoGeometry
	}
	projected := make([]ShapeStop, 0, len(stops))
	for _, stop := range stops {
		ratio, err := s.Project(stop.Lat, stop.Lon)
		if err != nil {
			return err
		}
		projected = append(projected, ShapeStop{
			ID:       stop.ID,
			Lat:      stop.Lat,
			Lon:      stop.Lon,
			Distance: ratio * s.length,
		})
	}
	sort.Slice(projected, func(i, j int) bool {
		return projected[i].Distance < projected[j].Distance
	})
	s.stops = projected
	return nil
}

// Interpolate returns the coordinates at ratio of the way along the path.
// Ratios outside [0,1] or NaN are normalized to 0, since some feeds place raw
// distance values in fields expected to hold a ratio.
func (s *Shape) Interpolate(ratio float64) (Point, error) {
	if len(s.points) == 0 {
		return Point{}, ErrNoGeometry
	}
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		ratio = 0
	}
	if s.length == 0 {
		return s.points[0], nil
	}
	target := ratio * s.length
	// find the segment containing target
	i := sort.SearchFloat64s(s.cumulative, target)
	if i >= len(s.points) {
		return s.points[len(s.points)-1], nil
	}
	if i == 0 || s.cumulative[i] == target {
		return s.points[i], nil
	}
	segStart := s.points[i-1]
	segEnd := s.points[i]
	segLength := s.cumulative[i] - s.cumulative[i-1]
	if segLength == 0 {
		return segStart, nil
	}
	t := (target - s.cumulative[i-1]) / segLength
	return Point{
		Lat: segStart.Lat + (segEnd.Lat-segStart.Lat)*t,
		Lon: segStart.Lon + (segEnd.Lon-segStart.Lon)*t,
	}, nil
}

// Project returns the fractional position [0,1] along the path of the nearest
// point on the path to lat,lon. The input point does not need to lie on the path.
func (s *Shape) Project(lat float64, lon float64) (float64, error) {
	if len(s.points) == 0 {
		return 0, ErrNoGeometry
	}
	if s.length == 0 {
		return 0, nil
	}
	bestDistance := math.MaxFloat64
	bestAlong := 0.0
	for i := 1; i < len(s.points); i++ {
		nearLat, nearLon, t := nearestPointOnSegment(
			s.points[i-1].Lat, s.points[i-1].Lon,
			s.points[i].Lat, s.points[i].Lon,
			lat, lon)
		d := HaversineMeters(lat, lon, nearLat, nearLon)
		if d < bestDistance {
			bestDistance = d
			segLength := s.cumulative[i] - s.cumulative[i-1]
			bestAlong = s.cumulative[i-1] + segLength*t
		}
	}
	return bestAlong / s.length, nil
}

// ProjectDistanceToStopID returns the id of the closest preceding stop: the
// projected stop with the largest cached distance that does not exceed
// distanceMeters. Returns false when no stops have been projected onto the shape
// or every stop lies past distanceMeters.
func (s *Shape) ProjectDistanceToStopID(distanceMeters float64) (string, bool) {
	found := ""
	ok := false
	for _, stop := range s.stops {
		if stop.Distance > distanceMeters {
			break
		}
		found = stop.ID
		ok = true
	}
	return found, ok
}

// Stops returns the projected stops in ascending distance order
func (s *Shape) Stops() []ShapeStop {
	return s.stops
}

// nearestPointOnSegment calculates the nearest point on the line from
// startLat,startLon to endLat,endLon from pointLat,pointLon, treating the
// coordinates as planar. Adequate for coordinates close together in the same
// transit area, will not produce good results where longitude rolls over from
// -179.9 to 179.9.
// Returns the nearest latitude, longitude and the fraction t [0,1] along the segment.
func nearestPointOnSegment(startLat, startLon, endLat, endLon, pointLat, pointLon float64) (float64, float64, float64) {
	pointLonDiff := pointLon - startLon
	pointLatDiff := pointLat - startLat
	segLonDiff := endLon - startLon
	segLatDiff := endLat - startLat
	segLengthSquared := (segLonDiff * segLonDiff) + (segLatDiff * segLatDiff)
	t := 0.0
	if segLengthSquared > 0 {
		dot := pointLonDiff*segLonDiff + pointLatDiff*segLatDiff
		t = math.Min(1, math.Max(0, dot/segLengthSquared))
	}
	return startLat + segLatDiff*t, startLon + segLonDiff*t, t
}

const earthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance in meters between two coordinates
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// BearingDegrees returns the initial bearing in degrees [0,360) from the first
// coordinate to the second
func BearingDegrees(fromLat, fromLon, toLat, toLon float64) float64 {
	lat1 := toRadians(fromLat)
	lat2 := toRadians(toLat)
	dLon := toRadians(toLon - fromLon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	bearing := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
