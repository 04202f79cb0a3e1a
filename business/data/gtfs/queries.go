package gtfs

import (
	"database/sql"
	"errors"
	"fmt"
)

// Trip contains the trip columns the reconciliation pipeline needs
type Trip struct {
	TripId       string  `db:"trip_id" json:"trip_id"`
	RouteId      string  `db:"route_id" json:"route_id"`
	ServiceId    *string `db:"service_id" json:"service_id"`
	TripHeadsign *string `db:"trip_headsign" json:"trip_headsign"`
	BlockId      *string `db:"block_id" json:"block_id"`
	ShapeId      *string `db:"shape_id" json:"shape_id"`
	DirectionId  *int    `db:"direction_id" json:"direction_id"`
}

// Stop contains a row from the stops table
type Stop struct {
	StopId   string  `db:"stop_id" json:"stop_id"`
	StopName *string `db:"stop_name" json:"stop_name"`
	StopLat  float64 `db:"stop_lat" json:"stop_lat"`
	StopLon  float64 `db:"stop_lon" json:"stop_lon"`
}

// Route contains the route columns exposed to callers
type Route struct {
	RouteId        string  `db:"route_id" json:"route_id"`
	RouteShortName *string `db:"route_short_name" json:"route_short_name"`
	RouteLongName  *string `db:"route_long_name" json:"route_long_name"`
}

// StopTime contains a scheduled arrival and departure at a stop.
// Arrival and departure are gtfs time-of-day strings and may run past 24:00:00.
type StopTime struct {
	TripId            string   `db:"trip_id" json:"trip_id"`
	ArrivalTime       string   `db:"arrival_time" json:"arrival_time"`
	DepartureTime     string   `db:"departure_time" json:"departure_time"`
	StopId            string   `db:"stop_id" json:"stop_id"`
	StopSequence      int      `db:"stop_sequence" json:"stop_sequence"`
	ShapeDistTraveled *float64 `db:"shape_dist_traveled" json:"shape_dist_traveled"`
}

// GetTrip retrieves a single trip, nil when the trip id is not in the snapshot
func (f *Feed) GetTrip(tripId string) (*Trip, error) {
	query := "select trip_id, route_id, service_id, trip_headsign, block_id, shape_id, direction_id " +
		"from trips where trip_id = ?"
	trip := Trip{}
	err := f.Db.Get(&trip, f.Db.Rebind(query), tripId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve trip %s: %w", tripId, err)
	}
	return &trip, nil
}

// GetRoute retrieves a single route, nil when absent
func (f *Feed) GetRoute(routeId string) (*Route, error) {
	query := "select route_id, route_short_name, route_long_name from routes where route_id = ?"
	route := Route{}
	err := f.Db.Get(&route, f.Db.Rebind(query), routeId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve route %s: %w", routeId, err)
	}
	return &route, nil
}

// GetStop retrieves a single stop, nil when absent
func (f *Feed) GetStop(stopId string) (*Stop, error) {
	query := "select stop_id, stop_name, stop_lat, stop_lon from stops where stop_id = ?"
	stop := Stop{}
	err := f.Db.Get(&stop, f.Db.Rebind(query), stopId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve stop %s: %w", stopId, err)
	}
	return &stop, nil
}

// GetStopLocation returns a stop's coordinates
func (f *Feed) GetStopLocation(stopId string) (float64, float64, error) {
	stop, err := f.GetStop(stopId)
	if err != nil {
		return 0, 0, err
	}
	if stop == nil {
		return 0, 0, fmt.Errorf("no stop %s in snapshot for %s", stopId, f.AgencyId)
	}
	return stop.StopLat, stop.StopLon, nil
}

// GetStoptimes retrieves all scheduled stop times for a trip ordered by stop sequence
func (f *Feed) GetStoptimes(tripId string) ([]StopTime, error) {
	query := "select trip_id, arrival_time, departure_time, stop_id, stop_sequence, shape_dist_traveled " +
		"from stop_times where trip_id = ? order by stop_sequence"
	var results []StopTime
	err := f.Db.Select(&results, f.Db.Rebind(query), tripId)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve stop times for trip %s: %w", tripId, err)
	}
	return results, nil
}

// GetTripStopTime retrieves a trip's scheduled stop time at a specific stop,
// nil when the trip does not serve the stop. Trips that serve a stop more than
// once yield the earliest visit.
func (f *Feed) GetTripStopTime(tripId string, stopId string) (*StopTime, error) {
	query := "select trip_id, arrival_time, departure_time, stop_id, stop_sequence, shape_dist_traveled " +
		"from stop_times where trip_id = ? and stop_id = ? order by stop_sequence limit 1"
	stopTime := StopTime{}
	err := f.Db.Get(&stopTime, f.Db.Rebind(query), tripId, stopId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve stop time for trip %s at stop %s: %w", tripId, stopId, err)
	}
	return &stopTime, nil
}

// GetTerminalDepartureTime returns the departure time of a trip's first
// scheduled stop, the point at which a not-yet-started trip is considered
// started. Empty string when the trip has no stop times.
func (f *Feed) GetTerminalDepartureTime(tripId string) (string, error) {
	query := "select departure_time from stop_times where trip_id = ? order by stop_sequence asc limit 1"
	var departureTime string
	err := f.Db.Get(&departureTime, f.Db.Rebind(query), tripId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("unable to retrieve terminal departure time for trip %s: %w", tripId, err)
	}
	return departureTime, nil
}

// stopPointsOnTrip returns the ordered stop locations served by a trip, used to
// annotate the trip's shape
func (f *Feed) stopPointsOnTrip(tripId string) ([]Stop, error) {
	query := "select s.stop_id, s.stop_name, s.stop_lat, s.stop_lon " +
		"from stop_times st inner join stops s on st.stop_id = s.stop_id " +
		"where st.trip_id = ? order by st.stop_sequence"
	var results []Stop
	err := f.Db.Select(&results, f.Db.Rebind(query), tripId)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve stops for trip %s: %w", tripId, err)
	}
	return results, nil
}
