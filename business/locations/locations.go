// Package locations produces best-known vehicle positions for an agency by
// reconciling live telemetry against the scheduled timetable. When live data is
// sparse or stale the timetable fallback still yields a plausible position for
// every active trip.
package locations

import (
	"fmt"
	"log"
	"time"

	"github.com/oriontransit/orion/business/data/gtfs"
	"github.com/oriontransit/orion/business/data/telemetry"
)

// ScheduledStatus describes where a trip is in its scheduled lifecycle at the query time
type ScheduledStatus string

const (
	StatusRunning    ScheduledStatus = "running"
	StatusNotStarted ScheduledStatus = "not-started"
	StatusEnded      ScheduledStatus = "ended"
)

const (
	// SourceScheduled marks records derived from the timetable
	SourceScheduled = "scheduled"
	// SourceLive marks records derived from the live feed
	SourceLive = "live"

	// scheduled records carry this placeholder vehicle id, the ui matches live
	// vehicles by trip id and shows this when none was found
	scheduledVid = "Could not find corresponding real-time bus"
)

// Tuned heuristics, see Engine fields of the same name for the rationale.
const (
	// DefaultAverageSpeed converts a distance gap to a time gap, 35 km/h in m/s
	DefaultAverageSpeed = 35.0 * 1000 / 3600
	// DefaultDistanceDelayTrust is how close (seconds) a distance based delay
	// estimate must be to zero before it is preferred over the time based one
	DefaultDistanceDelayTrust = 180.0
	// DefaultLookBack and DefaultLookAhead bound the bracketing stop time search
	DefaultLookBack  = 30 * time.Minute
	DefaultLookAhead = 30 * time.Minute
)

const (
	// overnightWindowSeconds is how far into the new calendar day the previous
	// service day's past-24:00 trips are still searched for
	overnightWindowSeconds = 4 * 3600
	// staleReportSeconds is the age past which a live report is treated as no data
	staleReportSeconds = 300
	// liveQueryWindow bounds how far back the latest persisted report may be
	liveQueryWindow = 5 * time.Minute
)

// VehiclePosition is the canonical vehicle record, produced from either the
// live feed or the timetable. Optional fields are pointers and nil when the
// source did not provide them.
type VehiclePosition struct {
	Rid                   string          `json:"rid"`
	Vid                   string          `json:"vid"`
	Lat                   float64         `json:"lat"`
	Lon                   float64         `json:"lon"`
	Heading               float64         `json:"heading"`
	TripId                string          `json:"tripId"`
	StopIndex             *int            `json:"stopIndex,omitempty"`
	Status                int             `json:"status"`
	TripHeadsign          *string         `json:"trip_headsign,omitempty"`
	SecsSinceReport       *int            `json:"secsSinceReport,omitempty"`
	StopId                *string         `json:"stopId,omitempty"`
	Label                 *string         `json:"label,omitempty"`
	BlockId               *string         `json:"blockId,omitempty"`
	Delay                 *int            `json:"delay,omitempty"`
	ServerTime            int64           `json:"server_time"`
	Source                string          `json:"source"`
	TerminalDepartureTime string          `json:"terminalDepartureTime,omitempty"`
	DistanceAlongRoute    *float64        `json:"distanceAlongRoute,omitempty"`
	ScheduledStatus       ScheduledStatus `json:"scheduledStatus,omitempty"`
}

// ReconciledPosition pairs a trip's scheduled position with its live record.
// Either side may be absent. MatchKey is the trip id the pair was unified
// under, which differs from the live record's own trip id when the match was
// made through a block id.
type ReconciledPosition struct {
	Scheduled       *VehiclePosition `json:"scheduled,omitempty"`
	Live            *VehiclePosition `json:"live,omitempty"`
	MatchKey        string           `json:"matchKey"`
	CalculatedDelay *float64         `json:"calculatedDelay,omitempty"`
}

// TripIdsNotUniqueError indicates a timetable integrity problem: one trip
// produced more than one scheduled position
type TripIdsNotUniqueError struct {
	TripId string
}

func (e *TripIdsNotUniqueError) Error() string {
	return fmt.Sprintf("trip ids not unique in scheduled positions, duplicate trip id %s", e.TripId)
}

// Engine computes scheduled, live and reconciled vehicle locations for agencies
type Engine struct {
	log       *log.Logger
	store     *gtfs.Store
	telemetry *telemetry.DB

	// AverageSpeed and DistanceDelayTrust are tuned heuristics preserved from
	// operating experience rather than derived values, kept adjustable for
	// empirical re-tuning.
	AverageSpeed       float64
	DistanceDelayTrust float64
	LookBack           time.Duration
	LookAhead          time.Duration
}

// NewEngine creates an Engine with default heuristics
func NewEngine(log *log.Logger, store *gtfs.Store, telemetryDB *telemetry.DB) *Engine {
	return &Engine{
		log:                log,
		store:              store,
		telemetry:          telemetryDB,
		AverageSpeed:       DefaultAverageSpeed,
		DistanceDelayTrust: DefaultDistanceDelayTrust,
		LookBack:           DefaultLookBack,
		LookAhead:          DefaultLookAhead,
	}
}

func intPtr(v int) *int {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}

func float64Ptr(v float64) *float64 {
	return &v
}

func strPtr(v string) *string {
	return &v
}
