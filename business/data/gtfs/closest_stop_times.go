package gtfs

import (
	"fmt"
	"time"

	"github.com/oriontransit/orion/foundation/database"
)

const (
	// SourceBefore tags a stop time at or before the query time.
	// The tag values sort before/after correctly so the query can order by them.
	SourceBefore = "0before"
	// SourceAfter tags a stop time at or after the query time
	SourceAfter = "1after"
)

// ClosestStopTime is a stop time row bracketing a query time, tagged with its
// role relative to that time
type ClosestStopTime struct {
	TripId            string   `db:"trip_id" json:"trip_id"`
	ArrivalTime       string   `db:"arrival_time" json:"arrival_time"`
	DepartureTime     string   `db:"departure_time" json:"departure_time"`
	StopId            string   `db:"stop_id" json:"stop_id"`
	StopSequence      int      `db:"stop_sequence" json:"stop_sequence"`
	ShapeDistTraveled *float64 `db:"shape_dist_traveled" json:"shape_dist_traveled"`
	Source            string   `db:"source" json:"source"`
}

// ClosestStopTimes finds, for every trip active on serviceDate, the latest stop
// time departing at or before timeOfDaySecs (tagged SourceBefore) and the
// earliest stop time arriving at or after it (tagged SourceAfter), bounded by
// the look-back and look-ahead windows. A trip is active when its service id
// matches the calendar day-of-week and date range, is added by a calendar_dates
// exception, or is absent entirely (agencies without calendar data run every
// day), and is not removed by a calendar_dates exception for the date.
// When tripId is non-empty results are restricted to that trip.
func (f *Feed) ClosestStopTimes(serviceDate time.Time,
	timeOfDaySecs int,
	lookBack time.Duration,
	lookAhead time.Duration,
	tripId string) ([]ClosestStopTime, error) {

	tripFilter := "true"
	if tripId != "" {
		tripFilter = "t.trip_id = :trip_id"
	}

	query := fmt.Sprintf(`
with eligible_trips as (
  select distinct t.trip_id
  from trips t
    left join calendar c on t.service_id = c.service_id
  where (
      (c.%s = 1 and c.start_date <= :date and c.end_date >= :date)
      or c.service_id is null
      or exists (select 1 from calendar_dates cd
                 where cd.service_id = t.service_id and cd.date = :date and cd.exception_type = 1)
    )
    and not exists (select 1 from calendar_dates cd
                    where cd.service_id = t.service_id and cd.date = :date and cd.exception_type = 2)
    and (%s)
),
after_stops as (
  select rowid, trip_id, min(arrival_time) as first_arrival_after
  from stop_times
  where arrival_time >= :time_of_day
    and arrival_time <= :time_of_day_after
    and trip_id in (select trip_id from eligible_trips)
  group by trip_id
),
before_stops as (
  select rowid, trip_id, max(departure_time) as last_departure_before
  from stop_times
  where departure_time <= :time_of_day
    and departure_time >= :time_of_day_before
    and trip_id in (select trip_id from eligible_trips)
  group by trip_id
)
select st.trip_id as trip_id, st.arrival_time, st.departure_time, st.stop_id, st.stop_sequence,
       st.shape_dist_traveled, '%s' as source
from stop_times st
inner join after_stops on st.rowid = after_stops.rowid
union
select st.trip_id as trip_id, st.arrival_time, st.departure_time, st.stop_id, st.stop_sequence,
       st.shape_dist_traveled, '%s' as source
from stop_times st
inner join before_stops on st.rowid = before_stops.rowid
order by trip_id, source`,
		DayOfWeekColumn(serviceDate), tripFilter, SourceAfter, SourceBefore)

	rows, err := database.PrepareNamedQueryRowsFromMap(query, f.Db, map[string]interface{}{
		"date":               ServiceDateYYYYMMDD(serviceDate),
		"time_of_day":        SecondsToHHMMSS(timeOfDaySecs),
		"time_of_day_before": SecondsToHHMMSS(timeOfDaySecs - int(lookBack.Seconds())),
		"time_of_day_after":  SecondsToHHMMSS(timeOfDaySecs + int(lookAhead.Seconds())),
		"trip_id":            tripId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query closest stop times for %s: %w", f.AgencyId, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []ClosestStopTime
	for rows.Next() {
		cst := ClosestStopTime{}
		if err = rows.StructScan(&cst); err != nil {
			return nil, err
		}
		results = append(results, cst)
	}
	return results, rows.Err()
}
