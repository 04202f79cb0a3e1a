package telemetry

import (
	"fmt"
	"time"
)

// VehiclePositionRow is one persisted live vehicle report. Lat and lon are
// stored as fixed 7 decimal place text to keep row keys stable across float
// formatting differences.
type VehiclePositionRow struct {
	AgencyId        string   `db:"agency_id"`
	Vid             string   `db:"vid"`
	ServerTime      int64    `db:"server_time"`
	ServerDate      string   `db:"server_date"`
	Rid             string   `db:"rid"`
	Lat             string   `db:"lat"`
	Lon             string   `db:"lon"`
	Heading         *float64 `db:"heading"`
	TripId          string   `db:"trip_id"`
	StopIndex       *int     `db:"stop_index"`
	Status          *int     `db:"status"`
	SecsSinceReport *int     `db:"secs_since_report"`
	StopId          *string  `db:"stop_id"`
	Label           *string  `db:"label"`
	BlockId         *string  `db:"block_id"`
}

// FormatCoordinate renders a coordinate as the fixed precision text the sink stores
func FormatCoordinate(value float64) string {
	return fmt.Sprintf("%.7f", value)
}

// RecordVehiclePositions saves position rows in one transaction. Duplicate
// reports for the same (agency, vehicle, server time) are ignored.
func (t *DB) RecordVehiclePositions(rows []VehiclePositionRow) error {
	if len(rows) == 0 {
		return nil
	}
	statementString := "insert or ignore into vehicle_position ( " +
		"agency_id, " +
		"vid, " +
		"server_time, " +
		"server_date, " +
		"rid, " +
		"lat, " +
		"lon, " +
		"heading, " +
		"trip_id, " +
		"stop_index, " +
		"status, " +
		"secs_since_report, " +
		"stop_id, " +
		"label, " +
		"block_id) " +
		"values (" +
		":agency_id, " +
		":vid, " +
		":server_time, " +
		":server_date, " +
		":rid, " +
		":lat, " +
		":lon, " +
		":heading, " +
		":trip_id, " +
		":stop_index, " +
		":status, " +
		":secs_since_report, " +
		":stop_id, " +
		":label, " +
		":block_id)"
	tx, err := t.db.Beginx()
	if err != nil {
		return err
	}
	_, err = tx.NamedExec(tx.Rebind(statementString), rows)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("unable to record vehicle positions: %w", err)
	}
	return tx.Commit()
}

// LatestPositionRow joins a vehicle's most recent position with its most recent
// trip update in the query window
type LatestPositionRow struct {
	VehiclePositionRow
	UpdateDelay *int `db:"update_delay"`
}

// LatestVehiclePositions returns, per vehicle, the newest position row for the
// agency with server time in (at - window, at], left joined with the vehicle's
// newest trip update row in the same window.
func (t *DB) LatestVehiclePositions(agencyId string, at time.Time, window time.Duration) ([]LatestPositionRow, error) {
	endTime := at.UnixMilli()
	startTime := at.Add(-window).UnixMilli()

	query := `
with latest_vehicle_positions as (
  select vp.*
  from vehicle_position vp
  inner join (
    select vid, max(server_time) as max_time
    from vehicle_position
    where server_time between :start_time and :end_time and agency_id = :agency_id
    group by vid
  ) latest on vp.vid = latest.vid and vp.server_time = latest.max_time
  where vp.agency_id = :agency_id
),
latest_trip_updates as (
  select tu.*
  from trip_update tu
  inner join (
    select vehicle_id, max(server_time) as max_time
    from trip_update
    where server_time between :start_time and :end_time and agency_id = :agency_id
    group by vehicle_id
  ) latest on tu.vehicle_id = latest.vehicle_id and tu.server_time = latest.max_time
  where tu.agency_id = :agency_id
)
select vp.agency_id, vp.vid, vp.server_time, vp.server_date, vp.rid, vp.lat, vp.lon,
       vp.heading, vp.trip_id, vp.stop_index, vp.status, vp.secs_since_report,
       vp.stop_id, vp.label, vp.block_id,
       tu.delay as update_delay
from latest_vehicle_positions vp
left outer join latest_trip_updates tu
  on tu.vehicle_id = vp.vid and tu.trip_id = vp.trip_id`

	rows, err := t.db.NamedQuery(query, map[string]interface{}{
		"start_time": startTime,
		"end_time":   endTime,
		"agency_id":  agencyId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query latest vehicle positions for %s: %w", agencyId, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []LatestPositionRow
	for rows.Next() {
		row := LatestPositionRow{}
		if err = rows.StructScan(&row); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
