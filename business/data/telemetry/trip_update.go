package telemetry

import (
	"fmt"
)

// TripUpdateRow is one persisted trip update report. StopTimeUpdates carries
// the serialized per-stop delay payload as json.
type TripUpdateRow struct {
	AgencyId             string  `db:"agency_id"`
	VehicleId            string  `db:"vehicle_id"`
	ServerTime           int64   `db:"server_time"`
	TripId               string  `db:"trip_id"`
	StartTime            *string `db:"start_time"`
	StartDate            *string `db:"start_date"`
	RouteId              *string `db:"route_id"`
	Delay                *int    `db:"delay"`
	StopTimeUpdates      *string `db:"stop_time_updates"`
	Timestamp            int64   `db:"timestamp"`
	ScheduleRelationship string  `db:"schedule_relationship"`
	DirectionId          *int    `db:"direction_id"`
	VehicleLabel         *string `db:"vehicle_label"`
}

// RecordTripUpdates saves trip update rows in one transaction.
// Duplicates for the same (agency, vehicle, server time) are ignored.
func (t *DB) RecordTripUpdates(rows []TripUpdateRow) error {
	if len(rows) == 0 {
		return nil
	}
	statementString := "insert or ignore into trip_update ( " +
		"agency_id, " +
		"vehicle_id, " +
		"server_time, " +
		"trip_id, " +
		"start_time, " +
		"start_date, " +
		"route_id, " +
		"delay, " +
		"stop_time_updates, " +
		"timestamp, " +
		"schedule_relationship, " +
		"direction_id, " +
		"vehicle_label) " +
		"values (" +
		":agency_id, " +
		":vehicle_id, " +
		":server_time, " +
		":trip_id, " +
		":start_time, " +
		":start_date, " +
		":route_id, " +
		":delay, " +
		":stop_time_updates, " +
		":timestamp, " +
		":schedule_relationship, " +
		":direction_id, " +
		":vehicle_label)"
	tx, err := t.db.Beginx()
	if err != nil {
		return err
	}
	_, err = tx.NamedExec(tx.Rebind(statementString), rows)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("unable to record trip updates: %w", err)
	}
	return tx.Commit()
}
