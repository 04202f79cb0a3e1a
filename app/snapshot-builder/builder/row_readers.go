package builder

import (
	"github.com/jmoiron/sqlx"
)

const batchedRowCount = 250

// gtfsRowReader reads rows from one gtfs csv file and records them in the
// snapshot, batching inserts
type gtfsRowReader interface {
	// addRow should read the current line from the parser and store the
	// resulting record, flushing the batch when it is full
	addRow(parser *rowParser, tx *sqlx.Tx) error
	// flush should record any pending batched records
	flush(tx *sqlx.Tx) error
}

type tripRow struct {
	TripId       string  `db:"trip_id"`
	RouteId      string  `db:"route_id"`
	ServiceId    string  `db:"service_id"`
	TripHeadsign *string `db:"trip_headsign"`
	BlockId      *string `db:"block_id"`
	ShapeId      *string `db:"shape_id"`
	DirectionId  *int    `db:"direction_id"`
}

type tripRowReader struct {
	batch []tripRow
}

func (r *tripRowReader) addRow(parser *rowParser, tx *sqlx.Tx) error {
	row := tripRow{
		TripId:       parser.getString("trip_id", false),
		RouteId:      parser.getString("route_id", false),
		ServiceId:    parser.getString("service_id", false),
		TripHeadsign: parser.getStringPointer("trip_headsign", true),
		BlockId:      parser.getStringPointer("block_id", true),
		ShapeId:      parser.getStringPointer("shape_id", true),
		DirectionId:  parser.getIntPointer("direction_id", true),
	}
	if err := parser.getError(); err != nil {
		return err
	}
	r.batch = append(r.batch, row)
	if len(r.batch) == batchedRowCount {
		return r.flush(tx)
	}
	return nil
}

func (r *tripRowReader) flush(tx *sqlx.Tx) error {
	if len(r.batch) == 0 {
		return nil
	}
	_, err := tx.NamedExec("insert into trips (trip_id, route_id, service_id, trip_headsign, block_id, shape_id, direction_id) "+
		"values (:trip_id, :route_id, :service_id, :trip_headsign, :block_id, :shape_id, :direction_id)", r.batch)
	r.batch = r.batch[:0]
	return err
}

type routeRow struct {
	RouteId        string  `db:"route_id"`
	RouteShortName *string `db:"route_short_name"`
	RouteLongName  *string `db:"route_long_name"`
}

type routeRowReader struct {
	batch []routeRow
}

func (r *routeRowReader) addRow(parser *rowParser, tx *sqlx.Tx) error {
	row := routeRow{
		RouteId:        parser.getString("route_id", false),
		RouteShortName: parser.getStringPointer("route_short_name", true),
		RouteLongName:  parser.getStringPointer("route_long_name", true),
	}
	if err := parser.getError(); err != nil {
		return err
	}
	r.batch = append(r.batch, row)
	if len(r.batch) == batchedRowCount {
		return r.flush(tx)
	}
	return nil
}

func (r *routeRowReader) flush(tx *sqlx.Tx) error {
	if len(r.batch) == 0 {
		return nil
	}
	_, err := tx.NamedExec("insert into routes (route_id, route_short_name, route_long_name) "+
		"values (:route_id, :route_short_name, :route_long_name)", r.batch)
	r.batch = r.batch[:0]
	return err
}

type stopRow struct {
	StopId   string  `db:"stop_id"`
	StopName *string `db:"stop_name"`
	StopLat  float64 `db:"stop_lat"`
	StopLon  float64 `db:"stop_lon"`
}

type stopRowReader struct {
	batch []stopRow
}

func (r *stopRowReader) addRow(parser *rowParser, tx *sqlx.Tx) error {
	row := stopRow{
		StopId:   parser.getString("stop_id", false),
		StopName: parser.getStringPointer("stop_name", true),
		StopLat:  parser.getFloat64("stop_lat", false),
		StopLon:  parser.getFloat64("stop_lon", false),
	}
	if err := parser.getError(); err != nil {
		return err
	}
	r.batch = append(r.batch, row)
	if len(r.batch) == batchedRowCount {
		return r.flush(tx)
	}
	return nil
}

func (r *stopRowReader) flush(tx *sqlx.Tx) error {
	if len(r.batch) == 0 {
		return nil
	}
	_, err := tx.NamedExec("insert into stops (stop_id, stop_name, stop_lat, stop_lon) "+
		"values (:stop_id, :stop_name, :stop_lat, :stop_lon)", r.batch)
	r.batch = r.batch[:0]
	return err
}

type stopTimeRow struct {
	TripId            string   `db:"trip_id"`
	ArrivalTime       string   `db:"arrival_time"`
	DepartureTime     string   `db:"departure_time"`
	StopId            string   `db:"stop_id"`
	StopSequence      int      `db:"stop_sequence"`
	ShapeDistTraveled *float64 `db:"shape_dist_traveled"`
}

type stopTimeRowReader struct {
	batch []stopTimeRow
}

func (r *stopTimeRowReader) addRow(parser *rowParser, tx *sqlx.Tx) error {
	row := stopTimeRow{
		TripId:            parser.getString("trip_id", false),
		ArrivalTime:       parser.getScheduleTime("arrival_time", false),
		DepartureTime:     parser.getScheduleTime("departure_time", false),
		StopId:            parser.getString("stop_id", false),
		StopSequence:      parser.getInt("stop_sequence", false),
		ShapeDistTraveled: parser.getFloat64Pointer("shape_dist_traveled", true),
	}
	if err := parser.getError(); err != nil {
		return err
	}
	r.batch = append(r.batch, row)
	if len(r.batch) == batchedRowCount {
		return r.flush(tx)
	}
	return nil
}

func (r *stopTimeRowReader) flush(tx *sqlx.Tx) error {
	if len(r.batch) == 0 {
		return nil
	}
	_, err := tx.NamedExec("insert into stop_times (trip_id, arrival_time, departure_time, stop_id, stop_sequence, shape_dist_traveled) "+
		"values (:trip_id, :arrival_time, :departure_time, :stop_id, :stop_sequence, :shape_dist_traveled)", r.batch)
	r.batch = r.batch[:0]
	return err
}

type shapeRow struct {
	ShapeId         string  `db:"shape_id"`
	ShapePtLat      float64 `db:"shape_pt_lat"`
	ShapePtLon      float64 `db:"shape_pt_lon"`
	ShapePtSequence int     `db:"shape_pt_sequence"`
}

type shapeRowReader struct {
	batch []shapeRow
}

func (r *shapeRowReader) addRow(parser *rowParser, tx *sqlx.Tx) error {
	row := shapeRow{
		ShapeId:         parser.getString("shape_id", false),
		ShapePtLat:      parser.getFloat64("shape_pt_lat", false),
		ShapePtLon:      parser.getFloat64("shape_pt_lon", false),
		ShapePtSequence: parser.getInt("shape_pt_sequence", false),
	}
	if err := parser.getError(); err != nil {
		return err
	}
	r.batch = append(r.batch, row)
	if len(r.batch) == batchedRowCount {
		return r.flush(tx)
	}
	return nil
}

func (r *shapeRowReader) flush(tx *sqlx.Tx) error {
	if len(r.batch) == 0 {
		return nil
	}
	_, err := tx.NamedExec("insert into shapes (shape_id, shape_pt_lat, shape_pt_lon, shape_pt_sequence) "+
		"values (:shape_id, :shape_pt_lat, :shape_pt_lon, :shape_pt_sequence)", r.batch)
	r.batch = r.batch[:0]
	return err
}

type calendarRow struct {
	ServiceId string `db:"service_id"`
	Monday    int    `db:"monday"`
	Tuesday   int    `db:"tuesday"`
	Wednesday int    `db:"wednesday"`
	Thursday  int    `db:"thursday"`
	Friday    int    `db:"friday"`
	Saturday  int    `db:"saturday"`
	Sunday    int    `db:"sunday"`
	StartDate int    `db:"start_date"`
	EndDate   int    `db:"end_date"`
}

type calendarRowReader struct {
	batch []calendarRow
}

func (r *calendarRowReader) addRow(parser *rowParser, tx *sqlx.Tx) error {
	row := calendarRow{
		ServiceId: parser.getString("service_id", false),
		Monday:    parser.getInt("monday", false),
		Tuesday:   parser.getInt("tuesday", false),
		Wednesday: parser.getInt("wednesday", false),
		Thursday:  parser.getInt("thursday", false),
		Friday:    parser.getInt("friday", false),
		Saturday:  parser.getInt("saturday", false),
		Sunday:    parser.getInt("sunday", false),
		StartDate: parser.getInt("start_date", false),
		EndDate:   parser.getInt("end_date", false),
	}
	if err := parser.getError(); err != nil {
		return err
	}
	r.batch = append(r.batch, row)
	if len(r.batch) == batchedRowCount {
		return r.flush(tx)
	}
	return nil
}

func (r *calendarRowReader) flush(tx *sqlx.Tx) error {
	if len(r.batch) == 0 {
		return nil
	}
	_, err := tx.NamedExec("insert into calendar (service_id, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date) "+
		"values (:service_id, :monday, :tuesday, :wednesday, :thursday, :friday, :saturday, :sunday, :start_date, :end_date)", r.batch)
	r.batch = r.batch[:0]
	return err
}

type calendarDateRow struct {
	ServiceId     string `db:"service_id"`
	Date          int    `db:"date"`
	ExceptionType int    `db:"exception_type"`
}

type calendarDateRowReader struct {
	batch []calendarDateRow
}

func (r *calendarDateRowReader) addRow(parser *rowParser, tx *sqlx.Tx) error {
	row := calendarDateRow{
		ServiceId:     parser.getString("service_id", false),
		Date:          parser.getInt("date", false),
		ExceptionType: parser.getInt("exception_type", false),
	}
	if err := parser.getError(); err != nil {
		return err
	}
	r.batch = append(r.batch, row)
	if len(r.batch) == batchedRowCount {
		return r.flush(tx)
	}
	return nil
}

func (r *calendarDateRowReader) flush(tx *sqlx.Tx) error {
	if len(r.batch) == 0 {
		return nil
	}
	_, err := tx.NamedExec("insert into calendar_dates (service_id, date, exception_type) "+
		"values (:service_id, :date, :exception_type)", r.batch)
	r.batch = r.batch[:0]
	return err
}
