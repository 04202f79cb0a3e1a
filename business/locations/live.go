package locations

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/data/gtfs"
	"github.com/oriontransit/orion/business/data/telemetry"
)

// millisTimestampThreshold is the largest value a seconds epoch timestamp can
// hold, anything larger is a milliseconds timestamp from a non conforming feed
const millisTimestampThreshold = 2147483647

// DecodeVehiclePositions converts a gtfs-realtime VehiclePositions payload into
// canonical records. Entities missing a trip descriptor, position or vehicle
// descriptor are skipped. Block ids absent from the feed are filled in from the
// schedule when the trip is known. Agencies serve empty or malformed payloads
// during outages, so a payload that fails to decode yields no records rather
// than an error.
func (e *Engine) DecodeVehiclePositions(a agency.Agency, payload []byte, receivedAt time.Time) ([]VehiclePosition, error) {
	feedMessage := gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(payload, &feedMessage); err != nil {
		e.log.Printf("%s: unable to decode vehicle positions feed: %v", a.Id, err)
		return []VehiclePosition{}, nil
	}

	feed, err := e.store.GetFeed(a, receivedAt)
	if err != nil {
		return nil, err
	}

	feedTimestamp := normalizeEpochSeconds(int64(feedMessage.GetHeader().GetTimestamp()))
	if feedTimestamp == 0 {
		feedTimestamp = receivedAt.Unix()
	}

	var positions []VehiclePosition
	for _, entity := range feedMessage.GetEntity() {
		vehicle := entity.GetVehicle()
		if vehicle == nil {
			continue
		}
		trip := vehicle.GetTrip()
		point := vehicle.GetPosition()
		descriptor := vehicle.GetVehicle()
		if trip.GetTripId() == "" || point == nil || descriptor.GetId() == "" {
			continue
		}

		position := VehiclePosition{
			Rid:             trip.GetRouteId(),
			Vid:             descriptor.GetId(),
			Lat:             roundCoordinate(float64(point.GetLatitude())),
			Lon:             roundCoordinate(float64(point.GetLongitude())),
			Heading:         float64(point.GetBearing()),
			TripId:          trip.GetTripId(),
			Status:          int(vehicle.GetCurrentStatus()),
			SecsSinceReport: secsSinceReport(feedTimestamp, vehicle.Timestamp),
			ServerTime:      receivedAt.UnixMilli(),
			Source:          SourceLive,
		}
		if vehicle.CurrentStopSequence != nil {
			position.StopIndex = intPtr(int(vehicle.GetCurrentStopSequence()))
		}
		if vehicle.StopId != nil {
			position.StopId = strPtr(vehicle.GetStopId())
		}
		if descriptor.Label != nil {
			position.Label = strPtr(descriptor.GetLabel())
		}

		scheduleTrip, err := feed.GetTrip(trip.GetTripId())
		if err != nil {
			e.log.Printf("%s: unable to look up trip %s for vehicle %s: %v", a.Id, trip.GetTripId(), position.Vid, err)
		} else if scheduleTrip != nil {
			position.BlockId = scheduleTrip.BlockId
			if position.Rid == "" {
				position.Rid = scheduleTrip.RouteId
			}
		}

		positions = append(positions, position)
	}
	return positions, nil
}

// roundCoordinate trims a reported coordinate to five decimal places, about
// one meter, so jitter below gps accuracy does not churn stored rows
func roundCoordinate(value float64) float64 {
	return math.Round(value*1e5) / 1e5
}

// secsSinceReport is the age of a vehicle report at the feed timestamp.
// Feeds that report milliseconds epochs are normalized first.
// nil when the report carries no timestamp.
func secsSinceReport(feedTimestamp int64, reportTimestamp *uint64) *int {
	if reportTimestamp == nil || *reportTimestamp == 0 {
		return nil
	}
	age := normalizeEpochSeconds(feedTimestamp) - normalizeEpochSeconds(int64(*reportTimestamp))
	if age < 0 {
		age = 0
	}
	return intPtr(int(age))
}

func normalizeEpochSeconds(timestamp int64) int64 {
	if timestamp > millisTimestampThreshold {
		return timestamp / 1000
	}
	return timestamp
}

// VehiclePositionRows converts canonical records to sink rows for persistence
func VehiclePositionRows(agencyId string, positions []VehiclePosition) []telemetry.VehiclePositionRow {
	rows := make([]telemetry.VehiclePositionRow, 0, len(positions))
	for _, position := range positions {
		row := telemetry.VehiclePositionRow{
			AgencyId:        agencyId,
			Vid:             position.Vid,
			ServerTime:      position.ServerTime,
			ServerDate:      time.UnixMilli(position.ServerTime).UTC().Format("2006-01-02"),
			Rid:             position.Rid,
			Lat:             telemetry.FormatCoordinate(position.Lat),
			Lon:             telemetry.FormatCoordinate(position.Lon),
			Heading:         float64Ptr(position.Heading),
			TripId:          position.TripId,
			StopIndex:       position.StopIndex,
			Status:          intPtr(position.Status),
			SecsSinceReport: position.SecsSinceReport,
			StopId:          position.StopId,
			Label:           position.Label,
			BlockId:         position.BlockId,
		}
		rows = append(rows, row)
	}
	return rows
}

// stopTimeUpdateRecord is the serialized form of one per stop delay prediction
type stopTimeUpdateRecord struct {
	StopId       string `json:"stopId,omitempty"`
	StopSequence *int   `json:"stopSequence,omitempty"`
	Delay        *int   `json:"delay,omitempty"`
	Time         *int64 `json:"time,omitempty"`
}

// DecodeTripUpdates converts a gtfs-realtime TripUpdates payload into sink
// rows. Updates without a top level delay get one inferred from the per stop
// prediction closest to the trip's current scheduled stop. As with vehicle
// positions, a payload that fails to decode yields no rows, not an error.
func (e *Engine) DecodeTripUpdates(a agency.Agency, payload []byte, receivedAt time.Time) ([]telemetry.TripUpdateRow, error) {
	feedMessage := gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(payload, &feedMessage); err != nil {
		e.log.Printf("%s: unable to decode trip updates feed: %v", a.Id, err)
		return []telemetry.TripUpdateRow{}, nil
	}

	feed, err := e.store.GetFeed(a, receivedAt)
	if err != nil {
		return nil, err
	}
	localTime := receivedAt.In(feed.Location)

	var rows []telemetry.TripUpdateRow
	for _, entity := range feedMessage.GetEntity() {
		update := entity.GetTripUpdate()
		if update == nil || update.GetTrip().GetTripId() == "" {
			continue
		}
		trip := update.GetTrip()

		updates := make([]stopTimeUpdateRecord, 0, len(update.GetStopTimeUpdate()))
		for _, stopUpdate := range update.GetStopTimeUpdate() {
			record := stopTimeUpdateRecord{StopId: stopUpdate.GetStopId()}
			if stopUpdate.StopSequence != nil {
				record.StopSequence = intPtr(int(stopUpdate.GetStopSequence()))
			}
			event := stopUpdate.GetArrival()
			if event == nil {
				event = stopUpdate.GetDeparture()
			}
			if event != nil {
				if event.Delay != nil {
					record.Delay = intPtr(int(event.GetDelay()))
				}
				if event.Time != nil {
					record.Time = int64Ptr(event.GetTime())
				}
			}
			updates = append(updates, record)
		}

		row := telemetry.TripUpdateRow{
			AgencyId:             a.Id,
			VehicleId:            update.GetVehicle().GetId(),
			ServerTime:           receivedAt.UnixMilli(),
			TripId:               trip.GetTripId(),
			Timestamp:            normalizeEpochSeconds(int64(update.GetTimestamp())),
			ScheduleRelationship: trip.GetScheduleRelationship().String(),
			Delay:                e.effectiveDelay(feed, trip.GetTripId(), localTime, update, updates),
		}
		if trip.StartTime != nil {
			row.StartTime = strPtr(trip.GetStartTime())
		}
		if trip.StartDate != nil {
			row.StartDate = strPtr(trip.GetStartDate())
		}
		if trip.RouteId != nil {
			row.RouteId = strPtr(trip.GetRouteId())
		}
		if trip.DirectionId != nil {
			row.DirectionId = intPtr(int(trip.GetDirectionId()))
		}
		if update.GetVehicle().Label != nil {
			row.VehicleLabel = strPtr(update.GetVehicle().GetLabel())
		}
		if len(updates) > 0 {
			serialized, err := json.Marshal(updates)
			if err == nil {
				row.StopTimeUpdates = strPtr(string(serialized))
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// effectiveDelay picks the delay for a trip update. The update's own delay
// wins when present, otherwise the per stop prediction for the stop the trip
// is scheduled to be closest to right now, otherwise the first prediction
// that carries a delay.
func (e *Engine) effectiveDelay(feed *gtfs.Feed,
	tripId string,
	localTime time.Time,
	update *gtfsrt.TripUpdate,
	updates []stopTimeUpdateRecord) *int {

	if update.Delay != nil {
		return intPtr(int(update.GetDelay()))
	}
	if len(updates) == 0 {
		return nil
	}

	brackets, err := e.activeTripBrackets(feed, localTime, tripId)
	if err == nil {
		for i := range brackets {
			bracket := &brackets[i]
			for _, stopTime := range []*gtfs.ClosestStopTime{bracket.after, bracket.before} {
				if stopTime == nil {
					continue
				}
				for _, record := range updates {
					if record.StopId == stopTime.StopId && record.Delay != nil {
						return record.Delay
					}
				}
			}
		}
	}

	for _, record := range updates {
		if record.Delay != nil {
			return record.Delay
		}
	}
	return nil
}

// LiveVehicleLocations reads back the latest persisted report per vehicle and
// rebuilds canonical records from them. Reports older than five minutes in the
// sink, or stale by their own age accounting, are dropped.
func (e *Engine) LiveVehicleLocations(a agency.Agency, at time.Time) ([]VehiclePosition, error) {
	feed, err := e.store.GetFeed(a, at)
	if err != nil {
		return nil, err
	}

	rows, err := e.telemetry.LatestVehiclePositions(a.Id, at, liveQueryWindow)
	if err != nil {
		return nil, err
	}

	positions := make([]VehiclePosition, 0, len(rows))
	for _, row := range rows {
		age := int((at.UnixMilli() - row.ServerTime) / 1000)
		if row.SecsSinceReport != nil {
			age += *row.SecsSinceReport
		}
		if age > staleReportSeconds {
			continue
		}

		lat, latErr := strconv.ParseFloat(row.Lat, 64)
		lon, lonErr := strconv.ParseFloat(row.Lon, 64)
		if latErr != nil || lonErr != nil {
			e.log.Printf("%s: dropping vehicle %s with unparseable coordinates %q %q", a.Id, row.Vid, row.Lat, row.Lon)
			continue
		}

		position := VehiclePosition{
			Rid:             row.Rid,
			Vid:             row.Vid,
			Lat:             lat,
			Lon:             lon,
			TripId:          row.TripId,
			StopIndex:       row.StopIndex,
			SecsSinceReport: intPtr(age),
			StopId:          row.StopId,
			Label:           row.Label,
			BlockId:         row.BlockId,
			Delay:           row.UpdateDelay,
			ServerTime:      row.ServerTime,
			Source:          SourceLive,
		}
		if row.Heading != nil {
			position.Heading = *row.Heading
		}
		if row.Status != nil {
			position.Status = *row.Status
		}

		e.decorateFromSchedule(feed, a, &position)
		positions = append(positions, position)
	}
	return positions, nil
}

// decorateFromSchedule fills in schedule derived fields on a live record.
// Lookup failures leave the record usable and are only logged.
func (e *Engine) decorateFromSchedule(feed *gtfs.Feed, a agency.Agency, position *VehiclePosition) {
	trip, err := feed.GetTrip(position.TripId)
	if err != nil {
		e.log.Printf("%s: unable to look up trip %s for vehicle %s: %v", a.Id, position.TripId, position.Vid, err)
		return
	}
	if trip == nil {
		return
	}
	position.TripHeadsign = trip.TripHeadsign
	if position.BlockId == nil {
		position.BlockId = trip.BlockId
	}
	if position.Rid == "" {
		position.Rid = trip.RouteId
	}
	terminalDeparture, err := feed.GetTerminalDepartureTime(position.TripId)
	if err != nil {
		e.log.Printf("%s: unable to look up terminal departure for trip %s: %v", a.Id, position.TripId, err)
		return
	}
	position.TerminalDepartureTime = terminalDeparture
}
