// Package monitor runs the per agency polling loops that fetch realtime
// feeds, persist them and publish the reconciled view.
package monitor

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/data/telemetry"
	"github.com/oriontransit/orion/business/locations"
	"github.com/oriontransit/orion/foundation/httpclient"
	"github.com/oriontransit/orion/foundation/metrics"
)

// minLoopGap keeps an agency loop from hammering its provider when a cycle
// takes longer than the polling interval
const minLoopGap = 500 * time.Millisecond

// RunVehicleMonitorLoops starts one self paced polling loop per agency and
// blocks until a shutdown signal arrives, then waits for in flight cycles to
// finish
func RunVehicleMonitorLoops(log *log.Logger,
	engine *locations.Engine,
	telemetryDB *telemetry.DB,
	agencies []agency.Agency,
	publisher *ResultsPublisher,
	collector *metrics.Collector,
	loopEvery time.Duration,
	shutdownSignal chan os.Signal) error {

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, a := range agencies {
		wg.Add(1)
		go func(a agency.Agency) {
			defer wg.Done()
			runAgencyLoop(log, engine, telemetryDB, a, publisher, collector, loopEvery, done)
		}(a)
	}

	<-shutdownSignal
	log.Printf("Exiting on shutdown signal")
	close(done)
	wg.Wait()
	return nil
}

func runAgencyLoop(log *log.Logger,
	engine *locations.Engine,
	telemetryDB *telemetry.DB,
	a agency.Agency,
	publisher *ResultsPublisher,
	collector *metrics.Collector,
	loopEvery time.Duration,
	done chan struct{}) {

	sleep := time.Duration(0) //run the first cycle immediately
	for {
		select {
		case <-done:
			log.Printf("%s: stopping monitor loop", a.Id)
			return
		case <-time.After(sleep):
		}

		start := time.Now()
		monitorCycle(log, engine, telemetryDB, a, publisher, collector)
		workTook := time.Since(start)
		collector.CycleDuration.WithLabelValues(a.Id).Observe(workTook.Seconds())

		// attempt to run every loopEvery by subtracting the time the work took
		sleep = loopEvery - workTook
		if sleep < minLoopGap {
			sleep = minLoopGap
		}
	}
}

// monitorCycle performs one fetch, persist, reconcile and publish pass for an
// agency. Individual stages failing are logged and the rest of the cycle
// continues, the next cycle gets a fresh chance.
func monitorCycle(log *log.Logger,
	engine *locations.Engine,
	telemetryDB *telemetry.DB,
	a agency.Agency,
	publisher *ResultsPublisher,
	collector *metrics.Collector) {

	now := time.Now()

	ingestVehiclePositions(log, engine, telemetryDB, a, collector, now)
	ingestTripUpdates(log, engine, telemetryDB, a, collector, now)

	results, err := engine.VehicleLocations(a, now)
	if err != nil {
		collector.ReconcileErrors.WithLabelValues(a.Id).Inc()
		log.Printf("%s: error reconciling vehicle locations: %v", a.Id, err)
		return
	}
	publisher.Publish(a, results)

	telemetryDB.PruneIfDue(now)
}

func ingestVehiclePositions(log *log.Logger,
	engine *locations.Engine,
	telemetryDB *telemetry.DB,
	a agency.Agency,
	collector *metrics.Collector,
	now time.Time) {

	payload, err := httpclient.FetchBytes(a.VehiclePositionsUrl)
	if err != nil {
		collector.FeedFetches.WithLabelValues(a.Id, "vehicle_positions", "error").Inc()
		log.Printf("%s: error fetching vehicle positions: %v", a.Id, err)
		return
	}
	collector.FeedFetches.WithLabelValues(a.Id, "vehicle_positions", "ok").Inc()

	positions, err := engine.DecodeVehiclePositions(a, payload, now)
	if err != nil {
		log.Printf("%s: error decoding vehicle positions: %v", a.Id, err)
		return
	}

	rows := locations.VehiclePositionRows(a.Id, positions)
	if err = telemetryDB.RecordVehiclePositions(rows); err != nil {
		log.Printf("%s: error recording vehicle positions: %v", a.Id, err)
		return
	}
	collector.PositionsRecorded.WithLabelValues(a.Id).Add(float64(len(rows)))
}

func ingestTripUpdates(log *log.Logger,
	engine *locations.Engine,
	telemetryDB *telemetry.DB,
	a agency.Agency,
	collector *metrics.Collector,
	now time.Time) {

	if a.TripUpdatesUrl == "" {
		return
	}
	payload, err := httpclient.FetchBytes(a.TripUpdatesUrl)
	if err != nil {
		collector.FeedFetches.WithLabelValues(a.Id, "trip_updates", "error").Inc()
		log.Printf("%s: error fetching trip updates: %v", a.Id, err)
		return
	}
	collector.FeedFetches.WithLabelValues(a.Id, "trip_updates", "ok").Inc()

	rows, err := engine.DecodeTripUpdates(a, payload, now)
	if err != nil {
		log.Printf("%s: error decoding trip updates: %v", a.Id, err)
		return
	}
	if err = telemetryDB.RecordTripUpdates(rows); err != nil {
		log.Printf("%s: error recording trip updates: %v", a.Id, err)
		return
	}
	collector.TripUpdatesRecorded.WithLabelValues(a.Id).Add(float64(len(rows)))
}
