package monitor

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/locations"
	"github.com/oriontransit/orion/foundation/metrics"
)

// ResultsPublisher sends reconciled vehicle locations to subscribers over NATS
type ResultsPublisher struct {
	log             *log.Logger
	natsConnection  *nats.Conn
	collector       *metrics.Collector
	publishOverNats bool
}

// MakeResultsPublisher creates a ResultsPublisher. A nil connection disables
// publishing, the monitor loop still records and serves locations locally.
func MakeResultsPublisher(log *log.Logger,
	natsConnection *nats.Conn,
	collector *metrics.Collector,
	publishOverNats bool) *ResultsPublisher {
	return &ResultsPublisher{
		log:             log,
		natsConnection:  natsConnection,
		collector:       collector,
		publishOverNats: publishOverNats && natsConnection != nil,
	}
}

// Subject is the NATS subject an agency's reconciled locations are published on
func Subject(agencyId string) string {
	return fmt.Sprintf("orion.vehicle-positions.%s", agencyId)
}

// Publish sends one agency's reconciled locations as a json object keyed by trip id
func (p *ResultsPublisher) Publish(a agency.Agency, results map[string]locations.ReconciledPosition) {
	if !p.publishOverNats {
		return
	}
	jsonData, err := json.Marshal(results)
	if err != nil {
		p.log.Printf("%s: failed to marshal reconciled positions: %v", a.Id, err)
		return
	}
	if err = p.natsConnection.Publish(Subject(a.Id), jsonData); err != nil {
		p.collector.NATSPublishErrs.Inc()
		p.log.Printf("%s: failed to publish reconciled positions: %v", a.Id, err)
		return
	}
	p.collector.NATSPublished.Inc()
}
