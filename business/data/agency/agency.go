// Package agency provides the agency list configuration consumed by the
// ingestion loops and the query surface.
package agency

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Agency describes one transit agency's feed endpoints and timezone
type Agency struct {
	// Id is the short agency identifier used as a key everywhere, for example "brampton"
	Id string `json:"id"`
	// Timezone is an IANA timezone name like "America/Toronto"
	Timezone string `json:"timezone"`
	// VehiclePositionsUrl is the GTFS-RT vehicle positions feed endpoint
	VehiclePositionsUrl string `json:"gtfs_realtime_url"`
	// TripUpdatesUrl is the GTFS-RT trip updates feed endpoint, empty if the agency has none
	TripUpdatesUrl string `json:"trip_updates_url,omitempty"`
}

// Location resolves the agency timezone, defaulting to UTC when unset
func (a *Agency) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

// LoadAgencies reads the agency list from a json file
func LoadAgencies(path string) ([]Agency, error) {
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agency file %s: %w", path, err)
	}
	var agencies []Agency
	if err = json.Unmarshal(fileBytes, &agencies); err != nil {
		return nil, fmt.Errorf("parsing agency file %s: %w", path, err)
	}
	if len(agencies) == 0 {
		return nil, fmt.Errorf("no agencies specified in %s", path)
	}
	for _, a := range agencies {
		if a.Id == "" {
			return nil, fmt.Errorf("agency missing id in %s", path)
		}
		if _, err = a.Location(); err != nil {
			return nil, fmt.Errorf("agency %s has invalid timezone %q: %w", a.Id, a.Timezone, err)
		}
	}
	return agencies, nil
}
