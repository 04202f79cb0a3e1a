// Package gtfs provides versioned read access to agency timetable snapshots.
// Each snapshot is an embedded sqlite database holding one agency's schedule
// for one service date, downloaded on demand and cached for the life of the
// process.
package gtfs

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/geo"
	"github.com/oriontransit/orion/foundation/database"
	"github.com/oriontransit/orion/foundation/httpclient"
)

// StoreConfig carries the snapshot source settings for a Store
type StoreConfig struct {
	// SnapshotURLTemplate expands to a snapshot download url with fmt verbs for
	// agency id and date, for example "https://host/api/gtfs/db?agency=%s&date=%s"
	SnapshotURLTemplate string
	// SnapshotDir is where downloaded snapshot files are kept
	SnapshotDir string
	// MaxOpenAttempts bounds retries when a snapshot open hits lock contention
	MaxOpenAttempts int
	// Sleep is injectable for deterministic retry testing, nil uses time.Sleep
	Sleep database.SleepFunc
}

// Store is the process-wide registry of open timetable snapshots, keyed by
// (agency, service date). Lookup and insert are safe for concurrent use and a
// single in-flight download is performed per key.
type Store struct {
	log   *log.Logger
	cfg   StoreConfig
	mu    sync.Mutex
	feeds map[feedKey]*feedEntry
}

type feedKey struct {
	agencyId    string
	serviceDate string
}

type feedEntry struct {
	ready chan struct{}
	feed  *Feed
	err   error
}

// NewStore creates an empty snapshot registry
func NewStore(log *log.Logger, cfg StoreConfig) *Store {
	if cfg.MaxOpenAttempts == 0 {
		cfg.MaxOpenAttempts = 5
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Store{
		log:   log,
		cfg:   cfg,
		feeds: make(map[feedKey]*feedEntry),
	}
}

// GetFeed returns the cached Feed whose service date covers at in the agency's
// timezone, downloading and opening the snapshot when no cached instance exists.
// Concurrent requests for the same uncached key share one download.
func (s *Store) GetFeed(a agency.Agency, at time.Time) (*Feed, error) {
	loc, err := a.Location()
	if err != nil {
		return nil, err
	}
	key := feedKey{agencyId: a.Id, serviceDate: FormatServiceDate(at.In(loc))}

	s.mu.Lock()
	entry, present := s.feeds[key]
	if present {
		s.mu.Unlock()
		<-entry.ready
		return entry.feed, entry.err
	}
	entry = &feedEntry{ready: make(chan struct{})}
	s.feeds[key] = entry
	s.mu.Unlock()

	entry.feed, entry.err = s.openWait(key, loc)
	close(entry.ready)
	if entry.err != nil {
		// drop the failed entry so the next cycle can retry the download
		s.mu.Lock()
		delete(s.feeds, key)
		s.mu.Unlock()
	}
	return entry.feed, entry.err
}

// Close releases every open snapshot. Callers still holding Feed references
// must not use them afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.feeds {
		<-entry.ready
		if entry.feed != nil {
			if err := entry.feed.Close(); err != nil {
				s.log.Printf("error closing snapshot for %s %s: %v", key.agencyId, key.serviceDate, err)
			}
		}
		delete(s.feeds, key)
	}
}

// openWait downloads the snapshot when the local file is missing or empty, then
// opens it, retrying on lock contention with backoff up to MaxOpenAttempts.
func (s *Store) openWait(key feedKey, loc *time.Location) (*Feed, error) {
	path := s.snapshotPath(key)

	info, statErr := os.Stat(path)
	if statErr != nil || info.Size() == 0 {
		url := fmt.Sprintf(s.cfg.SnapshotURLTemplate, key.agencyId, key.serviceDate)
		s.log.Printf("downloading timetable snapshot for %s date %s", key.agencyId, key.serviceDate)
		if _, err := httpclient.DownloadRemoteFile(path, url); err != nil {
			return nil, fmt.Errorf("downloading timetable snapshot for %s: %w", key.agencyId, err)
		}
	}

	var db *sqlx.DB
	err := database.RetryWithBackoff(s.cfg.MaxOpenAttempts, s.cfg.Sleep, database.IsLockContention, func() error {
		var openErr error
		db, openErr = database.Open(path)
		if openErr != nil {
			return openErr
		}
		// older snapshots predate this index and querying stop times without it is slow
		_, openErr = db.Exec("create index if not exists idx_stop_times_trip_id on stop_times (trip_id, stop_sequence)")
		if openErr != nil {
			_ = db.Close()
			return openErr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("opening timetable snapshot %s: %w", path, err)
	}

	s.log.Printf("opened timetable snapshot for %s date %s", key.agencyId, key.serviceDate)
	return &Feed{
		AgencyId:    key.agencyId,
		ServiceDate: key.serviceDate,
		Location:    loc,
		Db:          db,
		shapeCache:  make(map[string]*cachedShape),
	}, nil
}

func (s *Store) snapshotPath(key feedKey) string {
	return filepath.Join(s.cfg.SnapshotDir, SnapshotFileName(key.agencyId, key.serviceDate))
}

// SnapshotFileName builds the file name a snapshot for an agency and service
// date is stored under
func SnapshotFileName(agencyId string, serviceDate string) string {
	return fmt.Sprintf("gtfs-%s-%s.db", agencyId, serviceDate)
}

// Feed is one open timetable snapshot. Reads may run concurrently, the shape
// cache is guarded separately.
type Feed struct {
	AgencyId    string
	ServiceDate string
	Location    *time.Location
	Db          *sqlx.DB

	shapeMu    sync.Mutex
	shapeCache map[string]*cachedShape
}

type cachedShape struct {
	shape     *geo.Shape
	withStops bool
}

// Close releases the underlying database
func (f *Feed) Close() error {
	return f.Db.Close()
}

// FormatServiceDate renders a local time's calendar date as YYYY-MM-DD
func FormatServiceDate(t time.Time) string {
	return t.Format("2006-01-02")
}
