// Package telemetry persists live vehicle telemetry: vehicle position rows and
// trip update rows keyed by (agency, vehicle, server time). The backing store
// is an embedded sqlite database in write-ahead log mode so the per-agency
// ingestion loops can write while the query surface reads.
package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oriontransit/orion/foundation/database"
)

const (
	// retain rows for 50 days, prune at most every 10 hours
	retentionPeriod = 50 * 24 * time.Hour
	pruneEvery      = 10 * time.Hour
)

var migrations = []string{
	`create table if not exists vehicle_position (
		agency_id        text not null,
		vid              text not null,
		server_time      integer not null,
		server_date      text not null,
		rid              text,
		lat              text,
		lon              text,
		heading          real,
		trip_id          text,
		stop_index       integer,
		status           integer,
		secs_since_report integer,
		stop_id          text,
		label            text,
		block_id         text,
		primary key (agency_id, vid, server_time)
	)`,
	`create index if not exists idx_vehicle_position_window
		on vehicle_position (agency_id, server_time)`,
	`create table if not exists trip_update (
		agency_id             text not null,
		vehicle_id            text not null,
		server_time           integer not null,
		trip_id               text,
		start_time            text,
		start_date            text,
		route_id              text,
		delay                 integer,
		stop_time_updates     text,
		timestamp             integer,
		schedule_relationship text,
		direction_id          integer,
		vehicle_label         text,
		primary key (agency_id, vehicle_id, server_time)
	)`,
	`create index if not exists idx_trip_update_window
		on trip_update (agency_id, server_time)`,
}

// DB wraps the telemetry database with pruning state
type DB struct {
	log *log.Logger
	db  *sqlx.DB

	pruneMu    sync.Mutex
	lastPruned time.Time
}

// Open opens (creating if needed) the telemetry database at path and applies migrations
func Open(log *log.Logger, path string) (*DB, error) {
	db, err := database.OpenWAL(path)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry database %s: %w", path, err)
	}
	for _, migration := range migrations {
		if _, err = db.Exec(migration); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrating telemetry database: %w", err)
		}
	}
	return &DB{log: log, db: db}, nil
}

// Close releases the underlying database
func (t *DB) Close() error {
	return t.db.Close()
}

// PruneIfDue deletes rows older than the retention period. Cheap to call every
// cycle, it only touches the database when the prune interval has elapsed.
func (t *DB) PruneIfDue(now time.Time) {
	t.pruneMu.Lock()
	due := now.Sub(t.lastPruned) > pruneEvery
	if due {
		t.lastPruned = now
	}
	t.pruneMu.Unlock()
	if !due {
		return
	}

	prunePast := now.Add(-retentionPeriod).UnixMilli()
	for _, table := range []string{"trip_update", "vehicle_position"} {
		result, err := t.db.Exec(t.db.Rebind("delete from "+table+" where server_time < ?"), prunePast)
		if err != nil {
			t.log.Printf("error pruning %s: %v", table, err)
			continue
		}
		if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
			t.log.Printf("pruned %d rows from %s", deleted, table)
		}
	}
}
