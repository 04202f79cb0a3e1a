// Package database provides support for access the embedded sqlite databases.
package database

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Open knows how to open a sqlite database file.
func Open(path string) (*sqlx.DB, error) {
	return sqlx.Connect("sqlite3", path)
}

// OpenWAL opens a sqlite database file in write-ahead log mode so it tolerates
// concurrent readers alongside a single writer per process.
func OpenWAL(path string) (*sqlx.DB, error) {
	q := make(url.Values)
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	return sqlx.Connect("sqlite3", fmt.Sprintf("file:%s?%s", path, q.Encode()))
}

// IsLockContention reports whether err is a sqlite lock-contention error worth
// retrying.
func IsLockContention(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// SleepFunc pauses for the duration. Injectable so retry loops can be tested
// deterministically.
type SleepFunc func(time.Duration)

// RetryWithBackoff runs op up to maxAttempts times. Between attempts that fail
// with an error matching retryable it sleeps 800ms multiplied by the square of
// the attempt number. A non-retryable error is returned immediately.
func RetryWithBackoff(maxAttempts int, sleep SleepFunc, retryable func(error) bool, op func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt < maxAttempts {
			sleep(800 * time.Millisecond * time.Duration(attempt*attempt))
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
}

// PrepareNamedQueryFromMap wraps boilerplate sqlx to prepare named query from map of ddl parameters
// returns rebound query string and arguments slice
func PrepareNamedQueryFromMap(
	statementString string,
	db *sqlx.DB,
	sqlArgMap map[string]interface{}) (string, []interface{}, error) {

	query, args, err := sqlx.Named(statementString, sqlArgMap)
	if err != nil {
		return query, nil, err
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return query, nil, err
	}
	query = db.Rebind(query)
	return query, args, nil
}

// PrepareNamedQueryRowsFromMap wraps boilerplate sqlx to prepare named query from map of ddl parameters
// returns sqlx.Rows after executing query with db.Queryx
func PrepareNamedQueryRowsFromMap(
	statementString string,
	db *sqlx.DB,
	sqlArgMap map[string]interface{}) (*sqlx.Rows, error) {

	query, args, err := PrepareNamedQueryFromMap(statementString, db, sqlArgMap)
	if err != nil {
		return nil, err
	}
	rows, err := db.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
