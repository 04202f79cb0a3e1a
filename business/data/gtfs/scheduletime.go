package gtfs

import (
	"fmt"
	"strings"
	"time"
)

// SecondsPerDay is one service day of schedule seconds
const SecondsPerDay = 24 * 60 * 60

// HHMMSSToSeconds converts a gtfs time-of-day string to seconds of the service
// day. Times past 24:00:00 are valid and produce values past SecondsPerDay.
func HHMMSSToSeconds(hhmmss string) (int, error) {
	var hours, minutes, seconds int
	if _, err := fmt.Sscanf(hhmmss, "%d:%d:%d", &hours, &minutes, &seconds); err != nil {
		return 0, fmt.Errorf("malformed gtfs time %q: %w", hhmmss, err)
	}
	return hours*3600 + minutes*60 + seconds, nil
}

// SecondsToHHMMSS renders seconds of the service day as a zero padded gtfs time
// string. Zero padding keeps lexical string comparison equivalent to numeric
// comparison, which the stop time queries rely on.
func SecondsToHHMMSS(secondsOfDay int) string {
	if secondsOfDay < 0 {
		secondsOfDay = 0
	}
	hours := secondsOfDay / 3600
	minutes := (secondsOfDay / 60) % 60
	seconds := secondsOfDay % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// TimeOfDaySeconds returns the clock time-of-day in seconds for t in its own location
func TimeOfDaySeconds(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// ServiceDateYYYYMMDD renders t's calendar date in the gtfs calendar table format
func ServiceDateYYYYMMDD(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// DayOfWeekColumn returns the calendar table column name for t's weekday
func DayOfWeekColumn(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}
