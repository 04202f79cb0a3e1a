package gtfs

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestHHMMSSToSeconds(t *testing.T) {
	tests := []struct {
		give    string
		want    int
		wantErr bool
	}{
		{give: "00:00:00", want: 0},
		{give: "12:00:00", want: 43200},
		{give: "09:05:30", want: 32730},
		// service day times run past midnight
		{give: "25:30:00", want: 91800},
		{give: "garbage", wantErr: true},
		{give: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.give, func(t *testing.T) {
			is := is.New(t)
			got, err := HHMMSSToSeconds(tt.give)
			if tt.wantErr {
				is.True(err != nil)
				return
			}
			is.NoErr(err)
			is.Equal(got, tt.want)
		})
	}
}

func TestSecondsToHHMMSS(t *testing.T) {
	tests := []struct {
		give int
		want string
	}{
		{give: 0, want: "00:00:00"},
		{give: 43200, want: "12:00:00"},
		{give: 32730, want: "09:05:30"},
		{give: 91800, want: "25:30:00"},
		{give: -10, want: "00:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			is := is.New(t)
			is.Equal(SecondsToHHMMSS(tt.give), tt.want)
		})
	}
}

func TestRoundTripPastMidnight(t *testing.T) {
	is := is.New(t)
	secs, err := HHMMSSToSeconds(SecondsToHHMMSS(26*3600 + 15*60))
	is.NoErr(err)
	is.Equal(secs, 26*3600+15*60)
}

func TestServiceDateHelpers(t *testing.T) {
	is := is.New(t)
	location, err := time.LoadLocation("America/Toronto")
	is.NoErr(err)

	at := time.Date(2024, 3, 8, 13, 45, 12, 0, location)
	is.Equal(ServiceDateYYYYMMDD(at), 20240308)
	is.Equal(DayOfWeekColumn(at), "friday")
	is.Equal(TimeOfDaySeconds(at), 13*3600+45*60+12)
	is.Equal(FormatServiceDate(at), "2024-03-08")
}
