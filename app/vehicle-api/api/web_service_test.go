package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/matryer/is"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/locations"
)

func testAgencies() []agency.Agency {
	return []agency.Agency{
		{Id: "ttc", Timezone: "America/Toronto"},
	}
}

func serveLocations(t *testing.T,
	view func(engine *locations.Engine, a agency.Agency, at time.Time) (interface{}, error),
	path string) *httptest.ResponseRecorder {
	t.Helper()

	logger := log.New(os.Stdout, "test ", log.LstdFlags)
	handler := makeLocationsHandler(logger, nil, testAgencies(), view)
	router := mux.NewRouter()
	router.Handle("/positions/{agency}", handler)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func TestLocationsHandler(t *testing.T) {
	is := is.New(t)

	view := func(_ *locations.Engine, a agency.Agency, _ time.Time) (interface{}, error) {
		return map[string]locations.ReconciledPosition{
			"trip-1": {MatchKey: "trip-1"},
		}, nil
	}
	recorder := serveLocations(t, view, "/positions/ttc")
	is.Equal(recorder.Code, http.StatusOK)
	is.Equal(recorder.Header().Get("Content-Type"), "application/json")

	var body map[string]locations.ReconciledPosition
	is.NoErr(json.Unmarshal(recorder.Body.Bytes(), &body))
	is.Equal(body["trip-1"].MatchKey, "trip-1")
}

func TestLocationsHandlerUnknownAgency(t *testing.T) {
	is := is.New(t)

	view := func(_ *locations.Engine, _ agency.Agency, _ time.Time) (interface{}, error) {
		t.Fatal("view must not be called for an unknown agency")
		return nil, nil
	}
	recorder := serveLocations(t, view, "/positions/nowhere")
	is.Equal(recorder.Code, http.StatusNotFound)
}

func TestLocationsHandlerViewError(t *testing.T) {
	is := is.New(t)

	view := func(_ *locations.Engine, _ agency.Agency, _ time.Time) (interface{}, error) {
		return nil, errors.New("snapshot unavailable")
	}
	recorder := serveLocations(t, view, "/positions/ttc")
	is.Equal(recorder.Code, http.StatusInternalServerError)
}

func TestDefaultHandler(t *testing.T) {
	is := is.New(t)

	recorder := httptest.NewRecorder()
	(&defaultHttpHandler{}).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	is.Equal(recorder.Header().Get("Application-Status"), "OK")
}
