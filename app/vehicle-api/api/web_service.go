// Package api serves reconciled, scheduled and live vehicle locations over http
package api

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/oriontransit/orion/business/data/agency"
	"github.com/oriontransit/orion/business/locations"
	"github.com/oriontransit/orion/foundation/metrics"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

//locationsHandler responds to vehicle location requests for one agency
type locationsHandler struct {
	log      *logger.Logger
	engine   *locations.Engine
	agencies map[string]agency.Agency

	// view picks which projection of the locations pipeline is served
	view func(engine *locations.Engine, a agency.Agency, at time.Time) (interface{}, error)
}

func makeLocationsHandler(log *logger.Logger,
	engine *locations.Engine,
	agencies []agency.Agency,
	view func(engine *locations.Engine, a agency.Agency, at time.Time) (interface{}, error)) *locationsHandler {

	byId := make(map[string]agency.Agency, len(agencies))
	for _, a := range agencies {
		byId[a.Id] = a
	}
	return &locationsHandler{
		log:      log,
		engine:   engine,
		agencies: byId,
		view:     view,
	}
}

//ServeHTTP implements locationsHandler's http.Handler interface
func (h *locationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agencyId := mux.Vars(r)["agency"]
	a, present := h.agencies[agencyId]
	if !present {
		http.Error(w, "unknown agency", http.StatusNotFound)
		return
	}

	result, err := h.view(h.engine, a, time.Now())
	if err != nil {
		h.log.Printf("%s: error building locations response: %v", agencyId, err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}

	jsonData, err := json.Marshal(result)
	if err != nil {
		h.log.Printf("%s: error marshaling locations response: %v", agencyId, err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(jsonData); err != nil {
		h.log.Printf("%s: error writing json response: %v", agencyId, err)
	}
}

func reconciledView(engine *locations.Engine, a agency.Agency, at time.Time) (interface{}, error) {
	return engine.VehicleLocations(a, at)
}

func scheduledView(engine *locations.Engine, a agency.Agency, at time.Time) (interface{}, error) {
	return engine.ScheduledVehicleLocations(a, at)
}

func liveView(engine *locations.Engine, a agency.Agency, at time.Time) (interface{}, error) {
	return engine.LiveVehicleLocations(a, at)
}

//createServer creates configured http.Server for vehicle location requests
func createServer(log *logger.Logger,
	engine *locations.Engine,
	agencies []agency.Agency,
	collector *metrics.Collector,
	httpPort int) *http.Server {

	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.Handle("/positions/{agency}", makeLocationsHandler(log, engine, agencies, reconciledView)).Methods(http.MethodGet)
	r.Handle("/scheduled/{agency}", makeLocationsHandler(log, engine, agencies, scheduledView)).Methods(http.MethodGet)
	r.Handle("/live/{agency}", makeLocationsHandler(log, engine, agencies, liveView)).Methods(http.MethodGet)
	r.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	return srv
}

//RunWebService starts up the vehicle location web service, and terminates on shutdown signal
func RunWebService(log *logger.Logger,
	wg *sync.WaitGroup,
	engine *locations.Engine,
	agencies []agency.Agency,
	collector *metrics.Collector,
	httpPort int,
	shutdownSignal chan bool,
) {
	wg.Add(1)
	defer wg.Done()
	srv := createServer(log, engine, agencies, collector, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
