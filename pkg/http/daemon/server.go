// Package daemon serves the cascade API over HTTP.
package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/weaveworks/cascade/pkg/api"
	transport "github.com/weaveworks/cascade/pkg/http"
	"github.com/weaveworks/cascade/pkg/job"
	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
	"github.com/weaveworks/cascade/pkg/pipeline"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "cascade",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{cascademetrics.LabelMethod, cascademetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// NewRouter makes the API router, with a catch-all that reports
// unknown endpoints as such rather than plain 404s.
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})
	return r
}

// NewHandler attaches an api.Server to the router's routes and wraps
// the result in instrumentation.
func NewHandler(s api.Server, r *mux.Router) http.Handler {
	handle := HTTPServer{s}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)
	r.Get(transport.Notify).HandlerFunc(handle.Notify)
	r.Get(transport.ListRequests).HandlerFunc(handle.ListRequests)
	r.Get(transport.MergeRequest).HandlerFunc(handle.MergeRequest)
	r.Get(transport.Rollback).HandlerFunc(handle.Rollback)
	r.Get(transport.Resolve).HandlerFunc(handle.Resolve)
	r.Get(transport.SyncState).HandlerFunc(handle.SyncState)
	r.Get(transport.JobStatus).HandlerFunc(handle.JobStatus)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server api.Server
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) Notify(w http.ResponseWriter, r *http.Request) {
	var ev api.ChangeEvent
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	id, err := s.server.NotifyChange(r.Context(), ev)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, id)
}

func (s HTTPServer) ListRequests(w http.ResponseWriter, r *http.Request) {
	app := pipeline.App(r.URL.Query().Get("app"))
	env := pipeline.Environment(r.URL.Query().Get("environment"))
	res, err := s.server.ListRequests(r.Context(), app, env)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, res)
}

func (s HTTPServer) MergeRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	jobID, err := s.server.MergeRequest(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, jobID)
}

func (s HTTPServer) Rollback(w http.ResponseWriter, r *http.Request) {
	var spec api.RollbackSpec
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	jobID, err := s.server.Rollback(r.Context(), spec)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, jobID)
}

func (s HTTPServer) Resolve(w http.ResponseWriter, r *http.Request) {
	app := pipeline.App(mux.Vars(r)["app"])
	env := pipeline.Environment(mux.Vars(r)["environment"])
	res, err := s.server.Resolve(r.Context(), app, env)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, res)
}

func (s HTTPServer) SyncState(w http.ResponseWriter, r *http.Request) {
	app := pipeline.App(mux.Vars(r)["app"])
	env := pipeline.Environment(mux.Vars(r)["environment"])
	res, err := s.server.SyncState(r.Context(), app, env)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, res)
}

func (s HTTPServer) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := job.ID(mux.Vars(r)["id"])
	status, err := s.server.JobStatus(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, status)
}
