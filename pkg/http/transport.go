package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	cascaderr "github.com/weaveworks/cascade/pkg/errors"
)

// NewAPIRouter has a route for every API method, so both the server
// and the client construct URLs from the same table.
func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/v1/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/v1/version")
	r.NewRoute().Name(Notify).Methods("POST").Path("/v1/notify")

	r.NewRoute().Name(ListRequests).Methods("GET").Path("/v1/requests")
	r.NewRoute().Name(MergeRequest).Methods("POST").Path("/v1/merge").Queries("id", "{id}")
	r.NewRoute().Name(Rollback).Methods("POST").Path("/v1/rollback")
	r.NewRoute().Name(Resolve).Methods("GET").Path("/v1/resolve").Queries("app", "{app}", "environment", "{environment}")
	r.NewRoute().Name(SyncState).Methods("GET").Path("/v1/sync").Queries("app", "{app}", "environment", "{environment}")
	r.NewRoute().Name(JobStatus).Methods("GET").Path("/v1/jobs").Queries("id", "{id}")

	return r
}

// MakeURL builds the URL for a named route at an endpoint, with query
// parameters given as alternating key, value.
func MakeURL(endpoint string, router *mux.Router, routeName string, urlParams ...string) (*url.URL, error) {
	if len(urlParams)%2 != 0 {
		panic("urlParams must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath()
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	v := url.Values{}
	for i := 0; i < len(urlParams); i += 2 {
		v.Add(urlParams[i], urlParams[i+1])
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

// WriteError renders an error as JSON for clients that accept it, and
// as plain text (the Help text, for friendly errors) otherwise.
func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if len(r.Header.Get("Accept")) > 0 {
		switch negotiateContentType(r, []string{"application/json", "text/plain"}) {
		case "application/json":
			body, encodeErr := json.Marshal(err)
			if encodeErr != nil {
				w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
				return
			}
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
			w.WriteHeader(code)
			w.Write(body)
			return
		case "text/plain":
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
			w.WriteHeader(code)
			switch err := err.(type) {
			case *cascaderr.Error:
				fmt.Fprint(w, err.Help)
			default:
				fmt.Fprint(w, err.Error())
			}
			return
		}
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, err.Error())
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ErrorResponse maps an API error to a status code via its type:
// missing things are 404, user errors 422, everything else 500.
func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var outErr *cascaderr.Error
	var code int
	var ok bool

	err := errors.Cause(apiError)
	if outErr, ok = err.(*cascaderr.Error); !ok {
		outErr = cascaderr.CoverAllError(apiError)
	}
	switch outErr.Type {
	case cascaderr.Missing:
		code = http.StatusNotFound
	case cascaderr.User:
		code = http.StatusUnprocessableEntity
	case cascaderr.Server:
		code = http.StatusInternalServerError
	default:
		code = http.StatusInternalServerError
	}
	WriteError(w, r, code, outErr)
}
