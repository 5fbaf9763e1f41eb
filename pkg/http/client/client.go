// Package client is the HTTP client for the cascade API; it is what
// cascadectl uses to talk to the daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/api"
	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/deploy"
	cascaderr "github.com/weaveworks/cascade/pkg/errors"
	transport "github.com/weaveworks/cascade/pkg/http"
	"github.com/weaveworks/cascade/pkg/job"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/request"
)

type Token string

func (t Token) Set(req *http.Request) {
	if string(t) != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Scope-Probe token=%s", t))
	}
}

type Client struct {
	client   *http.Client
	token    Token
	router   *mux.Router
	endpoint string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint string, t Token) *Client {
	return &Client{
		client:   c,
		token:    t,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, nil, transport.Ping)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.get(ctx, &v, transport.Version)
	return v, err
}

func (c *Client) NotifyChange(ctx context.Context, ev api.ChangeEvent) (job.ID, error) {
	var res job.ID
	err := c.methodWithResp(ctx, "POST", &res, transport.Notify, ev)
	return res, err
}

func (c *Client) ListRequests(ctx context.Context, app pipeline.App, env pipeline.Environment) ([]request.PromotionRequest, error) {
	var res []request.PromotionRequest
	err := c.get(ctx, &res, transport.ListRequests, "app", app.String(), "environment", env.String())
	return res, err
}

func (c *Client) MergeRequest(ctx context.Context, id int) (job.ID, error) {
	var res job.ID
	err := c.methodWithResp(ctx, "POST", &res, transport.MergeRequest, nil, "id", strconv.Itoa(id))
	return res, err
}

func (c *Client) Rollback(ctx context.Context, spec api.RollbackSpec) (job.ID, error) {
	var res job.ID
	err := c.methodWithResp(ctx, "POST", &res, transport.Rollback, spec)
	return res, err
}

func (c *Client) Resolve(ctx context.Context, app pipeline.App, env pipeline.Environment) (config.EffectiveConfig, error) {
	var res config.EffectiveConfig
	err := c.get(ctx, &res, transport.Resolve, "app", app.String(), "environment", env.String())
	return res, err
}

func (c *Client) SyncState(ctx context.Context, app pipeline.App, env pipeline.Environment) (deploy.State, error) {
	var res deploy.State
	err := c.get(ctx, &res, transport.SyncState, "app", app.String(), "environment", env.String())
	return res, err
}

func (c *Client) JobStatus(ctx context.Context, jobID job.ID) (job.Status, error) {
	var res job.Status
	err := c.get(ctx, &res, transport.JobStatus, "id", string(jobID))
	return res, err
}

// --- request helpers

// methodWithResp handles body and query-param encoding, and decodes
// the response into dest when there is one.
func (c *Client) methodWithResp(ctx context.Context, method string, dest interface{}, route string, body interface{}, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequest(method, u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)

	c.token.Set(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	respBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response from server")
	}
	if len(respBytes) == 0 || dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

func (c *Client) get(ctx context.Context, dest interface{}, route string, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)

	c.token.Set(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

// executeRequest performs the request and turns non-2xx responses
// into errors, decoding the server's friendly error when it sent one.
func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	client := c.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, transport.ErrorUnauthorized
	default:
		defer resp.Body.Close()
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "reading error response")
		}
		var friendly cascaderr.Error
		if err := json.Unmarshal(body, &friendly); err == nil && friendly.Err != nil {
			return nil, &friendly
		}
		return nil, errors.Errorf("server returned %s: %s", resp.Status, string(body))
	}
}
