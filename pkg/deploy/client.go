package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

// HTTPClient talks to the syncer's applications API. The wire format
// is the syncer's own; we only pick out sync status, health and
// revision.
type HTTPClient struct {
	client   *http.Client
	endpoint string
	token    string
}

func NewHTTPClient(c *http.Client, endpoint, token string) *HTTPClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &HTTPClient{
		client:   c,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		token:    token,
	}
}

var _ Syncer = &HTTPClient{}

// appName is how the syncer names the (app, environment) pair, e.g.
// "helloworld-dev".
func appName(app pipeline.App, env pipeline.Environment) string {
	return fmt.Sprintf("%s-%s", app, env)
}

type wireApplication struct {
	Status struct {
		Sync struct {
			Status   string `json:"status"`
			Revision string `json:"revision"`
		} `json:"sync"`
		Health struct {
			Status string `json:"status"`
		} `json:"health"`
	} `json:"status"`
}

func (c *HTTPClient) Status(ctx context.Context, app pipeline.App, env pipeline.Environment) (State, error) {
	u := fmt.Sprintf("%s/api/v1/applications/%s", c.endpoint, url.PathEscape(appName(app, env)))
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return State{}, err
	}
	req = req.WithContext(ctx)
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return State{}, errors.Wrapf(err, "querying sync status of %s", appName(app, env))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return State{}, errors.Errorf("querying sync status of %s: %s", appName(app, env), resp.Status)
	}

	var wire wireApplication
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return State{}, errors.Wrapf(err, "decoding sync status of %s", appName(app, env))
	}
	return State{
		Sync:     syncStatus(wire.Status.Sync.Status),
		Health:   healthStatus(wire.Status.Health.Status),
		Revision: wire.Status.Sync.Revision,
	}, nil
}

func (c *HTTPClient) Refresh(ctx context.Context, app pipeline.App, env pipeline.Environment) error {
	u := fmt.Sprintf("%s/api/v1/applications/%s?refresh=normal", c.endpoint, url.PathEscape(appName(app, env)))
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "refreshing %s", appName(app, env))
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("refreshing %s: %s", appName(app, env), resp.Status)
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func syncStatus(s string) SyncStatus {
	switch strings.ToLower(s) {
	case "synced":
		return SyncSynced
	case "outofsync", "progressing", "":
		return SyncProgressing
	default:
		return SyncError
	}
}

func healthStatus(s string) HealthStatus {
	switch strings.ToLower(s) {
	case "healthy":
		return HealthHealthy
	case "degraded", "missing":
		return HealthDegraded
	default:
		return HealthProgressing
	}
}
