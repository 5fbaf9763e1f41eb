package registry

import (
	"context"
	"net/http"

	"github.com/docker/distribution"
	"github.com/docker/distribution/reference"
	"github.com/docker/distribution/registry/api/errcode"
	v2 "github.com/docker/distribution/registry/api/v2"
	"github.com/docker/distribution/registry/client"
	"github.com/pkg/errors"
)

// Client implements Registry against a registry speaking the
// distribution v2 API.
type Client struct {
	// BaseURL is the registry endpoint, e.g.
	// "https://registry.example.com".
	BaseURL string
	// Transport authenticates and rate-limits requests; nil means
	// http.DefaultTransport.
	Transport http.RoundTripper
}

var _ Registry = &Client{}

func (c *Client) repository(repo string) (distribution.Repository, error) {
	named, err := reference.WithName(repo)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing repository name %q", repo)
	}
	return client.NewRepository(named, c.BaseURL, c.transport())
}

func (c *Client) transport() http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}

func (c *Client) TagExists(ctx context.Context, repo, tag string) (bool, error) {
	r, err := c.repository(repo)
	if err != nil {
		return false, err
	}
	_, err = r.Tags(ctx).Get(ctx, tag)
	switch classify(repo, tag, err).(type) {
	case nil:
		return true, nil
	case *NotFoundError:
		return false, nil
	default:
		return false, classify(repo, tag, err)
	}
}

// CopyTag fetches the manifest at sourceTag and puts it back under
// targetTag; the registry already has the layers, so no artifact
// bytes move.
func (c *Client) CopyTag(ctx context.Context, repo, sourceTag, targetTag string) error {
	r, err := c.repository(repo)
	if err != nil {
		return err
	}
	ms, err := r.Manifests(ctx)
	if err != nil {
		return errors.Wrapf(err, "opening manifest service for %s", repo)
	}
	m, err := ms.Get(ctx, "", distribution.WithTag(sourceTag))
	if err != nil {
		return classify(repo, sourceTag, err)
	}
	if _, err := ms.Put(ctx, m, distribution.WithTag(targetTag)); err != nil {
		return classify(repo, targetTag, err)
	}
	return nil
}

// classify maps the registry client's errors onto the package's
// taxonomy. Anything unrecognized is treated as a transient upload
// problem, since the distribution client reports plain transport
// failures that way.
func classify(repo, tag string, err error) error {
	if err == nil {
		return nil
	}
	if errs, ok := err.(errcode.Errors); ok {
		for _, e := range errs {
			if ec, ok := e.(errcode.Error); ok {
				switch ec.Code {
				case v2.ErrorCodeManifestUnknown, v2.ErrorCodeNameUnknown:
					return &NotFoundError{Repo: repo, Tag: tag}
				case errcode.ErrorCodeUnauthorized, errcode.ErrorCodeDenied:
					return &AuthError{Repo: repo, Err: err}
				}
			}
		}
	}
	if ec, ok := err.(errcode.Error); ok {
		switch ec.Code {
		case v2.ErrorCodeManifestUnknown, v2.ErrorCodeNameUnknown:
			return &NotFoundError{Repo: repo, Tag: tag}
		case errcode.ErrorCodeUnauthorized, errcode.ErrorCodeDenied:
			return &AuthError{Repo: repo, Err: err}
		}
	}
	return &UploadError{Repo: repo, Tag: tag, Err: err}
}

// BasicAuthRoundTripper adds basic-auth credentials to registry
// requests.
type BasicAuthRoundTripper struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

func (rt *BasicAuthRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if rt.Username != "" {
		r.SetBasicAuth(rt.Username, rt.Password)
	}
	next := rt.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(r)
}
