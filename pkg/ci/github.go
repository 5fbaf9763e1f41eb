package ci

import (
	"context"

	"github.com/google/go-github/v28/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// GithubStatuses reads the combined commit status GitHub-integrated
// CI systems report for a branch head.
type GithubStatuses struct {
	client *github.Client
	owner  string
	repo   string
}

func NewGithubStatuses(ctx context.Context, owner, repo, token string) *GithubStatuses {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &GithubStatuses{
		client: github.NewClient(tc),
		owner:  owner,
		repo:   repo,
	}
}

var _ Client = &GithubStatuses{}

func (g *GithubStatuses) BuildStatus(ctx context.Context, branch string) (Status, error) {
	combined, _, err := g.client.Repositories.GetCombinedStatus(ctx, g.owner, g.repo, branch, &github.ListOptions{})
	if err != nil {
		return "", errors.Wrapf(err, "getting combined status for %s", branch)
	}
	switch combined.GetState() {
	case "success":
		return StatusSuccess, nil
	case "failure", "error":
		return StatusFailed, nil
	default:
		// "pending", or no statuses reported yet.
		return StatusRunning, nil
	}
}
