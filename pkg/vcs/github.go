package vcs

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/google/go-github/v28/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// GithubClient implements Client against the GitHub API.
type GithubClient struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGithubClient makes a client for one repository, authenticating
// with the given OAuth token.
func NewGithubClient(ctx context.Context, owner, repo, token string) *GithubClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &GithubClient{
		client: github.NewClient(tc),
		owner:  owner,
		repo:   repo,
	}
}

var _ Client = &GithubClient{}

func (c *GithubClient) HeadRevision(ctx context.Context, branch string) (string, error) {
	ref, _, err := c.client.Git.GetRef(ctx, c.owner, c.repo, "refs/heads/"+branch)
	if err != nil {
		return "", errors.Wrapf(err, "getting head of %s", branch)
	}
	return ref.GetObject().GetSHA(), nil
}

func (c *GithubClient) EnsureBranch(ctx context.Context, branch, ref string) error {
	existing, _, err := c.client.Git.GetRef(ctx, c.owner, c.repo, "refs/heads/"+branch)
	if err == nil {
		if existing.GetObject().GetSHA() == ref {
			return nil
		}
		_, _, err = c.client.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
			Ref:    github.String("refs/heads/" + branch),
			Object: &github.GitObject{SHA: github.String(ref)},
		}, true)
		return errors.Wrapf(err, "moving branch %s to %s", branch, ref)
	}
	if !isNotFound(err) {
		return errors.Wrapf(err, "checking for branch %s", branch)
	}
	_, _, err = c.client.Git.CreateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(ref)},
	})
	return errors.Wrapf(err, "creating branch %s at %s", branch, ref)
}

func (c *GithubClient) ReadFile(ctx context.Context, path, ref string) ([]byte, error) {
	file, _, _, err := c.client.Repositories.GetContents(ctx, c.owner, c.repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if isNotFound(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s at %s", path, ref)
	}
	if file == nil {
		return nil, errors.Errorf("%s at %s is a directory", path, ref)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s at %s", path, ref)
	}
	return []byte(content), nil
}

func (c *GithubClient) WriteFile(ctx context.Context, branch, path string, data []byte, message string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: data,
		Branch:  github.String(branch),
	}
	existing, _, _, err := c.client.Repositories.GetContents(ctx, c.owner, c.repo, path, &github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
		resp, _, err := c.client.Repositories.UpdateFile(ctx, c.owner, c.repo, path, opts)
		if err != nil {
			return "", errors.Wrapf(err, "updating %s on %s", path, branch)
		}
		return resp.Commit.GetSHA(), nil
	case isNotFound(err):
		resp, _, err := c.client.Repositories.CreateFile(ctx, c.owner, c.repo, path, opts)
		if err != nil {
			return "", errors.Wrapf(err, "creating %s on %s", path, branch)
		}
		return resp.Commit.GetSHA(), nil
	default:
		return "", errors.Wrapf(err, "checking for %s on %s", path, branch)
	}
}

func (c *GithubClient) CommitMessage(ctx context.Context, revision string) (string, error) {
	commit, _, err := c.client.Git.GetCommit(ctx, c.owner, c.repo, revision)
	if err != nil {
		return "", errors.Wrapf(err, "getting commit %s", revision)
	}
	return commit.GetMessage(), nil
}

// RevertCommit commits the parent's tree back onto the branch. This
// assumes revision is the branch head; the promotion flow only ever
// reverts heads.
func (c *GithubClient) RevertCommit(ctx context.Context, revision, branch, message string) (string, error) {
	reverted, _, err := c.client.Git.GetCommit(ctx, c.owner, c.repo, revision)
	if err != nil {
		return "", errors.Wrapf(err, "getting commit %s", revision)
	}
	if len(reverted.Parents) == 0 {
		return "", errors.Errorf("commit %s has no parent to revert to", revision)
	}
	parent, _, err := c.client.Git.GetCommit(ctx, c.owner, c.repo, reverted.Parents[0].GetSHA())
	if err != nil {
		return "", errors.Wrapf(err, "getting parent of %s", revision)
	}
	head, _, err := c.client.Git.GetRef(ctx, c.owner, c.repo, "refs/heads/"+branch)
	if err != nil {
		return "", errors.Wrapf(err, "getting head of %s", branch)
	}
	created, _, err := c.client.Git.CreateCommit(ctx, c.owner, c.repo, &github.Commit{
		Message: github.String(message),
		Tree:    parent.Tree,
		Parents: []github.Commit{{SHA: head.GetObject().SHA}},
	})
	if err != nil {
		return "", errors.Wrapf(err, "creating revert commit on %s", branch)
	}
	_, _, err = c.client.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: created.SHA},
	}, false)
	if err != nil {
		return "", errors.Wrapf(err, "advancing %s to revert commit", branch)
	}
	return created.GetSHA(), nil
}

func (c *GithubClient) CreateMergeRequest(ctx context.Context, spec MergeRequestSpec) (MergeRequest, error) {
	pr, _, err := c.client.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.String(spec.Title),
		Head:  github.String(spec.SourceBranch),
		Base:  github.String(spec.TargetBranch),
		Body:  github.String(spec.Body),
	})
	if err != nil {
		return MergeRequest{}, errors.Wrapf(err, "creating merge request %s -> %s", spec.SourceBranch, spec.TargetBranch)
	}
	return asMergeRequest(pr), nil
}

func (c *GithubClient) GetMergeRequest(ctx context.Context, id int) (MergeRequest, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, c.owner, c.repo, id)
	if err != nil {
		return MergeRequest{}, errors.Wrapf(err, "getting merge request %d", id)
	}
	return asMergeRequest(pr), nil
}

func (c *GithubClient) UpdateMergeRequestBody(ctx context.Context, id int, body string) error {
	_, _, err := c.client.PullRequests.Edit(ctx, c.owner, c.repo, id, &github.PullRequest{
		Body: github.String(body),
	})
	return errors.Wrapf(err, "updating body of merge request %d", id)
}

func (c *GithubClient) CloseMergeRequest(ctx context.Context, id int, comment string) error {
	if comment != "" {
		_, _, err := c.client.Issues.CreateComment(ctx, c.owner, c.repo, id, &github.IssueComment{
			Body: github.String(comment),
		})
		if err != nil {
			return errors.Wrapf(err, "commenting on merge request %d", id)
		}
	}
	_, _, err := c.client.PullRequests.Edit(ctx, c.owner, c.repo, id, &github.PullRequest{
		State: github.String("closed"),
	})
	return errors.Wrapf(err, "closing merge request %d", id)
}

func (c *GithubClient) MergeMergeRequest(ctx context.Context, id int, message string) (string, error) {
	result, resp, err := c.client.PullRequests.Merge(ctx, c.owner, c.repo, id, message, &github.PullRequestOptions{})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusConflict) {
			return "", &MergeConflictError{ID: id, Reason: err.Error()}
		}
		return "", errors.Wrapf(err, "merging merge request %d", id)
	}
	return result.GetSHA(), nil
}

func (c *GithubClient) ListOpenMergeRequests(ctx context.Context, targetBranch, sourcePrefix string) ([]MergeRequest, error) {
	var out []MergeRequest
	opts := &github.PullRequestListOptions{
		State:       "open",
		Base:        targetBranch,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.client.PullRequests.List(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "listing open merge requests against %s", targetBranch)
		}
		for _, pr := range prs {
			if strings.HasPrefix(pr.GetHead().GetRef(), sourcePrefix) {
				out = append(out, asMergeRequest(pr))
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *GithubClient) FindMergeRequest(ctx context.Context, targetBranch, sourceBranch string) (MergeRequest, bool, error) {
	prs, _, err := c.client.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
		State:       "all",
		Base:        targetBranch,
		Head:        c.owner + ":" + sourceBranch,
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		return MergeRequest{}, false, errors.Wrapf(err, "finding merge request %s -> %s", sourceBranch, targetBranch)
	}
	if len(prs) == 0 {
		return MergeRequest{}, false, nil
	}
	return asMergeRequest(prs[0]), true, nil
}

func asMergeRequest(pr *github.PullRequest) MergeRequest {
	state := pr.GetState()
	if pr.GetMerged() {
		state = StateMerged
	}
	return MergeRequest{
		ID:           pr.GetNumber(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		State:        state,
		HeadRevision: pr.GetHead().GetSHA(),
		CreatedAt:    pr.GetCreatedAt(),
	}
}

func isNotFound(err error) bool {
	if resp, ok := err.(*github.ErrorResponse); ok {
		return resp.Response != nil && resp.Response.StatusCode == http.StatusNotFound
	}
	return false
}
