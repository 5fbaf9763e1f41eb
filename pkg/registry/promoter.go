package registry

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/opencontainers/go-digest"

	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
	"github.com/weaveworks/cascade/pkg/pipeline"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
	tagHashLen       = 12
)

// TagFor computes the deterministic tag under which an app's
// artifact, built at revision, lives in an environment's namespace.
// The hash covers (app, env, revision), so repeated promotions of the
// same revision land on the same tag.
func TagFor(app pipeline.App, env pipeline.Environment, revision string) string {
	d := digest.FromString(strings.Join([]string{app.String(), env.String(), revision}, "\x00"))
	return fmt.Sprintf("%s-%s", env, d.Encoded()[:tagHashLen])
}

// BuildTag is the tag CI pushes for a freshly built revision, before
// the artifact belongs to any environment.
func BuildTag(revision string) string {
	if len(revision) > tagHashLen {
		revision = revision[:tagHashLen]
	}
	return "build-" + revision
}

// Promoter copies artifacts between environment namespaces. It is
// idempotent by target-tag existence: promoting the same (app,
// targetEnv, revision) twice performs at most one upload.
type Promoter struct {
	Registry Registry
	// BaseRepo prefixes app names to form repository paths, e.g.
	// "example" makes app "helloworld" live at "example/helloworld".
	BaseRepo string
	// Attempts and BaseDelay bound the retry of transient upload
	// failures; zero values get defaults.
	Attempts  int
	BaseDelay time.Duration
	Logger    log.Logger
}

func (p *Promoter) repoFor(app pipeline.App) string {
	return path.Join(p.BaseRepo, app.String())
}

// Promote makes app's artifact for sourceRevision available under
// targetEnv's tag, returning that tag. An empty sourceEnv means the
// artifact is promoted straight from its CI build tag (the entry
// into the first environment).
func (p *Promoter) Promote(ctx context.Context, app pipeline.App, sourceEnv, targetEnv pipeline.Environment, sourceRevision string) (string, error) {
	repo := p.repoFor(app)
	sourceTag := BuildTag(sourceRevision)
	if sourceEnv != "" {
		sourceTag = TagFor(app, sourceEnv, sourceRevision)
	}
	targetTag := TagFor(app, targetEnv, sourceRevision)

	begin := time.Now()
	uploaded, err := p.promote(ctx, repo, sourceTag, targetTag)
	promoteDuration.With(cascademetrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(begin).Seconds())
	if err != nil {
		return "", err
	}
	if p.Logger != nil {
		p.Logger.Log("repo", repo, "tag", targetTag, "uploaded", uploaded)
	}
	return targetTag, nil
}

func (p *Promoter) promote(ctx context.Context, repo, sourceTag, targetTag string) (bool, error) {
	exists, err := p.Registry.TagExists(ctx, repo, targetTag)
	if err != nil {
		return false, err
	}
	if exists {
		// Already promoted; nothing to upload.
		return false, nil
	}

	exists, err = p.Registry.TagExists(ctx, repo, sourceTag)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, &NotFoundError{Repo: repo, Tag: sourceTag}
	}

	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = defaultBaseDelay
	}

	for attempt := 1; ; attempt++ {
		err = p.Registry.CopyTag(ctx, repo, sourceTag, targetTag)
		if err == nil {
			return true, nil
		}
		if !Retryable(err) || attempt >= attempts {
			return false, err
		}
		if p.Logger != nil {
			p.Logger.Log("repo", repo, "tag", targetTag, "attempt", attempt, "err", err)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
