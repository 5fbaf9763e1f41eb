package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

func TestTagForDeterministic(t *testing.T) {
	a := TagFor("helloworld", pipeline.EnvStage, "abc123")
	b := TagFor("helloworld", pipeline.EnvStage, "abc123")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, TagFor("helloworld", pipeline.EnvProd, "abc123"))
	assert.NotEqual(t, a, TagFor("helloworld", pipeline.EnvStage, "def456"))
}

func TestPromoteIdempotent(t *testing.T) {
	mock := NewMock()
	mock.AddTag("example/helloworld", TagFor("helloworld", pipeline.EnvDev, "abc123"))
	p := &Promoter{Registry: mock, BaseRepo: "example"}

	first, err := p.Promote(context.Background(), "helloworld", pipeline.EnvDev, pipeline.EnvStage, "abc123")
	require.NoError(t, err)
	second, err := p.Promote(context.Background(), "helloworld", pipeline.EnvDev, pipeline.EnvStage, "abc123")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, mock.Uploads())
}

func TestPromoteFromBuildTag(t *testing.T) {
	mock := NewMock()
	mock.AddTag("example/helloworld", BuildTag("abc123def456789"))
	p := &Promoter{Registry: mock, BaseRepo: "example"}

	tag, err := p.Promote(context.Background(), "helloworld", "", pipeline.EnvDev, "abc123def456789")
	require.NoError(t, err)
	assert.Equal(t, TagFor("helloworld", pipeline.EnvDev, "abc123def456789"), tag)
}

func TestPromoteSourceMissing(t *testing.T) {
	mock := NewMock()
	p := &Promoter{Registry: mock, BaseRepo: "example"}

	_, err := p.Promote(context.Background(), "helloworld", pipeline.EnvDev, pipeline.EnvStage, "abc123")
	require.Error(t, err)
	notFound, ok := err.(*NotFoundError)
	require.True(t, ok, "expected *NotFoundError, got %T", err)
	assert.Equal(t, "example/helloworld", notFound.Repo)
	assert.Equal(t, 0, mock.Uploads())
}

func TestPromoteRetriesTransientUploads(t *testing.T) {
	mock := NewMock()
	mock.AddTag("example/helloworld", TagFor("helloworld", pipeline.EnvDev, "abc123"))
	mock.CopyFailures = 2
	p := &Promoter{Registry: mock, BaseRepo: "example", Attempts: 3, BaseDelay: time.Millisecond}

	_, err := p.Promote(context.Background(), "helloworld", pipeline.EnvDev, pipeline.EnvStage, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.Uploads())
}

func TestPromoteGivesUpAfterAttempts(t *testing.T) {
	mock := NewMock()
	mock.AddTag("example/helloworld", TagFor("helloworld", pipeline.EnvDev, "abc123"))
	mock.CopyFailures = 5
	p := &Promoter{Registry: mock, BaseRepo: "example", Attempts: 2, BaseDelay: time.Millisecond}

	_, err := p.Promote(context.Background(), "helloworld", pipeline.EnvDev, pipeline.EnvStage, "abc123")
	require.Error(t, err)
	assert.True(t, Retryable(err))
}
