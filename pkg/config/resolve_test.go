package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

const platformDef = `
fields:
  replicas:
    mode: default
    value: 1
  securityContext.runAsNonRoot:
    mode: fixed
    value: true
  image:
    mode: default
env:
- name: LOG_LEVEL
  value: info
annotations:
- name: prometheus.io/scrape
  value: "true"
`

func parsePlatform(t *testing.T) Platform {
	p, err := ParsePlatform([]byte(platformDef))
	require.NoError(t, err)
	return p
}

func TestResolvePrecedence(t *testing.T) {
	platform := parsePlatform(t)
	appLayer := Overlay{Fields: map[string]interface{}{
		"image": "quay.io/example/helloworld",
	}}

	// Platform default applies when no lower layer sets the field.
	cfg, err := Resolver{}.Resolve("helloworld", pipeline.EnvDev, platform, appLayer, Overlay{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), asFloat(t, cfg.Fields["replicas"]))

	// The environment layer wins over both platform and app.
	envLayer := Overlay{Fields: map[string]interface{}{
		"replicas": 3,
		"image":    "quay.io/example/helloworld-prod",
	}}
	cfg, err = Resolver{}.Resolve("helloworld", pipeline.EnvProd, platform, appLayer, envLayer)
	require.NoError(t, err)
	assert.Equal(t, float64(3), asFloat(t, cfg.Fields["replicas"]))
	assert.Equal(t, "quay.io/example/helloworld-prod", cfg.Fields["image"])
}

func TestResolveDeterminism(t *testing.T) {
	platform := parsePlatform(t)
	appLayer := Overlay{Fields: map[string]interface{}{"image": "img"}}
	envLayer := Overlay{Fields: map[string]interface{}{"replicas": 2}}

	first, err := Resolver{}.Resolve("app1", pipeline.EnvStage, platform, appLayer, envLayer)
	require.NoError(t, err)
	second, err := Resolver{}.Resolve("app1", pipeline.EnvStage, platform, appLayer, envLayer)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveFixedConflict(t *testing.T) {
	platform := parsePlatform(t)
	appLayer := Overlay{Fields: map[string]interface{}{
		"image": "img",
		"securityContext.runAsNonRoot": false,
	}}

	_, err := Resolver{}.Resolve("helloworld", pipeline.EnvDev, platform, appLayer, Overlay{})
	require.Error(t, err)
	conflict, ok := err.(*ConflictError)
	require.True(t, ok, "expected *ConflictError, got %T", err)
	assert.Equal(t, "securityContext.runAsNonRoot", conflict.Field)
	assert.Equal(t, LayerApp, conflict.Layer)
	assert.Equal(t, false, conflict.Attempted)

	// Setting the identical value unifies rather than conflicting.
	same := Overlay{Fields: map[string]interface{}{
		"image": "img",
		"securityContext.runAsNonRoot": true,
	}}
	_, err = Resolver{}.Resolve("helloworld", pipeline.EnvDev, platform, same, Overlay{})
	assert.NoError(t, err)
}

func TestResolveMissingRequiredField(t *testing.T) {
	platform := parsePlatform(t)

	// `image` has no platform default, and no layer sets it.
	_, err := Resolver{}.Resolve("helloworld", pipeline.EnvDev, platform, Overlay{}, Overlay{})
	require.Error(t, err)
	missing, ok := err.(*MissingFieldError)
	require.True(t, ok, "expected *MissingFieldError, got %T", err)
	assert.Equal(t, "image", missing.Field)
}

func TestResolveListConcatenation(t *testing.T) {
	platform := parsePlatform(t)
	appLayer := Overlay{
		Fields: map[string]interface{}{"image": "img"},
		Env: []EnvVar{
			{Name: "CACHE_TTL", Value: "300"},
			{Name: "LOG_LEVEL", Value: "debug"},
		},
	}
	envLayer := Overlay{
		Env: []EnvVar{{Name: "REDIS_URL", Value: "redis://redis.dev:6379"}},
		Annotations: []Annotation{
			{Name: "prometheus.io/scrape", Value: "false"},
		},
	}

	cfg, err := Resolver{}.Resolve("helloworld", pipeline.EnvDev, platform, appLayer, envLayer)
	require.NoError(t, err)

	// Length is the sum of the three layers' lists, duplicates kept,
	// in platform-then-app-then-environment order.
	require.Len(t, cfg.Env, 1+2+1)
	assert.Equal(t, "LOG_LEVEL", cfg.Env[0].Name)
	assert.Equal(t, "info", cfg.Env[0].Value)
	assert.Equal(t, "CACHE_TTL", cfg.Env[1].Name)
	assert.Equal(t, "LOG_LEVEL", cfg.Env[2].Name)
	assert.Equal(t, "debug", cfg.Env[2].Value)
	assert.Equal(t, "REDIS_URL", cfg.Env[3].Name)

	require.Len(t, cfg.Annotations, 2)
	assert.Equal(t, "true", cfg.Annotations[0].Value)
	assert.Equal(t, "false", cfg.Annotations[1].Value)
}

func TestResolveMergeListsByKey(t *testing.T) {
	platform := parsePlatform(t)
	appLayer := Overlay{
		Fields: map[string]interface{}{"image": "img"},
		Env:    []EnvVar{{Name: "LOG_LEVEL", Value: "debug"}},
	}

	cfg, err := Resolver{MergeListsByKey: true}.Resolve("helloworld", pipeline.EnvDev, platform, appLayer, Overlay{})
	require.NoError(t, err)
	require.Len(t, cfg.Env, 1)
	assert.Equal(t, EnvVar{Name: "LOG_LEVEL", Value: "debug"}, cfg.Env[0])
}

func TestResolveUndeclaredFieldsPassThrough(t *testing.T) {
	platform := parsePlatform(t)
	appLayer := Overlay{Fields: map[string]interface{}{
		"image":     "img",
		"cache-ttl": "300",
	}}
	envLayer := Overlay{Fields: map[string]interface{}{
		"cache-ttl": "600",
	}}

	cfg, err := Resolver{}.Resolve("helloworld", pipeline.EnvDev, platform, appLayer, envLayer)
	require.NoError(t, err)
	assert.Equal(t, "600", cfg.Fields["cache-ttl"])
}

func TestPlatformValidate(t *testing.T) {
	_, err := ParsePlatform([]byte(`
fields:
  locked:
    mode: fixed
`))
	assert.Error(t, err)

	_, err = ParsePlatform([]byte(`
fields:
  odd:
    mode: sometimes
    value: 1
`))
	assert.Error(t, err)
}

func asFloat(t *testing.T, v interface{}) float64 {
	f, ok := toFloat(v)
	require.True(t, ok, "expected numeric value, got %T", v)
	return f
}
