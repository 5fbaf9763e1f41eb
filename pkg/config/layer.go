// Package config resolves the layered configuration model: a
// platform-wide layer, an app-wide layer and an environment-specific
// layer are merged into one effective config per (app, environment)
// pair.
package config

import (
	"fmt"
	"path"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

// Names used to refer to layers in error messages and annotations.
const (
	LayerPlatform    = "platform"
	LayerApp         = "app"
	LayerEnvironment = "environment"
)

// Mode says how a platform-declared field behaves with respect to
// lower layers.
type Mode string

const (
	// ModeDefault fields supply a value that app and environment
	// layers may override.
	ModeDefault Mode = "default"
	// ModeFixed fields may not be overridden with a different value
	// by any lower layer.
	ModeFixed Mode = "fixed"
)

// FieldSpec declares one scalar field in the platform layer. A nil
// Value means the field has no platform default; some lower layer
// must then set it.
type FieldSpec struct {
	Mode  Mode        `json:"mode,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// Platform is the configuration layer applying to all apps in all
// environments. It both declares the scalar field schema (with
// fixed/default annotations) and contributes the first segment of
// each list field.
type Platform struct {
	Fields      map[string]FieldSpec `json:"fields,omitempty"`
	Env         []EnvVar             `json:"env,omitempty"`
	Annotations []Annotation         `json:"annotations,omitempty"`
}

// Overlay is the shape shared by the app layer (one app, all
// environments) and the environment layer (one app, one
// environment): scalar overrides plus list segments.
type Overlay struct {
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Env         []EnvVar               `json:"env,omitempty"`
	Annotations []Annotation           `json:"annotations,omitempty"`
}

// EnvVar is a list-field entry; duplicates across layers are legal
// and consumers apply last-occurrence-wins.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Annotation is a list-field entry for deployment annotations.
type Annotation struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EffectiveConfig is the resolved configuration for one (app,
// environment) pair.
type EffectiveConfig struct {
	App         pipeline.App           `json:"app"`
	Environment pipeline.Environment   `json:"environment"`
	Fields      map[string]interface{} `json:"fields"`
	Env         []EnvVar               `json:"env,omitempty"`
	Annotations []Annotation           `json:"annotations,omitempty"`
}

// Validate checks the platform layer's schema is usable: modes are
// known, and fixed fields carry the value they fix.
func (p Platform) Validate() error {
	for name, spec := range p.Fields {
		switch spec.Mode {
		case "", ModeDefault:
		case ModeFixed:
			if spec.Value == nil {
				return errors.Errorf("platform field %q is fixed but has no value", name)
			}
		default:
			return errors.Errorf("platform field %q has unknown mode %q", name, spec.Mode)
		}
	}
	return nil
}

func ParsePlatform(def []byte) (Platform, error) {
	var p Platform
	if err := yaml.Unmarshal(def, &p); err != nil {
		return Platform{}, errors.Wrap(err, "parsing platform layer")
	}
	if err := p.Validate(); err != nil {
		return Platform{}, err
	}
	return p, nil
}

func ParseOverlay(def []byte) (Overlay, error) {
	var o Overlay
	if err := yaml.Unmarshal(def, &o); err != nil {
		return Overlay{}, errors.Wrap(err, "parsing overlay layer")
	}
	return o, nil
}

// Paths of the layer files within the config repo.

func PlatformPath() string {
	return "platform/platform.yaml"
}

func AppPath(app pipeline.App) string {
	return path.Join("apps", app.String(), "app.yaml")
}

func EnvPath(env pipeline.Environment, app pipeline.App) string {
	return path.Join("envs", env.String(), fmt.Sprintf("%s.yaml", app))
}
