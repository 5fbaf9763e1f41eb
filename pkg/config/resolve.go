package config

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

// ConflictError means a lower layer tried to override a field the
// platform layer fixes.
type ConflictError struct {
	Field     string
	Layer     string // the layer attempting the override
	Fixed     interface{}
	Attempted interface{}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("field %q is fixed to %v by the platform layer; the %s layer may not set it to %v",
		e.Field, e.Fixed, e.Layer, e.Attempted)
}

// MissingFieldError means a platform-declared field has no default
// and no lower layer supplied a value.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("field %q has no platform default and is not set by the app or environment layer", e.Field)
}

// Resolver computes effective configs. The zero value gives the
// documented behaviour: scalar override by specificity, list fields
// concatenated Platform->App->Environment without deduplication.
type Resolver struct {
	// MergeListsByKey post-processes list fields so each name appears
	// once, keeping the last occurrence. Off by default: downstream
	// consumers rely on the concatenation count, and apply last-wins
	// themselves.
	MergeListsByKey bool
}

// Resolve merges the three layers for one (app, environment) pair.
// It is deterministic and has no side effects, so it is safe to call
// concurrently and repeatedly with the same inputs.
func (r Resolver) Resolve(app pipeline.App, env pipeline.Environment, platform Platform, appLayer, envLayer Overlay) (EffectiveConfig, error) {
	if err := platform.Validate(); err != nil {
		return EffectiveConfig{}, err
	}

	fields := map[string]interface{}{}

	// Declared fields, in sorted order so the first error reported is
	// the same on every run.
	var names []string
	for name := range platform.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := platform.Fields[name]
		appVal, appSet := appLayer.Fields[name]
		envVal, envSet := envLayer.Fields[name]

		if spec.Mode == ModeFixed {
			// Setting the identical value unifies; a differing value
			// is a conflict.
			if appSet && !scalarEqual(appVal, spec.Value) {
				return EffectiveConfig{}, &ConflictError{Field: name, Layer: LayerApp, Fixed: spec.Value, Attempted: appVal}
			}
			if envSet && !scalarEqual(envVal, spec.Value) {
				return EffectiveConfig{}, &ConflictError{Field: name, Layer: LayerEnvironment, Fixed: spec.Value, Attempted: envVal}
			}
			fields[name] = spec.Value
			continue
		}

		// Most specific layer that explicitly sets the field wins;
		// unset is not an override.
		switch {
		case envSet:
			fields[name] = envVal
		case appSet:
			fields[name] = appVal
		case spec.Value != nil:
			fields[name] = spec.Value
		default:
			return EffectiveConfig{}, &MissingFieldError{Field: name}
		}
	}

	// Fields introduced by the app or environment layer without a
	// platform declaration are app-private; they pass through with the
	// same specificity rule.
	for name, val := range appLayer.Fields {
		if _, declared := platform.Fields[name]; !declared {
			fields[name] = val
		}
	}
	for name, val := range envLayer.Fields {
		if _, declared := platform.Fields[name]; !declared {
			fields[name] = val
		}
	}

	// List fields are concatenated in Platform->App->Environment
	// order, preserving each layer's internal order. Duplicate names
	// are legal; consumers treat the last occurrence as effective.
	envVars := concatEnv(platform.Env, appLayer.Env, envLayer.Env)
	annotations := concatAnnotations(platform.Annotations, appLayer.Annotations, envLayer.Annotations)

	if r.MergeListsByKey {
		envVars = dedupEnv(envVars)
		annotations = dedupAnnotations(annotations)
	}

	return EffectiveConfig{
		App:         app,
		Environment: env,
		Fields:      fields,
		Env:         envVars,
		Annotations: annotations,
	}, nil
}

func concatEnv(segments ...[]EnvVar) []EnvVar {
	var out []EnvVar
	for _, seg := range segments {
		out = append(out, seg...)
	}
	return out
}

func concatAnnotations(segments ...[]Annotation) []Annotation {
	var out []Annotation
	for _, seg := range segments {
		out = append(out, seg...)
	}
	return out
}

// dedupEnv keeps only the last occurrence of each name, at the
// position of that last occurrence.
func dedupEnv(vars []EnvVar) []EnvVar {
	seen := map[string]bool{}
	var reversed []EnvVar
	for i := len(vars) - 1; i >= 0; i-- {
		if seen[vars[i].Name] {
			continue
		}
		seen[vars[i].Name] = true
		reversed = append(reversed, vars[i])
	}
	out := make([]EnvVar, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, reversed[i])
	}
	return out
}

func dedupAnnotations(annotations []Annotation) []Annotation {
	seen := map[string]bool{}
	var reversed []Annotation
	for i := len(annotations) - 1; i >= 0; i-- {
		if seen[annotations[i].Name] {
			continue
		}
		seen[annotations[i].Name] = true
		reversed = append(reversed, annotations[i])
	}
	out := make([]Annotation, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, reversed[i])
	}
	return out
}

// scalarEqual compares scalars as they come out of YAML, where the
// same number may appear as int64, float64 or json.Number depending
// on the document.
func scalarEqual(a, b interface{}) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
