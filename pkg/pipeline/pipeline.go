// Package pipeline holds the identifiers shared by the rest of cascade:
// applications, environments, and the chain along which promotions flow.
package pipeline

import (
	"fmt"
	"strings"
)

// App identifies one application managed by the pipeline. It is the
// name used in the config repo (e.g., `apps/<app>/app.yaml`) and in
// the artifact repository.
type App string

func (a App) String() string {
	return string(a)
}

// Environment identifies one deployment environment (and its branch
// in the config repo).
type Environment string

const (
	EnvDev   Environment = "dev"
	EnvStage Environment = "stage"
	EnvProd  Environment = "prod"
)

func (e Environment) String() string {
	return string(e)
}

// Branch is the config repo branch holding the environment's desired
// state.
func (e Environment) Branch() string {
	return "env/" + string(e)
}

// Key identifies the unit of promotion concurrency: one app moving
// into one target environment. At most one promotion request is open
// per key at any time.
type Key struct {
	App         App
	Environment Environment
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.App, k.Environment)
}

// Chain is an ordered list of environments; each feeds forward into
// the next. The last environment feeds nowhere.
type Chain []Environment

// DefaultChain is dev -> stage -> prod.
var DefaultChain = Chain{EnvDev, EnvStage, EnvProd}

// Next gives the environment downstream of env, and whether there is
// one.
func (c Chain) Next(env Environment) (Environment, bool) {
	for i, e := range c {
		if e == env && i+1 < len(c) {
			return c[i+1], true
		}
	}
	return "", false
}

// Previous gives the environment feeding into env, and whether there
// is one.
func (c Chain) Previous(env Environment) (Environment, bool) {
	for i, e := range c {
		if e == env && i > 0 {
			return c[i-1], true
		}
	}
	return "", false
}

// Contains reports whether env is part of the chain.
func (c Chain) Contains(env Environment) bool {
	for _, e := range c {
		if e == env {
			return true
		}
	}
	return false
}

func (c Chain) String() string {
	var parts []string
	for _, e := range c {
		parts = append(parts, string(e))
	}
	return strings.Join(parts, "->")
}

// ParseChain parses a chain given as e.g. "dev,stage,prod".
func ParseChain(s string) (Chain, error) {
	var c Chain
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty environment name in chain %q", s)
		}
		env := Environment(part)
		if c.Contains(env) {
			return nil, fmt.Errorf("environment %q appears twice in chain %q", part, s)
		}
		c = append(c, env)
	}
	if len(c) == 0 {
		return nil, fmt.Errorf("no environments in chain %q", s)
	}
	return c, nil
}
