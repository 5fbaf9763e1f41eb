package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainNextPrevious(t *testing.T) {
	c := DefaultChain

	next, ok := c.Next(EnvDev)
	require.True(t, ok)
	assert.Equal(t, EnvStage, next)

	_, ok = c.Next(EnvProd)
	assert.False(t, ok, "last environment feeds nowhere")

	prev, ok := c.Previous(EnvStage)
	require.True(t, ok)
	assert.Equal(t, EnvDev, prev)

	_, ok = c.Previous(EnvDev)
	assert.False(t, ok, "first environment has no upstream")

	_, ok = c.Next(Environment("qa"))
	assert.False(t, ok, "unknown environment has no neighbours")
}

func TestParseChain(t *testing.T) {
	c, err := ParseChain("dev, stage,prod")
	require.NoError(t, err)
	assert.Equal(t, DefaultChain, c)

	_, err = ParseChain("dev,,prod")
	assert.Error(t, err)

	_, err = ParseChain("dev,stage,dev")
	assert.Error(t, err, "duplicate environments are rejected")
}

func TestEnvironmentBranch(t *testing.T) {
	assert.Equal(t, "env/stage", EnvStage.Branch())
}
