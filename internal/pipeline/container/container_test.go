package container_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
)

func TestContainer_BindInvokesFactoryEveryTime(t *testing.T) {
	c := container.New()
	n := 0
	c.Bind("counter", func(c *container.Container) (any, error) {
		n++
		return n, nil
	})

	v1, err := c.Get("counter")
	require.NoError(t, err)
	v2, err := c.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

func TestContainer_SingletonMemoizesFirstResult(t *testing.T) {
	c := container.New()
	n := 0
	c.Singleton("counter", func(c *container.Container) (any, error) {
		n++
		return n, nil
	})

	v1, err := c.Get("counter")
	require.NoError(t, err)
	v2, err := c.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, n)
}

func TestContainer_UnboundFailsWithInstantiationError(t *testing.T) {
	c := container.New()
	_, err := c.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, container.ErrInstantiation))
}

func TestContainer_Has(t *testing.T) {
	c := container.New()
	assert.False(t, c.Has("x"))
	c.Bind("x", func(c *container.Container) (any, error) { return 1, nil })
	assert.True(t, c.Has("x"))
}

func TestContainer_CycleDetected(t *testing.T) {
	c := container.New()
	c.Bind("a", func(c *container.Container) (any, error) { return c.Get("b") })
	c.Bind("b", func(c *container.Container) (any, error) { return c.Get("a") })

	_, err := c.Get("a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle detected")
}

func TestContainer_ResolvesTransitiveDependency(t *testing.T) {
	c := container.New()
	c.Singleton("db", func(c *container.Container) (any, error) { return "db-handle", nil })
	c.Bind("repo", func(c *container.Container) (any, error) {
		db, err := c.Get("db")
		if err != nil {
			return nil, err
		}
		return "repo-on-" + db.(string), nil
	})

	v, err := c.Get("repo")
	require.NoError(t, err)
	assert.Equal(t, "repo-on-db-handle", v)
}
