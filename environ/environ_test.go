package environ_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/environ"
)

func TestEnclosedResolve(t *testing.T) {
	root := environ.Empty[int]()
	root.Define("a", 1)

	sub := environ.Enclosed(root)
	sub.Define("b", 2)

	v, err := sub.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = root.Resolve("b")
	assert.ErrorIs(t, err, environ.ErrDefined)
}

func TestClearKeepsParent(t *testing.T) {
	root := environ.Empty[string]()
	root.Define("fn", "http://www.w3.org/2005/xpath-functions")

	sub := environ.Enclosed(root)
	sub.Define("x", "urn:x")
	sub.(environ.Clearer).Clear()

	assert.Equal(t, 0, sub.Len())
	_, err := sub.Resolve("x")
	assert.Error(t, err)
	_, err = sub.Resolve("fn")
	assert.NoError(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	env := environ.Empty[int]()
	env.Define("a", 1)

	c := env.(*environ.Env[int]).Clone()
	c.Define("a", 2)

	v, _ := env.Resolve("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"a"}, c.Names())
}
