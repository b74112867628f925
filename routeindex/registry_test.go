package routeindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/routeindex"
)

func TestRegistryMatchesExactPath(t *testing.T) {
	reg := routeindex.NewRegistry()
	reg.Register("custom-api", "/items", []string{"GET"}, nil)

	handler, subpath, ok := reg.Match("custom-api", "/items", "GET")
	require.True(t, ok)
	require.Nil(t, handler)
	require.Equal(t, "", subpath)
}

func TestRegistryRejectsWrongMethod(t *testing.T) {
	reg := routeindex.NewRegistry()
	reg.Register("custom-api", "/items", []string{"GET"}, nil)

	_, _, ok := reg.Match("custom-api", "/items", "POST")
	require.False(t, ok)
}

func TestRegistryWildcardCapturesSubpath(t *testing.T) {
	reg := routeindex.NewRegistry()
	reg.Register("custom-api", "/items/*", nil, nil)

	_, subpath, ok := reg.Match("custom-api", "/items/123/edit", "GET")
	require.True(t, ok)
	require.Equal(t, "123/edit", subpath)
}

func TestRegistryWildcardMatchesBarePrefix(t *testing.T) {
	reg := routeindex.NewRegistry()
	reg.Register("custom-api", "/items/*", nil, nil)

	_, subpath, ok := reg.Match("custom-api", "/items", "GET")
	require.True(t, ok)
	require.Equal(t, "", subpath)
}

func TestRegistryMatchIsScopedToNodeType(t *testing.T) {
	reg := routeindex.NewRegistry()
	reg.Register("custom-api", "/items", nil, nil)

	_, _, ok := reg.Match("other-type", "/items", "GET")
	require.False(t, ok)
}
