package discovery_test

import (
	"testing"

	"github.com/hkarim/crdtstore/internal/discovery"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStaticSchemeBuildsCurrentMap(t *testing.T) {
	scheme, err := discovery.ParseStaticScheme([]string{"a=10.0.0.1:9042", "b=10.0.0.2:9042"})
	require.NoError(t, err)
	assert.Equal(t, model.Endpoint{ID: "a", Addr: "10.0.0.1:9042"}, scheme.Current["a"])
	assert.Equal(t, model.Endpoint{ID: "b", Addr: "10.0.0.2:9042"}, scheme.Current["b"])
	assert.Nil(t, scheme.Target)
	assert.False(t, scheme.Rebalancing())
}

func TestParseStaticSchemeRejectsMalformedEntry(t *testing.T) {
	_, err := discovery.ParseStaticScheme([]string{"no-equals-sign"})
	assert.Error(t, err)
}

func TestParseStaticSchemeEmptyIsEmptyScheme(t *testing.T) {
	scheme, err := discovery.ParseStaticScheme(nil)
	require.NoError(t, err)
	assert.Empty(t, scheme.Current)
}
