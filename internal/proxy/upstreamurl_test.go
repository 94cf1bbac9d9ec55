package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrelay/arcrelay/internal/domain"
)

func TestBuildUpstreamURL_NoRedirect_MatchAll_UsesResourcePathExactly(t *testing.T) {
	r := &domain.Resource{
		MatchAll: true,
		Tuple:    domain.URLTuple{Protocol: "https", Host: "gis.example.com", Path: "/arcgis/rest/services/Basemap/MapServer"},
	}
	target := domain.URLTuple{Path: "/arcgis/rest/services/Basemap/MapServer"}

	got, err := BuildUpstreamURL(r, target)
	require.NoError(t, err)
	assert.Equal(t, "https://gis.example.com/arcgis/rest/services/Basemap/MapServer", got.String())
}

func TestBuildUpstreamURL_NoRedirect_PrefixMatch_AppendsTrailingPath(t *testing.T) {
	r := &domain.Resource{
		MatchAll: false,
		Tuple:    domain.URLTuple{Protocol: "https", Host: "gis.example.com", Path: "/arcgis/rest/services"},
	}
	target := domain.URLTuple{Path: "/arcgis/rest/services/Basemap/MapServer/0/query"}

	got, err := BuildUpstreamURL(r, target)
	require.NoError(t, err)
	assert.Equal(t, "https://gis.example.com/arcgis/rest/services/Basemap/MapServer/0/query", got.String())
}

func TestBuildUpstreamURL_IncludesPort(t *testing.T) {
	r := &domain.Resource{
		MatchAll: true,
		Tuple:    domain.URLTuple{Protocol: "http", Host: "gis.example.com", Port: "8080", Path: "/services"},
	}
	got, err := BuildUpstreamURL(r, domain.URLTuple{Path: "/services"})
	require.NoError(t, err)
	assert.Equal(t, "http://gis.example.com:8080/services", got.String())
}

func TestBuildUpstreamURL_WildcardPortOmitted(t *testing.T) {
	r := &domain.Resource{
		MatchAll: true,
		Tuple:    domain.URLTuple{Protocol: "https", Host: "gis.example.com", Port: domain.Wildcard, Path: "/services"},
	}
	got, err := BuildUpstreamURL(r, domain.URLTuple{Path: "/services"})
	require.NoError(t, err)
	assert.Equal(t, "https://gis.example.com/services", got.String())
}

func TestBuildUpstreamURL_HostRedirect_UsesRequestPathWhenPathEmpty(t *testing.T) {
	r := &domain.Resource{
		Tuple:        domain.URLTuple{Protocol: "https"},
		HostRedirect: &domain.HostRedirect{Host: "internal.example.com"},
	}
	got, err := BuildUpstreamURL(r, domain.URLTuple{Path: "/arcgis/rest/services/Foo"})
	require.NoError(t, err)
	assert.Equal(t, "https://internal.example.com/arcgis/rest/services/Foo", got.String())
}

func TestBuildUpstreamURL_HostRedirect_WildcardPathUsesRequestPath(t *testing.T) {
	r := &domain.Resource{
		Tuple:        domain.URLTuple{Protocol: "https"},
		HostRedirect: &domain.HostRedirect{Host: "internal.example.com", Path: domain.Wildcard},
	}
	got, err := BuildUpstreamURL(r, domain.URLTuple{Path: "/foo/bar"})
	require.NoError(t, err)
	assert.Equal(t, "https://internal.example.com/foo/bar", got.String())
}

func TestBuildUpstreamURL_HostRedirect_ExplicitPathOverridesRequestPath(t *testing.T) {
	r := &domain.Resource{
		Tuple:        domain.URLTuple{Protocol: "https"},
		HostRedirect: &domain.HostRedirect{Host: "internal.example.com", Port: "9443", Path: "/fixed/path"},
	}
	got, err := BuildUpstreamURL(r, domain.URLTuple{Path: "/foo/bar"})
	require.NoError(t, err)
	assert.Equal(t, "https://internal.example.com:9443/fixed/path", got.String())
}

func TestBuildUpstreamURL_DefaultsToHTTPSWhenProtocolWildcard(t *testing.T) {
	r := &domain.Resource{
		MatchAll: true,
		Tuple:    domain.URLTuple{Protocol: domain.Wildcard, Host: "gis.example.com", Path: "/services"},
	}
	got, err := BuildUpstreamURL(r, domain.URLTuple{Path: "/services"})
	require.NoError(t, err)
	assert.Equal(t, "https", got.Scheme)
}

func TestBuildUpstreamURL_NoHostErrors(t *testing.T) {
	r := &domain.Resource{Tuple: domain.URLTuple{Path: "/services"}}
	_, err := BuildUpstreamURL(r, domain.URLTuple{Path: "/services"})
	assert.Error(t, err)
}
