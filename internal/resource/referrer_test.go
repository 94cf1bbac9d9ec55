package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcrelay/arcrelay/internal/domain"
)

func TestValidateReferrer_EmptyReferrerAlwaysDenied(t *testing.T) {
	patterns := []domain.ReferrerPattern{{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard}}
	key, ok := ValidateReferrer(patterns, domain.URLTuple{}, "")
	assert.False(t, ok)
	assert.Empty(t, key)
}

func TestValidateReferrer_AllWildcardFastPath(t *testing.T) {
	patterns := []domain.ReferrerPattern{{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard}}
	referrer := domain.URLTuple{Protocol: "https", Host: "anyone.example.org", Path: "/somewhere"}
	key, ok := ValidateReferrer(patterns, referrer, "https://anyone.example.org/somewhere")
	assert.True(t, ok)
	assert.Equal(t, domain.Wildcard, key)
}

func TestValidateReferrer_FirstMatchWins(t *testing.T) {
	patterns := []domain.ReferrerPattern{
		{Protocol: "https", Host: "app.example.com", Path: domain.Wildcard, Key: "app"},
		{Protocol: domain.Wildcard, Host: "*.example.com", Path: domain.Wildcard, Key: "any-subdomain"},
	}
	referrer := domain.URLTuple{Protocol: "https", Host: "app.example.com", Path: "/page"}
	key, ok := ValidateReferrer(patterns, referrer, "https://app.example.com/page")
	assert.True(t, ok)
	assert.Equal(t, "app", key)
}

func TestValidateReferrer_NoMatchDenied(t *testing.T) {
	patterns := []domain.ReferrerPattern{
		{Protocol: "https", Host: "app.example.com", Path: domain.Wildcard, Key: "app"},
	}
	referrer := domain.URLTuple{Protocol: "https", Host: "evil.example.org", Path: "/page"}
	key, ok := ValidateReferrer(patterns, referrer, "https://evil.example.org/page")
	assert.False(t, ok)
	assert.Empty(t, key)
}
