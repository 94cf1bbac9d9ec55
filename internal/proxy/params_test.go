package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcrelay/arcrelay/internal/domain"
)

func TestMergeParams_OverlaysRequestOntoResource(t *testing.T) {
	resourceQuery := []domain.QueryParam{
		{Key: "f", Value: "json"},
		{Key: "where", Value: "1=1"},
	}
	merged := MergeParams(resourceQuery, "where=2%3D2&outFields=*")

	assert.Equal(t, []domain.QueryParam{
		{Key: "f", Value: "json"},
		{Key: "where", Value: "2=2"},
		{Key: "outFields", Value: "*"},
	}, merged)
}

func TestMergeParams_EmptyRequestQuery_ReturnsResourceQueryCopy(t *testing.T) {
	resourceQuery := []domain.QueryParam{{Key: "f", Value: "json"}}
	merged := MergeParams(resourceQuery, "")

	assert.Equal(t, resourceQuery, merged)
	// must be a copy, not an alias — mutating merged must not affect the input
	merged[0].Value = "html"
	assert.Equal(t, "json", resourceQuery[0].Value)
}

func TestMergeParams_IsIdempotent(t *testing.T) {
	resourceQuery := []domain.QueryParam{{Key: "f", Value: "json"}}
	requestQuery := "where=1%3D1&f=html"

	first := MergeParams(resourceQuery, requestQuery)
	second := MergeParams(first, requestQuery)

	assert.Equal(t, first, second)
}

func TestMergeParams_PercentDecodesKeysAndValues(t *testing.T) {
	merged := MergeParams(nil, "na%20me=jane%20doe")
	assert.Equal(t, []domain.QueryParam{{Key: "na me", Value: "jane doe"}}, merged)
}

func TestInjectToken_AddsWhenAbsent(t *testing.T) {
	params := []domain.QueryParam{{Key: "f", Value: "json"}}
	got := InjectToken(params, "token", "abc123")
	assert.Equal(t, []domain.QueryParam{{Key: "f", Value: "json"}, {Key: "token", Value: "abc123"}}, got)
}

func TestInjectToken_SkipsWhenAlreadyPresent(t *testing.T) {
	params := []domain.QueryParam{{Key: "token", Value: "existing"}}
	got := InjectToken(params, "token", "new-value")
	assert.Equal(t, []domain.QueryParam{{Key: "token", Value: "existing"}}, got)
}

func TestInjectToken_SkipsWhenTokenValueEmpty(t *testing.T) {
	params := []domain.QueryParam{{Key: "f", Value: "json"}}
	got := InjectToken(params, "token", "")
	assert.Equal(t, params, got)
}

func TestTokenParamName_DefaultsToToken(t *testing.T) {
	r := &domain.Resource{}
	assert.Equal(t, "token", TokenParamName(r))
}

func TestTokenParamName_UsesOverride(t *testing.T) {
	r := &domain.Resource{TokenParamName: "access_token"}
	assert.Equal(t, "access_token", TokenParamName(r))
}

func TestEncodeQuery_PercentEncodesSpaceAsPercent20(t *testing.T) {
	got := EncodeQuery([]domain.QueryParam{{Key: "name", Value: "jane doe"}})
	assert.Equal(t, "name=jane%20doe", got)
}

func TestEncodeQuery_JoinsMultipleParamsWithAmpersand(t *testing.T) {
	got := EncodeQuery([]domain.QueryParam{
		{Key: "f", Value: "json"},
		{Key: "where", Value: "1=1"},
	})
	assert.Equal(t, "f=json&where=1%3D1", got)
}

func TestEncodeQuery_Empty(t *testing.T) {
	assert.Equal(t, "", EncodeQuery(nil))
}

func TestMergeThenEncode_RoundTripsAndIsIdempotent(t *testing.T) {
	resourceQuery := []domain.QueryParam{{Key: "f", Value: "json"}}
	merged := MergeParams(resourceQuery, "where=state%3D%27CA%27")
	encoded := EncodeQuery(merged)

	reMerged := MergeParams(resourceQuery, encoded)
	assert.Equal(t, merged, reMerged)
}
