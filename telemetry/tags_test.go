package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	return InjectTags(r)
}

func TestInjectTags_DefaultsCacheResultToBypass(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)
	require.NotNil(t, tags)
	require.Equal(t, CacheBypass, tags.CacheResult)
	require.Empty(t, tags.Namespace)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	require.Nil(t, GetTags(r))
}

func TestSetNamespace(t *testing.T) {
	r := newTaggedRequest()
	SetNamespace(r, "react-docs")
	require.Equal(t, "react-docs", GetTags(r).Namespace)
}

func TestSetters_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	SetNamespace(r, "docs") // should not panic
	SetCacheResult(r, CacheHit)
	SetEndpoint(r, "entry")
}

func TestSetCacheResult_OverridesDefault(t *testing.T) {
	r := newTaggedRequest()
	SetCacheResult(r, CacheExpired)
	require.Equal(t, CacheExpired, GetTags(r).CacheResult)
}

func TestTagsMutationVisibleThroughPointer(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)

	SetNamespace(r, "docs")
	SetCacheResult(r, CacheHit)
	SetEndpoint(r, "entry")

	require.Equal(t, "docs", tags.Namespace)
	require.Equal(t, CacheHit, tags.CacheResult)
	require.Equal(t, "entry", tags.Endpoint)
}

func TestNamespaceFromContext(t *testing.T) {
	require.Empty(t, NamespaceFromContext(context.Background()))

	ctx := WithNamespaceContext(context.Background(), "bg")
	require.Equal(t, "bg", NamespaceFromContext(ctx))

	r := newTaggedRequest()
	SetNamespace(r, "req")
	require.Equal(t, "req", NamespaceFromContext(r.Context()))

	// explicit background value wins over request tags
	require.Equal(t, "bg", NamespaceFromContext(WithNamespaceContext(r.Context(), "bg")))
}
