package normalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mrudd/kgbuild/internal/logging"
	"github.com/mrudd/kgbuild/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEdgeNormServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/versions":
			json.NewEncoder(w).Encode([]string{"4.2.1"})
		case r.URL.Path == "/resolve_predicate":
			predicates := r.URL.Query()["predicate"]
			resp := map[string]map[string]any{}
			for _, p := range predicates {
				if p == "biolink:gene_associated_with_condition" {
					resp[p] = map[string]any{"predicate": "biolink:condition_associated_with_gene", "inverted": true}
				} else if p == "biolink:treats" {
					resp[p] = map[string]any{"predicate": "biolink:treats", "inverted": false}
				}
			}
			json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestNormalizeEdgesResolvesAndCachesPredicates(t *testing.T) {
	server := newEdgeNormServer(t)
	defer server.Close()

	en, err := NewEdgeNormalizer(context.Background(), EdgeNormalizerConfig{
		Endpoint:    server.URL,
		Version:     "latest",
		Concurrency: 2,
		Timeout:     5 * time.Second,
		RateLimit:   1000,
	}, logging.ForSource("test"))
	require.NoError(t, err)
	assert.Equal(t, "4.2.1", en.Version())

	edges := []*model.Edge{
		model.NewEdge("HGNC:1", "MONDO:1", "biolink:gene_associated_with_condition", "infores:ctd", nil, nil),
		model.NewEdge("CHEBI:1", "MONDO:1", "biolink:treats", "infores:ctd", nil, nil),
	}
	failed, err := en.NormalizeEdges(context.Background(), edges, 50)
	require.NoError(t, err)
	assert.Empty(t, failed)

	r1, ok := en.Lookup("biolink:gene_associated_with_condition")
	require.True(t, ok)
	assert.True(t, r1.Inverted)
	assert.Equal(t, "biolink:condition_associated_with_gene", r1.Predicate)

	r2, ok := en.Lookup("biolink:treats")
	require.True(t, ok)
	assert.False(t, r2.Inverted)
}

func TestNormalizeEdgesFallsBackOnUnresolvedPredicate(t *testing.T) {
	server := newEdgeNormServer(t)
	defer server.Close()

	en, err := NewEdgeNormalizer(context.Background(), EdgeNormalizerConfig{
		Endpoint:    server.URL,
		Version:     "latest",
		Concurrency: 1,
		Timeout:     5 * time.Second,
		RateLimit:   1000,
	}, logging.ForSource("test"))
	require.NoError(t, err)

	edges := []*model.Edge{
		model.NewEdge("HGNC:1", "MONDO:1", "biolink:some_unmapped_predicate", "infores:ctd", nil, nil),
	}
	failed, err := en.NormalizeEdges(context.Background(), edges, 50)
	require.NoError(t, err)
	assert.Contains(t, failed, "biolink:some_unmapped_predicate")

	r, ok := en.Lookup("biolink:some_unmapped_predicate")
	require.True(t, ok)
	assert.Equal(t, FallbackEdgePredicate, r.Predicate)
}
