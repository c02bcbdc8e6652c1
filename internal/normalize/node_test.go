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

func TestNormalizeNodesRewritesIDsAndSynonyms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req nodeNormRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]*nodeNormResult{}
		for _, curie := range req.Curies {
			if curie == "MESH:D003920" {
				resp[curie] = &nodeNormResult{
					ID:       nodeNormIDSection{Identifier: "MONDO:0005148", Label: "type 2 diabetes"},
					Type:     []string{"biolink:Disease"},
					Synonyms: []nodeNormSynonym{{Identifier: "MONDO:0005148"}, {Identifier: "MESH:D003920"}},
				}
			} else {
				resp[curie] = nil
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	logger := logging.ForSource("test")
	nn := NewNodeNormalizer(NodeNormalizerConfig{
		Endpoint:    server.URL,
		Concurrency: 2,
		Timeout:     5 * time.Second,
		MaxRetries:  0,
		RateLimit:   1000,
		Strict:      true,
	}, logger)

	nodes := []*model.Node{
		model.NewNode("MESH:D003920", "", nil, nil),
		model.NewNode("UNKNOWN:1", "", nil, nil),
	}

	out, failed, err := nn.NormalizeNodes(context.Background(), nodes, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "MONDO:0005148", out[0].ID)
	assert.Equal(t, "type 2 diabetes", out[0].Name)
	assert.Contains(t, failed, "UNKNOWN:1")

	lookup, ok := nn.Lookup("MESH:D003920")
	require.True(t, ok)
	assert.Equal(t, []string{"MONDO:0005148"}, lookup)

	_, unchangedKey := nn.Lookup("MONDO:0005148")
	assert.False(t, unchangedKey, "lookup must be keyed by the original CURIE, not the normalized one")
}

func TestNormalizeNodesNonStrictKeepsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req nodeNormRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]*nodeNormResult{}
		for _, curie := range req.Curies {
			resp[curie] = nil
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	nn := NewNodeNormalizer(NodeNormalizerConfig{
		Endpoint:    server.URL,
		Concurrency: 1,
		Timeout:     5 * time.Second,
		RateLimit:   1000,
		Strict:      false,
	}, logging.ForSource("test"))

	nodes := []*model.Node{model.NewNode("UNKNOWN:1", "", nil, nil)}
	out, failed, err := nn.NormalizeNodes(context.Background(), nodes, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "UNKNOWN:1", out[0].ID)
	assert.Contains(t, failed, "UNKNOWN:1")
}
