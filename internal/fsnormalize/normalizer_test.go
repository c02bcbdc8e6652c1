package fsnormalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrudd/kgbuild/internal/logging"
	"github.com/mrudd/kgbuild/internal/model"
	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/mrudd/kgbuild/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startNodeNormServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Curies []string `json:"curies"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{}
		for _, c := range req.Curies {
			if c == "MESH:D003920" {
				resp[c] = map[string]any{
					"id":      map[string]any{"identifier": "MONDO:0005148", "label": "type 2 diabetes"},
					"type":    []string{"biolink:Disease"},
					"synonym": []map[string]any{{"identifier": "MONDO:0005148"}},
				}
			} else if c == "HGNC:1100" {
				resp[c] = map[string]any{
					"id":      map[string]any{"identifier": "HGNC:1100", "label": "BRCA1"},
					"type":    []string{"biolink:Gene"},
					"synonym": []map[string]any{{"identifier": "HGNC:1100"}},
				}
			} else if c == "MESH:D999999" {
				resp[c] = map[string]any{
					"id":      map[string]any{"identifier": "MONDO:9999999", "label": "some other disease"},
					"type":    []string{"biolink:Disease"},
					"synonym": []map[string]any{{"identifier": "MONDO:9999999"}},
				}
			} else {
				resp[c] = nil
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func startEdgeNormServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/versions":
			json.NewEncoder(w).Encode([]string{"4.2.1"})
		case "/resolve_predicate":
			preds := r.URL.Query()["predicate"]
			resp := map[string]any{}
			for _, p := range preds {
				if p == "biolink:gene_associated_with_condition" {
					resp[p] = map[string]any{"predicate": "biolink:condition_associated_with_gene", "inverted": true}
				}
			}
			json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestNormalizeKGXFilesEndToEnd(t *testing.T) {
	nodeServer := startNodeNormServer(t)
	defer nodeServer.Close()
	edgeServer := startEdgeNormServer(t)
	defer edgeServer.Close()

	dir := t.TempDir()
	sourceNodes := filepath.Join(dir, "source_nodes.jsonl")
	sourceEdges := filepath.Join(dir, "source_edges.jsonl")

	nw, err := stream.NewWriter(sourceNodes, "", nil)
	require.NoError(t, err)
	require.NoError(t, nw.WriteNode(model.NewNode("MESH:D003920", "", nil, nil)))
	require.NoError(t, nw.WriteNode(model.NewNode("HGNC:1100", "", nil, nil)))
	require.NoError(t, nw.WriteNode(model.NewNode("MESH:D999999", "", nil, nil)))
	require.NoError(t, nw.Close())

	ew, err := stream.NewWriter("", sourceEdges, nil)
	require.NoError(t, err)
	require.NoError(t, ew.WriteEdge(model.NewEdge("HGNC:1100", "MESH:D003920", "biolink:gene_associated_with_condition", "infores:ctd", nil, nil)))
	// Both endpoints here actually get renormalized to new IDs, exercising
	// Lookup() on the object side too (not just the no-op HGNC:1100 case above).
	require.NoError(t, ew.WriteEdge(model.NewEdge("MESH:D003920", "MESH:D999999", "biolink:related_to", "infores:ctd", nil, nil)))
	require.NoError(t, ew.Close())

	ctx := context.Background()
	logger := logging.ForSource("test")

	nodeN := normalize.NewNodeNormalizer(normalize.NodeNormalizerConfig{
		Endpoint: nodeServer.URL, Concurrency: 2, Timeout: 5 * time.Second, RateLimit: 1000, Strict: true,
	}, logger)
	edgeN, err := normalize.NewEdgeNormalizer(ctx, normalize.EdgeNormalizerConfig{
		Endpoint: edgeServer.URL, Version: "latest", Concurrency: 2, Timeout: 5 * time.Second, RateLimit: 1000,
	}, logger)
	require.NoError(t, err)

	cfg := Config{
		SourceNodesPath:          sourceNodes,
		NodesOutputPath:          filepath.Join(dir, "norm_nodes.jsonl"),
		NodeNormMapPath:          filepath.Join(dir, "node_norm_map.json"),
		NodeNormFailuresPath:     filepath.Join(dir, "node_norm_failures.txt"),
		SourceEdgesPath:          sourceEdges,
		EdgesOutputPath:          filepath.Join(dir, "norm_edges.jsonl"),
		EdgeNormPredicateMapPath: filepath.Join(dir, "predicate_map.json"),
		Scheme:                   normalize.DefaultScheme(),
		DefaultProvenance:        "infores:kgbuild",
	}
	fn := New(cfg, nodeN, edgeN, logger)

	metadata, err := fn.NormalizeKGXFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, metadata["node_count_post_normalization"])
	assert.Equal(t, 2, metadata["final_normalized_edges"])

	edgeReader, err := stream.NewRawReader(cfg.EdgesOutputPath)
	require.NoError(t, err)
	defer edgeReader.Close()

	firstEdge, err := edgeReader.Next()
	require.NoError(t, err)
	// The edge was inverted by normalization, so subject/object swapped.
	assert.Equal(t, "MONDO:0005148", firstEdge[model.SubjectID])
	assert.Equal(t, "HGNC:1100", firstEdge[model.ObjectID])
	assert.Equal(t, "biolink:condition_associated_with_gene", firstEdge[model.Predicate])

	secondEdge, err := edgeReader.Next()
	require.NoError(t, err)
	// Both endpoints of this edge actually got renormalized to new IDs; this
	// only resolves correctly if the node lookup is keyed by the original
	// CURIE rather than the already-rewritten one.
	assert.Equal(t, "MONDO:0005148", secondEdge[model.SubjectID])
	assert.Equal(t, "MONDO:9999999", secondEdge[model.ObjectID])
	assert.Equal(t, "biolink:related_to", secondEdge[model.Predicate])
}
