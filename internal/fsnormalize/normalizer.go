// Package fsnormalize streams a source's parsed KGX node/edge files through
// the node and edge normalizers, rewriting IDs and predicates and producing
// a biolink-compliant normalized file pair. Grounded in full on
// orion/kgx_file_normalizer.py's KGXFileNormalizer.
package fsnormalize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mrudd/kgbuild/internal/errors"
	"github.com/mrudd/kgbuild/internal/model"
	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/mrudd/kgbuild/internal/stream"
	"github.com/sirupsen/logrus"
)

// outerBatchSize bounds how many records are held in memory at once while
// streaming through a file, matching NODE_NORMALIZATION_BATCH_SIZE /
// EDGE_NORMALIZATION_BATCH_SIZE.
const outerBatchSize = 1_000_000

// Config carries every file path and flag KGXFileNormalizer's constructor
// takes.
type Config struct {
	SourceNodesPath           string
	NodesOutputPath           string
	NodeNormMapPath           string
	NodeNormFailuresPath      string
	SourceEdgesPath           string
	EdgesOutputPath           string
	EdgeNormPredicateMapPath  string
	Scheme                    normalize.Scheme
	EdgeSubjectPreNormalized  bool
	EdgeObjectPreNormalized   bool
	PredicatesPreNormalized   bool
	DefaultProvenance         string
	PreserveUnconnectedNodes  bool
	InnerBatchSize            int
}

// FileNormalizer runs the full node+edge normalization pass for one source,
// grounded on KGXFileNormalizer.
type FileNormalizer struct {
	cfg    Config
	nodeN  *normalize.NodeNormalizer
	edgeN  *normalize.EdgeNormalizer
	logger *logrus.Entry

	metadata map[string]any
}

func New(cfg Config, nodeNormalizer *normalize.NodeNormalizer, edgeNormalizer *normalize.EdgeNormalizer, logger *logrus.Entry) *FileNormalizer {
	if cfg.InnerBatchSize <= 0 {
		cfg.InnerBatchSize = 1000
	}
	return &FileNormalizer{
		cfg:    cfg,
		nodeN:  nodeNormalizer,
		edgeN:  edgeNormalizer,
		logger: logger,
		metadata: map[string]any{
			"strict":     cfg.Scheme.Strict,
			"conflation": cfg.Scheme.Conflation,
		},
	}
}

// NormalizeKGXFiles runs the node pass, then the edge pass, then (unless
// configured to preserve them) strips unconnected nodes, returning the
// accumulated normalization_metadata dict.
func (fn *FileNormalizer) NormalizeKGXFiles(ctx context.Context) (map[string]any, error) {
	if err := fn.normalizeNodeFile(ctx); err != nil {
		return nil, err
	}
	if err := fn.normalizeEdgeFile(ctx); err != nil {
		return nil, err
	}
	if !fn.cfg.PreserveUnconnectedNodes {
		removed, err := removeUnconnectedNodes(fn.cfg.NodesOutputPath, fn.cfg.EdgesOutputPath)
		if err != nil {
			return nil, err
		}
		fn.metadata["unconnected_nodes_removed"] = removed
	} else {
		fn.metadata["unconnected_nodes_removed"] = 0
	}
	return fn.metadata, nil
}

func (fn *FileNormalizer) normalizeNodeFile(ctx context.Context) error {
	reader, err := stream.NewNodeReader(fn.cfg.SourceNodesPath)
	if err != nil {
		return errors.NormalizationFailedError(err, fmt.Sprintf("error reading nodes file %s", fn.cfg.SourceNodesPath))
	}
	defer reader.Close()

	writer, err := stream.NewWriter(fn.cfg.NodesOutputPath, "", func(msg string) { fn.logger.Warn(msg) })
	if err != nil {
		return errors.NormalizationFailedError(err, "opening normalized node output file")
	}
	defer writer.Close()

	var nodesPreNorm, nodesPostNorm int
	for {
		chunk, readErr := readNodeChunk(reader, outerBatchSize)
		if len(chunk) == 0 && readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.EOF {
			return errors.NormalizationFailedError(readErr, fmt.Sprintf("error reading nodes file %s", fn.cfg.SourceNodesPath))
		}

		nodesPreNorm += len(chunk)
		normalized, _, err := fn.nodeN.NormalizeNodes(ctx, chunk, fn.cfg.InnerBatchSize)
		if err != nil {
			return errors.NormalizationFailedError(err, "error during node normalization")
		}
		nodesPostNorm += len(normalized)

		for _, n := range normalized {
			if err := writer.WriteNode(n); err != nil {
				return errors.NormalizationFailedError(err, "writing normalized node")
			}
		}
		fn.logger.Infof("normalized %d nodes so far", nodesPreNorm)

		if readErr == io.EOF {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return errors.NormalizationFailedError(err, "closing normalized node output file")
	}

	if err := writeJSON(fn.cfg.NodeNormMapPath, map[string]any{"normalization_map": fn.nodeN.LookupMap()}); err != nil {
		return errors.NormalizationFailedError(err, "writing normalization map file")
	}

	failed := fn.nodeN.FailedIDs()
	if len(failed) > 0 {
		if err := writeLines(fn.cfg.NodeNormFailuresPath, failed); err != nil {
			return errors.NormalizationFailedError(err, "writing normalization failures file")
		}
	}

	discardedDuplicates := writer.RepeatNodeCount()
	fn.metadata["node_count_pre_normalization"] = nodesPreNorm
	fn.metadata["node_count_post_normalization"] = nodesPostNorm
	fn.metadata["node_normalization_failures"] = len(failed)
	fn.metadata["discarded_duplicate_node_count"] = discardedDuplicates
	fn.metadata["final_normalized_nodes"] = nodesPostNorm - discardedDuplicates
	return nil
}

func readNodeChunk(r *stream.NodeReader, size int) ([]*model.Node, error) {
	chunk := make([]*model.Node, 0, size)
	for len(chunk) < size {
		n, err := r.Next()
		if err != nil {
			return chunk, err
		}
		chunk = append(chunk, n)
	}
	return chunk, nil
}

func (fn *FileNormalizer) normalizeEdgeFile(ctx context.Context) error {
	reader, err := stream.NewRawReader(fn.cfg.SourceEdgesPath)
	if err != nil {
		return errors.NormalizationFailedError(err, fmt.Sprintf("error reading edges file %s", fn.cfg.SourceEdgesPath))
	}
	defer reader.Close()

	writer, err := stream.NewWriter("", fn.cfg.EdgesOutputPath, func(msg string) { fn.logger.Warn(msg) }, stream.WithoutNodeDedup())
	if err != nil {
		return errors.NormalizationFailedError(err, "opening normalized edge output file")
	}
	defer writer.Close()

	var sourceEdges, normalizedCount, edgeSplits, edgesFailedDueToNodes, subclassLoopsRemoved int
	edgeNormFailures := map[string]struct{}{}

	for {
		chunk, readErr := readRawChunk(reader, outerBatchSize)
		if len(chunk) == 0 && readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.EOF {
			return errors.NormalizationFailedError(readErr, fmt.Sprintf("error normalizing edges file %s", fn.cfg.SourceEdgesPath))
		}
		sourceEdges += len(chunk)

		if !fn.cfg.PredicatesPreNormalized {
			edges := make([]*model.Edge, len(chunk))
			for i, raw := range chunk {
				edges[i] = model.EdgeFromMap(raw)
			}
			failed, err := fn.edgeN.NormalizeEdges(ctx, edges, fn.cfg.InnerBatchSize)
			if err != nil {
				return errors.NormalizationFailedError(err, "error during edge normalization")
			}
			for _, p := range failed {
				edgeNormFailures[p] = struct{}{}
			}
		}

		for _, raw := range chunk {
			splits, failedDueToNodes, subclassLoop, err := fn.normalizeOneEdge(raw, writer)
			if err != nil {
				return err
			}
			if failedDueToNodes {
				edgesFailedDueToNodes++
				continue
			}
			normalizedCount += splits
			if splits > 1 {
				edgeSplits += splits - 1
			}
			subclassLoopsRemoved += subclassLoop
		}
		fn.logger.Infof("processed %d edges so far", sourceEdges)

		if readErr == io.EOF {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return errors.NormalizationFailedError(err, "closing normalized edge output file")
	}

	predicateMap := map[string]any{}
	for predicate, result := range fn.edgeN.LookupAll() {
		predicateMap[predicate] = map[string]any{
			"predicate":  result.Predicate,
			"inverted":   result.Inverted,
			"properties": result.Properties,
		}
	}
	failuresList := make([]string, 0, len(edgeNormFailures))
	for p := range edgeNormFailures {
		failuresList = append(failuresList, p)
	}
	if err := writeJSON(fn.cfg.EdgeNormPredicateMapPath, map[string]any{
		"predicate_map":          predicateMap,
		"predicate_norm_failures": failuresList,
	}); err != nil {
		return errors.NormalizationFailedError(err, "error writing edge predicate map file")
	}

	fn.metadata["biolink_version"] = fn.edgeN.Version()
	fn.metadata["source_edges"] = sourceEdges
	fn.metadata["edges_failed_due_to_nodes"] = edgesFailedDueToNodes
	fn.metadata["edge_splits"] = edgeSplits
	fn.metadata["subclass_loops_removed"] = subclassLoopsRemoved
	fn.metadata["final_normalized_edges"] = normalizedCount
	return nil
}

// normalizeOneEdge expands a single source edge into zero or more
// normalized edges (a split occurs when an endpoint normalizes to multiple
// IDs), writing each to w. It returns the number of edges written, whether
// the edge failed because one of its endpoints never normalized, and how
// many subclass_of self-loops were discarded.
func (fn *FileNormalizer) normalizeOneEdge(edge map[string]any, w *stream.Writer) (written int, failedDueToNodes bool, subclassLoops int, err error) {
	subjectID, _ := edge[model.SubjectID].(string)
	objectID, _ := edge[model.ObjectID].(string)
	predicate, _ := edge[model.Predicate].(string)

	var normalizedSubjectIDs, normalizedObjectIDs []string
	if fn.cfg.EdgeSubjectPreNormalized {
		normalizedSubjectIDs = []string{subjectID}
	} else if ids, ok := fn.nodeN.Lookup(subjectID); ok {
		normalizedSubjectIDs = ids
	}
	if fn.cfg.EdgeObjectPreNormalized {
		normalizedObjectIDs = []string{objectID}
	} else if ids, ok := fn.nodeN.Lookup(objectID); ok {
		normalizedObjectIDs = ids
	}

	if len(normalizedSubjectIDs) == 0 || len(normalizedObjectIDs) == 0 {
		return 0, true, 0, nil
	}

	var normalizedPredicate string
	var inverted bool
	var normalizedProps map[string]any
	if fn.cfg.PredicatesPreNormalized {
		normalizedPredicate = predicate
	} else {
		result, ok := fn.edgeN.Lookup(predicate)
		if !ok {
			return 0, false, 0, errors.NormalizationFailedErrorf("edge norm lookup failure - missing %s", predicate)
		}
		normalizedPredicate = result.Predicate
		inverted = result.Inverted
		normalizedProps = result.Properties
	}

	if _, hasSources := edge[model.RetrievalSources]; !hasSources {
		if _, hasPrimary := edge[model.PrimaryKnowledgeSource]; !hasPrimary {
			edge[model.PrimaryKnowledgeSource] = fn.cfg.DefaultProvenance
		}
	}

	for _, subj := range normalizedSubjectIDs {
		for _, obj := range normalizedObjectIDs {
			if normalizedPredicate == model.SubclassOf && subj == obj {
				subclassLoops++
				continue
			}

			normalized := make(map[string]any, len(edge)+len(normalizedProps)+4)
			for k, v := range edge {
				normalized[k] = v
			}
			normalized[model.OriginalSubject] = normalized[model.SubjectID]
			normalized[model.OriginalObject] = normalized[model.ObjectID]
			normalized[model.Predicate] = normalizedPredicate
			for k, v := range normalizedProps {
				normalized[k] = v
			}
			normalized[model.SubjectID] = subj
			normalized[model.ObjectID] = obj

			if inverted {
				normalized = invertEdge(normalized)
			}

			if err := w.WriteRawEdge(normalized); err != nil {
				return written, false, subclassLoops, err
			}
			written++
		}
	}
	return written, false, subclassLoops, nil
}

func readRawChunk(r *stream.RawReader, size int) ([]map[string]any, error) {
	chunk := make([]map[string]any, 0, size)
	for len(chunk) < size {
		m, err := r.Next()
		if err != nil {
			return chunk, err
		}
		chunk = append(chunk, m)
	}
	return chunk, nil
}

// invertEdge swaps subject/object in every property key containing those
// words, verbatim substring replacement, matching invert_edge exactly.
func invertEdge(edge map[string]any) map[string]any {
	inverted := make(map[string]any, len(edge))
	for key, value := range edge {
		switch {
		case strings.Contains(key, model.SubjectID):
			inverted[strings.ReplaceAll(key, model.SubjectID, model.ObjectID)] = value
		case strings.Contains(key, model.ObjectID):
			inverted[strings.ReplaceAll(key, model.ObjectID, model.SubjectID)] = value
		default:
			inverted[key] = value
		}
	}
	return inverted
}

// removeUnconnectedNodes drops every node not referenced by any edge,
// matching remove_unconnected_nodes's rename-then-rewrite approach.
func removeUnconnectedNodes(nodesPath, edgesPath string) (int, error) {
	utilized := map[string]struct{}{}
	edgeReader, err := stream.NewRawReader(edgesPath)
	if err != nil {
		return 0, errors.NormalizationFailedError(err, fmt.Sprintf("reading edges file %s", edgesPath))
	}
	for {
		e, err := edgeReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			edgeReader.Close()
			return 0, errors.NormalizationFailedError(err, "scanning edges for unconnected-node removal")
		}
		if subj, ok := e[model.SubjectID].(string); ok {
			utilized[subj] = struct{}{}
		}
		if obj, ok := e[model.ObjectID].(string); ok {
			utilized[obj] = struct{}{}
		}
	}
	edgeReader.Close()

	tempPath := nodesPath + ".temp"
	if err := os.Rename(nodesPath, tempPath); err != nil {
		return 0, errors.NormalizationFailedError(err, "renaming node file for unconnected-node removal")
	}

	nodeReader, err := stream.NewNodeReader(tempPath)
	if err != nil {
		return 0, errors.NormalizationFailedError(err, "reopening temp node file")
	}

	writer, err := stream.NewWriter(nodesPath, "", nil, stream.WithoutNodeDedup())
	if err != nil {
		nodeReader.Close()
		return 0, errors.NormalizationFailedError(err, "opening node file for unconnected-node rewrite")
	}

	removed := 0
	for {
		n, err := nodeReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			nodeReader.Close()
			writer.Close()
			return 0, errors.NormalizationFailedError(err, "scanning temp node file")
		}
		if _, ok := utilized[n.ID]; ok {
			if err := writer.WriteNode(n); err != nil {
				nodeReader.Close()
				writer.Close()
				return 0, err
			}
		} else {
			removed++
		}
	}
	nodeReader.Close()
	if err := writer.Close(); err != nil {
		return 0, err
	}
	if err := os.Remove(tempPath); err != nil {
		return 0, err
	}
	return removed, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}
