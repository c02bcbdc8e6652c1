package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrudd/kgbuild/internal/graphspec"
	"github.com/mrudd/kgbuild/internal/metadata"
	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSourceRunner struct {
	latestVersions map[string]string
	releases       map[string]*metadata.ReleaseInfo
	filePaths      map[string][]string
	runCalls       []string
	runErr         error
}

func newFakeSourceRunner() *fakeSourceRunner {
	return &fakeSourceRunner{
		latestVersions: map[string]string{},
		releases:       map[string]*metadata.ReleaseInfo{},
		filePaths:      map[string][]string{},
	}
}

func (f *fakeSourceRunner) GetLatestSourceVersion(ctx context.Context, sourceID string) (string, error) {
	return f.latestVersions[sourceID], nil
}

func (f *fakeSourceRunner) ReleaseInfo(sourceID, sourceVersion, releaseVersion string) (*metadata.ReleaseInfo, error) {
	return f.releases[sourceID+"@"+releaseVersion], nil
}

func (f *fakeSourceRunner) FinalFilePaths(sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme, supplementationVersion string) ([]string, error) {
	return f.filePaths[sourceID], nil
}

func (f *fakeSourceRunner) Run(ctx context.Context, sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme, supplementationVersion string) (string, error) {
	f.runCalls = append(f.runCalls, sourceID)
	if f.runErr != nil {
		return "", f.runErr
	}
	releaseVersion := metadata.GetSourceReleaseVersion(sourceID, sourceVersion, parsingVersion, scheme.CompositeVersion(), supplementationVersion)
	f.releases[sourceID+"@"+releaseVersion] = &metadata.ReleaseInfo{SourceVersion: sourceVersion, ParsingVersion: parsingVersion}
	return releaseVersion, nil
}

type fakeValidator struct {
	calls   int
	results map[string]any
}

func (f *fakeValidator) Validate(ctx context.Context, nodesPath, edgesPath, graphID, graphVersion string) (map[string]any, error) {
	f.calls++
	if f.results != nil {
		return f.results, nil
	}
	return map[string]any{"pass": true}, nil
}

func writeNDJSON(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func makeSource(t *testing.T, dir, id string, nodeLine, edgeLine string) *graphspec.DataSource {
	t.Helper()
	nodesPath := filepath.Join(dir, id+"_nodes.jsonl")
	edgesPath := filepath.Join(dir, id+"_edges.jsonl")
	writeNDJSON(t, nodesPath, nodeLine)
	writeNDJSON(t, edgesPath, edgeLine)
	return &graphspec.DataSource{
		ID:                  id,
		SourceVersion:       "v1",
		ParsingVersion:      "1.0",
		NormalizationScheme: normalize.DefaultScheme(),
		FilePaths:           []string{nodesPath, edgesPath},
	}
}

func TestDetermineGraphVersionResolvesLatestSourceVersionAndIsDeterministic(t *testing.T) {
	sr := newFakeSourceRunner()
	sr.latestVersions["ctd"] = "2024-01-01"
	gb := New(Config{GraphsDir: t.TempDir()}, Dependencies{Sources: sr, Validator: &fakeValidator{}}, map[string]*graphspec.GraphSpec{})

	spec := &graphspec.GraphSpec{
		GraphID: "g1",
		Sources: []*graphspec.DataSource{
			{ID: "ctd", ParsingVersion: "1.0", NormalizationScheme: normalize.DefaultScheme()},
		},
	}
	v1, err := gb.DetermineGraphVersion(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEmpty(t, v1)
	assert.Equal(t, "2024-01-01", spec.Sources[0].SourceVersion)

	// Recomputing against an already-versioned spec short-circuits.
	v2, err := gb.DetermineGraphVersion(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestBuildMergesSourcesAndRunsQC(t *testing.T) {
	graphsDir := t.TempDir()
	dataDir := t.TempDir()
	sr := newFakeSourceRunner()

	srcA := makeSource(t, dataDir, "a", `{"id":"HGNC:1"}`, `{"subject":"HGNC:1","predicate":"biolink:related_to","object":"MESH:1","primary_knowledge_source":"infores:ctd"}`)
	sr.filePaths["a"] = srcA.FilePaths
	sr.releases["a@"+srcA.Version()] = &metadata.ReleaseInfo{}

	spec := &graphspec.GraphSpec{GraphID: "g1", Sources: []*graphspec.DataSource{srcA}}
	validator := &fakeValidator{}
	gb := New(Config{GraphsDir: graphsDir}, Dependencies{Sources: sr, Validator: validator}, map[string]*graphspec.GraphSpec{"g1": spec})

	version, err := gb.Build(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEmpty(t, version)
	assert.Equal(t, 1, validator.calls)

	nodesOut := filepath.Join(gb.GraphDir("g1", version), nodesFilename)
	data, err := os.ReadFile(nodesOut)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HGNC:1")

	gm, err := metadata.NewGraphMetadata("g1", gb.GraphDir("g1", version))
	require.NoError(t, err)
	assert.Equal(t, metadata.Stable, gm.Doc.BuildStatus)

	// Second build call hits the STABLE short circuit and re-runs QC only
	// if results aren't already on disk; since they are, Validate must not
	// be called again.
	_, err = gb.Build(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 1, validator.calls)
}

func TestBuildRunsSourcePipelineWhenReleaseNotYetBuilt(t *testing.T) {
	graphsDir := t.TempDir()
	dataDir := t.TempDir()
	sr := newFakeSourceRunner()

	srcA := makeSource(t, dataDir, "a", `{"id":"HGNC:1"}`, `{"subject":"HGNC:1","predicate":"biolink:related_to","object":"MESH:1","primary_knowledge_source":"infores:ctd"}`)
	sr.filePaths["a"] = srcA.FilePaths
	// No release recorded yet: Build must invoke Run.

	spec := &graphspec.GraphSpec{GraphID: "g2", Sources: []*graphspec.DataSource{srcA}}
	gb := New(Config{GraphsDir: graphsDir}, Dependencies{Sources: sr, Validator: &fakeValidator{}}, map[string]*graphspec.GraphSpec{"g2": spec})

	_, err := gb.Build(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, sr.runCalls)
}

func TestBuildReturnsErrorWhenPreviousBuildFailed(t *testing.T) {
	graphsDir := t.TempDir()
	sr := newFakeSourceRunner()
	spec := &graphspec.GraphSpec{GraphID: "g3", GraphVersion: "fixedversion", Sources: []*graphspec.DataSource{
		{ID: "a", SourceVersion: "v1", NormalizationScheme: normalize.DefaultScheme()},
	}}
	gb := New(Config{GraphsDir: graphsDir}, Dependencies{Sources: sr, Validator: &fakeValidator{}}, map[string]*graphspec.GraphSpec{"g3": spec})

	gm, err := gb.graphMetadata("g3", "fixedversion")
	require.NoError(t, err)
	require.NoError(t, gm.SetBuildStatus(metadata.Failed, "", "boom"))

	_, err = gb.Build(context.Background(), spec)
	assert.Error(t, err)
}

func TestBuildDependenciesPopulatesSubgraphFilePaths(t *testing.T) {
	graphsDir := t.TempDir()
	sr := newFakeSourceRunner()

	subSpec := &graphspec.GraphSpec{GraphID: "sub", GraphVersion: "subv1"}
	gb := New(Config{GraphsDir: graphsDir}, Dependencies{Sources: sr, Validator: &fakeValidator{}}, map[string]*graphspec.GraphSpec{"sub": subSpec})

	subDir := gb.GraphDir("sub", "subv1")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	writeNDJSON(t, filepath.Join(subDir, nodesFilename), `{"id":"HGNC:1"}`)
	writeNDJSON(t, filepath.Join(subDir, edgesFilename))
	subMeta, err := metadata.NewGraphMetadata("sub", subDir)
	require.NoError(t, err)
	require.NoError(t, subMeta.SetBuildStatus(metadata.Stable, "", ""))

	parentSpec := &graphspec.GraphSpec{
		GraphID:   "parent",
		Subgraphs: []*graphspec.SubGraphSource{{ID: "sub", GraphVersion: "subv1"}},
	}
	require.NoError(t, gb.buildDependencies(context.Background(), parentSpec))
	assert.Equal(t, []string{filepath.Join(subDir, nodesFilename), filepath.Join(subDir, edgesFilename)}, parentSpec.Subgraphs[0].FilePaths)
}
