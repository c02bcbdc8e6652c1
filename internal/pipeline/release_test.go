package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mrudd/kgbuild/internal/logging"
	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/mrudd/kgbuild/internal/supplement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLatestSourceVersionAndParsingVersionAreExported(t *testing.T) {
	dir := t.TempDir()
	logger := logging.ForSource("test")
	loader := &fakeLoader{latestVersion: "v3", needsDownload: false}
	sp := New(Config{StorageDir: dir}, Dependencies{
		Loaders: LoaderRegistry{"testsource": func(testMode bool, sourceDataDir string) SourceLoader { return loader }},
	}, logger)

	v, err := sp.GetLatestSourceVersion(context.Background(), "testsource")
	require.NoError(t, err)
	assert.Equal(t, "v3", v)

	assert.Equal(t, "1.0", sp.GetLatestParsingVersion("testsource"))
}

func TestReleaseInfoAndFinalFilePathsAfterRun(t *testing.T) {
	nodeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MESH:D003920":null,"HGNC:1100":null}`))
	}))
	defer nodeServer.Close()
	edgeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/versions":
			w.Write([]byte(`["4.2.1"]`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer edgeServer.Close()

	dir := t.TempDir()
	logger := logging.ForSource("test")
	ctx := context.Background()
	loader := &fakeLoader{latestVersion: "v1", needsDownload: false}
	validator := &fakeValidator{}

	normalizerFactory := func(ctx context.Context, scheme normalize.Scheme) (*normalize.NodeNormalizer, *normalize.EdgeNormalizer, error) {
		nodeN := normalize.NewNodeNormalizer(normalize.NodeNormalizerConfig{
			Endpoint: nodeServer.URL, Concurrency: 1, Timeout: 5 * time.Second, RateLimit: 1000, Strict: true,
		}, logger)
		edgeN, err := normalize.NewEdgeNormalizer(ctx, normalize.EdgeNormalizerConfig{
			Endpoint: edgeServer.URL, Version: "latest", Concurrency: 1, Timeout: 5 * time.Second, RateLimit: 1000,
		}, logger)
		return nodeN, edgeN, err
	}
	supplementerFactory := func(workDir string) *supplement.VariantSupplementer {
		return supplement.New(supplement.Config{WorkDir: workDir}, logger)
	}

	sp := New(Config{StorageDir: dir, RetryDelay: time.Millisecond}, Dependencies{
		Loaders:             LoaderRegistry{"testsource": func(testMode bool, sourceDataDir string) SourceLoader { return loader }},
		NormalizerFactory:   normalizerFactory,
		SupplementerFactory: supplementerFactory,
		Validator:           validator,
	}, logger)

	scheme := normalize.DefaultScheme()
	release, err := sp.Run(ctx, "testsource", "latest", "latest", scheme, "latest")
	require.NoError(t, err)
	require.NotEmpty(t, release)

	ri, err := sp.ReleaseInfo("testsource", "v1", release)
	require.NoError(t, err)
	require.NotNil(t, ri)
	assert.Equal(t, "v1", ri.SourceVersion)

	missing, err := sp.ReleaseInfo("testsource", "v1", "not-a-real-release")
	require.NoError(t, err)
	assert.Nil(t, missing)

	paths, err := sp.FinalFilePaths("testsource", "v1", "1.0", scheme, supplement.Version)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}
