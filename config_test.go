//nolint:testpackage
package palm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
connections:
  sql:
    engine: sqlite
    database: app.db
  graph:
    engine: neo4j
    uri: bolt://localhost:7687
    username: neo4j
    password: secret
    options:
      database: people
models:
  - models
  - /abs/models
translate:
  max_iterations: 4
  timeout: 5s
  confirm: approve
  strict_deferred: true
  concurrency: 2
`

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	want := map[string]*ConnectionConfig{
		"sql": {Name: "sql", Engine: "sqlite", Database: "app.db"},
		"graph": {
			Name:     "graph",
			Engine:   "neo4j",
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
			Password: "secret",
			Options:  map[string]any{"database": "people"},
		},
	}
	if diff := cmp.Diff(want, cfg.Connections); diff != "" {
		t.Errorf("connections mismatch (-want +got):\n%s", diff)
	}

	wantTranslate := TranslateConfig{
		MaxIterations:  4,
		Timeout:        5 * time.Second,
		Confirm:        ConfirmApprove,
		StrictDeferred: true,
		Concurrency:    2,
	}
	if diff := cmp.Diff(wantTranslate, cfg.Translate); diff != "" {
		t.Errorf("translate mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"graph", "sql"}, cfg.ConnectionNames())
}

func TestParseConfig_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseConfig([]byte("connections:\n  sql:\n    database: x\n"))
	require.ErrorIs(t, err, ErrUnknownEngine)

	_, err = ParseConfig([]byte("connections:\n  sql:\n"))
	require.ErrorIs(t, err, ErrUnknownEngine)

	_, err = ParseConfig([]byte("connections: [\n"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".palm.yaml"), []byte(testConfig), 0o600))

	path, err := FindConfig(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".palm.yaml"), path)

	cfg, err := LoadConfig(nested)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(root, "models"), "/abs/models"}, cfg.ModelPaths())

	cfg.Models = nil
	assert.Equal(t, []string{root}, cfg.ModelPaths())
}

func TestLoadConfigFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := LoadConfigFile(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("connections:\n  x: {}\n"), 0o600))

	_, err = LoadConfigFile(bad)
	require.ErrorIs(t, err, ErrUnknownEngine)
	assert.Contains(t, err.Error(), bad)
}

func TestConfig_ModelPathsUnloaded(t *testing.T) {
	t.Parallel()

	cfg := &Config{Models: []string{"models"}}
	assert.Equal(t, []string{"models"}, cfg.ModelPaths())

	cfg = &Config{}
	assert.Equal(t, []string{"."}, cfg.ModelPaths())
}

func TestTranslateConfig_PipelineOptions(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	p := NewPipeline(NewCatalog(), cfg.Translate.PipelineOptions()...)
	assert.Equal(t, 4, p.maxIterations)
	assert.Equal(t, 5*time.Second, p.timeout)
	assert.True(t, p.strict)
	assert.Equal(t, 2, p.concurrency)

	p = NewPipeline(NewCatalog(), TranslateConfig{}.PipelineOptions()...)
	assert.Equal(t, DefaultMaxIterations, p.maxIterations)
	assert.Equal(t, DefaultTimeout, p.timeout)
	assert.False(t, p.strict)
	assert.Zero(t, p.concurrency)
}

func TestConfig_Engines(t *testing.T) {
	RegisterEngine("fake", func(cfg ConnectionConfig) (Engine, error) {
		return newFakeEngine(cfg.Name), nil
	})

	cfg := &Config{Connections: map[string]*ConnectionConfig{
		"b": {Name: "b", Engine: "fake"},
		"a": {Name: "a", Engine: "fake"},
	}}

	engs, err := cfg.Engines()
	require.NoError(t, err)
	require.Len(t, engs, 2)
	assert.Equal(t, "a", engs[0].ConnectionName())
	assert.Equal(t, "b", engs[1].ConnectionName())
	assert.Contains(t, RegisteredEngines(), "fake")

	cfg.Connections["c"] = &ConnectionConfig{Name: "c", Engine: "nope"}

	_, err = cfg.Engines()
	require.ErrorIs(t, err, ErrUnknownEngine)
	assert.Contains(t, err.Error(), `connection "c"`)
}

func TestConfirmationFor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := ConfirmationRequest{Total: 2}

	tests := map[string]bool{"": false, ConfirmDeny: false, ConfirmApprove: true}

	for mode, want := range tests {
		policy, err := ConfirmationFor(mode)
		require.NoError(t, err, mode)

		got, err := policy.Confirm(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, want, got, mode)
	}

	_, err := ConfirmationFor(ConfirmAsk)
	require.Error(t, err)
}

func TestNewBaseEngine(t *testing.T) {
	t.Parallel()

	fields := NewFieldParsers()
	b := NewBaseEngine("sqlite", "", fields)

	assert.Equal(t, "sqlite", b.Name())
	assert.Equal(t, DefaultConnection, b.ConnectionName())
	assert.Same(t, fields, b.Fields())
	assert.NotNil(t, b.Cache())
	assert.NotNil(t, b.Logger())

	b.SetLogger(nil)
	assert.NotNil(t, b.Logger())

	var _ LoggerSetter = b
}
