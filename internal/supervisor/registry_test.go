package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/infrastructure/monitoring"
	"github.com/lattice-editor/exthost/internal/shared/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeExtension lays out an extension directory with a manifest and an
// optional entry module.
func writeExtension(t *testing.T, root, publisher, name, mainJS string) string {
	t.Helper()
	dir := filepath.Join(root, publisher+"."+name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := fmt.Sprintf(
		`{"name":%q,"publisher":%q,"version":"1.0.0","compatibilityMarker":"1.0"}`,
		name, publisher)
	require.NoError(t, os.WriteFile(filepath.Join(dir, types.ManifestFileName), []byte(manifest), 0o644))

	if mainJS != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte(mainJS), 0o644))
	}
	return dir
}

func newScanOnlySupervisor(extDir, builtinDir string) *Supervisor {
	return New(Options{
		ExtensionsDir: extDir,
		BuiltinDir:    builtinDir,
		Logger:        logging.NewNop(),
		Metrics:       monitoring.NewMetricsWith(prometheus.NewRegistry()),
	})
}

func TestScanFindsExtensions(t *testing.T) {
	extDir := t.TempDir()
	writeExtension(t, extDir, "acme", "foo", "")
	writeExtension(t, extDir, "acme", "bar", "")

	// A directory without a manifest and a stray file are both skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(extDir, "not-an-extension"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extDir, "README.md"), []byte("hi"), 0o644))

	sup := newScanOnlySupervisor(extDir, "")
	list, err := sup.Scan()
	require.NoError(t, err)

	require.Len(t, list, 2)
	assert.Equal(t, "acme.bar", list[0].ID)
	assert.Equal(t, "acme.foo", list[1].ID)
	assert.False(t, list[0].IsActive)
	assert.False(t, list[0].IsBuiltin)
}

func TestScanSkipsInvalidManifests(t *testing.T) {
	extDir := t.TempDir()
	writeExtension(t, extDir, "acme", "good", "")

	// Malformed JSON.
	brokenDir := filepath.Join(extDir, "broken")
	require.NoError(t, os.MkdirAll(brokenDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(brokenDir, types.ManifestFileName), []byte("{nope"), 0o644))

	// Valid JSON, missing the compatibility marker.
	staleDir := filepath.Join(extDir, "stale")
	require.NoError(t, os.MkdirAll(staleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staleDir, types.ManifestFileName),
		[]byte(`{"name":"stale","publisher":"old","version":"0.1.0"}`), 0o644))

	sup := newScanOnlySupervisor(extDir, "")
	list, err := sup.Scan()
	require.NoError(t, err)

	// The bad directories never abort the scan.
	require.Len(t, list, 1)
	assert.Equal(t, "acme.good", list[0].ID)
}

func TestScanMarksBuiltins(t *testing.T) {
	extDir := t.TempDir()
	builtinDir := t.TempDir()
	writeExtension(t, extDir, "acme", "user", "")
	writeExtension(t, builtinDir, "core", "shipped", "")

	sup := newScanOnlySupervisor(extDir, builtinDir)
	list, err := sup.Scan()
	require.NoError(t, err)

	require.Len(t, list, 2)
	byID := make(map[string]*types.ExtensionMetadata)
	for _, meta := range list {
		byID[meta.ID] = meta
	}
	assert.True(t, byID["core.shipped"].IsBuiltin)
	assert.False(t, byID["acme.user"].IsBuiltin)
}

func TestScanMissingDirectory(t *testing.T) {
	sup := newScanOnlySupervisor(filepath.Join(t.TempDir(), "nowhere"), "")
	list, err := sup.Scan()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMetadataReturnsCopy(t *testing.T) {
	extDir := t.TempDir()
	writeExtension(t, extDir, "acme", "foo", "")

	sup := newScanOnlySupervisor(extDir, "")
	_, err := sup.Scan()
	require.NoError(t, err)

	meta, ok := sup.Metadata("acme.foo")
	require.True(t, ok)
	meta.Version = "tampered"

	fresh, ok := sup.Metadata("acme.foo")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", fresh.Version)
}

func TestMetadataUnknown(t *testing.T) {
	sup := newScanOnlySupervisor(t.TempDir(), "")
	_, ok := sup.Metadata("ghost.ext")
	assert.False(t, ok)
}
