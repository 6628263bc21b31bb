package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/infrastructure/monitoring"
	"github.com/lattice-editor/exthost/internal/shared/types"
	"github.com/lattice-editor/exthost/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, extDir string) (*gin.Engine, *supervisor.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sup := supervisor.New(supervisor.Options{
		ExtensionsDir: extDir,
		Logger:        logging.NewNop(),
		Metrics:       monitoring.NewMetricsWith(prometheus.NewRegistry()),
	})
	handlers := NewHandlers(sup, logging.NewNop())

	router := gin.New()
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/host", handlers.HostState)
	router.GET("/extensions", handlers.ListExtensions)
	router.GET("/extensions/active", handlers.ListActiveExtensions)
	router.GET("/extensions/:id", handlers.GetExtension)
	router.POST("/extensions/scan", handlers.ScanExtensions)
	router.POST("/extensions/:id/activate", handlers.ActivateExtension)
	router.POST("/extensions/install", handlers.InstallExtension)
	router.POST("/commands/execute", handlers.ExecuteCommand)
	router.GET("/commands", handlers.ListCommands)
	router.GET("/contributions", handlers.GetContributions)
	return router, sup
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func writeExtensionDir(t *testing.T, root, id string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := fmt.Sprintf(
		`{"name":"%s","publisher":"acme","version":"1.0.0","compatibilityMarker":"1.0"}`,
		filepath.Ext(id)[1:])
	require.NoError(t, os.WriteFile(filepath.Join(dir, types.ManifestFileName), []byte(manifest), 0o644))
}

func TestRootAndHealth(t *testing.T) {
	router, _ := newTestRouter(t, t.TempDir())

	rec := doJSON(router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "online")

	rec = doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHostStateBeforeStart(t *testing.T) {
	router, _ := newTestRouter(t, t.TempDir())

	rec := doJSON(router, http.MethodGet, "/host", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_started", body["state"])
}

func TestScanAndListExtensions(t *testing.T) {
	extDir := t.TempDir()
	writeExtensionDir(t, extDir, "acme.foo")
	router, _ := newTestRouter(t, extDir)

	rec := doJSON(router, http.MethodPost, "/extensions/scan", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/extensions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count      int                        `json:"count"`
		Extensions []*types.ExtensionMetadata `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "acme.foo", body.Extensions[0].ID)
}

func TestGetExtensionNotFound(t *testing.T) {
	router, _ := newTestRouter(t, t.TempDir())

	rec := doJSON(router, http.MethodGet, "/extensions/ghost.ext", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivateWithoutRuntime(t *testing.T) {
	extDir := t.TempDir()
	writeExtensionDir(t, extDir, "acme.foo")
	router, sup := newTestRouter(t, extDir)
	_, err := sup.Scan()
	require.NoError(t, err)

	// No runtime process running: activation errors map to 422.
	rec := doJSON(router, http.MethodPost, "/extensions/acme.foo/activate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "runtime not ready")
}

func TestInstallValidation(t *testing.T) {
	router, _ := newTestRouter(t, t.TempDir())

	// Missing required field.
	rec := doJSON(router, http.MethodPost, "/extensions/install", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Nonexistent archive maps to 400 via the install error taxonomy.
	rec = doJSON(router, http.MethodPost, "/extensions/install",
		map[string]string{"archive_path": "/nowhere/pkg.zip"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteHostCommandEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, t.TempDir())

	rec := doJSON(router, http.MethodPost, "/commands/execute",
		map[string]interface{}{"command": "workbench.reload"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reloading")

	rec = doJSON(router, http.MethodPost, "/commands/execute",
		map[string]interface{}{"command": "no.such"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "command not found")
}

func TestContributionsEndpoint(t *testing.T) {
	extDir := t.TempDir()
	dir := filepath.Join(extDir, "acme.rich")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := `{
		"name": "rich",
		"publisher": "acme",
		"version": "1.0.0",
		"compatibilityMarker": "1.0",
		"contributes": {"commands": [{"command": "rich.run", "title": "Run"}]}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, types.ManifestFileName), []byte(manifest), 0o644))

	router, sup := newTestRouter(t, extDir)
	_, err := sup.Scan()
	require.NoError(t, err)

	rec := doJSON(router, http.MethodGet, "/contributions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var agg types.AggregateContributions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
	require.Len(t, agg.Commands, 1)
	assert.Equal(t, "acme.rich", agg.Commands[0].ExtensionID)
}

func TestStatusForTaxonomy(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(&types.StartupError{Reason: "x"}))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&types.ActivationError{ExtensionID: "a.b", Reason: "x"}))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&types.LoadError{ExtensionID: "a.b"}))
	assert.Equal(t, http.StatusBadRequest, statusFor(&types.InstallError{Archive: "a", Reason: "x"}))
	assert.Equal(t, http.StatusBadGateway, statusFor(&types.DownloadError{URL: "u", Reason: "x"}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
