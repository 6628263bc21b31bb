package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/shared/types"
	"github.com/lattice-editor/exthost/internal/supervisor"
)

// Handlers contains all HTTP handlers for the control API.
type Handlers struct {
	sup *supervisor.Supervisor
	log *logging.Logger
}

// NewHandlers creates a new handler set.
func NewHandlers(sup *supervisor.Supervisor, log *logging.Logger) *Handlers {
	return &Handlers{sup: sup, log: log.Named("http")}
}

// Root handles the basic liveness check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Extension Host",
		"version": "0.1.0",
	})
}

// Health reports subsystem health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"runtime":    gin.H{"state": string(h.sup.State())},
		"extensions": gin.H{"known": len(h.sup.Extensions()), "active": len(h.sup.ActiveExtensions())},
	})
}

// StartHost launches the runtime process.
func (h *Handlers) StartHost(c *gin.Context) {
	if err := h.sup.Start(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true, "state": string(h.sup.State())})
}

// StopHost tears the runtime process down.
func (h *Handlers) StopHost(c *gin.Context) {
	if err := h.sup.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true, "state": string(h.sup.State())})
}

// HostState reports the runtime handle state.
func (h *Handlers) HostState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": string(h.sup.State())})
}

// ScanExtensions refreshes the registry from disk.
func (h *Handlers) ScanExtensions(c *gin.Context) {
	list, err := h.sup.Scan()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"extensions": list, "count": len(list)})
}

// ListExtensions returns all known extensions.
func (h *Handlers) ListExtensions(c *gin.Context) {
	list := h.sup.Extensions()
	c.JSON(http.StatusOK, gin.H{"extensions": list, "count": len(list)})
}

// ListActiveExtensions returns the currently active extensions.
func (h *Handlers) ListActiveExtensions(c *gin.Context) {
	list := h.sup.ActiveExtensions()
	c.JSON(http.StatusOK, gin.H{"extensions": list, "count": len(list)})
}

// GetExtension returns one registry entry.
func (h *Handlers) GetExtension(c *gin.Context) {
	extID := c.Param("id")
	meta, ok := h.sup.Metadata(extID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown extension: " + extID})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// LoadExtension registers an extension with the runtime.
func (h *Handlers) LoadExtension(c *gin.Context) {
	extID := c.Param("id")
	if err := h.sup.Load(extID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": true, "extension_id": extID})
}

// ActivateExtension executes an extension and returns its exports.
func (h *Handlers) ActivateExtension(c *gin.Context) {
	extID := c.Param("id")
	exports, err := h.sup.Activate(extID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activated":    true,
		"extension_id": extID,
		"exports":      exports,
	})
}

// DeactivateExtension tears an extension down.
func (h *Handlers) DeactivateExtension(c *gin.Context) {
	extID := c.Param("id")
	if err := h.sup.Deactivate(extID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true, "extension_id": extID})
}

// InstallRequest names a local archive to install.
type InstallRequest struct {
	ArchivePath string `json:"archive_path" binding:"required"`
}

// InstallExtension installs a package archive.
func (h *Handlers) InstallExtension(c *gin.Context) {
	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meta, err := h.sup.Install(req.ArchivePath)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"installed": true, "extension": meta})
}

// UninstallExtension removes an installed extension.
func (h *Handlers) UninstallExtension(c *gin.Context) {
	extID := c.Param("id")
	if err := h.sup.Uninstall(extID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uninstalled": true, "extension_id": extID})
}

// GetContributions returns the aggregate contribution structure.
func (h *Handlers) GetContributions(c *gin.Context) {
	c.JSON(http.StatusOK, h.sup.Contributions())
}

// ListCommands returns registered commands and their owners.
func (h *Handlers) ListCommands(c *gin.Context) {
	commands := h.sup.Commands()
	c.JSON(http.StatusOK, gin.H{"commands": commands, "count": len(commands)})
}

// ExecuteCommandRequest invokes a command by name.
type ExecuteCommandRequest struct {
	Command string        `json:"command" binding:"required"`
	Args    []interface{} `json:"args"`
}

// ExecuteCommand runs an extension or host command.
func (h *Handlers) ExecuteCommand(c *gin.Context) {
	var req ExecuteCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.sup.ExecuteCommand(req.Command, req.Args)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"command": req.Command, "result": result})
}

// DownloadRequest fetches a URL into a local file.
type DownloadRequest struct {
	URL      string `json:"url" binding:"required"`
	DestPath string `json:"dest_path" binding:"required"`
}

// Download streams a remote file to a local path.
func (h *Handlers) Download(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sup.DownloadToPath(c.Request.Context(), req.URL, req.DestPath); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"downloaded": true, "path": req.DestPath})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		startupErr    *types.StartupError
		loadErr       *types.LoadError
		activationErr *types.ActivationError
		installErr    *types.InstallError
		downloadErr   *types.DownloadError
	)

	switch {
	case errors.As(err, &startupErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &activationErr), errors.As(err, &loadErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &installErr):
		return http.StatusBadRequest
	case errors.As(err, &downloadErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
