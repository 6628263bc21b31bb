package types

import (
	"fmt"
	"time"
)

// ManifestFileName is the package descriptor expected in every extension directory.
const ManifestFileName = "extension.json"

// Manifest is the on-disk package descriptor for an extension.
type Manifest struct {
	Name                string         `json:"name"`
	Publisher           string         `json:"publisher"`
	Version             string         `json:"version"`
	DisplayName         string         `json:"displayName,omitempty"`
	Description         string         `json:"description,omitempty"`
	MainEntry           string         `json:"mainEntry,omitempty"`
	Contributes         *Contributions `json:"contributes,omitempty"`
	ActivationEvents    []string       `json:"activationEvents,omitempty"`
	CompatibilityMarker string         `json:"compatibilityMarker"`
}

// ID returns the canonical extension identifier, "<publisher>.<name>".
func (m *Manifest) ID() string {
	return m.Publisher + "." + m.Name
}

// Validate checks the fields required for an installable package.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	if m.Publisher == "" {
		return fmt.Errorf("manifest missing publisher")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	return nil
}

// Compatible reports whether the manifest targets a host version this
// build understands. Manifests without a marker are skipped on scan.
func (m *Manifest) Compatible() bool {
	return m.CompatibilityMarker != ""
}

// ExtensionMetadata describes a known extension in the registry.
type ExtensionMetadata struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Publisher        string         `json:"publisher"`
	DisplayName      string         `json:"display_name,omitempty"`
	Description      string         `json:"description,omitempty"`
	Version          string         `json:"version"`
	MainEntry        string         `json:"main_entry,omitempty"`
	Contributes      *Contributions `json:"contributes,omitempty"`
	ActivationEvents []string       `json:"activation_events,omitempty"`
	Path             string         `json:"path"`
	IsBuiltin        bool           `json:"is_builtin"`
	IsActive         bool           `json:"is_active"`
	ScannedAt        time.Time      `json:"scanned_at"`
}

// MetadataFromManifest builds registry metadata from a parsed manifest.
func MetadataFromManifest(m *Manifest, path string, builtin bool) *ExtensionMetadata {
	return &ExtensionMetadata{
		ID:               m.ID(),
		Name:             m.Name,
		Publisher:        m.Publisher,
		DisplayName:      m.DisplayName,
		Description:      m.Description,
		Version:          m.Version,
		MainEntry:        m.MainEntry,
		Contributes:      m.Contributes,
		ActivationEvents: m.ActivationEvents,
		Path:             path,
		IsBuiltin:        builtin,
		ScannedAt:        time.Now(),
	}
}
