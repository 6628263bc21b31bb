package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/lattice-editor/exthost/internal/shared/types"
	"go.uber.org/zap"
)

// Scan enumerates extension directories, parses each manifest, and
// refreshes the registry. Missing, invalid, or incompatible manifests
// are skipped; they never fail the whole scan. Returns the full
// metadata list sorted by id.
func (s *Supervisor) Scan() ([]*types.ExtensionMetadata, error) {
	found := make(map[string]*types.ExtensionMetadata)

	s.scanDir(s.opts.ExtensionsDir, false, found)
	if s.opts.BuiltinDir != "" {
		s.scanDir(s.opts.BuiltinDir, true, found)
	}

	s.mu.Lock()
	for id, meta := range found {
		if _, active := s.active[id]; active {
			meta.IsActive = true
		}
	}
	s.registry = found
	s.mu.Unlock()

	s.metrics.ExtensionsKnown.Set(float64(len(found)))

	list := make([]*types.ExtensionMetadata, 0, len(found))
	for _, meta := range found {
		copied := *meta
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *Supervisor) scanDir(dir string, builtin bool, out map[string]*types.ExtensionMetadata) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("extensions directory unreadable", zap.String("dir", dir), zap.Error(err))
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		manifest, err := readManifest(path)
		if err != nil {
			s.log.Debug("skipping extension directory",
				zap.String("path", path), zap.Error(err))
			continue
		}
		if !manifest.Compatible() {
			s.log.Debug("skipping incompatible extension",
				zap.String("path", path), zap.String("id", manifest.ID()))
			continue
		}
		out[manifest.ID()] = types.MetadataFromManifest(manifest, path, builtin)
	}
}

// readManifest parses and validates the manifest inside an extension
// directory.
func readManifest(dir string) (*types.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, types.ManifestFileName))
	if err != nil {
		return nil, &types.ManifestError{Path: dir, Err: err}
	}

	var manifest types.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &types.ManifestError{Path: dir, Err: err}
	}
	if err := manifest.Validate(); err != nil {
		return nil, &types.ManifestError{Path: dir, Err: err}
	}
	return &manifest, nil
}

// Extensions returns all known extensions sorted by id.
func (s *Supervisor) Extensions() []*types.ExtensionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*types.ExtensionMetadata, 0, len(s.registry))
	for _, meta := range s.registry {
		copied := *meta
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// ActiveExtensions returns metadata for currently active extensions.
func (s *Supervisor) ActiveExtensions() []*types.ExtensionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*types.ExtensionMetadata, 0, len(s.active))
	for extID := range s.active {
		if meta, ok := s.registry[extID]; ok {
			copied := *meta
			copied.IsActive = true
			list = append(list, &copied)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Metadata returns a copy of one registry entry.
func (s *Supervisor) Metadata(extID string) (*types.ExtensionMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.registry[extID]
	if !ok {
		return nil, false
	}
	copied := *meta
	return &copied, true
}
