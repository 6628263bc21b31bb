package installer

import (
	"archive/tar"
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/shared/id"
	"github.com/lattice-editor/exthost/internal/shared/types"
	"go.uber.org/zap"
)

// minArchiveSize is the smallest plausible package archive. An empty
// zip file is 22 bytes.
const minArchiveSize = 22

// Installer validates and extracts extension package archives into the
// extensions directory.
type Installer struct {
	extensionsDir string
	log           *logging.Logger
}

// New creates an Installer rooted at the given extensions directory.
func New(extensionsDir string, log *logging.Logger) *Installer {
	return &Installer{
		extensionsDir: extensionsDir,
		log:           log.Named("installer"),
	}
}

// Install extracts an archive, validates the packaged manifest, and
// replaces any existing install of the same id. beforeReplace runs with
// the extension id before an existing directory is removed, so the
// caller can deactivate it first. The scratch directory is removed on
// every path. Returns the parsed manifest and the install directory.
func (i *Installer) Install(archivePath string, beforeReplace func(extID string)) (*types.Manifest, string, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, "", &types.InstallError{Archive: archivePath, Reason: "archive not found", Err: err}
	}
	if info.Size() < minArchiveSize {
		return nil, "", &types.InstallError{Archive: archivePath,
			Reason: fmt.Sprintf("archive too small (%d bytes)", info.Size())}
	}

	scratch, err := os.MkdirTemp("", string(id.NewInstallID())+"-*")
	if err != nil {
		return nil, "", &types.InstallError{Archive: archivePath, Reason: "scratch directory", Err: err}
	}
	defer os.RemoveAll(scratch)

	if err := extract(archivePath, scratch); err != nil {
		return nil, "", &types.InstallError{Archive: archivePath, Reason: "extraction failed", Err: err}
	}

	pkgDir, err := packageRoot(scratch)
	if err != nil {
		return nil, "", &types.InstallError{Archive: archivePath, Reason: err.Error()}
	}

	manifest, err := readManifest(pkgDir)
	if err != nil {
		return nil, "", &types.InstallError{Archive: archivePath, Reason: "invalid manifest", Err: err}
	}

	destDir := filepath.Join(i.extensionsDir, manifest.ID())
	if _, err := os.Stat(destDir); err == nil {
		if beforeReplace != nil {
			beforeReplace(manifest.ID())
		}
		if err := os.RemoveAll(destDir); err != nil {
			return nil, "", &types.InstallError{Archive: archivePath, Reason: "replace failed", Err: err}
		}
	}

	if err := os.MkdirAll(i.extensionsDir, 0o755); err != nil {
		return nil, "", &types.InstallError{Archive: archivePath, Reason: "extensions directory", Err: err}
	}

	// Copy then delete rather than rename; the scratch directory may
	// live on a different volume.
	if err := copyTree(pkgDir, destDir); err != nil {
		os.RemoveAll(destDir)
		return nil, "", &types.InstallError{Archive: archivePath, Reason: "copy failed", Err: err}
	}

	i.log.Info("package installed",
		zap.String("extension", manifest.ID()),
		zap.String("version", manifest.Version),
		zap.String("path", destDir))
	return manifest, destDir, nil
}

// Remove deletes an installed extension directory. The path must live
// inside the extensions directory.
func (i *Installer) Remove(path string) error {
	root := filepath.Clean(i.extensionsDir) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(path)+string(os.PathSeparator), root) {
		return fmt.Errorf("refusing to remove %s: outside extensions directory", path)
	}
	return os.RemoveAll(path)
}

// packageRoot locates the single top-level folder holding the package
// contents inside an extracted archive.
func packageRoot(scratch string) (string, error) {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return "", fmt.Errorf("scratch unreadable: %v", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}

	switch len(dirs) {
	case 0:
		return "", fmt.Errorf("archive missing package folder")
	case 1:
		return filepath.Join(scratch, dirs[0]), nil
	default:
		return "", fmt.Errorf("archive has %d top-level folders, expected one", len(dirs))
	}
}

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

// extract dispatches on the archive extension (zip, tar, tar.gz, tgz,
// tar.zst).
func extract(archivePath, dest string) error {
	name := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(archivePath, dest)
	case strings.HasSuffix(name, ".tar"),
		strings.HasSuffix(name, ".tar.gz"),
		strings.HasSuffix(name, ".tgz"),
		strings.HasSuffix(name, ".tar.zst"):
		return extractTar(archivePath, dest)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Ext(archivePath))
	}
}

func extractZip(archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		// Prevent zip-slip attacks
		destPath := filepath.Join(dest, file.Name)
		if !strings.HasPrefix(destPath, filepath.Clean(dest)+string(os.PathSeparator)) {
			continue
		}

		if file.FileInfo().IsDir() {
			os.MkdirAll(destPath, 0o755)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}

		src, err := file.Open()
		if err != nil {
			return err
		}

		dst, err := os.Create(destPath)
		if err != nil {
			src.Close()
			return err
		}

		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer file.Close()

	var tarReader *tar.Reader

	// Auto-detect compression
	switch {
	case strings.HasSuffix(archivePath, ".gz"), strings.HasSuffix(archivePath, ".tgz"):
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("gzip failed: %w", err)
		}
		defer gzReader.Close()
		tarReader = tar.NewReader(gzReader)
	case strings.HasSuffix(archivePath, ".zst"):
		zstdReader, err := zstd.NewReader(file)
		if err != nil {
			return fmt.Errorf("zstd failed: %w", err)
		}
		defer zstdReader.Close()
		tarReader = tar.NewReader(zstdReader)
	default:
		tarReader = tar.NewReader(file)
	}

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		destPath := filepath.Join(dest, header.Name)
		if !strings.HasPrefix(destPath, filepath.Clean(dest)+string(os.PathSeparator)) {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			os.MkdirAll(destPath, 0o755)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return err
			}

			out, err := os.Create(destPath)
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tarReader)
			out.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// copyTree recursively copies a directory.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}

		_, err = io.Copy(out, in)
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		return err
	})
}
