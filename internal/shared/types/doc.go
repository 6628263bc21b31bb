// Package types provides shared data structures for the extension host.
//
// This package defines core types used across host components, ensuring
// type safety and consistent data structures on both sides of the
// process boundary.
//
// Core Types:
//   - Manifest: On-disk package descriptor (extension.json)
//   - ExtensionMetadata: Registry entry for a known extension
//   - Contributions: Declarative contribution points
//   - AggregateContributions: Merged contribution view for UI consumption
//
// Error Taxonomy:
//   - StartupError, ProcessError: Runtime process lifecycle failures
//   - ManifestError, LoadError, ActivationError, DeactivationError:
//     Per-extension failures, isolated from the rest of the host
//   - InstallError, DownloadError: Package acquisition failures
//
// Example Usage:
//
//	meta := types.MetadataFromManifest(manifest, dir, false)
//	// meta.ID == manifest.Publisher + "." + manifest.Name
package types
