// Package installer handles extension package archives.
//
// An installable package is an archive (zip, tar, tar.gz, tar.zst)
// whose root holds exactly one folder containing the extension's
// manifest, code, and assets. Installation extracts to a scratch
// directory, validates the manifest, and moves the package into the
// extensions directory with copy-then-delete replacement so existing
// installs of the same id are swapped atomically from the registry's
// point of view.
//
// The installer operates purely on disk. Runtime liveness, deactivation
// of a replaced extension, and the post-install re-scan are the
// supervisor's responsibility.
package installer
