package types

import "fmt"

// StartupError reports a failure to bring the runtime process up.
type StartupError struct {
	Reason string
	Err    error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("startup failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("startup failure: %s", e.Reason)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ProcessError reports an unexpected runtime process exit. The subsystem
// is unusable until restarted.
type ProcessError struct {
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("runtime process failure (exit %d)", e.ExitCode)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ManifestError is a per-extension parse or validation failure. Non-fatal
// to a scan.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest error at %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// LoadError reports a failed extension load.
type LoadError struct {
	ExtensionID string
	Err         error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load failure for %s: %v", e.ExtensionID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ActivationError reports an activation timeout or plugin exception.
type ActivationError struct {
	ExtensionID string
	Reason      string
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation failure for %s: %s", e.ExtensionID, e.Reason)
}

// DeactivationError reports a plugin exception during teardown. The
// extension is force-removed from active state regardless.
type DeactivationError struct {
	ExtensionID string
	Err         error
}

func (e *DeactivationError) Error() string {
	return fmt.Sprintf("deactivation failure for %s: %v", e.ExtensionID, e.Err)
}

func (e *DeactivationError) Unwrap() error { return e.Err }

// InstallError reports a failed package install with a descriptive cause.
type InstallError struct {
	Archive string
	Reason  string
	Err     error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("install failure for %s: %s: %v", e.Archive, e.Reason, e.Err)
	}
	return fmt.Sprintf("install failure for %s: %s", e.Archive, e.Reason)
}

func (e *InstallError) Unwrap() error { return e.Err }

// DownloadError reports a failed URL fetch.
type DownloadError struct {
	URL    string
	Reason string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download failure for %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("download failure for %s: %s", e.URL, e.Reason)
}

func (e *DownloadError) Unwrap() error { return e.Err }
