package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestID(t *testing.T) {
	m := &Manifest{Name: "foo", Publisher: "acme", Version: "1.0.0"}
	assert.Equal(t, "acme.foo", m.ID())
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  bool
	}{
		{"valid", Manifest{Name: "foo", Publisher: "acme", Version: "1.0.0"}, false},
		{"missing name", Manifest{Publisher: "acme", Version: "1.0.0"}, true},
		{"missing publisher", Manifest{Name: "foo", Version: "1.0.0"}, true},
		{"missing version", Manifest{Name: "foo", Publisher: "acme"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManifestCompatible(t *testing.T) {
	assert.True(t, (&Manifest{CompatibilityMarker: "1.0"}).Compatible())
	assert.False(t, (&Manifest{}).Compatible())
}

func TestMetadataFromManifest(t *testing.T) {
	m := &Manifest{
		Name:                "foo",
		Publisher:           "acme",
		Version:             "1.0.0",
		DisplayName:         "Foo",
		MainEntry:           "out/extension.js",
		CompatibilityMarker: "1.0",
	}

	meta := MetadataFromManifest(m, "/ext/acme.foo", true)
	assert.Equal(t, "acme.foo", meta.ID)
	assert.Equal(t, "/ext/acme.foo", meta.Path)
	assert.Equal(t, "out/extension.js", meta.MainEntry)
	assert.True(t, meta.IsBuiltin)
	assert.False(t, meta.IsActive)
	assert.False(t, meta.ScannedAt.IsZero())
}

func TestErrorUnwrapping(t *testing.T) {
	cause := errors.New("boom")

	startup := &StartupError{Reason: "spawn failed", Err: cause}
	require.ErrorIs(t, startup, cause)
	assert.Contains(t, startup.Error(), "spawn failed")

	install := &InstallError{Archive: "/tmp/pkg.zip", Reason: "extraction failed", Err: cause}
	require.ErrorIs(t, install, cause)
	assert.Contains(t, install.Error(), "/tmp/pkg.zip")

	download := &DownloadError{URL: "http://x", Reason: "too many redirects"}
	assert.Contains(t, download.Error(), "too many redirects")

	var activation *ActivationError
	wrapped := error(&ActivationError{ExtensionID: "acme.foo", Reason: "timeout"})
	require.True(t, errors.As(wrapped, &activation))
	assert.Equal(t, "acme.foo", activation.ExtensionID)
}
