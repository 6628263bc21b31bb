package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "archive bytes")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pkg.zip")
	client := NewClient(logging.NewNop())
	require.NoError(t, client.FetchToFile(context.Background(), srv.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(data))
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Three hops, the last one relative, all within the limit.
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusFound)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "final")
	})

	dest := filepath.Join(t.TempDir(), "out")
	client := NewClient(logging.NewNop())
	require.NoError(t, client.FetchToFile(context.Background(), srv.URL+"/a", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "final", string(data))
}

func TestFetchTooManyRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for i := 0; i < 7; i++ {
		hop := i
		mux.HandleFunc(fmt.Sprintf("/hop%d", hop), func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, fmt.Sprintf("/hop%d", hop+1), http.StatusFound)
		})
	}

	dest := filepath.Join(t.TempDir(), "out")
	client := NewClient(logging.NewNop())
	err := client.FetchToFile(context.Background(), srv.URL+"/hop0", dest)

	var downloadErr *types.DownloadError
	require.True(t, errors.As(err, &downloadErr))
	assert.Equal(t, "too many redirects", downloadErr.Reason)

	// No partial file left behind.
	assert.NoFileExists(t, dest)
}

func TestFetchErrorPathRedirect(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/pkg", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/error/404", http.StatusFound)
	})

	dest := filepath.Join(t.TempDir(), "out")
	client := NewClient(logging.NewNop())
	err := client.FetchToFile(context.Background(), srv.URL+"/pkg", dest)

	var downloadErr *types.DownloadError
	require.True(t, errors.As(err, &downloadErr))
	assert.Equal(t, "not found", downloadErr.Reason)
	assert.NoFileExists(t, dest)
}

func TestFetchSlowButFlowing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 6; i++ {
			fmt.Fprint(w, "chunk")
			flusher.Flush()
			time.Sleep(60 * time.Millisecond)
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	client := NewClient(logging.NewNop())
	client.SetStallTimeout(150 * time.Millisecond)

	// Total transfer time exceeds the stall window, but every read makes
	// progress, so the watchdog never fires.
	require.NoError(t, client.FetchToFile(context.Background(), srv.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "chunkchunkchunkchunkchunkchunk", string(data))
}

func TestFetchStalledBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "partial")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	client := NewClient(logging.NewNop())
	client.SetStallTimeout(150 * time.Millisecond)

	err := client.FetchToFile(context.Background(), srv.URL, dest)

	var downloadErr *types.DownloadError
	require.True(t, errors.As(err, &downloadErr))
	assert.Equal(t, "timeout", downloadErr.Reason)
	assert.NoFileExists(t, dest)
}

func TestFetchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	client := NewClient(logging.NewNop())
	err := client.FetchToFile(context.Background(), srv.URL, dest)

	var downloadErr *types.DownloadError
	require.True(t, errors.As(err, &downloadErr))
	assert.Contains(t, downloadErr.Reason, "bad status")
	assert.NoFileExists(t, dest)
}
