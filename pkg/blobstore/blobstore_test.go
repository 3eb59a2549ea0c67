package blobstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysUnknown(string) (hash []byte, errorCode string, known bool, err error) {
	return nil, "", false, nil
}

func TestDownloadIfNeededFetchesAndHashes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	b, err := Open(t.TempDir())
	require.NoError(t, err)

	d := b.DownloadIfNeeded(context.Background(), "https://cdn.example/a.png", srv.URL, alwaysUnknown)
	outcome, hash, tempPath, errorCode, err := d.Await()
	require.NoError(t, err)
	assert.Equal(t, OutcomeHash, outcome)
	assert.NotEmpty(t, hash)
	assert.Empty(t, errorCode)
	assert.FileExists(t, tempPath)
}

func TestDownloadIfNeededAlreadyPresent(t *testing.T) {
	b, err := Open(t.TempDir())
	require.NoError(t, err)

	known := func(url string) ([]byte, string, bool, error) {
		return []byte{1, 2, 3}, "", true, nil
	}
	d := b.DownloadIfNeeded(context.Background(), "https://cdn.example/a.png", "https://cdn.example/a.png", known)
	outcome, hash, _, _, err := d.Await()
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPresent, outcome)
	assert.Equal(t, []byte{1, 2, 3}, hash)
}

func TestDownloadIfNeededTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b, err := Open(t.TempDir())
	require.NoError(t, err)

	d := b.DownloadIfNeeded(context.Background(), "https://cdn.example/gone.png", srv.URL, alwaysUnknown)
	outcome, _, _, errorCode, err := d.Await()
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, "http_404", errorCode)
}

func TestCheckConsistencyReportsMissingAndExtra(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	require.NoError(t, err)

	orphanHash := []byte{0xAB, 0xCD}
	orphanPath := b.pathForHash(orphanHash)
	require.NoError(t, os.MkdirAll(filepath.Dir(orphanPath), 0o700))
	require.NoError(t, os.WriteFile(orphanPath, []byte("orphan"), 0o600))

	missingHash := []byte{0x11, 0x22}

	report, err := b.CheckConsistency([][]byte{missingHash}, false)
	require.NoError(t, err)
	assert.Contains(t, report.MissingFiles, "1122")
	assert.Contains(t, report.ExtraFiles, "abcd")

	_, err = os.Stat(orphanPath)
	assert.NoError(t, err, "orphan should survive when deleteExtras is false")

	report2, err := b.CheckConsistency([][]byte{missingHash}, true)
	require.NoError(t, err)
	assert.Contains(t, report2.ExtraFiles, "abcd")
	_, err = os.Stat(orphanPath)
	assert.True(t, os.IsNotExist(err), "orphan should be deleted when deleteExtras is true")
}
