package blobstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/chatvault/pkg/store"
)

func TestPerformFileTransactionMovesBlobIntoPlace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("blob contents"))
	}))
	defer srv.Close()

	b, err := Open(t.TempDir())
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	d := b.DownloadIfNeeded(context.Background(), "https://cdn.example/file.bin", srv.URL, alwaysUnknown)
	<-d.done
	require.Nil(t, d.err)

	var gotHash []byte
	err = b.PerformFileTransaction(st, make(chan struct{}), []*CurrentDownload{d}, func(tx *store.Tx) error {
		gotHash = d.hash
		return st.UpsertFile(tx, d.URL, d.hash, "", 1000)
	})
	require.NoError(t, err)
	assert.True(t, b.HashExists(gotHash))

	file, err := readFileRow(st, d.URL)
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, gotHash, []byte(file.Hash))
}

func TestPerformFileTransactionRollsBackAndDiscardsOnDBError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("blob contents 2"))
	}))
	defer srv.Close()

	b, err := Open(t.TempDir())
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	d := b.DownloadIfNeeded(context.Background(), "https://cdn.example/file2.bin", srv.URL, alwaysUnknown)
	<-d.done
	require.Nil(t, d.err)
	tempPath := d.tempPath

	err = b.PerformFileTransaction(st, make(chan struct{}), []*CurrentDownload{d}, func(tx *store.Tx) error {
		return assert.AnError
	})
	require.Error(t, err)
	assert.NoFileExists(t, tempPath)
	assert.False(t, b.HashExists(d.hash))
}

func readFileRow(st *store.Store, url string) (*fileRow, error) {
	val, err := st.Read(func(tx *store.Tx) (any, error) {
		f, err := st.FileByURL(tx, url)
		if err != nil || f == nil {
			return nil, err
		}
		return &fileRow{Hash: f.Hash}, nil
	})
	if err != nil || val == nil {
		return nil, err
	}
	return val.(*fileRow), nil
}

type fileRow struct {
	Hash []byte
}
