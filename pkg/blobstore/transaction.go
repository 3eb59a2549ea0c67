package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/chatvault/pkg/store"
)

// PerformFileTransaction implements perform_file_transaction: await
// every download, open a store transaction, run dbWork, commit; on
// success, atomically move temp files into the blob directory by hash. On
// any error or abort, roll back the transaction and delete the temp
// files. Downloads whose hash is already referenced elsewhere are
// deduplicated: the temp file is discarded and only the file row (written
// by dbWork) survives.
//
// abort is a channel that closes to signal shutdown; a close observed
// before downloads settle aborts the whole operation without opening a
// transaction.
func (b *BlobStore) PerformFileTransaction(
	st *store.Store,
	abort <-chan struct{},
	downloads []*CurrentDownload,
	dbWork func(tx *store.Tx) error,
) error {
	type settled struct {
		d         *CurrentDownload
		outcome   DownloadOutcome
		hash      []byte
		tempPath  string
		errorCode string
	}
	results := make([]settled, 0, len(downloads))

	for _, d := range downloads {
		select {
		case <-abort:
			for _, r := range results {
				r.d.Discard()
			}
			return fmt.Errorf("blobstore: transaction aborted while awaiting downloads")
		case <-d.done:
		}
		outcome, hash, tempPath, errorCode, err := d.Await()
		if err != nil {
			for _, r := range results {
				r.d.Discard()
			}
			d.Discard()
			return fmt.Errorf("blobstore: download %s failed: %w", d.URL, err)
		}
		results = append(results, settled{d, outcome, hash, tempPath, errorCode})
	}

	// Decide, before opening the transaction, which staged blobs will be
	// moved into place vs. discarded as dedup hits against an existing blob.
	type placement struct {
		tempPath string
		destPath string
	}
	var toMove []placement
	for _, r := range results {
		if r.outcome != OutcomeHash {
			continue
		}
		dest := b.pathForHash(r.hash)
		if _, err := os.Stat(dest); err == nil {
			r.d.Discard()
			continue
		}
		toMove = append(toMove, placement{tempPath: r.tempPath, destPath: dest})
	}

	err := st.Transact(dbWork)
	if err != nil {
		for _, r := range results {
			if r.outcome == OutcomeHash {
				r.d.Discard()
			}
		}
		return fmt.Errorf("blobstore: transaction rolled back: %w", err)
	}

	for _, p := range toMove {
		if err := os.MkdirAll(filepath.Dir(p.destPath), 0o700); err != nil {
			return fmt.Errorf("blobstore: mkdir for blob %s: %w", p.destPath, err)
		}
		if err := os.Rename(p.tempPath, p.destPath); err != nil {
			return fmt.Errorf("blobstore: move blob into place: %w", err)
		}
	}
	return nil
}

// ConsistencyReport is the result of check_consistency.
type ConsistencyReport struct {
	MissingFiles []string // hashes referenced in the files table but absent on disk
	ExtraFiles   []string // hashes present on disk but unreferenced in the files table
}

// CheckConsistency implements check_consistency: walks the blob directory
// and the set of referenced hashes, reporting data loss (missing) and
// orphans (extra), optionally deleting the latter.
func (b *BlobStore) CheckConsistency(referencedHashes [][]byte, deleteExtras bool) (*ConsistencyReport, error) {
	referenced := make(map[string][]byte, len(referencedHashes))
	for _, h := range referencedHashes {
		referenced[fmt.Sprintf("%x", h)] = h
	}

	tmpDir := filepath.Join(b.dir, "tmp")
	onDisk := make(map[string]string) // hex hash -> path
	err := filepath.WalkDir(b.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == tmpDir {
				return filepath.SkipDir
			}
			return nil
		}
		onDisk[d.Name()] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: walk blob directory: %w", err)
	}

	report := &ConsistencyReport{}
	for hex := range referenced {
		if _, ok := onDisk[hex]; !ok {
			report.MissingFiles = append(report.MissingFiles, hex)
		}
	}
	for hex, path := range onDisk {
		if _, ok := referenced[hex]; ok {
			continue
		}
		report.ExtraFiles = append(report.ExtraFiles, hex)
		if deleteExtras {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("blobstore: delete orphan %s: %w", path, err)
			}
		}
	}
	return report, nil
}
