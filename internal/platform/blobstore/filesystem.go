package blobstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	blobSuffix = ".blob"
	metaSuffix = ".json"
	tmpPrefix  = ".tmp-"
)

// Sealer encrypts artifact bytes at rest. hipaa.ArtifactSealer satisfies it.
type Sealer interface {
	EncryptBytes(data []byte) ([]byte, error)
	DecryptBytes(data []byte) ([]byte, error)
}

// FileSystemBlobStore keeps each blob as <id>.blob with an <id>.json metadata
// sidecar under a root directory. Writes go through a temp file and rename so
// a reader never sees a partial artifact.
type FileSystemBlobStore struct {
	root   string
	sealer Sealer
	permF  os.FileMode
	permD  os.FileMode
}

// NewFileSystemBlobStore creates the root directory if needed. sealer may be
// nil, in which case blobs are stored in the clear.
func NewFileSystemBlobStore(root string, sealer Sealer) (*FileSystemBlobStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blobstore: root directory is required")
	}
	s := &FileSystemBlobStore{root: root, sealer: sealer, permF: 0o600, permD: 0o700}
	if err := os.MkdirAll(root, s.permD); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return s, nil
}

// paths maps an ID to its blob and metadata files. Only UUIDs are accepted so
// an ID can never escape the root.
func (s *FileSystemBlobStore) paths(id string) (string, string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", "", ErrBlobNotFound
	}
	base := filepath.Join(s.root, parsed.String())
	return base + blobSuffix, base + metaSuffix, nil
}

// Put stores the blob and then its metadata; the metadata file marks the
// blob as complete.
func (s *FileSystemBlobStore) Put(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	if s.sealer != nil {
		data, err = s.sealer.EncryptBytes(data)
		if err != nil {
			return nil, fmt.Errorf("sealing blob: %w", err)
		}
		meta.Sealed = true
	}

	blobPath, metaPath, err := s.paths(meta.ID)
	if err != nil {
		return nil, err
	}
	if err := s.writeAtomic(ctx, blobPath, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("writing blob: %w", err)
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		_ = os.Remove(blobPath)
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if err := s.writeAtomic(ctx, metaPath, bytes.NewReader(encoded)); err != nil {
		_ = os.Remove(blobPath)
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	out := meta
	return &out, nil
}

// Get reads and, when sealed, decrypts the blob.
func (s *FileSystemBlobStore) Get(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	blobPath, _, err := s.paths(id)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(blobPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("reading blob: %w", err)
	}
	if meta.Sealed {
		if s.sealer == nil {
			return nil, nil, fmt.Errorf("blob %s is sealed but no sealer is configured", id)
		}
		data, err = s.sealer.DecryptBytes(data)
		if err != nil {
			return nil, nil, fmt.Errorf("unsealing blob: %w", err)
		}
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

// GetMetadata reads the metadata sidecar.
func (s *FileSystemBlobStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	_, metaPath, err := s.paths(id)
	if err != nil {
		return nil, err
	}
	return readMetadata(metaPath)
}

// Delete removes both files of a blob.
func (s *FileSystemBlobStore) Delete(_ context.Context, id string) error {
	blobPath, metaPath, err := s.paths(id)
	if err != nil {
		return err
	}
	if err := os.Remove(metaPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return err
	}
	if err := os.Remove(blobPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep removes blobs created before the cutoff. Orphaned blob files and
// temp files left by an interrupted Put are removed once their modification
// time is past the cutoff.
func (s *FileSystemBlobStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("listing blobs: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, metaSuffix):
			meta, err := readMetadata(filepath.Join(s.root, name))
			if err != nil || !meta.CreatedAt.Before(before) {
				continue
			}
			if err := s.Delete(ctx, meta.ID); err != nil && !errors.Is(err, ErrBlobNotFound) {
				return removed, err
			}
			removed++
		case strings.HasSuffix(name, blobSuffix):
			id := strings.TrimSuffix(name, blobSuffix)
			if _, err := os.Stat(filepath.Join(s.root, id+metaSuffix)); err == nil {
				continue
			}
			info, err := entry.Info()
			if err == nil && info.ModTime().Before(before) {
				_ = os.Remove(filepath.Join(s.root, name))
			}
		case strings.HasPrefix(name, tmpPrefix):
			info, err := entry.Info()
			if err == nil && !entry.IsDir() && info.ModTime().Before(before) {
				_ = os.Remove(filepath.Join(s.root, name))
			}
		}
	}
	return removed, nil
}

func readMetadata(path string) (*BlobMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var meta BlobMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &meta, nil
}

// writeAtomic writes r to a temp file in dest's directory, syncs it and
// renames it over dest.
func (s *FileSystemBlobStore) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, s.permF)

	bw := bufio.NewWriter(tmp)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// readerWithCtx checks ctx before every Read.
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
