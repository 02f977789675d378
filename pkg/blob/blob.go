package blob

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/hasher"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/types"
)

// storageDir is the per-stream directory holding canonical content files,
// named by bare hex digest.
const storageDir = ".storage"

// Store is the filesystem-backed external blob store. Each pod+stream gets
// a directory holding a content-addressed canonical file per distinct
// payload plus one logical alias per record name:
//
//	<root>/<pod>/<stream_path>/.storage/<hash_hex>
//	<root>/<pod>/<stream_path>/<record_name>
//
// Canonical files are immutable once written; aliases are replaced by
// write-to-temp + rename.
type Store struct {
	root        string
	urlTemplate string
}

// NewStore creates a blob store rooted at the given base directory
func NewStore(root, urlTemplate string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeStorageError, "failed to create blob root", err)
	}
	return &Store{root: root, urlTemplate: urlTemplate}, nil
}

// Root returns the store's base directory
func (s *Store) Root() string {
	return s.root
}

func (s *Store) streamDir(pod, streamPath string) string {
	return filepath.Join(s.root, pod, filepath.FromSlash(strings.TrimPrefix(streamPath, "/")))
}

// URL applies the configured template to a record location
func (s *Store) URL(pod, streamPath, recordName string) string {
	url := s.urlTemplate
	url = strings.ReplaceAll(url, "{pod}", pod)
	url = strings.ReplaceAll(url, "{stream_path}", strings.Trim(streamPath, "/"))
	url = strings.ReplaceAll(url, "{record_name}", recordName)
	return url
}

// Put writes the payload into the canonical store if absent and points the
// record's alias at it. Re-putting identical bytes is idempotent.
func (s *Store) Put(pod, streamPath, recordName string, data []byte) (*types.BlobRef, error) {
	hashHex := hasher.Hex(hasher.ContentHash(data))

	dir := s.streamDir(pod, streamPath)
	canonicalDir := filepath.Join(dir, storageDir)
	if err := os.MkdirAll(canonicalDir, 0755); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeStorageError, "failed to create storage directory", err)
	}

	canonical := filepath.Join(canonicalDir, hashHex)
	if _, err := os.Stat(canonical); os.IsNotExist(err) {
		if err := writeFileAtomic(canonical, data); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeStorageError, "failed to write canonical file", err)
		}
	} else if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeStorageError, "failed to stat canonical file", err)
	}

	if err := s.refreshAlias(canonical, filepath.Join(dir, recordName), data); err != nil {
		return nil, err
	}

	return &types.BlobRef{
		Hash: hashHex,
		Size: int64(len(data)),
		URL:  s.URL(pod, streamPath, recordName),
	}, nil
}

// refreshAlias atomically points alias at the canonical file, preferring a
// hard link and falling back to a copy.
func (s *Store) refreshAlias(canonical, alias string, data []byte) error {
	tmp := alias + ".tmp"
	if err := os.Link(canonical, tmp); err != nil {
		log.Logger.Debug().Err(err).Str("alias", alias).Msg("hard link failed, copying")
		if err := writeFileAtomic(alias, data); err != nil {
			return errdefs.Wrap(errdefs.CodeStorageError, "failed to copy alias", err)
		}
		return nil
	}
	if err := os.Rename(tmp, alias); err != nil {
		os.Remove(tmp)
		return errdefs.Wrap(errdefs.CodeStorageError, "failed to replace alias", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Get reads a record's payload via its alias
func (s *Store) Get(pod, streamPath, recordName string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.streamDir(pod, streamPath), recordName))
	if os.IsNotExist(err) {
		return nil, errdefs.Newf(errdefs.CodeRecordNotFound, "blob not found: %s", recordName)
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeStorageError, "failed to read blob", err)
	}
	return data, nil
}

// SoftDelete removes only the alias; the canonical file remains
func (s *Store) SoftDelete(pod, streamPath, recordName string) error {
	err := os.Remove(filepath.Join(s.streamDir(pod, streamPath), recordName))
	if err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.CodeStorageError, "failed to remove alias", err)
	}
	return nil
}

// Purge removes the canonical file for a hash when no alias in the same
// stream still references it.
func (s *Store) Purge(pod, streamPath, hashHex string) error {
	dir := s.streamDir(pod, streamPath)
	canonical := filepath.Join(dir, storageDir, hashHex)

	info, err := os.Stat(canonical)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errdefs.Wrap(errdefs.CodeStorageError, "failed to stat canonical file", err)
	}

	referenced, err := s.hasAliasReference(dir, canonical, info)
	if err != nil {
		return err
	}
	if referenced {
		return nil
	}

	if err := os.Remove(canonical); err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.CodeStorageError, "failed to remove canonical file", err)
	}
	return nil
}

// hasAliasReference reports whether any alias in the stream directory still
// points at the canonical file. Hard-linked aliases share the inode;
// copied aliases are compared by content.
func (s *Store) hasAliasReference(dir, canonical string, canonicalInfo os.FileInfo) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errdefs.Wrap(errdefs.CodeStorageError, "failed to read stream directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == storageDir {
			continue
		}
		aliasPath := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if os.SameFile(info, canonicalInfo) {
			return true, nil
		}
		if info.Size() == canonicalInfo.Size() {
			same, err := sameContent(aliasPath, canonical)
			if err == nil && same {
				return true, nil
			}
		}
	}
	return false, nil
}

func sameContent(a, b string) (bool, error) {
	da, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}

// CleanupPod removes every blob directory belonging to a pod. Used by pod
// deletion, which cascades all content.
func (s *Store) CleanupPod(pod string) error {
	if pod == "" {
		return fmt.Errorf("empty pod name")
	}
	if err := os.RemoveAll(filepath.Join(s.root, pod)); err != nil {
		return errdefs.Wrap(errdefs.CodeStorageError, "failed to remove pod blobs", err)
	}
	return nil
}

// CleanupStream removes a stream's blob directory, aliases and canonical
// files both. Used by stream deletion.
func (s *Store) CleanupStream(pod, streamPath string) error {
	if err := os.RemoveAll(s.streamDir(pod, streamPath)); err != nil {
		return errdefs.Wrap(errdefs.CodeStorageError, "failed to remove stream blobs", err)
	}
	return nil
}
