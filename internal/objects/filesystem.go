package objects

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore implements ArchiveStore on a local directory
type FilesystemStore struct {
	basePath string
}

// NewFilesystemStore creates a filesystem-backed archive store
func NewFilesystemStore(basePath string) *FilesystemStore {
	return &FilesystemStore{basePath: basePath}
}

// Put stores an object on the filesystem
func (f *FilesystemStore) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	fullPath := filepath.Join(f.basePath, key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, data)
	return err
}

// Get retrieves an object from the filesystem
func (f *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(f.basePath, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

// Exists checks if an object exists on the filesystem
func (f *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(f.basePath, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns objects under the prefix
func (f *FilesystemStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	root := f.basePath

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			objects = append(objects, ObjectInfo{
				Key:          key,
				Size:         info.Size(),
				LastModified: info.ModTime(),
			})
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return objects, nil
}

// Delete removes an object from the filesystem
func (f *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(f.basePath, key))
	if err != nil && os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// validateKey rejects traversal attempts and absolute keys
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

var _ ArchiveStore = (*FilesystemStore)(nil)
