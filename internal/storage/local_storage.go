package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"netdisk/internal/disk"
	"netdisk/internal/models"
)

// LocalStorage keeps objects as files below basePath. Keys are slash
// separated relative paths.
type LocalStorage struct {
	basePath  string
	publicURL string
}

var _ disk.ObjectStore = (*LocalStorage)(nil)

func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, os.ModePerm); err != nil {
		return nil, err
	}
	return &LocalStorage{basePath: basePath, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (ls *LocalStorage) pathFromKey(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(ls.basePath, clean), nil
}

// Put writes r to a temporary file and renames it into place once complete.
func (ls *LocalStorage) Put(ctx context.Context, key string, r io.Reader, size int64) (*models.StoredObject, error) {
	filePath, err := ls.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return nil, err
	}

	return &models.StoredObject{Key: key, URL: ls.urlFor(key), Size: written}, nil
}

func (ls *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := ls.pathFromKey(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s not found: %w", key, err)
		}
		return nil, err
	}

	return file, nil
}

func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	filePath, err := ls.pathFromKey(key)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

// Handler serves stored objects by exact key. Directories are never listed
// and in-progress uploads are not visible.
func (ls *LocalStorage) Handler() http.Handler {
	return http.FileServer(objectFS{ls: ls})
}

type objectFS struct {
	ls *LocalStorage
}

func (fs objectFS) Open(name string) (http.File, error) {
	key := strings.TrimPrefix(name, "/")
	if strings.HasPrefix(path.Base(key), ".") {
		return nil, os.ErrNotExist
	}
	filePath, err := fs.ls.pathFromKey(key)
	if err != nil {
		return nil, os.ErrNotExist
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

func (ls *LocalStorage) urlFor(key string) string {
	if ls.publicURL == "" {
		return ""
	}
	return ls.publicURL + "/" + key
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
