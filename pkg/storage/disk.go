package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"forkwiki/pkg/types"

	"github.com/peterbourgon/diskv/v3"
)

// DiskBackend stores one file per object under BasePath/<owner>/<path>.
type DiskBackend struct {
	d *diskv.Diskv
}

func NewDiskBackend(basePath string, cacheSize uint64) *DiskBackend {
	if cacheSize == 0 {
		cacheSize = 1024 * 1024
	}
	return &DiskBackend{d: diskv.New(diskv.Options{
		BasePath:          basePath,
		AdvancedTransform: keyToPathTransform,
		InverseTransform:  pathToKeyTransform,
		CacheSizeMax:      cacheSize,
	})}
}

func diskKey(owner types.Identity, path string) string {
	return string(owner) + path
}

func (b *DiskBackend) Write(_ context.Context, owner types.Identity, path string, data []byte) error {
	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: %q names a folder", ErrInvalidPath, path)
	}
	return b.d.Write(diskKey(owner, path), data)
}

func (b *DiskBackend) Read(_ context.Context, owner types.Identity, path string) ([]byte, error) {
	data, err := b.d.Read(diskKey(owner, path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *DiskBackend) Erase(_ context.Context, owner types.Identity, path string) error {
	err := b.d.Erase(diskKey(owner, path))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (b *DiskBackend) Keys(ctx context.Context, owner types.Identity, prefix string) ([]string, error) {
	var paths []string
	for key := range b.d.KeysPrefix(diskKey(owner, prefix), ctx.Done()) {
		paths = append(paths, strings.TrimPrefix(key, string(owner)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// keyToPathTransform maps "owner/pub/wiki.app/id" to directories
// owner/pub/wiki.app and file id.
func keyToPathTransform(key string) *diskv.PathKey {
	parts := strings.Split(key, "/")
	return &diskv.PathKey{
		Path:     parts[:len(parts)-1],
		FileName: parts[len(parts)-1],
	}
}

func pathToKeyTransform(pathKey *diskv.PathKey) string {
	if len(pathKey.Path) == 0 {
		return pathKey.FileName
	}
	return strings.Join(pathKey.Path, "/") + "/" + pathKey.FileName
}
