package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	entrySuffix = ".entry"
	tempPrefix  = ".tmp-"
)

// Filesystem implements Store using one file per key in a flat directory.
// Writes are atomic using a temp file and rename pattern.
type Filesystem struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex // serialises writers so quota accounting stays exact
	quota quota
}

// FilesystemOption configures a Filesystem store.
type FilesystemOption func(*Filesystem)

// WithFilesystemQuota limits total stored bytes. Zero means unlimited.
func WithFilesystemQuota(n int64) FilesystemOption {
	return func(fs *Filesystem) {
		fs.quota.limit = n
	}
}

// WithFilesystemLogger sets the logger for the store.
func WithFilesystemLogger(l *slog.Logger) FilesystemOption {
	return func(fs *Filesystem) {
		if l != nil {
			fs.logger = l
		}
	}
}

// NewFilesystem creates a new filesystem store rooted at the given path.
// The directory will be created if it does not exist. Leftover temp files
// from interrupted writes are removed and usage is recomputed.
func NewFilesystem(root string, opts ...FilesystemOption) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	fs := &Filesystem{root: absRoot, logger: slog.Default()}
	for _, opt := range opts {
		opt(fs)
	}

	if err := fs.scan(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *Filesystem) scan() error {
	dirents, err := os.ReadDir(fs.root)
	if err != nil {
		return fmt.Errorf("reading root directory: %w", err)
	}

	var (
		used  int64
		items int
	)
	for _, d := range dirents {
		name := d.Name()
		if d.IsDir() {
			continue
		}
		if strings.HasPrefix(name, tempPrefix) {
			fs.logger.Debug("removing stale temp file", "name", name)
			_ = os.Remove(filepath.Join(fs.root, name))
			continue
		}
		key, ok := fs.nameToKey(name)
		if !ok {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		used += int64(len(key)) + info.Size()
		items++
	}
	fs.quota.reset(used, items)
	return nil
}

// Root returns the root directory path.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Get retrieves the value at key.
func (fs *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(fs.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Put stores value at key using an atomic write.
func (fs *Filesystem) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.keyToPath(key)
	var (
		oldSize int64
		existed bool
	)
	if info, err := os.Stat(path); err == nil {
		oldSize, existed = int64(len(key))+info.Size(), true
	}
	newSize := itemSize(key, value)
	if !fs.quota.fits(oldSize, newSize) {
		return ErrQuotaExceeded
	}

	tmp, err := os.CreateTemp(fs.root, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up temp file on error
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(value); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	fs.quota.commit(oldSize, newSize, existed)
	return nil
}

// Delete removes the file for key.
func (fs *Filesystem) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.keyToPath(key)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat file: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	fs.quota.release(int64(len(key)) + info.Size())
	return nil
}

// List returns all keys with the given prefix in lexical order.
func (fs *Filesystem) List(_ context.Context, prefix string) ([]string, error) {
	dirents, err := os.ReadDir(fs.root)
	if err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}

	var keys []string
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		key, ok := fs.nameToKey(d.Name())
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Usage returns the current quota usage.
func (fs *Filesystem) Usage(_ context.Context) (Usage, error) {
	return fs.quota.usage(), nil
}

// keyToPath escapes key into a single file name so keys containing path
// separators cannot leave the root.
func (fs *Filesystem) keyToPath(key string) string {
	return filepath.Join(fs.root, url.PathEscape(key)+entrySuffix)
}

func (fs *Filesystem) nameToKey(name string) (string, bool) {
	escaped, ok := strings.CutSuffix(name, entrySuffix)
	if !ok || strings.HasPrefix(name, tempPrefix) {
		return "", false
	}
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return key, true
}

// Compile-time interface checks
var (
	_ Store         = (*Filesystem)(nil)
	_ UsageReporter = (*Filesystem)(nil)
)
