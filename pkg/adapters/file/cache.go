package file

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"
)

var _ ports.RecoveryCache = (*Cache)(nil)

// DefaultCacheDir is used when no directory is configured.
var DefaultCacheDir = filepath.Join(".journey", "recovery")

// Cache implements ports.RecoveryCache with one JSON file per session.
//
// File names are derived from a readable slug of the key plus a digest of the
// exact key, so distinct keys never share a file. The key itself is read back
// from the snapshot, which keeps List lossless.
type Cache struct {
	fs       afero.Fs
	basePath string
	logger   *slog.Logger
}

// CacheOption configures the Cache.
type CacheOption func(*Cache)

// WithFs sets the filesystem (defaults to the OS filesystem).
func WithFs(fs afero.Fs) CacheOption {
	return func(c *Cache) {
		c.fs = fs
	}
}

// WithLogger sets the logger used to report unreadable snapshots. Defaults to slog.Default().
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache creates a cache rooted at basePath.
func NewCache(basePath string, opts ...CacheOption) *Cache {
	if basePath == "" {
		basePath = DefaultCacheDir
	}
	c := &Cache{fs: afero.NewOsFs(), basePath: basePath, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write persists the snapshot atomically.
func (c *Cache) Write(key domain.SessionKey, snapshot domain.RecoverySnapshot) error {
	if err := key.Validate(); err != nil {
		return err
	}
	data, err := domain.EncodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return writeFileAtomic(c.fs, c.path(key), data)
}

// Read loads the snapshot for key.
func (c *Cache) Read(key domain.SessionKey) (domain.RecoverySnapshot, error) {
	if err := key.Validate(); err != nil {
		return domain.RecoverySnapshot{}, err
	}
	data, err := afero.ReadFile(c.fs, c.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.RecoverySnapshot{}, domain.ErrSnapshotAbsent
		}
		return domain.RecoverySnapshot{}, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	snap, err := domain.DecodeSnapshot(data)
	if err != nil {
		return domain.RecoverySnapshot{}, err
	}
	if snap.Key() != key {
		return domain.RecoverySnapshot{}, fmt.Errorf("snapshot file %s holds %s, not %s", c.path(key), snap.Key(), key)
	}
	return snap, nil
}

// Clear removes the snapshot file.
func (c *Cache) Clear(key domain.SessionKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := c.fs.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

// List returns the keys of every cached snapshot. Unreadable files are
// logged and skipped.
func (c *Cache) List() ([]domain.SessionKey, error) {
	if ok, err := afero.DirExists(c.fs, c.basePath); err != nil || !ok {
		return []domain.SessionKey{}, err
	}

	var keys []domain.SessionKey
	err := afero.Walk(c.fs, c.basePath, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".json" || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		data, err := afero.ReadFile(c.fs, path)
		if err == nil {
			var snap domain.RecoverySnapshot
			if snap, err = domain.DecodeSnapshot(data); err == nil {
				keys = append(keys, snap.Key())
				return nil
			}
		}
		c.logger.Warn("skipping unreadable snapshot", "path", path, "error", err)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].String() < keys[b].String() })
	return keys, nil
}

func (c *Cache) path(key domain.SessionKey) string {
	sum := sha256.Sum256([]byte(key.UserID + "\x00" + key.PlaybookID))
	name := slug(key.PlaybookID) + "-" + hex.EncodeToString(sum[:6]) + ".json"
	return filepath.Join(c.basePath, slug(key.UserID), name)
}

var (
	slugDisallowed = regexp.MustCompile(`[^a-z0-9._-]`)
	slugRepeats    = regexp.MustCompile(`-+`)
)

// slug turns an arbitrary id into a portable path segment.
func slug(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	s = slugDisallowed.ReplaceAllString(s, "-")
	s = slugRepeats.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-. ")
	if s == "" {
		return "_"
	}
	return s
}
