// internal/media/filestore.go
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// FileStore writes generated media under a public directory and reaps old
// files. URLs are stable for the file's lifetime; clients reference them from
// state payloads instead of receiving bytes inline.
type FileStore struct {
	Dir       string
	URLPrefix string
	TTL       time.Duration
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir, urlPrefix string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir %s: %w", dir, err)
	}
	return &FileStore{Dir: dir, URLPrefix: urlPrefix, TTL: ttl}, nil
}

// Save persists data under a random name and returns its public URL path.
func (fs *FileStore) Save(data []byte, ext string) (string, error) {
	name := uuid.NewString() + "." + ext
	if err := os.WriteFile(filepath.Join(fs.Dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return fs.URLPrefix + "/" + name, nil
}

// StartReaper deletes files older than TTL on a fixed interval until ctx ends.
func (fs *FileStore) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fs.ReapOnce()
			}
		}
	}()
}

// ReapOnce removes every file in Dir older than TTL.
func (fs *FileStore) ReapOnce() {
	entries, err := os.ReadDir(fs.Dir)
	if err != nil {
		log.Warnf("media: reaper failed to read %s: %v", fs.Dir, err)
		return
	}
	cutoff := time.Now().Add(-fs.TTL)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(fs.Dir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Warnf("media: reaper failed to remove %s: %v", path, err)
			}
		}
	}
}
