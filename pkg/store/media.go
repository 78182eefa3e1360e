package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tinyland-inc/clawbridge/pkg/utils"
)

// MediaStore writes downloaded chat media under
// <dataDir>/media/<bridge>/<conversation>/ with collision-safe names.
type MediaStore struct {
	root string
}

func NewMediaStore(dataDir string) *MediaStore {
	return &MediaStore{root: filepath.Join(dataDir, "media")}
}

func (m *MediaStore) SaveRemoteFile(bridgeID, conversationID, fileNameHint string, data []byte) (string, error) {
	name := utils.SafeFilename(fileNameHint)
	if name == "" {
		name = "file"
	}
	dir := filepath.Join(m.root, utils.SafeFilename(bridgeID), utils.SafeFilename(conversationID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// PruneOlderThan removes media files last modified before cutoff. Empty
// conversation directories are left in place.
func (m *MediaStore) PruneOlderThan(cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.Walk(m.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	return removed, err
}
