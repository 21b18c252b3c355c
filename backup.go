package togglekit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// BackupStore persists a single snapshot of toggle definitions so queries
// can be served before the first successful network synchronization.
// Implementations must be safe for concurrent use.
type BackupStore interface {
	// Load restores the last persisted snapshot. A missing snapshot on
	// first run returns (nil, nil); an unreadable or corrupt snapshot
	// returns an error wrapping the underlying I/O failure.
	Load() ([]Toggle, error)

	// Save replaces the persisted snapshot. It must not corrupt the
	// previous snapshot when interrupted mid-write.
	Save(toggles []Toggle) error
}

// FileBackup stores the snapshot as one JSON file in the configured
// directory, in the same shape as the feature endpoint response body.
type FileBackup struct {
	dir     string
	appName string
}

// NewFileBackup creates a file-based backup store. An empty dir falls back
// to the OS temp directory.
func NewFileBackup(dir, appName string) *FileBackup {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileBackup{dir: dir, appName: appName}
}

// Path returns the snapshot file location.
func (b *FileBackup) Path() string {
	return filepath.Join(b.dir, fmt.Sprintf("togglekit-repo-%s.json", b.appName))
}

// Load reads and decodes the snapshot file. A missing file in an existing
// directory is the normal first-run state and returns (nil, nil); a missing
// backup directory, unreadable file, or malformed JSON is an error carrying
// the original failure so callers can distinguish transient from
// configuration problems.
func (b *FileBackup) Load() ([]Toggle, error) {
	raw, err := os.ReadFile(b.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, statErr := os.Stat(b.dir); statErr != nil {
				return nil, errors.Join(ErrBackupLoad, statErr)
			}
			return nil, nil
		}
		return nil, errors.Join(ErrBackupLoad, err)
	}

	var snapshot featureResponse
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, errors.Join(ErrBackupLoad, err)
	}
	return snapshot.Features, nil
}

// Save writes the snapshot to a temporary file in the same directory and
// atomically replaces the target, so a crash mid-write leaves the previous
// snapshot intact.
func (b *FileBackup) Save(toggles []Toggle) error {
	payload, err := json.Marshal(featureResponse{Features: toggles})
	if err != nil {
		return errors.Join(ErrBackupSave, err)
	}

	target := b.Path()
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return errors.Join(ErrBackupSave, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.Join(ErrBackupSave, err)
	}
	return nil
}
