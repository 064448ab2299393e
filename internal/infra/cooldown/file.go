package cooldown

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
)

// FileStore keeps the cooldown record in a local JSON file. It is the
// fallback layer, always written through to on save.
type FileStore struct {
	path string
}

// NewFileStore creates a file store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Read loads the record. found is false when the file does not exist.
func (f *FileStore) Read() (state domain.CooldownState, found bool, err error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return domain.CooldownState{}, false, nil
	}
	if err != nil {
		return domain.CooldownState{}, false, fmt.Errorf("read cooldown file: %w", err)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.CooldownState{}, false, fmt.Errorf("parse cooldown file: %w", err)
	}
	return r.toState(), true, nil
}

// Write persists the record, replacing any previous file atomically.
func (f *FileStore) Write(state domain.CooldownState) error {
	data, err := json.MarshalIndent(toRecord(state, time.Now()), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cooldown record: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cooldown file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace cooldown file: %w", err)
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (f *FileStore) Remove() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cooldown file: %w", err)
	}
	return nil
}
