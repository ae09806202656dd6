package advocate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pebble "github.com/cockroachdb/pebble"

	"github.com/skworld/advocate/internal/model"
)

// DedupStore remembers the screening outcome of every processed message so
// a redelivered envelope replays the recorded outcome instead of being
// processed twice.
type DedupStore struct {
	db *pebble.DB
}

// OpenDedup opens (creating if needed) the dedup store at path.
func OpenDedup(path string) (*DedupStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create dedup directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	return &DedupStore{db: db}, nil
}

// Seen returns the recorded outcome for a message id, or (nil, nil) when
// the message has not been processed before.
func (d *DedupStore) Seen(messageID string) (*model.ScreenResult, error) {
	v, closer, err := d.db.Get(dedupKey(messageID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	defer closer.Close()

	var result model.ScreenResult
	if err := json.Unmarshal(v, &result); err != nil {
		return nil, fmt.Errorf("dedup decode: %w", err)
	}
	return &result, nil
}

// Record stores the outcome for a message id.
func (d *DedupStore) Record(messageID string, result model.ScreenResult) error {
	v, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("dedup encode: %w", err)
	}
	if err := d.db.Set(dedupKey(messageID), v, pebble.Sync); err != nil {
		return fmt.Errorf("dedup record: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (d *DedupStore) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func dedupKey(messageID string) []byte {
	return []byte("seen:" + messageID)
}
