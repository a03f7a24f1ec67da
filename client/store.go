package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"example.com/dinehub/services/orders/internal/order"
)

// Snapshot is the device-local mirror of one order. PlacedAt is unix
// milliseconds; zero means the snapshot is still a cart that was never sent
// to the server.
type Snapshot struct {
	OrderID    string       `json:"order_id"`
	TableID    string       `json:"table_id"`
	Status     order.Status `json:"status"`
	Items      []Item       `json:"items"`
	TotalCents int64        `json:"total_cents"`
	PlacedAt   int64        `json:"placed_at"`
	Dirty      bool         `json:"dirty"`
}

// Placed reports whether the snapshot has been turned into a real order.
func (s *Snapshot) Placed() bool {
	return s.PlacedAt != 0
}

// PlacedTime returns PlacedAt as a time, or the zero time for a cart.
func (s *Snapshot) PlacedTime() time.Time {
	if s.PlacedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.PlacedAt)
}

// PendingSyncEntry is a queued order creation awaiting delivery. Entries are
// removed only on confirmed server acceptance, never dropped.
type PendingSyncEntry struct {
	Payload  OrderPayload `json:"payload"`
	QueuedAt time.Time    `json:"queued_at"`
}

// Store persists device-local state across restarts.
type Store interface {
	LoadSnapshot(tableID string) (*Snapshot, error)
	SaveSnapshot(snapshot *Snapshot) error
	DeleteSnapshot(tableID string) error
	LoadQueue() ([]PendingSyncEntry, error)
	SaveQueue(entries []PendingSyncEntry) error
}

const queueFileName = "pending-sync.json"

// FileStore keeps snapshots and the sync queue as JSON files in a directory,
// one snapshot file per table. Writes go through a temp file and rename so a
// crash mid-write never corrupts saved state.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create store directory")
	}
	return &FileStore{dir: dir}, nil
}

// LoadSnapshot returns the saved snapshot for the table, or nil when none
// exists.
func (s *FileStore) LoadSnapshot(tableID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(tableID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read snapshot")
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot")
	}
	return &snapshot, nil
}

// SaveSnapshot writes the snapshot for its table.
func (s *FileStore) SaveSnapshot(snapshot *Snapshot) error {
	return s.writeFile(s.snapshotPath(snapshot.TableID), snapshot)
}

// DeleteSnapshot removes the table's saved snapshot.
func (s *FileStore) DeleteSnapshot(tableID string) error {
	if err := os.Remove(s.snapshotPath(tableID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete snapshot")
	}
	return nil
}

// LoadQueue returns the persisted pending-sync queue.
func (s *FileStore) LoadQueue() ([]PendingSyncEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, queueFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read sync queue")
	}

	var entries []PendingSyncEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "failed to decode sync queue")
	}
	return entries, nil
}

// SaveQueue writes the pending-sync queue.
func (s *FileStore) SaveQueue(entries []PendingSyncEntry) error {
	if entries == nil {
		entries = []PendingSyncEntry{}
	}
	return s.writeFile(filepath.Join(s.dir, queueFileName), entries)
}

func (s *FileStore) snapshotPath(tableID string) string {
	return filepath.Join(s.dir, "order-"+tableID+".json")
}

func (s *FileStore) writeFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode state")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write state file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "failed to replace state file")
	}
	return nil
}
