package taskstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"wopa/internal/wire"
)

var bucketCompleted = []byte("completed_tasks")

// ArchiveSummary is the bounded record written for each task when it
// completes, for GET /tasks to serve more history than the store's soft
// cap retains within one process's lifetime.
type ArchiveSummary struct {
	TaskID      string          `json:"task_id"`
	ServiceName wire.ServiceName `json:"service_name"`
	RiskLevel   wire.RiskLevel  `json:"risk_level,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Archive is a write-behind ring of completed-task summaries backed by
// bbolt. It is deliberately NOT durable: Open wipes any prior database at
// path before opening, so no state survives a process restart. This keeps
// the dependency scoped to a concern it is good at (a stable embedded
// B+tree under concurrent readers) without reintroducing the
// cross-restart task-history persistence the spec excludes.
type Archive struct {
	db      *bbolt.DB
	softCap int
}

// OpenArchive creates a fresh bbolt database under dir (typically
// os.TempDir()-rooted), discarding anything already there.
func OpenArchive(dir string, softCap int) (*Archive, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("archive: clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}
	db, err := bbolt.Open(filepath.Join(dir, "archive.db"), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCompleted)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create bucket: %w", err)
	}
	return &Archive{db: db, softCap: softCap}, nil
}

// Close releases the underlying database file.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Put records a completed task's summary, evicting the oldest entry once
// the ring exceeds softCap.
func (a *Archive) Put(summary ArchiveSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("archive: marshal: %w", err)
	}
	key := fmt.Sprintf("%020d:%s", summary.CompletedAt.UnixNano(), summary.TaskID)
	return a.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCompleted)
		if err := bucket.Put([]byte(key), data); err != nil {
			return err
		}
		if a.softCap <= 0 {
			return nil
		}
		for bucket.Stats().KeyN > a.softCap {
			c := bucket.Cursor()
			oldestKey, _ := c.First()
			if oldestKey == nil {
				break
			}
			if err := bucket.Delete(oldestKey); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns up to limit of the most recently archived summaries,
// newest first.
func (a *Archive) List(limit int) ([]ArchiveSummary, error) {
	var out []ArchiveSummary
	err := a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCompleted).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var s ArchiveSummary
			if err := json.Unmarshal(v, &s); err != nil {
				continue
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}
