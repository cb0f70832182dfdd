package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// OfflineQueueRepository is the durable parking lot for messages that cannot
// be submitted while the process is offline. Each item is one JSON file under
// the base directory, so queued payloads survive restarts and crashes.
type OfflineQueueRepository struct {
	mu      sync.Mutex
	baseDir string
}

// NewOfflineQueueRepository ensures the base directory exists.
func NewOfflineQueueRepository(baseDir string) (*OfflineQueueRepository, error) {
	if baseDir == "" {
		baseDir = "./offline-queue"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create offline queue directory: %w", err)
	}
	return &OfflineQueueRepository{baseDir: baseDir}, nil
}

// Enqueue persists one item. The write goes through a temp file and rename so
// a crash mid-write never leaves a torn item behind.
func (r *OfflineQueueRepository) Enqueue(ctx context.Context, item models.OfflineQueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode offline item: %w", err)
	}
	tmp := r.path(item.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write offline item: %w", err)
	}
	if err := os.Rename(tmp, r.path(item.ID)); err != nil {
		return fmt.Errorf("commit offline item: %w", err)
	}
	return nil
}

// Dequeue removes a replayed item. Missing files are fine: a double replay
// must not fail the queue.
func (r *OfflineQueueRepository) Dequeue(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(r.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove offline item: %w", err)
	}
	return nil
}

// ListPending returns every parked item, oldest first per student, so replay
// preserves the chronological order guardians expect.
func (r *OfflineQueueRepository) ListPending(ctx context.Context) ([]models.OfflineQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read offline queue directory: %w", err)
	}

	items := make([]models.OfflineQueueItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.baseDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read offline item %s: %w", entry.Name(), err)
		}
		var item models.OfflineQueueItem
		if err := json.Unmarshal(data, &item); err != nil {
			// A torn or foreign file must not jam the whole queue.
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].StudentID != items[j].StudentID {
			return items[i].StudentID < items[j].StudentID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *OfflineQueueRepository) path(id string) string {
	return filepath.Join(r.baseDir, id+".json")
}
