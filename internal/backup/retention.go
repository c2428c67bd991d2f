package backup

import (
	"fmt"
	"log"
	"os"
	"sort"
)

// RetentionManager prunes old snapshots
type RetentionManager struct {
	store *Store
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(store *Store) *RetentionManager {
	return &RetentionManager{store: store}
}

// EnforceRetention keeps the newest keep completed snapshots and removes the
// directories and local archives of the rest. keep <= 0 keeps everything.
func (rm *RetentionManager) EnforceRetention(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	completed, err := rm.store.List(StatusCompleted, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}

	if len(completed) <= keep {
		return 0, nil
	}

	// Newest first
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].JobID > completed[j].JobID
	})

	pruned := 0
	for _, record := range completed[keep:] {
		log.Printf("[Retention] Pruning backup %s (%s)", record.ID, record.Directory)

		if err := os.RemoveAll(record.Directory); err != nil {
			log.Printf("[Retention] Error removing %s: %v", record.Directory, err)
			continue
		}
		if record.ArchivePath != "" {
			if err := os.Remove(record.ArchivePath); err != nil && !os.IsNotExist(err) {
				log.Printf("[Retention] Error removing archive %s: %v", record.ArchivePath, err)
			}
		}

		record.Status = StatusPruned
		if err := rm.store.Save(record); err != nil {
			log.Printf("[Retention] Error updating backup %s: %v", record.ID, err)
			continue
		}
		pruned++
	}

	log.Printf("[Retention] Retention enforcement complete: pruned %d backups (keep %d)", pruned, keep)
	return pruned, nil
}
