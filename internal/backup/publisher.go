package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/config"
)

// Publisher runs after a successful snapshot. It packs the snapshot into an
// archive, ships it offsite and prunes old copies locally and remotely.
type Publisher struct {
	cfg       config.BackupConfig
	ssh       config.SSHConfig
	store     *Store
	retention *RetentionManager

	// newDestination is swapped in tests
	newDestination func(config.DestinationConfig, config.SSHConfig) (Destination, error)
}

// NewPublisher creates a publisher. store may be nil, which disables record
// updates and retention.
func NewPublisher(cfg config.BackupConfig, sshCfg config.SSHConfig, store *Store) *Publisher {
	p := &Publisher{
		cfg:            cfg,
		ssh:            sshCfg,
		store:          store,
		newDestination: NewDestination,
	}
	if store != nil {
		p.retention = NewRetentionManager(store)
	}
	return p
}

// Handle is meant for CoordinatorOptions.OnComplete
func (p *Publisher) Handle(result *Result) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	if err := p.Publish(ctx, result); err != nil {
		log.Printf("[Publisher] Backup %d: %v", result.ID, err)
	}
}

// Publish archives and uploads one snapshot, then enforces retention.
func (p *Publisher) Publish(ctx context.Context, result *Result) error {
	var publishErr error

	if p.cfg.Archive || len(p.cfg.Destinations) > 0 {
		if err := p.archiveAndUpload(ctx, result); err != nil {
			publishErr = err
		}
	}

	if p.retention != nil {
		if _, err := p.retention.EnforceRetention(p.cfg.RetentionCount); err != nil {
			log.Printf("[Publisher] Retention failed: %v", err)
		}
	}

	return publishErr
}

func (p *Publisher) archiveAndUpload(ctx context.Context, result *Result) error {
	archive, err := CreateArchive(result.Path, p.cfg.Compression)
	if err != nil {
		return err
	}

	uploaded := make([]string, 0, len(p.cfg.Destinations))
	var failures []error
	for _, destCfg := range p.cfg.Destinations {
		if err := p.upload(ctx, destCfg, archive); err != nil {
			failures = append(failures, fmt.Errorf("%s destination: %w", destCfg.Type, err))
			continue
		}
		uploaded = append(uploaded, destCfg.Type+":"+destCfg.Path)
	}

	p.updateRecord(result.RecordID, archive, uploaded)

	if len(failures) > 0 {
		return fmt.Errorf("upload failed for %d of %d destinations: %v", len(failures), len(p.cfg.Destinations), failures)
	}
	return nil
}

func (p *Publisher) upload(ctx context.Context, destCfg config.DestinationConfig, archive *ArchiveInfo) error {
	dest, err := p.newDestination(destCfg, p.ssh)
	if err != nil {
		return err
	}
	defer dest.Close()

	file, err := os.Open(archive.Path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	if err := dest.Upload(ctx, archive.Filename, file, archive.SizeBytes); err != nil {
		return err
	}
	p.pruneDestination(ctx, dest)
	return nil
}

// pruneDestination keeps the newest RetentionCount archives at dest. Pruning
// failures are logged; the upload itself already succeeded.
func (p *Publisher) pruneDestination(ctx context.Context, dest Destination) {
	if p.cfg.RetentionCount <= 0 {
		return
	}
	files, err := dest.List(ctx)
	if err != nil {
		log.Printf("[Publisher] Warning: Failed to list %s destination: %v", dest.GetType(), err)
		return
	}
	for _, file := range files[min(p.cfg.RetentionCount, len(files)):] {
		if err := dest.Delete(ctx, file.Filename); err != nil {
			log.Printf("[Publisher] Warning: Failed to prune %s from %s: %v", file.Filename, dest.GetType(), err)
		}
	}
}

func (p *Publisher) updateRecord(recordID string, archive *ArchiveInfo, uploaded []string) {
	if p.store == nil || recordID == "" {
		return
	}

	record, err := p.store.Get(recordID)
	if err != nil {
		log.Printf("[Publisher] Warning: %v", err)
		return
	}

	record.ArchivePath = archive.Path
	if record.Metadata == nil {
		record.Metadata = map[string]interface{}{}
	}
	record.Metadata["archive_bytes"] = archive.SizeBytes
	record.Metadata["compression"] = archive.Compression
	record.Metadata["destinations"] = uploaded

	if err := p.store.Save(record); err != nil {
		log.Printf("[Publisher] Warning: Failed to update record %s: %v", recordID, err)
	}
}
