package backup

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/yourusername/bedrock-server-manager/internal/config"
)

// Destination is an offsite store for snapshot archives
type Destination interface {
	// Upload stores the archive read from reader under filename
	Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error

	// Delete removes an archive
	Delete(ctx context.Context, filename string) error

	// List returns the snapshot archives at the destination, newest first
	List(ctx context.Context) ([]BackupFile, error)

	// GetType returns the destination type identifier
	GetType() string

	Close() error
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"` // Unix timestamp
}

// NewDestination creates a destination from config. SFTP destinations
// connect immediately and verify the host key against sshCfg.
func NewDestination(dest config.DestinationConfig, sshCfg config.SSHConfig) (Destination, error) {
	switch dest.Type {
	case "local":
		return NewLocalDestination(dest.Path), nil
	case "sftp":
		return NewSFTPDestination(dest, sshCfg)
	case "s3":
		return NewS3Destination(dest)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", dest.Type)
	}
}

// isArchiveName reports whether name looks like an archive CreateArchive made
func isArchiveName(name string) bool {
	return strings.HasPrefix(name, "backup-") &&
		(strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tar"))
}

func sortNewestFirst(files []BackupFile) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt != files[j].CreatedAt {
			return files[i].CreatedAt > files[j].CreatedAt
		}
		return files[i].Filename > files[j].Filename
	})
}
