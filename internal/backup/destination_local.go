package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LocalDestination copies archives into a directory, typically another disk
// or a network mount.
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{basePath: basePath}
}

func (ld *LocalDestination) path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid archive name %q", filename)
	}
	return filepath.Join(ld.basePath, filename), nil
}

// Upload copies the archive into a hidden temp file and renames it into
// place once its size checks out.
func (ld *LocalDestination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	destPath, err := ld.path(filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(ld.basePath, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmp.Name())
		}
	}()

	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: reader})
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if written != sizeBytes {
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", filename, err)
	}
	committed = true

	log.Printf("[LocalDest] Stored %s (%d bytes)", destPath, written)
	return nil
}

// Delete removes an archive
func (ld *LocalDestination) Delete(ctx context.Context, filename string) error {
	destPath, err := ld.path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(destPath); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}
	log.Printf("[LocalDest] Deleted %s", destPath)
	return nil
}

// List returns the snapshot archives in the directory, newest first.
func (ld *LocalDestination) List(ctx context.Context) ([]BackupFile, error) {
	entries, err := os.ReadDir(ld.basePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ld.basePath, err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isArchiveName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}
	sortNewestFirst(files)
	return files, nil
}

// GetType returns the destination type
func (ld *LocalDestination) GetType() string {
	return "local"
}

// Close is a no-op
func (ld *LocalDestination) Close() error {
	return nil
}

// contextReader stops a copy once ctx is cancelled
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
