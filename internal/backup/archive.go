package backup

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/yourusername/bedrock-server-manager/internal/config"
)

// ArchiveInfo describes a packed snapshot
type ArchiveInfo struct {
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	SizeBytes   int64     `json:"size_bytes"`
	FileCount   int       `json:"file_count"`
	Compression string    `json:"compression"`
	CreatedAt   time.Time `json:"created_at"`
}

// archiveFormat is the resolved compression setting of an archive
type archiveFormat struct {
	gzip  bool
	level int
}

func resolveFormat(cfg config.CompressionConfig) archiveFormat {
	if strings.EqualFold(strings.TrimSpace(cfg.Type), "none") {
		return archiveFormat{}
	}
	level := cfg.Level
	switch {
	case level == 0:
		level = gzip.DefaultCompression
	case level < gzip.BestSpeed:
		level = gzip.BestSpeed
	case level > gzip.BestCompression:
		level = gzip.BestCompression
	}
	return archiveFormat{gzip: true, level: level}
}

func (f archiveFormat) name() string {
	if f.gzip {
		return "gzip"
	}
	return "none"
}

func (f archiveFormat) extension() string {
	if f.gzip {
		return "tar.gz"
	}
	return "tar"
}

// CreateArchive packs snapshotDir into <snapshotDir>.tar[.gz] next to it.
// Entry names are relative to snapshotDir.
func CreateArchive(snapshotDir string, compression config.CompressionConfig) (*ArchiveInfo, error) {
	format := resolveFormat(compression)
	archivePath := fmt.Sprintf("%s.%s", filepath.Clean(snapshotDir), format.extension())

	file, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	fileCount, err := writeArchive(file, snapshotDir, format)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(archivePath)
		return nil, err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	log.Printf("[Archive] Created %s (%d files, %d bytes)", archivePath, fileCount, info.Size())
	return &ArchiveInfo{
		Path:        archivePath,
		Filename:    filepath.Base(archivePath),
		SizeBytes:   info.Size(),
		FileCount:   fileCount,
		Compression: format.name(),
		CreatedAt:   time.Now(),
	}, nil
}

func writeArchive(w io.Writer, root string, format archiveFormat) (int, error) {
	var gz *gzip.Writer
	if format.gzip {
		var err error
		gz, err = gzip.NewWriterLevel(w, format.level)
		if err != nil {
			return 0, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		w = gz
	}

	tw := tar.NewWriter(w)
	fileCount := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		if _, err := io.Copy(tw, src); err != nil {
			return err
		}
		fileCount++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return 0, fmt.Errorf("failed to finish compression: %w", err)
		}
	}
	return fileCount, nil
}
