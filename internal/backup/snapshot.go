package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentFiles bounds open file handles while copying a world.
const maxConcurrentFiles = 16

// prepareLevelDirs creates <dest>/<level> and <dest>/<level>/db.
func prepareLevelDirs(destDir, level string) error {
	if err := os.MkdirAll(filepath.Join(destDir, level, "db"), 0755); err != nil {
		return fmt.Errorf("%w: failed to create level directory: %v", ErrFileCopy, err)
	}
	return nil
}

// copyFiles copies every manifest file from worldsDir into destDir
// concurrently. It returns only after every copy has finished.
func copyFiles(ctx context.Context, worldsDir, destDir string, manifest []ManifestEntry) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFiles)

	for _, entry := range manifest {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src := filepath.Join(worldsDir, filepath.FromSlash(entry.Path))
			dst := filepath.Join(destDir, filepath.FromSlash(entry.Path))
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrFileCopy, entry.Path, err)
			}
			return nil
		})
	}

	return g.Wait()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// truncateFiles cuts every copy down to its manifest length. A copy shorter
// than its manifest length is an error; extending it would invent data.
func truncateFiles(ctx context.Context, destDir string, manifest []ManifestEntry) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFiles)

	for _, entry := range manifest {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dst := filepath.Join(destDir, filepath.FromSlash(entry.Path))
			info, err := os.Stat(dst)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTruncate, entry.Path, err)
			}
			if uint64(info.Size()) < entry.Length {
				return fmt.Errorf("%w: %s is %d bytes, expected at least %d", ErrTruncate, entry.Path, info.Size(), entry.Length)
			}
			if err := os.Truncate(dst, int64(entry.Length)); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTruncate, entry.Path, err)
			}
			return nil
		})
	}

	return g.Wait()
}
