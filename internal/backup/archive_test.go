package backup

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/yourusername/bedrock-server-manager/internal/config"
)

func writeSnapshot(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "backup-1700000000000")
	files := map[string]string{
		"Bedrock level/level.dat":          "level",
		"Bedrock level/db/CURRENT":         "MANIFEST-000002\n",
		"Bedrock level/db/MANIFEST-000002": "manifest",
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	return dir
}

func TestCreateArchiveGzip(t *testing.T) {
	dir := writeSnapshot(t)

	info, err := CreateArchive(dir, config.CompressionConfig{Type: "gzip", Level: 6})
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if info.Path != dir+".tar.gz" || info.FileCount != 3 || info.SizeBytes <= 0 {
		t.Fatalf("unexpected archive info: %+v", info)
	}

	file, err := os.Open(info.Path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("gzip reader failed: %v", err)
	}
	tr := tar.NewReader(gz)

	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read failed: %v", err)
		}
		if header.Typeflag == tar.TypeReg {
			names = append(names, header.Name)
		}
	}
	sort.Strings(names)

	want := []string{"Bedrock level/db/CURRENT", "Bedrock level/db/MANIFEST-000002", "Bedrock level/level.dat"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected entries %v", names)
	}
}

func TestCreateArchiveUncompressed(t *testing.T) {
	dir := writeSnapshot(t)

	info, err := CreateArchive(dir, config.CompressionConfig{Type: "none"})
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if !strings.HasSuffix(info.Path, ".tar") || info.Compression != "none" {
		t.Fatalf("unexpected archive info: %+v", info)
	}
}

func TestLocalDestinationUploadListDelete(t *testing.T) {
	ctx := context.Background()
	dest := NewLocalDestination(filepath.Join(t.TempDir(), "offsite"))

	content := "archive bytes"
	if err := dest.Upload(ctx, "backup-1.tar.gz", strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	files, err := dest.List(ctx)
	if err != nil || len(files) != 1 || files[0].Filename != "backup-1.tar.gz" {
		t.Fatalf("unexpected listing %+v (%v)", files, err)
	}

	if err := dest.Upload(ctx, "../escape.tar.gz", strings.NewReader(content), int64(len(content))); err == nil {
		t.Fatalf("expected a path outside the destination to be rejected")
	}
	if err := dest.Upload(ctx, "backup-2.tar.gz", strings.NewReader(content), 999); err == nil {
		t.Fatalf("expected a size mismatch error")
	}
	files, _ = dest.List(ctx)
	if len(files) != 1 {
		t.Fatalf("failed upload left a file behind: %+v", files)
	}

	if err := dest.Delete(ctx, "backup-1.tar.gz"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if dest.GetType() != "local" {
		t.Fatalf("unexpected type %s", dest.GetType())
	}
}

func TestNewDestinationRejectsUnknownType(t *testing.T) {
	if _, err := NewDestination(config.DestinationConfig{Type: "invalid"}, config.SSHConfig{}); err == nil {
		t.Fatalf("expected an error for an unknown destination type")
	}
}

func TestResolveFormat(t *testing.T) {
	cases := []struct {
		cfg  config.CompressionConfig
		want archiveFormat
	}{
		{config.CompressionConfig{}, archiveFormat{gzip: true, level: gzip.DefaultCompression}},
		{config.CompressionConfig{Type: "gzip", Level: 42}, archiveFormat{gzip: true, level: gzip.BestCompression}},
		{config.CompressionConfig{Type: "gzip", Level: -5}, archiveFormat{gzip: true, level: gzip.BestSpeed}},
		{config.CompressionConfig{Type: " NONE "}, archiveFormat{}},
	}
	for _, tc := range cases {
		if got := resolveFormat(tc.cfg); got != tc.want {
			t.Fatalf("resolveFormat(%+v) = %+v, want %+v", tc.cfg, got, tc.want)
		}
	}
}
