// Package archive materializes downloaded zip files whose entry names use a
// legacy single-byte charset, re-encoding the names before writing.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Result records the outcome of extracting one archive. A batch keeps going
// past individual failures; callers can audit them here.
type Result struct {
	Archive string
	Dest    string
	Err     error
}

// Normalizer extracts archives from a scratch source directory into a
// destination, transcoding entry names from a legacy encoding.
type Normalizer struct {
	encodingName string
	logger       *slog.Logger
}

// New builds a normalizer for the named charset (e.g. "gbk").
func New(encodingName string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{encodingName: encodingName, logger: logger}
}

// Normalize extracts every *.zip found under srcDir into a collision-safe
// subdirectory of dstDir. On success the source directory is purged: it is a
// scratch buffer, not a retained artifact. Per-archive failures are returned
// in the result slice and do not abort the batch.
func (n *Normalizer) Normalize(srcDir, dstDir string) ([]Result, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	var archives []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".zip") {
			archives = append(archives, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}

	results := make([]Result, 0, len(archives))
	extracted := 0
	for _, zf := range archives {
		dest := allocateTarget(dstDir, zf)
		if err := n.extract(zf, dest); err != nil {
			n.logger.Error("archive extraction failed", "archive", zf, "err", err)
			results = append(results, Result{Archive: zf, Dest: dest, Err: err})
			continue
		}
		n.logger.Info("archive extracted", "archive", zf, "dest", dest)
		results = append(results, Result{Archive: zf, Dest: dest})
		extracted++
	}

	if extracted > 0 {
		if err := purge(srcDir); err != nil {
			n.logger.Error("failed to clear source directory", "dir", srcDir, "err", err)
		}
	}
	return results, nil
}

// allocateTarget picks a directory under dstDir named after the archive,
// appending a numeric suffix until the name is unused.
func allocateTarget(dstDir, archivePath string) string {
	stem := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	target := filepath.Join(dstDir, stem)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			return target
		}
		target = filepath.Join(dstDir, fmt.Sprintf("%s_%d", stem, counter))
	}
}

func (n *Normalizer) extract(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		name, err := n.entryName(f)
		if err != nil {
			return fmt.Errorf("entry %q: %w", f.Name, err)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("entry %q escapes destination", name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %q: %w", name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create parent of %q: %w", name, err)
		}
		if err := writeEntry(f, target); err != nil {
			return fmt.Errorf("write %q: %w", name, err)
		}
	}
	return nil
}

// entryName re-encodes a raw legacy-charset entry name into UTF-8. Names the
// archive already marks as UTF-8 pass through untouched.
func (n *Normalizer) entryName(f *zip.File) (string, error) {
	if !f.NonUTF8 {
		return f.Name, nil
	}
	enc, err := htmlindex.Get(n.encodingName)
	if err != nil {
		return "", fmt.Errorf("unknown encoding %q: %w", n.encodingName, err)
	}
	decoded, _, err := transform.String(enc.NewDecoder(), f.Name)
	if err != nil {
		return "", fmt.Errorf("transcode name: %w", err)
	}
	return decoded, nil
}

func writeEntry(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// purge removes everything inside dir, leaving the directory itself.
func purge(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
