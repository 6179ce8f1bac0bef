package tools

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sysdeck/sysdeck/internal/errors"
)

const extractDirPerm = 0o755

// Extractor unpacks managed-folder archives into a per-tool working
// directory. Extraction is atomic: a temporary directory is renamed into
// place, so a reconciliation pass running concurrently never sees a
// partially written tree. At most one extraction per tool runs at a time.
type Extractor struct {
	dir string

	mu       sync.Mutex
	inflight map[string]bool
}

func NewExtractor(dir string) *Extractor {
	return &Extractor{
		dir:      dir,
		inflight: make(map[string]bool),
	}
}

// IsArchive reports whether the managed-folder entry is an archive rather
// than an executable.
func IsArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// Dir returns the extraction root.
func (e *Extractor) Dir() string {
	return e.dir
}

// Extract unpacks the archive for toolID and returns the extraction
// directory. If the archive was already unpacked and has not changed since,
// the existing directory is returned without re-extracting. When another
// extraction for the same tool is in flight the call returns
// ErrExtractionInFlight instead of starting a second one.
func (e *Extractor) Extract(toolID, archivePath string) (string, error) {
	errFactory := errors.New()
	target := filepath.Join(e.dir, toolID)

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return "", errFactory.Wrap(ErrArchiveExtraction, err)
	}

	if targetInfo, err := os.Stat(target); err == nil && !targetInfo.ModTime().Before(archiveInfo.ModTime()) {
		return target, nil
	}

	if !e.begin(toolID) {
		return "", errFactory.WithData(ErrExtractionInFlight, toolID)
	}
	defer e.end(toolID)

	if err := os.MkdirAll(e.dir, extractDirPerm); err != nil {
		return "", errFactory.Wrap(ErrArchiveExtraction, err)
	}

	tmp, err := os.MkdirTemp(e.dir, toolID+".tmp-")
	if err != nil {
		return "", errFactory.Wrap(ErrArchiveExtraction, err)
	}

	if err := unzip(archivePath, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", err
	}

	if err := os.RemoveAll(target); err != nil {
		os.RemoveAll(tmp)
		return "", errFactory.Wrap(ErrArchiveExtraction, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.RemoveAll(tmp)
		return "", errFactory.Wrap(ErrArchiveExtraction, err)
	}

	// Stamp the directory so an unchanged archive is not re-extracted.
	now := time.Now()
	_ = os.Chtimes(target, now, now)

	return target, nil
}

func (e *Extractor) begin(toolID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inflight[toolID] {
		return false
	}
	e.inflight[toolID] = true

	return true
}

func (e *Extractor) end(toolID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inflight, toolID)
}

func unzip(archivePath, dest string) error {
	errFactory := errors.New()

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return errFactory.Wrap(ErrArchiveExtraction, err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := extractFile(file, dest); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(file *zip.File, dest string) error {
	errFactory := errors.New()

	// Reject entries that would escape the destination.
	path := filepath.Join(dest, filepath.Clean(file.Name))
	if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
		return errFactory.WithData(ErrUnsafeArchivePath, file.Name)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(path, extractDirPerm)
	}

	if err := os.MkdirAll(filepath.Dir(path), extractDirPerm); err != nil {
		return errFactory.Wrap(ErrArchiveExtraction, err)
	}

	src, err := file.Open()
	if err != nil {
		return errFactory.Wrap(ErrArchiveExtraction, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
	if err != nil {
		return errFactory.Wrap(ErrArchiveExtraction, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil { //nolint:gosec // companion tool archives are operator-provided
		return errFactory.Wrap(ErrArchiveExtraction, err)
	}

	return nil
}
