package filesystem

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
)

const defaultMaxUnpackedBytes = 100 << 20

var (
	ErrNoBookInArchive = errors.New("archive contains no .fb2 file")
	ErrArchiveTooLarge = errors.New("unpacked book exceeds size limit")
	ErrOutsideRoot     = errors.New("path escapes workspace")
)

// Store manages per-job temporary files under a single root.
type Store struct {
	Root             string
	MaxUnpackedBytes int64
}

// NewStore creates the workspace adapter. maxUnpacked <= 0 uses 100 MB.
func NewStore(root string, maxUnpacked int64) *Store {
	if maxUnpacked <= 0 {
		maxUnpacked = defaultMaxUnpackedBytes
	}
	return &Store{Root: root, MaxUnpackedBytes: maxUnpacked}
}

// EnsureDirs creates the workspace root.
func (s *Store) EnsureDirs() error {
	return os.MkdirAll(s.Root, 0o755)
}

// JobPaths reserves distinct names for every file a job may produce, so the
// source never collides with the output even for epub to epub.
func (s *Store) JobPaths(jobID, suffix string, format book.Format) conversion.Paths {
	base := filepath.Join(s.Root, jobID)
	return conversion.Paths{
		Source:   base + "-source" + strings.ToLower(suffix),
		Unpacked: base + "-unpacked" + book.SuffixFB2,
		Cover:    base + "-cover.jpg",
		Output:   base + "-output" + format.Extension(),
	}
}

// Unpack extracts the first .fb2 entry of a zip archive to dstPath.
func (s *Store) Unpack(archivePath, dstPath string) error {
	if !isWithinDir(s.Root, dstPath) {
		return ErrOutsideRoot
	}
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(entry.Name), book.SuffixFB2) {
			continue
		}
		return s.extract(entry, dstPath)
	}
	return ErrNoBookInArchive
}

func (s *Store) extract(entry *zip.File, dstPath string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(dst, io.LimitReader(src, s.MaxUnpackedBytes+1))
	closeErr := dst.Close()
	if copyErr == nil && n > s.MaxUnpackedBytes {
		copyErr = ErrArchiveTooLarge
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dstPath)
		return errors.Join(copyErr, closeErr)
	}
	return nil
}

// Digest returns the hex sha256 of a file.
func (s *Store) Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileSize returns the size of a regular file.
func (s *Store) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// Remove deletes files, ignoring ones already gone. Paths outside the root
// are refused.
func (s *Store) Remove(paths ...string) []error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !isWithinDir(s.Root, p) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrOutsideRoot, p))
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errs
}

// Sweep removes job files left over from a previous run and returns how
// many were deleted. Only regular files named like JobPaths output are
// touched; anything else in the root is left alone.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isJobFile(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.Root, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

var jobFileRoles = []string{"-source", "-unpacked", "-cover", "-output"}

// isJobFile reports whether name has the <uuid>-<role>.<ext> shape.
func isJobFile(name string) bool {
	const idLen = 36
	if len(name) <= idLen {
		return false
	}
	if _, err := uuid.Parse(name[:idLen]); err != nil {
		return false
	}
	rest := name[idLen:]
	for _, role := range jobFileRoles {
		if strings.HasPrefix(rest, role+".") && len(rest) > len(role)+1 {
			return true
		}
	}
	return false
}

func isWithinDir(basePath, targetPath string) bool {
	baseAbs, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	targetAbs, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return false
	}
	sep := string(os.PathSeparator)
	if rel == ".." || strings.HasPrefix(rel, ".."+sep) {
		return false
	}
	return true
}
