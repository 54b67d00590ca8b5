package book

import (
	"errors"
	"path"
	"strings"
)

const (
	SuffixFB2    = ".fb2"
	SuffixFB2Zip = ".fb2.zip"
	SuffixEPUB   = ".epub"
)

// Longest first so ".fb2.zip" wins over a bare ".zip" match.
var uploadSuffixes = []string{SuffixFB2Zip, SuffixFB2, SuffixEPUB}

var (
	ErrInvalidName     = errors.New("invalid file name")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// UploadSuffix returns the recognised suffix of an upload name.
func UploadSuffix(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range uploadSuffixes {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return suffix, true
		}
	}
	return "", false
}

// IsSupportedUpload reports whether the upload name has an accepted suffix.
func IsSupportedUpload(name string) bool {
	_, ok := UploadSuffix(name)
	return ok
}

// IsArchive reports whether the suffix needs unpacking before conversion.
func IsArchive(suffix string) bool {
	return suffix == SuffixFB2Zip
}

// SupportedSuffixes lists accepted upload suffixes.
func SupportedSuffixes() []string {
	return []string{SuffixFB2, SuffixFB2Zip, SuffixEPUB}
}

// NormalizeUploadName strips any directory part from a user supplied
// file name and validates its suffix.
func NormalizeUploadName(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", ErrInvalidName
	}

	value = strings.ReplaceAll(value, "\\", "/")
	base := path.Base(path.Clean("/" + value))
	if base == "" || base == "/" || base == "." {
		return "", ErrInvalidName
	}

	if !IsSupportedUpload(base) {
		return "", ErrUnsupportedType
	}
	return base, nil
}

// Stem returns the upload name without its recognised suffix.
func Stem(name string) string {
	suffix, ok := UploadSuffix(name)
	if !ok {
		return strings.TrimSuffix(name, path.Ext(name))
	}
	return name[:len(name)-len(suffix)]
}
