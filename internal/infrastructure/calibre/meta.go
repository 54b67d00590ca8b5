package calibre

import (
	"bufio"
	"context"
	"os"
	"strings"

	"kindlegarden/internal/domain/book"
)

// ReadInfo asks ebook-meta for title and authors. Output it cannot parse
// yields an empty Info rather than an error.
func (c *Converter) ReadInfo(ctx context.Context, inputPath string) (book.Info, error) {
	out, err := run(ctx, c.settings.MetaBin, inputPath)
	if err != nil {
		return book.Info{}, err
	}
	return ParseMeta(out), nil
}

// ExtractCover dumps the embedded cover to coverPath. It reports false when
// the book has none.
func (c *Converter) ExtractCover(ctx context.Context, inputPath, coverPath string) (bool, error) {
	_ = os.Remove(coverPath)
	if _, err := run(ctx, c.settings.MetaBin, inputPath, "--get-cover="+coverPath); err != nil {
		_ = os.Remove(coverPath)
		return false, err
	}
	info, err := os.Stat(coverPath)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(coverPath)
		return false, nil
	}
	return true, nil
}

// ParseMeta reads the "Key : value" listing printed by ebook-meta.
func ParseMeta(out string) book.Info {
	var info book.Info
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "Title":
			if info.Title == "" {
				info.Title = value
			}
		case "Author(s)":
			if len(info.Authors) == 0 {
				info.Authors = parseAuthors(value)
			}
		}
	}
	return info
}

// parseAuthors splits "A & B [B, A]" into names, dropping the sort key.
func parseAuthors(value string) []string {
	if i := strings.LastIndex(value, "["); i >= 0 && strings.HasSuffix(value, "]") {
		value = strings.TrimSpace(value[:i])
	}
	var authors []string
	for _, name := range strings.Split(value, "&") {
		if name = strings.TrimSpace(name); name != "" {
			authors = append(authors, name)
		}
	}
	return authors
}
