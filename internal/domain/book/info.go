package book

import "strings"

// Info is the best-effort description of a book read from its metadata.
// Every field may be empty.
type Info struct {
	Title    string
	Authors  []string
	HasCover bool
}

// DisplayTitle returns the title or fallback when none was found.
func (i Info) DisplayTitle(fallback string) string {
	if t := strings.TrimSpace(i.Title); t != "" {
		return t
	}
	return fallback
}

// DisplayAuthors joins authors for status messages.
func (i Info) DisplayAuthors() string {
	names := make([]string, 0, len(i.Authors))
	for _, a := range i.Authors {
		if a = strings.TrimSpace(a); a != "" {
			names = append(names, a)
		}
	}
	if len(names) == 0 {
		return "Unknown author"
	}
	return strings.Join(names, ", ")
}
