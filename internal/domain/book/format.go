package book

import (
	"errors"
	"strings"
)

// Format is an output e-book format produced by the converter.
type Format string

const (
	FormatAZW3 Format = "azw3"
	FormatEPUB Format = "epub"
	FormatMOBI Format = "mobi"
)

// DefaultFormat is used for users without a stored preference.
const DefaultFormat = FormatAZW3

var ErrUnknownFormat = errors.New("unknown output format")

var formatOrder = []Format{FormatAZW3, FormatEPUB, FormatMOBI}

var formatLabels = map[Format]string{
	FormatAZW3: "AZW3",
	FormatEPUB: "EPUB",
	FormatMOBI: "MOBI",
}

var formatDescriptions = map[Format]string{
	FormatAZW3: "recommended for modern Kindles: best typography, TOC and fonts",
	FormatEPUB: "universal, supported by every Kindle since 2022",
	FormatMOBI: "legacy format for very old devices, limited features",
}

// Formats lists supported output formats in display order.
func Formats() []Format {
	out := make([]Format, len(formatOrder))
	copy(out, formatOrder)
	return out
}

// ParseFormat accepts "azw3", "AZW3" or ".azw3".
func ParseFormat(raw string) (Format, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, ".")
	f := Format(value)
	if _, ok := formatLabels[f]; !ok {
		return "", ErrUnknownFormat
	}
	return f, nil
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	_, ok := formatLabels[f]
	return ok
}

// Extension returns the file extension including the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Label returns the upper-case display name.
func (f Format) Label() string {
	if label, ok := formatLabels[f]; ok {
		return label
	}
	return strings.ToUpper(string(f))
}

func (f Format) Description() string {
	return formatDescriptions[f]
}
