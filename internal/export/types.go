// Package export renders portfolio reports as HTML, PDF or DOCX.
package export

import (
	"errors"
	"strings"
	"time"

	"schemedesk/api/internal/record"
	"schemedesk/api/internal/viewcache"
)

// Format is the export output format.
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name in any case. An empty name selects HTML.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Portfolio is everything a rendered report shows.
type Portfolio struct {
	Title       string
	GeneratedAt time.Time
	GeneratedBy string
	Narrative   string
	Stats       viewcache.Stats
	Records     []record.Record
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no headless Chromium is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not installed.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
