// Package docgen renders report content into the supported document formats.
package docgen

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format selects a renderer.
type Format string

const (
	FormatPlainText Format = "PlainText"
	FormatPDF       Format = "PDF"
	FormatXLSX      Format = "XLSX"
)

// ErrUnsupportedFormat is returned by Build for any format outside the registry.
var ErrUnsupportedFormat = errors.New("unsupported report generation type")

// Renderer turns content into a document. Implementations keep no state between calls.
type Renderer interface {
	Format() Format
	Render(content *Content) ([]byte, error)
}

type formatInfo struct {
	build       func() Renderer
	extension   string
	contentType string
}

// registry maps every declared format to its constructor. Adding a format means
// adding a constant and one entry here.
var registry = map[Format]formatInfo{
	FormatPlainText: {
		build:       func() Renderer { return plainTextRenderer{} },
		extension:   "txt",
		contentType: "text/plain; charset=utf-8",
	},
	FormatPDF: {
		build:       func() Renderer { return pdfRenderer{} },
		extension:   "pdf",
		contentType: "application/pdf",
	},
	FormatXLSX: {
		build:       func() Renderer { return xlsxRenderer{} },
		extension:   "xlsx",
		contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	},
}

// Formats returns the declared formats in a stable order.
func Formats() []Format {
	return []Format{FormatPlainText, FormatPDF, FormatXLSX}
}

// ParseFormat resolves a format name case-insensitively. "TEXT" and "TXT" are
// accepted for plain text.
func ParseFormat(s string) (Format, error) {
	name := strings.TrimSpace(s)
	switch strings.ToUpper(name) {
	case "TEXT", "TXT", "PLAIN", "PLAINTEXT", "PLAIN_TEXT":
		return FormatPlainText, nil
	}
	for _, f := range Formats() {
		if strings.EqualFold(string(f), name) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// IsValid reports whether f is registered.
func (f Format) IsValid() bool {
	_, ok := registry[f]
	return ok
}

// Extension returns the file extension for the format without a dot.
func (f Format) Extension() string {
	return registry[f].extension
}

// ContentType returns the MIME type of documents in this format.
func (f Format) ContentType() string {
	if info, ok := registry[f]; ok {
		return info.contentType
	}
	return "application/octet-stream"
}

// Build returns the renderer for format.
func Build(format Format) (Renderer, error) {
	info, ok := registry[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}
	return info.build(), nil
}

// Render builds the renderer for format and renders content with it.
func Render(format Format, content *Content) ([]byte, error) {
	r, err := Build(format)
	if err != nil {
		return nil, err
	}
	if content == nil {
		content = &Content{}
	}
	return r.Render(content)
}

// RenderedReport is the transient output of one generation run.
type RenderedReport struct {
	Format      Format
	Data        []byte
	ConfigID    uint
	GeneratedAt time.Time
}

// FileName returns a stable attachment name like report-12-20261014.pdf.
func (r *RenderedReport) FileName() string {
	return fmt.Sprintf("report-%d-%s.%s", r.ConfigID, r.GeneratedAt.Format("20060102"), r.Format.Extension())
}

// ContentType returns the MIME type of the payload.
func (r *RenderedReport) ContentType() string {
	return r.Format.ContentType()
}
