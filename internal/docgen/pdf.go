package docgen

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-pdf/fpdf"
)

const (
	pdfUnicodeFont = "DejaVu"
	pdfCoreFont    = "Helvetica"
	pdfLineHeight  = 5.5
)

var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	dejaVuRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	dejaVuBold []byte
	//go:embed fonts/DejaVuSansCondensed-Oblique.ttf
	dejaVuOblique []byte
)

var (
	pdfFontMu   sync.RWMutex
	pdfFontFile []byte
)

// LoadPDFFont makes PDF reports use the TrueType font at path for every style.
// The bundled DejaVu covers Latin, Greek and Cyrillic; scripts such as CJK need
// a font carrying their glyphs, as a single .ttf (collections and CFF-based
// OpenType are not supported). An empty path restores the bundled font.
func LoadPDFFont(path string) error {
	if path == "" {
		pdfFontMu.Lock()
		pdfFontFile = nil
		pdfFontMu.Unlock()
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pdf font: %w", err)
	}
	check := fpdf.New("P", "mm", "A4", "")
	if !addUnicodeFont(check, data, data, data) {
		return fmt.Errorf("pdf font %s: %w", path, errUnusableFont)
	}
	pdfFontMu.Lock()
	pdfFontFile = data
	pdfFontMu.Unlock()
	return nil
}

var errUnusableFont = errors.New("not a usable TrueType font")

// addUnicodeFont registers a UTF-8 font family. fpdf drops fonts it cannot
// parse without flagging an error, so the family is selected once to check.
// Truncated files make the parser index out of range.
func addUnicodeFont(pdf *fpdf.Fpdf, regular, bold, italic []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	pdf.AddUTF8FontFromBytes(pdfUnicodeFont, "", regular)
	pdf.AddUTF8FontFromBytes(pdfUnicodeFont, "B", bold)
	pdf.AddUTF8FontFromBytes(pdfUnicodeFont, "I", italic)
	for _, style := range []string{"", "B", "I"} {
		pdf.SetFont(pdfUnicodeFont, style, 10)
	}
	if pdf.Err() {
		pdf.ClearError()
		return false
	}
	return true
}

// pdfFonts picks the font family for a document. Text is written as UTF-8 with
// an embedded font; only when no font loads does it fall back to a core font
// with text translated to cp1252.
func pdfFonts(pdf *fpdf.Fpdf) (string, func(string) string) {
	pdfFontMu.RLock()
	custom := pdfFontFile
	pdfFontMu.RUnlock()

	if custom != nil && addUnicodeFont(pdf, custom, custom, custom) {
		return pdfUnicodeFont, func(s string) string { return s }
	}
	if custom == nil && addUnicodeFont(pdf, dejaVuRegular, dejaVuBold, dejaVuOblique) {
		return pdfUnicodeFont, func(s string) string { return s }
	}
	return pdfCoreFont, pdf.UnicodeTranslatorFromDescriptor("")
}

type pdfRenderer struct{}

func (pdfRenderer) Format() Format { return FormatPDF }

// Render produces a paginated A4 document.
func (pdfRenderer) Render(c *Content) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdfFont, tr := pdfFonts(pdf)

	pdf.SetTitle(c.title(), true)
	pdf.SetCreator("taskreport", true)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-14)
		pdf.SetFont(pdfFont, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(pdfFont, "B", 16)
	pdf.MultiCell(0, 8, tr(c.title()), "", "L", false)
	pdf.SetFont(pdfFont, "", 10)
	pdf.SetTextColor(90, 90, 90)
	if c.Subtitle != "" {
		pdf.MultiCell(0, pdfLineHeight, tr(c.Subtitle), "", "L", false)
	}
	if period := c.periodLabel(); period != "" {
		pdf.MultiCell(0, pdfLineHeight, tr("Period: "+period), "", "L", false)
	}
	if !c.GeneratedAt.IsZero() {
		pdf.MultiCell(0, pdfLineHeight, "Generated: "+c.GeneratedAt.Format(dateTimeLayout), "", "L", false)
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	if c.Summary != "" {
		pdf.SetFont(pdfFont, "B", 12)
		pdf.MultiCell(0, 7, "Summary", "", "L", false)
		pdf.SetFont(pdfFont, "", 10)
		pdf.MultiCell(0, pdfLineHeight, tr(strings.TrimSpace(c.Summary)), "", "L", false)
		pdf.Ln(3)
	}

	if c.IsEmpty() {
		pdf.SetFont(pdfFont, "I", 10)
		pdf.MultiCell(0, pdfLineHeight, "No progress was reported in this period.", "", "L", false)
	}

	for _, s := range c.Sections {
		if len(s.Entries) == 0 && c.IsEmpty() {
			continue
		}
		pdf.SetFont(pdfFont, "B", 13)
		pdf.SetFillColor(235, 240, 248)
		pdf.CellFormat(0, 8, tr(s.Heading), "", 1, "L", true, 0, "")
		pdf.Ln(1)

		if len(s.Entries) == 0 {
			pdf.SetFont(pdfFont, "I", 10)
			pdf.MultiCell(0, pdfLineHeight, "(no entries)", "", "L", false)
			pdf.Ln(2)
			continue
		}

		for _, e := range s.Entries {
			pdf.SetFont(pdfFont, "B", 10)
			pdf.MultiCell(0, pdfLineHeight, tr(e.Title), "", "L", false)
			if meta := entryMeta(e); meta != "" {
				pdf.SetFont(pdfFont, "I", 8)
				pdf.SetTextColor(100, 100, 100)
				pdf.MultiCell(0, 4.5, tr(meta), "", "L", false)
				pdf.SetTextColor(0, 0, 0)
			}
			if body := strings.TrimSpace(e.Body); body != "" {
				pdf.SetFont(pdfFont, "", 10)
				pdf.SetX(pdf.GetX() + 4)
				pdf.MultiCell(0, pdfLineHeight, tr(body), "", "L", false)
			}
			pdf.Ln(2)
		}
		pdf.Ln(2)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
