package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/rotisserie/eris"
)

const (
	pdfPageWidth = 277.0 // A4 landscape minus margins, mm
	pdfRowHeight = 5.0
)

// BuildPDF renders each sheet as a bordered table starting on its own page.
func BuildPDF(w io.Writer, sheets ...*Sheet) error {
	if len(sheets) == 0 {
		return eris.New("export: no sheets")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)

	for _, s := range sheets {
		if len(s.Header) == 0 {
			return eris.Errorf("export: %s has no columns", s.Name)
		}
		pdf.AddPage()
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 8, s.Name)
		pdf.Ln(10)

		width := pdfPageWidth / float64(len(s.Header))
		pdf.SetFont("Arial", "B", 7)
		for _, h := range s.Header {
			pdf.CellFormat(width, pdfRowHeight+1, h, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 7)
		for i, row := range s.Rows {
			if len(row) != len(s.Header) {
				return eris.Errorf("export: %s row %d has %d cells, want %d", s.Name, i, len(row), len(s.Header))
			}
			for _, v := range row {
				text, align, err := formatCell(v)
				if err != nil {
					return eris.Wrapf(err, "export: %s row %d", s.Name, i)
				}
				pdf.CellFormat(width, pdfRowHeight, text, "1", 0, align, false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	return eris.Wrap(pdf.Output(w), "export: render pdf")
}

// WritePDF renders sheets to a PDF file at path.
func WritePDF(path string, sheets ...*Sheet) error {
	var buf bytes.Buffer
	if err := BuildPDF(&buf, sheets...); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil { //nolint:gosec
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}

// Write picks the output format from the file extension: .pdf renders a
// PDF, anything else an XLSX workbook.
func Write(path string, sheets ...*Sheet) error {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return WritePDF(path, sheets...)
	}
	return WriteXLSX(path, sheets...)
}

// formatCell returns the display text and alignment of one value.
func formatCell(v any) (string, string, error) {
	switch x := v.(type) {
	case nil:
		return "", "L", nil
	case string:
		return x, "L", nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), "R", nil
	case *float64:
		if x == nil {
			return "", "R", nil
		}
		return strconv.FormatFloat(*x, 'f', -1, 64), "R", nil
	case int64:
		return strconv.FormatInt(x, 10), "R", nil
	case int:
		return strconv.Itoa(x), "R", nil
	case bool:
		return strconv.FormatBool(x), "C", nil
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04"), "L", nil
	default:
		return "", "", eris.Errorf("unsupported cell type %T", v)
	}
}
