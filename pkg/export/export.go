package export

import "fmt"

// Format identifies a rendered file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat validates a user supplied format name.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatCSV, FormatPDF, FormatXLSX:
		return Format(raw), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// Renderer renders a dataset into one of the supported formats.
type Renderer struct {
	csv  *CSVExporter
	pdf  *PDFExporter
	xlsx *XLSXExporter
}

// NewRenderer wires the default exporters.
func NewRenderer() *Renderer {
	return &Renderer{csv: NewCSVExporter(), pdf: NewPDFExporter(), xlsx: NewXLSXExporter()}
}

// Render dispatches to the exporter matching format.
func (r *Renderer) Render(format Format, data Dataset, title string) ([]byte, error) {
	switch format {
	case FormatCSV:
		return r.csv.Render(data)
	case FormatPDF:
		return r.pdf.Render(data, title)
	case FormatXLSX:
		return r.xlsx.Render(data, title)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
