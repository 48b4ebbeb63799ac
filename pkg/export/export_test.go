package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Student", "Supervisor", "Status"},
		Rows: []map[string]string{
			{"Student": "Amélie Durand", "Supervisor": "Pr. Benali", "Status": "VALIDATED_BY_HEAD"},
			{"Student": "Karim Haddad", "Status": "REFUSED_BY_SUPERVISOR"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, utf8BOM))

	lines := strings.Split(strings.TrimSpace(string(out[len(utf8BOM):])), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Student;Supervisor;Status", lines[0])
	require.Equal(t, "Karim Haddad;;REFUSED_BY_SUPERVISOR", lines[2])

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestXLSXExporterRender(t *testing.T) {
	out, err := NewXLSXExporter().Render(sampleDataset(), "Archive 2024-2025")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	title, err := f.GetCellValue("Archive", "A1")
	require.NoError(t, err)
	require.Equal(t, "Archive 2024-2025", title)

	header, err := f.GetCellValue("Archive", "B3")
	require.NoError(t, err)
	require.Equal(t, "Supervisor", header)

	status, err := f.GetCellValue("Archive", "C5")
	require.NoError(t, err)
	require.Equal(t, "REFUSED_BY_SUPERVISOR", status)
}

func TestRendererDispatch(t *testing.T) {
	r := NewRenderer()
	pdf, err := r.Render(FormatPDF, sampleDataset(), "Archive")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	_, err = r.Render(Format("doc"), sampleDataset(), "")
	require.Error(t, err)

	format, err := ParseFormat("xlsx")
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, format)
	_, err = ParseFormat("docx")
	require.Error(t, err)
}
