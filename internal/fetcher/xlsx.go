package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// XLSXOptions configures the workbook reader.
type XLSXOptions struct {
	// Sheets restricts reading to the named tabs (case-insensitive). Empty
	// reads every tab.
	Sheets []string
}

// ReadWorkbook opens an XLSX file and returns one Dataset per tab.
func ReadWorkbook(path string, opts XLSXOptions) ([]model.Dataset, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return workbookDatasets(f, path, opts)
}

// ReadWorkbookBytes parses an in-memory XLSX workbook. name prefixes each
// Dataset name.
func ReadWorkbookBytes(name string, data []byte, opts XLSXOptions) ([]model.Dataset, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	return workbookDatasets(f, name, opts)
}

// workbookDatasets converts each selected sheet into a Dataset named
// "<workbook>:<sheet>". Sheets without a header row are skipped.
func workbookDatasets(f *xlsx.File, name string, opts XLSXOptions) ([]model.Dataset, error) {
	sheets, err := selectSheets(f, opts)
	if err != nil {
		return nil, err
	}

	out := make([]model.Dataset, 0, len(sheets))
	for _, sheet := range sheets {
		raw := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			raw = append(raw, rowToStrings(row))
		}
		ds := buildDataset(sheetName(name, sheet.Name), raw)
		if len(ds.Columns) == 0 {
			continue
		}
		out = append(out, ds)
	}
	return out, nil
}

func selectSheets(f *xlsx.File, opts XLSXOptions) ([]*xlsx.Sheet, error) {
	if len(opts.Sheets) == 0 {
		return f.Sheets, nil
	}

	var sheets []*xlsx.Sheet
	for _, want := range opts.Sheets {
		found := false
		for _, sheet := range f.Sheets {
			if strings.EqualFold(strings.TrimSpace(sheet.Name), strings.TrimSpace(want)) {
				sheets = append(sheets, sheet)
				found = true
				break
			}
		}
		if !found {
			return nil, eris.Errorf("xlsx: sheet %q not found", want)
		}
	}
	return sheets, nil
}

func sheetName(workbook, sheet string) string {
	if workbook == "" {
		return sheet
	}
	return workbook + ":" + sheet
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
