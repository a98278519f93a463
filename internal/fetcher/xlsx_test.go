package fetcher

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

type testSheet struct {
	name string
	rows [][]string
}

// createTestXLSX writes a workbook with sheets in the given order.
func createTestXLSX(t *testing.T, sheets ...testSheet) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadWorkbook_OneDatasetPerTab(t *testing.T) {
	path := createTestXLSX(t,
		testSheet{"Controle Google ADS", [][]string{
			{"Dia", "Criativo", "Leads"},
			{"05/03/2024", "Video A", "4"},
		}},
		testSheet{"Leads", [][]string{
			{"Nome", "Status"},
			{"Ana", "Novo"},
			{"Bruno", "Ganho"},
		}},
	)

	datasets, err := ReadWorkbook(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, datasets, 2)

	assert.Equal(t, path+":Controle Google ADS", datasets[0].Name)
	assert.Equal(t, []string{"Dia", "Criativo", "Leads"}, datasets[0].Columns)
	assert.Equal(t, "Video A", datasets[0].Rows[0]["Criativo"])

	assert.Equal(t, path+":Leads", datasets[1].Name)
	assert.Len(t, datasets[1].Rows, 2)
}

func TestReadWorkbook_HeaderOnFirstNonBlankRow(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Relatorio", [][]string{
		{"", ""},
		{"Nome", "Fase"},
		{"Ana", "Triagem"},
	}})

	datasets, err := ReadWorkbook(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, []string{"Nome", "Fase"}, datasets[0].Columns)
	assert.Equal(t, "Triagem", datasets[0].Rows[0]["Fase"])
}

func TestReadWorkbook_SkipsEmptySheets(t *testing.T) {
	path := createTestXLSX(t,
		testSheet{"Vazia", nil},
		testSheet{"Leads", [][]string{{"Nome"}, {"Ana"}}},
	)

	datasets, err := ReadWorkbook(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, path+":Leads", datasets[0].Name)
}

func TestReadWorkbook_SheetFilter(t *testing.T) {
	path := createTestXLSX(t,
		testSheet{"Resumo", [][]string{{"Total"}, {"10"}}},
		testSheet{"Controle Google ADS", [][]string{{"Dia"}, {"05/03/2024"}}},
	)

	datasets, err := ReadWorkbook(path, XLSXOptions{Sheets: []string{"controle google ads"}})
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, []string{"Dia"}, datasets[0].Columns)
}

func TestReadWorkbook_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Leads", [][]string{{"Nome"}}})

	_, err := ReadWorkbook(path, XLSXOptions{Sheets: []string{"Missing"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadWorkbook_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	require.NoError(t, writeTestFile(path, "not a workbook"))

	_, err := ReadWorkbook(path, XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}

func TestReadWorkbookBytes(t *testing.T) {
	path := createTestXLSX(t, testSheet{"CRM", [][]string{{"Nome", "Etapa"}, {"Ana", "Novo Lead"}}})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	datasets, err := ReadWorkbookBytes("crm.xlsx", data, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "crm.xlsx:CRM", datasets[0].Name)
	assert.Equal(t, "Novo Lead", datasets[0].Rows[0]["Etapa"])

	_, err = ReadWorkbookBytes("bad.xlsx", bytes.Repeat([]byte("x"), 16), XLSXOptions{})
	require.Error(t, err)
}
