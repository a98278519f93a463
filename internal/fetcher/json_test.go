package fetcher

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"name":"a","value":1},{"name":"b","value":2}]`
	outCh, errCh := DecodeJSONArray[testItem](context.Background(), strings.NewReader(input))

	var items []testItem
	for item := range outCh {
		items = append(items, item)
	}
	require.NoError(t, <-errCh)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[1].Name)
}

func TestDecodeJSONArray_InvalidFormat(t *testing.T) {
	outCh, errCh := DecodeJSONArray[testItem](context.Background(), strings.NewReader(`{"name":"a"}`))
	for range outCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONObject(t *testing.T) {
	obj, err := DecodeJSONObject[testItem](strings.NewReader(`{"name":"x","value":42}`))
	require.NoError(t, err)
	assert.Equal(t, 42, obj.Value)

	_, err = DecodeJSONObject[testItem](strings.NewReader(`{bad`))
	assert.Error(t, err)
}

func TestReadJSONDataset_Array(t *testing.T) {
	input := `[
		{"nome": "Ana", "status": "Novo", "valor": 1500.5, "ativo": true},
		{"nome": "Bruno", "status": null, "origem": "Instagram"}
	]`

	ds, err := ReadJSONDataset(context.Background(), "sults.json", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "sults.json", ds.Name)
	assert.Equal(t, []string{"ativo", "nome", "status", "valor", "origem"}, ds.Columns)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "1500.5", ds.Rows[0]["valor"])
	assert.Equal(t, "true", ds.Rows[0]["ativo"])
	assert.Equal(t, "", ds.Rows[1]["status"])
	assert.Equal(t, "", ds.Rows[0]["origem"])
	assert.Equal(t, "Instagram", ds.Rows[1]["origem"])
}

func TestReadJSONDataset_WrappedObject(t *testing.T) {
	input := `  {"total": 1, "data": [{"id": 7, "etapa": "Triagem"}]}`

	ds, err := ReadJSONDataset(context.Background(), "crm.json", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"etapa", "id"}, ds.Columns)
	assert.Equal(t, "7", ds.Rows[0]["id"])
}

func TestReadJSONDataset_NestedValueKeepsJSON(t *testing.T) {
	ds, err := ReadJSONDataset(context.Background(), "x.json", strings.NewReader(`[{"tags":["a","b"]}]`))
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, ds.Rows[0]["tags"])
}

func TestReadJSONDataset_ObjectWithoutArray(t *testing.T) {
	_, err := ReadJSONDataset(context.Background(), "x.json", strings.NewReader(`{"total": 0}`))
	require.Error(t, err)
}

func TestReadJSONDataset_Empty(t *testing.T) {
	ds, err := ReadJSONDataset(context.Background(), "x.json", strings.NewReader("  "))
	require.NoError(t, err)
	assert.Empty(t, ds.Columns)
	assert.Empty(t, ds.Rows)
}

func TestRecordsDataset_ExplicitColumns(t *testing.T) {
	items := []map[string]json.RawMessage{
		{"Leads": json.RawMessage(`12`), "Dia": json.RawMessage(`"05/03/2024"`), "extra": json.RawMessage(`1`)},
	}

	ds := RecordsDataset("api", []string{"Dia", "Leads"}, items)
	assert.Equal(t, []string{"Dia", "Leads"}, ds.Columns)
	assert.Equal(t, "12", ds.Rows[0]["Leads"])
	assert.NotContains(t, ds.Rows[0], "extra")
}
