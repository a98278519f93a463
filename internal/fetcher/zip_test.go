package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name    string
	content string
}

func createTestZIP(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReadArchive_MultiFile(t *testing.T) {
	data := createTestZIP(t,
		zipEntry{"ads.csv", "Dia;Leads\n05/03/2024;4\n"},
		zipEntry{"crm/leads.json", `[{"nome":"Ana"}]`},
		zipEntry{"README.md", "ignored"},
		zipEntry{"__MACOSX/._ads.csv", "junk"},
	)

	datasets, err := ReadArchive(context.Background(), "bundle.zip", data, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "bundle.zip/ads.csv", datasets[0].Name)
	assert.Equal(t, "4", datasets[0].Rows[0]["Leads"])
	assert.Equal(t, "bundle.zip/crm/leads.json", datasets[1].Name)
}

func TestReadArchive_SkipsNestedArchives(t *testing.T) {
	inner := createTestZIP(t, zipEntry{"a.csv", "x\n1\n"})
	data := createTestZIP(t, zipEntry{"inner.zip", string(inner)})

	datasets, err := ReadArchive(context.Background(), "outer.zip", data, LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, datasets)
}

func TestReadArchive_BadEntry(t *testing.T) {
	data := createTestZIP(t, zipEntry{"broken.json", `{"nothing": 1}`})

	_, err := ReadArchive(context.Background(), "b.zip", data, LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestReadArchive_InvalidArchive(t *testing.T) {
	_, err := ReadArchive(context.Background(), "x.zip", []byte("not a zip"), LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip: open archive")
}
