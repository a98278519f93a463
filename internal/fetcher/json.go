package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// wrapperKeys are the fields checked, in order, when a JSON payload is an
// object wrapping the record array.
var wrapperKeys = []string{"data", "rows", "items", "leads", "results"}

// ReadJSONDataset reads CRM JSON records into a Dataset. The payload is
// either an array of flat objects or an object holding that array under
// one of the usual wrapper keys. Columns are ordered by first appearance,
// sorted within each record. Strings keep their value; null becomes "";
// other values keep their JSON text.
func ReadJSONDataset(ctx context.Context, name string, r io.Reader) (model.Dataset, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if err == io.EOF {
			return RecordsDataset(name, nil, nil), nil
		}
		return model.Dataset{}, eris.Wrap(err, "json: peek")
	}

	if first == '{' {
		obj, err := DecodeJSONObject[map[string]json.RawMessage](br)
		if err != nil {
			return model.Dataset{}, err
		}
		for _, key := range wrapperKeys {
			if raw, ok := (*obj)[key]; ok {
				return readJSONArray(ctx, name, bytes.NewReader(raw))
			}
		}
		return model.Dataset{}, eris.Errorf("json: object has none of %v", wrapperKeys)
	}
	return readJSONArray(ctx, name, br)
}

func readJSONArray(ctx context.Context, name string, r io.Reader) (model.Dataset, error) {
	itemCh, errCh := DecodeJSONArray[map[string]json.RawMessage](ctx, r)
	var items []map[string]json.RawMessage
	for item := range itemCh {
		items = append(items, item)
	}
	if err := <-errCh; err != nil {
		return model.Dataset{}, err
	}
	return RecordsDataset(name, nil, items), nil
}

// RecordsDataset converts decoded JSON records into a Dataset. When columns
// is empty they are derived from the records by first appearance.
func RecordsDataset(name string, columns []string, items []map[string]json.RawMessage) model.Dataset {
	ds := model.Dataset{Name: name, Columns: append([]string{}, columns...), Rows: make([]model.Row, 0, len(items))}
	seen := map[string]bool{}
	for _, col := range columns {
		seen[col] = true
	}
	for _, item := range items {
		if len(columns) > 0 {
			break
		}
		for _, k := range sortedKeys(item) {
			if !seen[k] {
				seen[k] = true
				ds.Columns = append(ds.Columns, k)
			}
		}
	}

	for _, item := range items {
		row := make(model.Row, len(ds.Columns))
		for _, col := range ds.Columns {
			row[col] = jsonCell(item[col])
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

func sortedKeys(item map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jsonCell(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// DecodeJSONObject decodes a single JSON object from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}
