package fetcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // 0 = detect from the header line
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV reads a delimited lead or ad-spend export into a Dataset. It
// strips a UTF-8 BOM, decodes Latin-1 input, honors an Excel "sep=" line
// and otherwise detects ';', ',' or tab from the first line.
func ReadCSV(ctx context.Context, name string, r io.Reader, opts CSVOptions) (model.Dataset, error) {
	data, err := readLimited(r)
	if err != nil {
		return model.Dataset{}, eris.Wrap(err, "csv: read input")
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return model.Dataset{}, eris.Wrap(err, "csv: decode latin-1")
		}
		data = decoded
	}

	if sep, rest, ok := excelSeparator(data); ok {
		if opts.Delimiter == 0 {
			opts.Delimiter = sep
		}
		data = rest
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = DetectDelimiter(data)
	}
	opts.LazyQuotes = true

	rowCh, errCh := StreamCSV(ctx, bytes.NewReader(data), opts)
	var raw [][]string
	for row := range rowCh {
		raw = append(raw, row)
	}
	if err := <-errCh; err != nil {
		return model.Dataset{}, err
	}
	return buildDataset(name, raw), nil
}

// DetectDelimiter picks the most frequent of ';', ',' and tab on the first
// line, ignoring quoted text. Ties favor ';', the Brazilian Excel default.
func DetectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}

	counts := map[rune]int{}
	quoted := false
	for _, r := range string(line) {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == ';' || r == ',' || r == '\t':
			counts[r]++
		}
	}

	best := ';'
	for _, r := range []rune{',', '\t'} {
		if counts[r] > counts[best] {
			best = r
		}
	}
	return best
}

// excelSeparator recognizes a leading "sep=X" line and returns X and the
// remaining input.
func excelSeparator(data []byte) (rune, []byte, bool) {
	line, rest, found := bytes.Cut(data, []byte("\n"))
	if !found {
		return 0, nil, false
	}
	text := strings.TrimSpace(string(line))
	if !strings.HasPrefix(strings.ToLower(text), "sep=") {
		return 0, nil, false
	}
	sep, size := utf8.DecodeRuneInString(text[len("sep="):])
	if size == 0 || sep == utf8.RuneError {
		return 0, nil, false
	}
	return sep, rest, true
}

// StreamCSV reads a CSV file and sends rows to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
