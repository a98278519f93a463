// Package fetcher loads spreadsheet exports (CSV, XLSX workbooks, JSON and
// ZIP bundles of those) from disk, memory or HTTP into model.Datasets.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Format identifies a supported input format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
	FormatZIP  Format = "zip"
)

// LoadOptions configures LoadFile, LoadBytes and LoadURL.
type LoadOptions struct {
	// Sheets restricts workbooks to the named tabs. Empty reads every tab.
	Sheets []string
}

// MaxInputBytes caps a single file, download or archive entry.
const MaxInputBytes = 64 << 20

// DetectFormat maps a file name to its format by extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	case ".zip":
		return FormatZIP, nil
	default:
		return "", eris.Errorf("fetcher: unsupported file type %q", name)
	}
}

// LoadFile reads the file at path and parses it by extension. Workbooks and
// archives yield one Dataset per tab or entry.
func LoadFile(ctx context.Context, p string, opts LoadOptions) ([]model.Dataset, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open file")
	}
	defer f.Close() //nolint:errcheck

	data, err := readLimited(f)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", p)
	}
	return LoadBytes(ctx, filepath.Base(p), data, opts)
}

// LoadBytes parses data according to the extension of name.
func LoadBytes(ctx context.Context, name string, data []byte, opts LoadOptions) ([]model.Dataset, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatXLSX:
		return ReadWorkbookBytes(name, data, XLSXOptions{Sheets: opts.Sheets})
	case FormatZIP:
		return ReadArchive(ctx, name, data, opts)
	case FormatJSON:
		ds, err := ReadJSONDataset(ctx, name, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return []model.Dataset{ds}, nil
	default:
		ds, err := ReadCSV(ctx, name, bytes.NewReader(data), CSVOptions{})
		if err != nil {
			return nil, err
		}
		return []model.Dataset{ds}, nil
	}
}

// LoadURL downloads rawURL with f and parses the body by the URL path's
// extension.
func LoadURL(ctx context.Context, f Fetcher, rawURL string, opts LoadOptions) ([]model.Dataset, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	name := path.Base(u.Path)
	if _, err := DetectFormat(name); err != nil {
		return nil, err
	}

	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	data, err := readLimited(body)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", rawURL)
	}
	return LoadBytes(ctx, name, data, opts)
}

// IsURL reports whether arg names an http(s) resource rather than a path.
func IsURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInputBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxInputBytes {
		return nil, eris.Errorf("input exceeds %d bytes", MaxInputBytes)
	}
	return data, nil
}

// buildDataset turns raw rows into a Dataset. The first row with any
// non-blank cell is the header; earlier rows are discarded.
func buildDataset(name string, raw [][]string) model.Dataset {
	ds := model.Dataset{Name: name, Columns: []string{}, Rows: []model.Row{}}

	start := -1
	for i, cells := range raw {
		if !blankCells(cells) {
			start = i
			break
		}
	}
	if start < 0 {
		return ds
	}

	ds.Columns = headerNames(raw[start])
	for _, cells := range raw[start+1:] {
		row := make(model.Row, len(ds.Columns))
		for j, col := range ds.Columns {
			if j < len(cells) {
				row[col] = cells[j]
			} else {
				row[col] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

// headerNames trims header cells, names blank ones by position, and
// suffixes repeats so every column name is unique.
func headerNames(cells []string) []string {
	// Trailing blank headers are spreadsheet padding.
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}

	names := make([]string, 0, end)
	used := make(map[string]bool, end)
	last := make(map[string]int, end) // highest suffix handed out per base name
	for i, cell := range cells[:end] {
		name := strings.TrimSpace(cell)
		if name == "" {
			name = "Coluna " + strconv.Itoa(i+1)
		}
		if used[name] {
			base := name
			n := max(last[base], 1)
			for used[name] {
				n++
				name = base + " (" + strconv.Itoa(n) + ")"
			}
			last[base] = n
		}
		used[name] = true
		names = append(names, name)
	}
	return names
}

func blankCells(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
