package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// ReadArchive parses every supported file inside an in-memory ZIP archive.
// Entries are read in archive order; directories, macOS metadata, nested
// archives and unsupported extensions are skipped. Dataset names are
// "<archive>/<entry>".
func ReadArchive(ctx context.Context, name string, data []byte, opts LoadOptions) ([]model.Dataset, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var out []model.Dataset
	for _, f := range r.File {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "zip: context cancelled")
		}
		if skipZIPEntry(f) {
			continue
		}

		content, err := readZIPEntry(f)
		if err != nil {
			return nil, err
		}
		datasets, err := LoadBytes(ctx, name+"/"+f.Name, content, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "zip: parse %s", f.Name)
		}
		out = append(out, datasets...)
	}
	return out, nil
}

func skipZIPEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return true
	}
	base := path.Base(f.Name)
	if strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(base, ".") {
		return true
	}
	format, err := DetectFormat(f.Name)
	if err != nil || format == FormatZIP {
		zap.L().Debug("zip: skipping entry", zap.String("entry", f.Name))
		return true
	}
	return false
}

func readZIPEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	data, err := readLimited(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read entry %s", f.Name)
	}
	return data, nil
}
