package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// fingerprintVersion changes whenever the derivation changes in a way that
// makes old cached results wrong.
const fingerprintVersion = "marketing-kpi/v1"

// Fingerprint derives the cache key for an input. It covers every cell of
// every source in header order, so identical uploads share a key and any
// content change produces a new one. Source names are not part of the key.
func Fingerprint(sources []Source, table model.PhaseRankTable, opts Options) string {
	h := sha256.New()
	writeField(h, fingerprintVersion)
	writeField(h, strconv.Itoa(opts.MaxRows))
	writeField(h, strconv.Itoa(opts.TopN))

	labels := make([]string, 0, len(table))
	for label := range table {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	writeField(h, strconv.Itoa(len(labels)))
	for _, label := range labels {
		writeField(h, label)
		writeField(h, strconv.Itoa(table[label]))
	}

	writeField(h, strconv.Itoa(len(sources)))
	for _, src := range sources {
		writeField(h, strconv.Itoa(src.Priority))
		writeField(h, strconv.Itoa(len(src.Dataset.Columns)))
		for _, col := range src.Dataset.Columns {
			writeField(h, col)
		}
		writeField(h, strconv.Itoa(len(src.Dataset.Rows)))
		for _, row := range src.Dataset.Rows {
			for _, col := range src.Dataset.Columns {
				writeField(h, row[col])
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes s so adjacent fields cannot run together.
func writeField(h hash.Hash, s string) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	h.Write(buf[:n])
	h.Write([]byte(s))
}
