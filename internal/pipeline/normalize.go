package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// DateLabelLayout is the canonical display form used for grouping.
const DateLabelLayout = "02/01/2006"

// organicTerm fills blank term cells; blank UTM terms mean organic traffic.
const organicTerm = "organico"

// Date layouts, tried tier by tier. "2" and "1" accept one or two digits.
var (
	isoDateLayouts = []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999",
		"2006-1-2",
	}
	dayFirstDateLayouts = []string{
		"2/1/2006",
		"2/1/2006 15:04:05",
		"2/1/2006 15:04",
		"2-1-2006",
		"2-1-2006 15:04:05",
		"2.1.2006",
		"2/1/06",
	}
	genericDateLayouts = []string{
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
		"2 January 2006",
		"Mon Jan 2 15:04:05 2006",
		time.RFC1123,
		time.RFC1123Z,
		"2006/01/02",
		"20060102",
	}
	dateLayoutTiers = [][]string{isoDateLayouts, dayFirstDateLayouts, genericDateLayouts}
)

// excelEpoch is day zero for spreadsheet serial dates.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses a cell with the layered strategy: ISO, day/month/year,
// generic layouts, then spreadsheet serial numbers.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, tier := range dateLayoutTiers {
		for _, layout := range tier {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && n >= 20000 && n < 80000 {
		days := math.Floor(n)
		return excelEpoch.AddDate(0, 0, int(days)), true
	}
	return time.Time{}, false
}

// ParseNumber parses a numeric cell permissively. Currency symbols, percent
// signs and spaces are ignored, and both "1.234,56" and "1,234.56" are
// understood. Anything unparseable yields 0.
func ParseNumber(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return finite(v)
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	s = b.String()
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	if s == "" || strings.Contains(s, "-") {
		return 0
	}

	s = resolveSeparators(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if negative {
		v = -v
	}
	return finite(v)
}

// resolveSeparators rewrites s so '.' is the only decimal separator and no
// grouping separators remain.
func resolveSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 {
			whole, frac, _ := strings.Cut(s, ",")
			if len(frac) != 3 || whole == "0" || whole == "" {
				return whole + "." + frac
			}
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// flagCounts maps a lead-flag cell ("MQL?" columns) to lead and MQL counts.
// The two flags count separately: a row marked MQL is not also a lead.
func flagCounts(raw string) (leads, mqls float64) {
	switch normalizeLabel(raw) {
	case "mql", "sim", "s", "yes", "y", "true", "1":
		return 0, 1
	case "lead", "nao", "n", "no", "false", "0":
		return 1, 0
	}
	return 0, 0
}

// Normalize coerces every row of ds into a typed record using schema. Rows
// whose cells are all blank are dropped; the second return value counts them.
func Normalize(ds model.Dataset, schema model.Schema) ([]model.NormalizedRecord, int) {
	records := make([]model.NormalizedRecord, 0, len(ds.Rows))
	dropped := 0

	for _, row := range ds.Rows {
		if row.IsBlank() {
			dropped++
			continue
		}
		records = append(records, normalizeRow(ds, schema, row))
	}
	return records, dropped
}

func normalizeRow(ds model.Dataset, schema model.Schema, row model.Row) model.NormalizedRecord {
	cell := func(role model.Role) string {
		col, _ := schema.Column(role)
		return row.Get(col)
	}
	category := func(role model.Role) string {
		if !schema.Has(role) {
			return ""
		}
		if v := cell(role); v != "" {
			return v
		}
		return model.NotAvailable
	}

	rec := model.NormalizedRecord{
		Source:   ds.Name,
		Name:     cell(model.RoleName),
		Email:    cell(model.RoleEmail),
		Phone:    cell(model.RolePhone),
		Creative: category(model.RoleCreativeID),
		Campaign: category(model.RoleCampaignID),
		Status:   category(model.RoleStatus),
		Origin:   category(model.RoleSource),
		Owner:    category(model.RoleOwner),
		Phase:    category(model.RolePhase),
		Fields:   row,
	}

	if schema.Has(model.RoleTerm) {
		rec.Term = cell(model.RoleTerm)
		if rec.Term == "" {
			rec.Term = organicTerm
		}
	}

	if t, ok := ParseDate(cell(model.RoleDate)); ok {
		rec.Date = &t
		rec.DateLabel = t.Format(DateLabelLayout)
	}

	rec.Leads = ParseNumber(cell(model.RoleLeadCount))
	rec.MQLs = ParseNumber(cell(model.RoleMQLCount))
	rec.Cost = ParseNumber(cell(model.RoleCostTotal))
	if schema.Has(model.RoleLeadFlag) {
		l, m := flagCounts(cell(model.RoleLeadFlag))
		rec.Leads += l
		rec.MQLs += m
	}

	rec.Key = identityKey(ds.Columns, schema, row)
	return rec
}

// identityKey prefers the CRM id, then a hash of contact fields, then a hash
// of the whole row. Distinct leads with identical contact fields share a key.
func identityKey(columns []string, schema model.Schema, row model.Row) string {
	get := func(role model.Role) string {
		col, _ := schema.Column(role)
		return row.Get(col)
	}

	if id := get(model.RoleCRMID); id != "" {
		return "id:" + id
	}

	name := normalizeLabel(get(model.RoleName))
	phone := normalizePhone(get(model.RolePhone))
	email := strings.ToLower(get(model.RoleEmail))
	if name != "" || phone != "" || email != "" {
		return hashKey("h:", name, phone, email)
	}

	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, col+"="+row.Get(col))
	}
	return hashKey("r:", parts...)
}

// normalizePhone keeps digits and drops the Brazilian country code so
// "+55 11 98888-7777" and "(11) 98888-7777" agree.
func normalizePhone(raw string) string {
	d := digitsOnly(raw)
	if len(d) > 11 && strings.HasPrefix(d, "55") {
		d = d[2:]
	}
	return d
}

func hashKey(prefix string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return prefix + hex.EncodeToString(h[:8])
}
