package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// phaseFile is the on-disk phase table. Either form may be used; explicit
// ranks override list positions for the same label.
//
//	phases: [Novo Lead, Triagem, Reunião Agendada]
//	ranks: {"Contrato Assinado": 10}
type phaseFile struct {
	Phases []string       `yaml:"phases"`
	Ranks  map[string]int `yaml:"ranks"`
}

// LoadPhaseTable reads an authoritative phase ordering from a YAML file. An
// empty path yields a nil table, which leaves the built-in ordering in
// charge.
func LoadPhaseTable(path string) (model.PhaseRankTable, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "config: read phase table")
	}
	return ParsePhaseTable(data)
}

// ParsePhaseTable decodes the YAML phase table format.
func ParsePhaseTable(data []byte) (model.PhaseRankTable, error) {
	var f phaseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "config: parse phase table")
	}

	table := make(model.PhaseRankTable, len(f.Phases)+len(f.Ranks))
	for i, label := range f.Phases {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, dup := table[label]; !dup {
			table[label] = i + 1
		}
	}
	for label, rank := range f.Ranks {
		if rank <= 0 {
			return nil, eris.Errorf("config: phase %q has non-positive rank %d", label, rank)
		}
		table[strings.TrimSpace(label)] = rank
	}
	if len(table) == 0 {
		return nil, eris.New("config: phase table is empty")
	}
	return table, nil
}
