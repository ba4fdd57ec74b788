package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a catalog seed file:
//
//	models:
//	  - provider: claude
//	    model_name: claude-3-haiku-20240307
//	    category: conversation
//	    cost_per_1k_tokens: 0.008
//	    supported_languages: [en, es, fr]
type File struct {
	Models []fileEntry `yaml:"models"`
}

// fileEntry decodes one model on top of Template so omitted keys keep
// their defaults.
type fileEntry ModelConfiguration

type plainEntry ModelConfiguration

func (e *fileEntry) UnmarshalYAML(n *yaml.Node) error {
	p := plainEntry(Template())
	if err := n.Decode(&p); err != nil {
		return err
	}
	*e = fileEntry(p)
	return nil
}

// LoadFile reads a YAML catalog and returns its validated models.
func LoadFile(path string) ([]ModelConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) ([]ModelConfiguration, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Models))
	out := make([]ModelConfiguration, 0, len(f.Models))
	for i, e := range f.Models {
		m := ModelConfiguration(e)
		if m.DisplayName == "" {
			m.DisplayName = m.ModelName
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if seen[m.ID()] {
			return nil, fmt.Errorf("catalog entry %d: duplicate model %s", i, m.ID())
		}
		seen[m.ID()] = true
		out = append(out, m)
	}
	return out, nil
}
