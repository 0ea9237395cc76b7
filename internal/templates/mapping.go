package templates

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MappingFile is the name of the classification file looked up in the
// template directory.
const MappingFile = "layouts.yaml"

// Mapping assigns template files to layouts. Extra layouts may be declared
// alongside the built-in ones.
type Mapping struct {
	Templates map[string]string `yaml:"templates"`
	Layouts   map[string]Layout `yaml:"layouts"`
}

// LoadMapping reads dir/layouts.yaml. A missing file yields an empty mapping.
func LoadMapping(dir string) (*Mapping, error) {
	m := &Mapping{}
	data, err := os.ReadFile(filepath.Join(dir, MappingFile))
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MappingFile, err)
	}
	for key, l := range m.Layouts {
		l.Key = key
		if l.RequiredPhotos == 0 {
			l.RequiredPhotos = len(l.Slots)
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", MappingFile, err)
		}
		m.Layouts[key] = l
	}
	return m, nil
}

// layouts merges declared layouts over the built-in set.
func (m *Mapping) layouts() map[string]Layout {
	all := BuiltinLayouts()
	for k, l := range m.Layouts {
		all[k] = l.clone()
	}
	return all
}

// Classify picks the layout key for a template file. Files listed in the
// mapping win; anything else falls back to the file naming convention.
func (m *Mapping) Classify(assetPath string, logger *slog.Logger) string {
	name := filepath.Base(assetPath)
	if key, ok := m.Templates[name]; ok {
		return key
	}

	// TODO: drop the filename convention once every deployed template set ships a layouts.yaml.
	key := LayoutStrip2x4
	if strings.Contains(strings.ToLower(assetPath), "horizontal") {
		key = LayoutGrid2x2
	}
	if logger != nil {
		logger.Warn("template not listed in layout mapping, classifying by file name",
			"template", name,
			"layout", key,
			"mapping", MappingFile,
		)
	}
	return key
}
