package risk

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Artifacts are the two files written by the offline training job: the
// fitted model and the ordered feature columns it expects.
type Artifacts struct {
	Forest  *Forest  // nil when no model file exists
	Columns []string // never empty
}

type columnsFile struct {
	Columns []string `yaml:"columns"`
}

// LoadArtifacts reads the model and column files. Both are YAML or JSON
// (JSON is valid YAML). A missing model file is not an error: the caller
// falls back to rule scoring. A missing columns file means DefaultColumns.
// The columns file may be a bare list or {columns: [...]}.
func LoadArtifacts(modelPath, columnsPath string) (*Artifacts, error) {
	a := &Artifacts{Columns: DefaultColumns}

	if columnsPath != "" {
		data, err := os.ReadFile(columnsPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read columns %s: %w", columnsPath, err)
		default:
			cols, err := parseColumns(data)
			if err != nil {
				return nil, fmt.Errorf("parse columns %s: %w", columnsPath, err)
			}
			a.Columns = cols
		}
	}

	if modelPath == "" {
		return a, nil
	}
	data, err := os.ReadFile(modelPath)
	if errors.Is(err, fs.ErrNotExist) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", modelPath, err)
	}
	var f Forest
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", modelPath, err)
	}
	if f.NFeatures == 0 {
		f.NFeatures = len(a.Columns)
	}
	if f.NFeatures != len(a.Columns) {
		return nil, fmt.Errorf("model %s expects %d features, columns list has %d", modelPath, f.NFeatures, len(a.Columns))
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelPath, err)
	}
	a.Forest = &f
	return a, nil
}

func parseColumns(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var wrapped columnsFile
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if len(wrapped.Columns) == 0 {
		return nil, errors.New("no columns listed")
	}
	return wrapped.Columns, nil
}
