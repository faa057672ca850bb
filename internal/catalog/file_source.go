package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource loads card definitions from a JSON index file. Used for local
// development and tests; production deployments load from the database.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource reading from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// LoadAll implements Source.
func (s *FileSource) LoadAll(ctx context.Context) ([]CardDef, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read card index %s: %w", s.Path, err)
	}

	var defs []CardDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse card index %s: %w", s.Path, err)
	}

	for i := range defs {
		for j := range defs[i].Resistances {
			if defs[i].Resistances[j].Value == 0 {
				defs[i].Resistances[j].Value = DefaultResistanceValue
			}
		}
	}
	return defs, nil
}
