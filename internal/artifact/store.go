// Package artifact persists trained models to disk as a three-file unit:
// the forest, the scaler, and the feature schema.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/model"
)

const (
	modelFile  = "model.json"
	scalerFile = "scaler.json"
	schemaFile = "schema.json"
)

// FileStore reads and writes model artifacts under a single directory.
// The three files are written together and validated together: a partial
// or mismatched trio fails the load rather than scoring with stale parts.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.ArtifactError{Location: dir, Reason: "create directory", Err: err}
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *FileStore) Dir() string { return s.dir }

// Save writes the model's three units. Each file is written via a temp
// file and rename so a crash never leaves a half-written unit behind.
func (s *FileStore) Save(m *model.Model) error {
	units := []struct {
		name string
		v    any
	}{
		{modelFile, m.Forest},
		{scalerFile, m.Scaler},
		{schemaFile, m.Schema},
	}
	for _, u := range units {
		if err := s.writeJSON(u.name, u.v); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) writeJSON(name string, v any) error {
	path := filepath.Join(s.dir, name)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &domain.ArtifactError{Location: path, Reason: "encode", Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &domain.ArtifactError{Location: path, Reason: "write", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &domain.ArtifactError{Location: path, Reason: "rename", Err: err}
	}
	return nil
}

// Load reads the trio back and cross-checks the units: the scaler width
// must match the schema's column count, and every file must be present.
func (s *FileStore) Load() (*model.Model, error) {
	var forest model.Forest
	if err := s.readJSON(modelFile, &forest); err != nil {
		return nil, err
	}
	var scaler model.Scaler
	if err := s.readJSON(scalerFile, &scaler); err != nil {
		return nil, err
	}
	var schema domain.ModelSchema
	if err := s.readJSON(schemaFile, &schema); err != nil {
		return nil, err
	}

	if len(forest.Roots) == 0 {
		return nil, &domain.ArtifactError{
			Location: filepath.Join(s.dir, modelFile),
			Reason:   "forest has no trees",
		}
	}
	if len(schema.Columns) == 0 {
		return nil, &domain.ArtifactError{
			Location: filepath.Join(s.dir, schemaFile),
			Reason:   "schema names no columns",
		}
	}
	if len(scaler.Mean) != len(schema.Columns) || len(scaler.Std) != len(schema.Columns) {
		return nil, &domain.ArtifactError{
			Location: s.dir,
			Reason: fmt.Sprintf("scaler width %d does not match schema's %d columns",
				len(scaler.Mean), len(schema.Columns)),
		}
	}

	return &model.Model{
		Forest: &forest,
		Scaler: &scaler,
		Schema: schema,
	}, nil
}

func (s *FileStore) readJSON(name string, v any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		reason := "read"
		if os.IsNotExist(err) {
			reason = "missing unit"
		}
		return &domain.ArtifactError{Location: path, Reason: reason, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &domain.ArtifactError{Location: path, Reason: "decode", Err: err}
	}
	return nil
}
