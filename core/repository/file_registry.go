package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"model-orchestrator/core/models"
)

// FileRegistryStore keeps one JSON registry record per model type on a filesystem.
// It is the registry persistence used when no database is configured.
type FileRegistryStore struct {
	fs  afero.Fs
	dir string
}

// NewFileRegistryStore creates a store writing under dir
func NewFileRegistryStore(fs afero.Fs, dir string) (*FileRegistryStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry dir: %w", err)
	}
	return &FileRegistryStore{fs: fs, dir: dir}, nil
}

// SaveRegistry writes the record atomically through a temp file and rename
func (s *FileRegistryStore) SaveRegistry(_ context.Context, rec *models.RegistryRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	target := path.Join(s.dir, string(rec.ModelType)+".json")
	tmp := target + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// LoadRegistries reads every record in the directory, ordered by model type
func (s *FileRegistryStore) LoadRegistries(_ context.Context) ([]*models.RegistryRecord, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list registry dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var records []*models.RegistryRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := afero.ReadFile(s.fs, path.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		var rec models.RegistryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", e.Name(), err)
		}
		records = append(records, &rec)
	}
	return records, nil
}
