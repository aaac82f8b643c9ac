// Package store persists finished recordings as script artifacts on disk
// and, when a database is configured, as rows.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// Saver is anything that can persist a recording.
type Saver interface {
	Save(ctx context.Context, rec *models.Recording) error
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName turns a recording name into a file name stem.
func SafeName(name string) string {
	s := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(name), "-"), "-.")
	if s == "" {
		return "recording"
	}
	return s
}

// FileStore writes <dir>/<name>.js and <dir>/<name>.steps.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) ScriptPath(name string) string {
	return filepath.Join(s.dir, SafeName(name)+".js")
}

func (s *FileStore) StepsPath(name string) string {
	return filepath.Join(s.dir, SafeName(name)+".steps.json")
}

func (s *FileStore) Save(_ context.Context, rec *models.Recording) error {
	steps, err := rec.GetSteps()
	if err != nil {
		return fmt.Errorf("failed to decode steps: %w", err)
	}
	stepsJSON, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	if err := writeAtomic(s.ScriptPath(rec.Name), []byte(rec.Script)); err != nil {
		return err
	}
	return writeAtomic(s.StepsPath(rec.Name), append(stepsJSON, '\n'))
}

// Load reads back the step list saved under name.
func (s *FileStore) Load(name string) ([]models.Step, error) {
	data, err := os.ReadFile(s.StepsPath(name))
	if err != nil {
		return nil, err
	}
	var steps []models.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.StepsPath(name), err)
	}
	return steps, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// DBStore inserts recordings as rows.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Save(ctx context.Context, rec *models.Recording) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}
	return nil
}

// Multi saves to every store and joins their errors.
type Multi []Saver

func (m Multi) Save(ctx context.Context, rec *models.Recording) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
