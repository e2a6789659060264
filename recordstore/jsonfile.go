package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/tarik02/apiproxy/api"
)

// JSONFile keeps all records in one JSON array that is rewritten wholesale on each
// mutation. Mutations are serialized within the process.
type JSONFile struct {
	path string
	mu   sync.Mutex
}

func OpenJSONFile(path string) (*JSONFile, error) {
	if path == "" {
		return nil, errors.New("json store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &JSONFile{path: path}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := writeJSONAtomic(path, []api.Record{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFile) Path() string { return s.path }

func (s *JSONFile) load() ([]api.Record, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []api.Record{}, nil
	}

	var records []api.Record
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	if records == nil {
		records = []api.Record{}
	}
	return records, nil
}

func (s *JSONFile) List(ctx context.Context) ([]api.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *JSONFile) Get(ctx context.Context, id int) (api.Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return api.Record{}, err
	}
	i := indexOf(records, id)
	if i < 0 {
		return api.Record{}, ErrNotFound
	}
	return records[i], nil
}

func (s *JSONFile) Add(ctx context.Context, rec api.Record) (api.Record, error) {
	if err := ctx.Err(); err != nil {
		return api.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return api.Record{}, err
	}

	rec.ID = 1
	for _, r := range records {
		if r.ID >= rec.ID {
			rec.ID = r.ID + 1
		}
	}

	records = append(records, rec)
	if err := writeJSONAtomic(s.path, records); err != nil {
		return api.Record{}, err
	}
	return rec, nil
}

func (s *JSONFile) Update(ctx context.Context, rec api.Record) (api.Record, error) {
	if err := ctx.Err(); err != nil {
		return api.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return api.Record{}, err
	}

	i := indexOf(records, rec.ID)
	if i < 0 {
		return api.Record{}, ErrNotFound
	}
	records[i] = rec

	if err := writeJSONAtomic(s.path, records); err != nil {
		return api.Record{}, err
	}
	return rec, nil
}

func (s *JSONFile) Delete(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	i := indexOf(records, id)
	if i < 0 {
		return ErrNotFound
	}
	records = slices.Delete(records, i, i+1)

	return writeJSONAtomic(s.path, records)
}

func (s *JSONFile) Search(ctx context.Context, q Query) ([]api.Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return q.Apply(records)
}

func (s *JSONFile) Close() error {
	return nil
}

func indexOf(records []api.Record, id int) int {
	return slices.IndexFunc(records, func(r api.Record) bool { return r.ID == id })
}
