package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Recorder receives every document written to disk. The git history service
// implements it.
type Recorder interface {
	Record(name string, payload []byte, message string) error
}

// Store reads and writes whole manifest documents. There is no locking; the
// caller serialises read-modify-write cycles.
type Store struct {
	dir      string
	recorder Recorder
}

func NewStore(dir string, recorder Recorder) *Store {
	return &Store{dir: dir, recorder: recorder}
}

func (s *Store) path(name Name) string {
	return filepath.Join(s.dir, fmt.Sprintf("manifest-%s.json", name))
}

// Read returns an empty document when the file does not exist yet.
func (s *Store) Read(name Name) (Document, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s manifest: %w", name, err)
	}
	doc := Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s manifest: %w", name, err)
	}
	doc.Prune()
	return doc, nil
}

// Write replaces the document on disk. message describes the change for the
// history recorder.
func (s *Store) Write(name Name, doc Document, message string) error {
	doc.Prune()
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s manifest: %w", name, err)
	}
	payload = append(payload, '\n')

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".manifest-%s-*.json", name))
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s manifest: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s manifest: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s manifest: %w", name, err)
	}

	if s.recorder != nil {
		if err := s.recorder.Record(fmt.Sprintf("manifest-%s.json", name), payload, message); err != nil {
			log.Printf("manifest: history record for %s failed: %v", name, err)
		}
	}
	return nil
}
