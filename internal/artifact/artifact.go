// Package artifact renders resolved hosts into the files served by the server
// role and stores them on disk.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fetch-github-hosts/fgh/internal/failure"
	"github.com/fetch-github-hosts/fgh/internal/hosts"
)

const (
	TextFile = "hosts.txt"
	JSONFile = "hosts.json"

	// Served while no cycle has completed yet.
	TextPlaceholder = "# no hosts yet"
	JSONPlaceholder = "[]"
)

// Artifacts is the output of one resolution pass.
type Artifacts struct {
	Entries   []hosts.Entry
	Text      []byte
	JSON      []byte
	UpdatedAt time.Time
}

// Build renders both artifacts from the same entries.
func Build(entries []hosts.Entry, now time.Time) (Artifacts, error) {
	if entries == nil {
		entries = []hosts.Entry{}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return Artifacts{}, fmt.Errorf("failed to encode hosts json: %w", err)
	}

	return Artifacts{
		Entries:   entries,
		Text:      []byte(hosts.RenderBlock(entries, now, "\n") + "\n"),
		JSON:      data,
		UpdatedAt: now,
	}, nil
}

// Store keeps the artifacts in a directory.
type Store struct {
	dir string

	mu         sync.RWMutex
	lastUpdate time.Time
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultDir is the directory of the running executable, or the working
// directory when it cannot be determined.
func DefaultDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Write replaces both files. Readers see either the previous or the new
// version of each file, never a partial one.
func (s *Store) Write(a Artifacts) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return failure.New(failure.KindWrite, "create artifact dir", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, JSONFile), a.JSON); err != nil {
		return failure.New(failure.KindWrite, "write "+JSONFile, err)
	}
	if err := writeAtomic(filepath.Join(s.dir, TextFile), a.Text); err != nil {
		return failure.New(failure.KindWrite, "write "+TextFile, err)
	}

	s.mu.Lock()
	s.lastUpdate = a.UpdatedAt
	s.mu.Unlock()
	return nil
}

// Text returns the text artifact or its placeholder.
func (s *Store) Text() []byte {
	return s.read(TextFile, TextPlaceholder)
}

// JSON returns the structured artifact or its placeholder.
func (s *Store) JSON() []byte {
	return s.read(JSONFile, JSONPlaceholder)
}

// LastUpdate returns when this store last wrote artifacts.
func (s *Store) LastUpdate() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate, !s.lastUpdate.IsZero()
}

func (s *Store) read(name, placeholder string) []byte {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return []byte(placeholder)
	}
	return data
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}
