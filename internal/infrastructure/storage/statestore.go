package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/ports"
)

const (
	markerSuffix = ".submitted"
	handleSuffix = ".job.json"
)

// StateStore persists the submission marker and job handle for each day as
// two independent files next to the day's records. The marker is the
// presence-only restart signal; its timestamp content is informational.
type StateStore struct {
	dir string
}

var _ ports.StateStore = (*StateStore)(nil)

// NewStateStore ensures the data dir exists and returns the store.
func NewStateStore(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &StateStore{dir: dir}, nil
}

// MarkerExists reports whether the day's submission marker is present.
func (s *StateStore) MarkerExists(day time.Time) bool {
	_, err := os.Stat(s.markerPath(day))
	return err == nil
}

// WriteMarker records the submission fact for a day.
func (s *StateStore) WriteMarker(day time.Time) error {
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(s.markerPath(day), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// SaveHandle persists the job handle through a temp file plus rename.
func (s *StateStore) SaveHandle(handle domain.JobHandle) error {
	day, err := time.Parse(domain.DayFormat, handle.Day)
	if err != nil {
		return fmt.Errorf("handle day %q: %w", handle.Day, err)
	}

	raw, err := json.MarshalIndent(handle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal handle: %w", err)
	}

	path := s.handlePath(day)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write handle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}

// LoadHandle reads the persisted job handle for a day.
func (s *StateStore) LoadHandle(day time.Time) (domain.JobHandle, error) {
	raw, err := os.ReadFile(s.handlePath(day))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.JobHandle{}, fmt.Errorf("handle for %s: %w", day.Format(domain.DayFormat), domain.ErrNotFound)
		}
		return domain.JobHandle{}, fmt.Errorf("read handle: %w", err)
	}

	var handle domain.JobHandle
	if err := json.Unmarshal(raw, &handle); err != nil {
		return domain.JobHandle{}, fmt.Errorf("parse handle: %w", err)
	}

	return handle, nil
}

// HandleExists reports whether a job handle is persisted for the day.
func (s *StateStore) HandleExists(day time.Time) bool {
	_, err := os.Stat(s.handlePath(day))
	return err == nil
}

// ClearState removes the marker and handle files once a day is reconciled.
func (s *StateStore) ClearState(day time.Time) error {
	for _, path := range []string{s.markerPath(day), s.handlePath(day)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

func (s *StateStore) markerPath(day time.Time) string {
	return filepath.Join(s.dir, day.Format(domain.DayFormat)+markerSuffix)
}

func (s *StateStore) handlePath(day time.Time) string {
	return filepath.Join(s.dir, day.Format(domain.DayFormat)+handleSuffix)
}
