package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ArxivDigest/internal/domain"
	"ArxivDigest/internal/ports"
)

const (
	rawSuffix      = ".jsonl"
	enrichedSuffix = ".enriched.jsonl"
)

// FileStore keeps one line-delimited JSON file per day under a data dir.
// Writes go through a temp file plus rename so a crash mid-write never
// leaves a truncated day file behind.
type FileStore struct {
	dir string
}

var _ ports.RecordStore = (*FileStore)(nil)

// NewFileStore ensures the data dir exists and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load reads the raw record file for a day.
func (s *FileStore) Load(day time.Time) ([]domain.Record, error) {
	return s.readRecords(s.rawPath(day))
}

// Save atomically replaces the raw record file for a day.
func (s *FileStore) Save(day time.Time, records []domain.Record) error {
	return s.writeRecords(s.rawPath(day), records)
}

// Exists reports whether the day has a raw record file.
func (s *FileStore) Exists(day time.Time) bool {
	_, err := os.Stat(s.rawPath(day))
	return err == nil
}

// LoadEnriched reads the enriched record file for a day.
func (s *FileStore) LoadEnriched(day time.Time) ([]domain.Record, error) {
	return s.readRecords(s.enrichedPath(day))
}

// SaveEnriched atomically replaces the enriched record file for a day.
func (s *FileStore) SaveEnriched(day time.Time, records []domain.Record) error {
	return s.writeRecords(s.enrichedPath(day), records)
}

// EnrichedExists reports whether the day already has an enriched file.
func (s *FileStore) EnrichedExists(day time.Time) bool {
	_, err := os.Stat(s.enrichedPath(day))
	return err == nil
}

// Days lists all days with a raw record file, oldest first.
func (s *FileStore) Days() ([]time.Time, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var days []time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, rawSuffix) || strings.HasSuffix(name, enrichedSuffix) {
			continue
		}
		day, err := time.Parse(domain.DayFormat, strings.TrimSuffix(name, rawSuffix))
		if err != nil {
			continue
		}
		days = append(days, day)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

func (s *FileStore) rawPath(day time.Time) string {
	return filepath.Join(s.dir, day.Format(domain.DayFormat)+rawSuffix)
}

func (s *FileStore) enrichedPath(day time.Time) string {
	return filepath.Join(s.dir, day.Format(domain.DayFormat)+enrichedSuffix)
}

func (s *FileStore) readRecords(path string) ([]domain.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var records []domain.Record
	scan := bufio.NewScanner(file)
	scan.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scan.Scan() {
		line++
		raw := bytes.TrimSpace(scan.Bytes())
		if len(raw) == 0 {
			continue
		}
		var record domain.Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", filepath.Base(path), line, err)
		}
		records = append(records, record)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return records, nil
}

func (s *FileStore) writeRecords(path string, records []domain.Record) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	writer := bufio.NewWriter(tmp)
	encoder := json.NewEncoder(writer)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("encode record %s: %w", record.ID, err)
		}
	}

	if err := writer.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("flush temp file: %w", err)
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
