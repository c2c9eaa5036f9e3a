// Package store persists which notification emails have been ingested and
// which calendars receive shifts.
package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileProcessedStore keeps processed message IDs in a text file, one per
// line. The file is read once when the store is opened and only appended to
// afterwards.
type FileProcessedStore struct {
	mu   sync.Mutex
	path string
	seen map[string]struct{}
}

// OpenFileProcessedStore loads the IDs already recorded at path. A missing
// file is an empty set.
func OpenFileProcessedStore(path string) (*FileProcessedStore, error) {
	s := &FileProcessedStore{path: path, seen: make(map[string]struct{})}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open processed messages file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			s.seen[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read processed messages file: %w", err)
	}

	return s, nil
}

// IsProcessed reports whether id has been recorded.
func (s *FileProcessedStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok, nil
}

// MarkProcessed appends id to the file. Recording an ID twice is a no-op.
func (s *FileProcessedStore) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create processed messages directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open processed messages file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, id); err != nil {
		return fmt.Errorf("failed to record processed message: %w", err)
	}

	s.seen[id] = struct{}{}
	return nil
}

// Close is a no-op; the file is opened per write.
func (s *FileProcessedStore) Close() error {
	return nil
}
