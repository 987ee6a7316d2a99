// Package history keeps the sequence of session strings a game passed
// through so that actions can be undone and redone.
package history

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is the game state after one action.
type Entry struct {
	Action  string    `json:"action"`
	Detail  string    `json:"detail,omitempty"`
	Session string    `json:"session"`
	At      time.Time `json:"at"`
}

// History is an undo stack of entries. Entries after CurrentIndex have
// been undone and can be redone until the next Record.
type History struct {
	GameID       string
	Entries      []Entry
	CurrentIndex int
	mu           sync.RWMutex
}

// New creates an empty history
func New(gameID string) *History {
	return &History{
		GameID:       gameID,
		Entries:      make([]Entry, 0),
		CurrentIndex: -1,
	}
}

// Restore rebuilds a history from persisted entries. An out of range
// cursor points at the last entry.
func Restore(gameID string, entries []Entry, current int) *History {
	h := New(gameID)
	h.Entries = append(h.Entries, entries...)
	h.CurrentIndex = current
	if current < 0 || current >= len(entries) {
		h.CurrentIndex = len(entries) - 1
	}
	return h
}

// Record appends an entry and drops anything that was undone.
func (h *History) Record(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.Entries = append(h.Entries[:h.CurrentIndex+1], e)
	h.CurrentIndex = len(h.Entries) - 1
}

// Current returns the entry the game is at.
func (h *History) Current() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.CurrentIndex < 0 {
		return Entry{}, false
	}
	return h.Entries[h.CurrentIndex], true
}

// Undo steps back one action and returns the entry that is now current.
// The first entry cannot be undone.
func (h *History) Undo() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.CurrentIndex <= 0 {
		return Entry{}, false
	}
	h.CurrentIndex--
	return h.Entries[h.CurrentIndex], true
}

// Redo reapplies the most recently undone action.
func (h *History) Redo() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.CurrentIndex >= len(h.Entries)-1 {
		return Entry{}, false
	}
	h.CurrentIndex++
	return h.Entries[h.CurrentIndex], true
}

// Size returns the number of recorded entries, including undone ones.
func (h *History) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.Entries)
}

// At returns the entry at index.
func (h *History) At(index int) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if index >= 0 && index < len(h.Entries) {
		return h.Entries[index], true
	}
	return Entry{}, false
}

// Snapshot returns a copy of the entries and the cursor.
func (h *History) Snapshot() ([]Entry, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]Entry(nil), h.Entries...), h.CurrentIndex
}

type fileHeader struct {
	GameID       string
	Timestamp    time.Time
	Version      int
	EntryCount   int
	CurrentIndex int
}

const fileVersion = 1

func fileName(directory, gameID string) string {
	return filepath.Join(directory, fmt.Sprintf("%s.history", gameID))
}

// SaveToFile writes the history to <directory>/<gameID>.history as
// gzipped gob.
func (h *History) SaveToFile(directory string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fileName(directory, h.GameID))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	defer gzipWriter.Close()

	encoder := gob.NewEncoder(gzipWriter)
	header := fileHeader{
		GameID:       h.GameID,
		Timestamp:    time.Now(),
		Version:      fileVersion,
		EntryCount:   len(h.Entries),
		CurrentIndex: h.CurrentIndex,
	}
	if err := encoder.Encode(&header); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	for i := range h.Entries {
		if err := encoder.Encode(&h.Entries[i]); err != nil {
			return fmt.Errorf("failed to encode entry %d: %w", i, err)
		}
	}
	return nil
}

// LoadFromFile reads a history written by SaveToFile.
func LoadFromFile(directory, gameID string) (*History, error) {
	file, err := os.Open(fileName(directory, gameID))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	decoder := gob.NewDecoder(gzipReader)
	var header fileHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if header.Version != fileVersion {
		return nil, fmt.Errorf("unsupported history version: %d", header.Version)
	}

	entries := make([]Entry, 0, header.EntryCount)
	for i := 0; i < header.EntryCount; i++ {
		var e Entry
		if err := decoder.Decode(&e); err != nil {
			return nil, fmt.Errorf("failed to decode entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return Restore(header.GameID, entries, header.CurrentIndex), nil
}
