// Package store persists games played through the solver service. A game is
// kept as its current session string plus the undo history that led to it.
package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/cluesolver/clue-server-go/internal/config"
	"github.com/cluesolver/clue-server-go/internal/history"
)

var (
	// ErrNotFound is returned when no game has the requested id.
	ErrNotFound = errors.New("game not found")
	// ErrCorruptRecord is returned when a stored game fails its checksum.
	ErrCorruptRecord = errors.New("corrupt game record")
)

// Store keeps game records by id. Implementations are safe for concurrent
// use.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	// Put seals and saves the record, replacing any game with the same id.
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Record is one stored game.
type Record struct {
	ID        string          `json:"id"`
	Players   int             `json:"players"`
	Session   string          `json:"session"`
	History   []history.Entry `json:"history"`
	Cursor    int             `json:"cursor"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Checksum  string          `json:"checksum"`
}

// digest hashes the fields that define the game. Timestamps are left out so
// that a record can be re-saved without changing its tag.
func (r *Record) digest() string {
	h, _ := blake2b.New256(nil)
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	write(r.ID)
	write(strconv.Itoa(r.Players))
	write(r.Session)
	write(strconv.Itoa(r.Cursor))
	for _, e := range r.History {
		write(e.Action)
		write(e.Detail)
		write(e.Session)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Seal stamps the record's timestamps and checksum.
func (r *Record) Seal() {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Checksum = r.digest()
}

// Verify reports ErrCorruptRecord when the record changed after Seal.
func (r *Record) Verify() error {
	if r.Checksum != r.digest() {
		return fmt.Errorf("%w: %s", ErrCorruptRecord, r.ID)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	out.History = append([]history.Entry(nil), r.History...)
	return &out
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverBadger:
		return OpenBadger(BadgerConfigFrom(cfg.Badger, logger))
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
