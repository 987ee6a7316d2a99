package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/cluesolver/clue-server-go/internal/config"
)

const badgerKeyPrefix = "game/"

// BadgerConfig configures an embedded badger store.
type BadgerConfig struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// GCInterval of zero disables value log collection.
	GCInterval     time.Duration
	GCDiscardRatio float64
	Logger         *zap.Logger
}

// BadgerConfigFrom converts the file configuration.
func BadgerConfigFrom(cfg config.BadgerConfig, logger *zap.Logger) BadgerConfig {
	return BadgerConfig{
		Path:           cfg.Path,
		InMemory:       cfg.InMemory,
		SyncWrites:     cfg.SyncWrites,
		GCInterval:     cfg.GCInterval,
		GCDiscardRatio: cfg.GCDiscardRatio,
		Logger:         logger,
	}
}

// badgerLogger routes badger's printf-style logging into zap.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.logger.Infof(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// BadgerStore keeps one JSON document per game in badger.
type BadgerStore struct {
	db     *badger.DB
	gc     *gcRunner
	logger *zap.Logger
	once   sync.Once
}

// OpenBadger opens (creating if needed) the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &BadgerStore{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		go s.gc.run()
	}

	logger.Info("badger store opened",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
	)
	return s, nil
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read game %s: %w", id, err)
	}
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) Put(_ context.Context, rec *Record) error {
	rec.Seal()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode game %s: %w", rec.ID, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.ID), data)
	}); err != nil {
		return fmt.Errorf("failed to write game %s: %w", rec.ID, err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(badgerKey(id))
	})
}

// Close stops value log collection and closes the database. Later calls
// return nil.
func (s *BadgerStore) Close() error {
	var err error
	s.once.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		err = s.db.Close()
	})
	return err
}

// gcRunner periodically rewrites value log files that are mostly garbage.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *zap.Logger) *gcRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

func (r *gcRunner) collect() {
	err := r.db.RunValueLogGC(r.ratio)
	switch {
	case err == nil:
		r.logger.Debug("badger value log collected")
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
	default:
		r.logger.Warn("badger value log collection failed", zap.Error(err))
	}
}
