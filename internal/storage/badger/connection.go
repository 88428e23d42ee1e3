package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/models"
)

// maxTxnAttempts bounds retries of optimistic transactions that hit badger.ErrConflict
const maxTxnAttempts = 10

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	store, err := badgerhold.Open(StoreOptions(config.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	return &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// StoreOptions returns the badgerhold options used for every store.
// Values are JSON encoded so free-form job metadata round-trips without gob registration.
func StoreOptions(path string) badgerhold.Options {
	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger to use arbor
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal
	return options
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// DB returns the raw badger handle shared with the job queues
func (b *BadgerDB) DB() *badger.DB {
	return b.store.Badger()
}

// Update runs fn in a read-write transaction, retrying on optimistic conflicts.
// fn must be safe to run more than once.
func (b *BadgerDB) Update(fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= maxTxnAttempts; attempt++ {
		err = b.store.Badger().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if b.logger != nil {
			b.logger.Debug().Int("attempt", attempt).Msg("Badger transaction conflict, retrying")
		}
		time.Sleep(time.Duration(attempt) * 5 * time.Millisecond)
	}
	return err
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

// persistErr tags a store error with the persistence failure sentinel
func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistenceFailure, err)
}

// notFoundErr maps badgerhold's not-found to the model sentinel
func notFoundErr(what, key string) error {
	return fmt.Errorf("%s %s: %w", what, key, models.ErrNotFound)
}
