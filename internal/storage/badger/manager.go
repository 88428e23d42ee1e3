package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	profile   interfaces.ProfileStorage
	job       interfaces.JobStorage
	medallion interfaces.MedallionStorage
	aggregate interfaces.AggregateStorage
	freshness interfaces.FreshnessStorage
	alert     interfaces.AlertStorage
	logger    arbor.ILogger
}

// NewManager opens the database and creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := NewManagerWithDB(db, logger)
	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// NewManagerWithDB wires the storage implementations around an open database
func NewManagerWithDB(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:        db,
		profile:   NewProfileStorage(db, logger),
		job:       NewJobStorage(db, logger),
		medallion: NewMedallionStorage(db, logger),
		aggregate: NewAggregateStorage(db, logger),
		freshness: NewFreshnessStorage(db, logger),
		alert:     NewAlertStorage(db, logger),
		logger:    logger,
	}
}

// DB returns the database shared with the job queues
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// ProfileStorage returns the Profile storage interface
func (m *Manager) ProfileStorage() interfaces.ProfileStorage {
	return m.profile
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// MedallionStorage returns the raw/clean layer storage interface
func (m *Manager) MedallionStorage() interfaces.MedallionStorage {
	return m.medallion
}

// AggregateStorage returns the aggregate layer storage interface
func (m *Manager) AggregateStorage() interfaces.AggregateStorage {
	return m.aggregate
}

// FreshnessStorage returns the Freshness storage interface
func (m *Manager) FreshnessStorage() interfaces.FreshnessStorage {
	return m.freshness
}

// AlertStorage returns the Alert storage interface
func (m *Manager) AlertStorage() interfaces.AlertStorage {
	return m.alert
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
