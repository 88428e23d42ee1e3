package postgres

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
)

// Manager implements the StorageManager interface for PostgreSQL
type Manager struct {
	db        *PostgresDB
	profile   interfaces.ProfileStorage
	job       interfaces.JobStorage
	medallion interfaces.MedallionStorage
	aggregate interfaces.AggregateStorage
	freshness interfaces.FreshnessStorage
	alert     interfaces.AlertStorage
	logger    arbor.ILogger
}

// NewManager connects to PostgreSQL and creates a new storage manager
func NewManager(logger arbor.ILogger, config *common.PostgresConfig) (*Manager, error) {
	db, err := NewPostgresDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:        db,
		profile:   &ProfileStorage{db: db, logger: logger},
		job:       NewJobStorage(db, logger),
		medallion: &MedallionStorage{db: db, logger: logger},
		aggregate: &AggregateStorage{db: db, logger: logger},
		freshness: &FreshnessStorage{db: db, logger: logger},
		alert:     &AlertStorage{db: db, logger: logger},
		logger:    logger,
	}, nil
}

// DB returns the connection wrapper
func (m *Manager) DB() *PostgresDB {
	return m.db
}

func (m *Manager) ProfileStorage() interfaces.ProfileStorage {
	return m.profile
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

func (m *Manager) MedallionStorage() interfaces.MedallionStorage {
	return m.medallion
}

func (m *Manager) AggregateStorage() interfaces.AggregateStorage {
	return m.aggregate
}

func (m *Manager) FreshnessStorage() interfaces.FreshnessStorage {
	return m.freshness
}

func (m *Manager) AlertStorage() interfaces.AlertStorage {
	return m.alert
}

// Close closes the connection pool
func (m *Manager) Close() error {
	m.logger.Info().Msg("Closing PostgreSQL storage")
	return m.db.Close()
}
