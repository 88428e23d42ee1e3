package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// FreshnessStorage implements the FreshnessStorage interface for Badger
type FreshnessStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFreshnessStorage creates a new FreshnessStorage instance
func NewFreshnessStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FreshnessStorage {
	return &FreshnessStorage{
		db:     db,
		logger: logger,
	}
}

func (s *FreshnessStorage) UpsertFreshness(ctx context.Context, record *models.FreshnessRecord) error {
	key := models.FreshnessKey(record.ProfileID, record.Domain)
	err := s.db.Update(func(tx *badger.Txn) error {
		return s.db.Store().TxUpsert(tx, key, record)
	})
	if err != nil {
		return persistErr("upsert freshness", err)
	}
	return nil
}

func (s *FreshnessStorage) GetFreshness(ctx context.Context, profileID string, domain models.Domain) (*models.FreshnessRecord, error) {
	key := models.FreshnessKey(profileID, domain)

	var record models.FreshnessRecord
	if err := s.db.Store().Get(key, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, notFoundErr("freshness", key)
		}
		return nil, persistErr("get freshness", err)
	}
	return &record, nil
}

func (s *FreshnessStorage) ListFreshness(ctx context.Context, profileID string) ([]*models.FreshnessRecord, error) {
	var records []models.FreshnessRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("ProfileID").Eq(profileID).SortBy("Domain")); err != nil {
		return nil, persistErr("list freshness", err)
	}

	result := make([]*models.FreshnessRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
