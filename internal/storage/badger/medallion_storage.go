package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// MedallionStorage implements the append-only raw and clean layers for Badger
type MedallionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMedallionStorage creates a new MedallionStorage instance
func NewMedallionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MedallionStorage {
	return &MedallionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *MedallionStorage) AppendRaw(ctx context.Context, record *models.RawRecord) error {
	if record.ID == "" {
		return fmt.Errorf("raw record ID is required")
	}
	if err := s.db.Store().Insert(record.ID, record); err != nil {
		return persistErr("append raw record", err)
	}
	return nil
}

func (s *MedallionStorage) AppendSignals(ctx context.Context, signals []*models.CleanSignal) error {
	if len(signals) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *badger.Txn) error {
		for _, signal := range signals {
			if signal.ID == "" {
				return fmt.Errorf("clean signal ID is required")
			}
			if err := s.db.Store().TxInsert(tx, signal.ID, signal); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("append clean signals", err)
	}
	return nil
}

func (s *MedallionStorage) ListSignals(ctx context.Context, profileID string, domain models.Domain, since time.Time) ([]*models.CleanSignal, error) {
	query := badgerhold.Where("ProfileID").Eq(profileID).
		And("Domain").Eq(domain).
		And("CreatedAt").Ge(since).
		SortBy("CreatedAt")

	var signals []models.CleanSignal
	if err := s.db.Store().Find(&signals, query); err != nil {
		return nil, persistErr("list clean signals", err)
	}

	result := make([]*models.CleanSignal, len(signals))
	for i := range signals {
		result[i] = &signals[i]
	}
	return result, nil
}

func (s *MedallionStorage) PurgeRawBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("FetchedAt").Lt(cutoff)

	count, err := s.db.Store().Count(&models.RawRecord{}, query)
	if err != nil {
		return 0, persistErr("count expired raw records", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.RawRecord{}, badgerhold.Where("FetchedAt").Lt(cutoff)); err != nil {
		return 0, persistErr("purge raw records", err)
	}

	s.logger.Info().
		Int("purged", int(count)).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Purged expired raw records")

	return int(count), nil
}
