package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// AlertStorage implements the append-only alert audit trail for Badger
type AlertStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAlertStorage creates a new AlertStorage instance
func NewAlertStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AlertStorage {
	return &AlertStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AlertStorage) AppendAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == "" {
		return false, fmt.Errorf("alert ID is required")
	}
	if err := s.db.Store().Insert(alert.ID, alert); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return false, nil
		}
		return false, persistErr("append alert", err)
	}
	return true, nil
}

func (s *AlertStorage) ListAlerts(ctx context.Context, profileID string, unacknowledgedOnly bool, limit int) ([]*models.Alert, error) {
	query := badgerhold.Where("ID").Ne("")
	if profileID != "" {
		query = badgerhold.Where("ProfileID").Eq(profileID)
	}
	if unacknowledgedOnly {
		query = query.And("Acknowledged").Eq(false)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var alerts []models.Alert
	if err := s.db.Store().Find(&alerts, query); err != nil {
		return nil, persistErr("list alerts", err)
	}

	result := make([]*models.Alert, len(alerts))
	for i := range alerts {
		result[i] = &alerts[i]
	}
	return result, nil
}

// AcknowledgeAlert sets the acknowledgement fields; nothing else on an alert ever changes
func (s *AlertStorage) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	err := s.db.Update(func(tx *badger.Txn) error {
		var alert models.Alert
		if err := s.db.Store().TxGet(tx, alertID, &alert); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return notFoundErr("alert", alertID)
			}
			return err
		}
		if alert.Acknowledged {
			return nil
		}
		alert.Acknowledged = true
		at = at.UTC()
		alert.AcknowledgedAt = &at
		return s.db.Store().TxUpdate(tx, alertID, &alert)
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return persistErr("acknowledge alert", err)
	}
	return nil
}
