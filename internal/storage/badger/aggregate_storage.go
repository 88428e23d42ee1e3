// -----------------------------------------------------------------------
// Aggregate layer - upsert-by-key rows and the dashboard snapshot
// -----------------------------------------------------------------------

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

// AggregateStorage implements the AggregateStorage interface for Badger.
// Rows are keyed by (profile, domain, report date) so a re-run overwrites in place.
type AggregateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAggregateStorage creates a new AggregateStorage instance
func NewAggregateStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AggregateStorage {
	return &AggregateStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AggregateStorage) upsert(domain models.Domain, profileID, reportDate string, row interface{}) error {
	if profileID == "" || reportDate == "" {
		return fmt.Errorf("profile ID and report date are required")
	}
	key := models.AggregateKey(profileID, domain, reportDate)
	err := s.db.Update(func(tx *badger.Txn) error {
		return s.db.Store().TxUpsert(tx, key, row)
	})
	if err != nil {
		return persistErr(fmt.Sprintf("upsert %s aggregate", domain), err)
	}
	return nil
}

func (s *AggregateStorage) UpsertPriceForecast(ctx context.Context, row *models.PriceForecast) error {
	return s.upsert(models.DomainPrice, row.ProfileID, row.ReportDate, row)
}

func (s *AggregateStorage) UpsertMarketSummary(ctx context.Context, row *models.MarketSummary) error {
	return s.upsert(models.DomainMarket, row.ProfileID, row.ReportDate, row)
}

func (s *AggregateStorage) UpsertNewsRanking(ctx context.Context, row *models.NewsRanking) error {
	return s.upsert(models.DomainNews, row.ProfileID, row.ReportDate, row)
}

func (s *AggregateStorage) UpsertEnsemble(ctx context.Context, row *models.EnsembleAggregate) error {
	return s.upsert(models.DomainEnsemble, row.ProfileID, row.ReportDate, row)
}

func (s *AggregateStorage) LatestPriceForecast(ctx context.Context, profileID string) (*models.PriceForecast, error) {
	return findLatest[models.PriceForecast](s.db, nil, profileID, "price forecast")
}

func (s *AggregateStorage) LatestMarketSummary(ctx context.Context, profileID string) (*models.MarketSummary, error) {
	return findLatest[models.MarketSummary](s.db, nil, profileID, "market summary")
}

func (s *AggregateStorage) LatestNewsRanking(ctx context.Context, profileID string) (*models.NewsRanking, error) {
	return findLatest[models.NewsRanking](s.db, nil, profileID, "news ranking")
}

func (s *AggregateStorage) LatestEnsemble(ctx context.Context, profileID string) (*models.EnsembleAggregate, error) {
	return findLatest[models.EnsembleAggregate](s.db, nil, profileID, "ensemble aggregate")
}

// RefreshDashboardView rebuilds the profile snapshot in a single transaction.
// Readers use their own MVCC snapshot and are never blocked by the rebuild.
func (s *AggregateStorage) RefreshDashboardView(ctx context.Context, profileID string) error {
	err := s.db.Update(func(tx *badger.Txn) error {
		view := models.DashboardView{
			ProfileID:   profileID,
			Freshness:   make(map[models.Domain]time.Time),
			RefreshedAt: time.Now().UTC(),
		}

		var err error
		if view.Price, err = optional(findLatest[models.PriceForecast](s.db, tx, profileID, "price forecast")); err != nil {
			return err
		}
		if view.Market, err = optional(findLatest[models.MarketSummary](s.db, tx, profileID, "market summary")); err != nil {
			return err
		}
		if view.News, err = optional(findLatest[models.NewsRanking](s.db, tx, profileID, "news ranking")); err != nil {
			return err
		}
		if view.Ensemble, err = optional(findLatest[models.EnsembleAggregate](s.db, tx, profileID, "ensemble aggregate")); err != nil {
			return err
		}

		var records []models.FreshnessRecord
		if err := s.db.Store().TxFind(tx, &records, badgerhold.Where("ProfileID").Eq(profileID)); err != nil {
			return err
		}
		for _, r := range records {
			view.Freshness[r.Domain] = r.LastRefreshed
		}

		view.Degraded = view.Price == nil || view.Market == nil || view.News == nil
		if view.Ensemble != nil && len(view.Ensemble.Domains) < len(models.DomainTypes) {
			view.Degraded = true
		}

		return s.db.Store().TxUpsert(tx, profileID, &view)
	})
	if err != nil {
		return persistErr("refresh dashboard view", err)
	}
	return nil
}

func (s *AggregateStorage) GetDashboardView(ctx context.Context, profileID string) (*models.DashboardView, error) {
	var view models.DashboardView
	if err := s.db.Store().Get(profileID, &view); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, notFoundErr("dashboard view", profileID)
		}
		return nil, persistErr("get dashboard view", err)
	}
	return &view, nil
}

// findLatest returns the most recent aggregate row of type T for a profile.
// A nil tx runs the query in its own read transaction.
func findLatest[T any](db *BadgerDB, tx *badger.Txn, profileID, what string) (*T, error) {
	query := badgerhold.Where("ProfileID").Eq(profileID).SortBy("ReportDate").Reverse().Limit(1)

	var rows []T
	var err error
	if tx == nil {
		err = db.Store().Find(&rows, query)
	} else {
		err = db.Store().TxFind(tx, &rows, query)
	}
	if err != nil {
		return nil, persistErr("find latest "+what, err)
	}
	if len(rows) == 0 {
		return nil, notFoundErr(what, profileID)
	}
	return &rows[0], nil
}

// optional turns a not-found result into a nil row
func optional[T any](row *T, err error) (*T, error) {
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return row, err
}
