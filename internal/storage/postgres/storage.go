package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

var (
	_ interfaces.ProfileStorage   = (*ProfileStorage)(nil)
	_ interfaces.MedallionStorage = (*MedallionStorage)(nil)
	_ interfaces.AggregateStorage = (*AggregateStorage)(nil)
	_ interfaces.FreshnessStorage = (*FreshnessStorage)(nil)
	_ interfaces.AlertStorage     = (*AlertStorage)(nil)
)

// ProfileStorage implements the ProfileStorage interface for PostgreSQL
type ProfileStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

func (s *ProfileStorage) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile ID is required")
	}

	now := time.Now().UTC()
	if existing, err := s.GetProfile(ctx, profile.ID); err == nil {
		profile.CreatedAt = existing.CreatedAt
	} else if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO profiles (id, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		profile.ID, data, now)
	if err != nil {
		return persistErr("save profile", err)
	}
	return nil
}

func (s *ProfileStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	if err := getJSON(ctx, s.db.db, &profile, "profile", id, `SELECT data FROM profiles WHERE id = $1`, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("profile %s: %w: %w", id, models.ErrProfileNotFound, models.ErrNotFound)
		}
		return nil, persistErr("get profile", err)
	}
	return &profile, nil
}

func (s *ProfileStorage) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	profiles, err := listJSON[models.Profile](ctx, s.db.db, `SELECT data FROM profiles ORDER BY id`)
	if err != nil {
		return nil, persistErr("list profiles", err)
	}
	return profiles, nil
}

// MedallionStorage implements the raw and clean layers for PostgreSQL
type MedallionStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

func (s *MedallionStorage) AppendRaw(ctx context.Context, record *models.RawRecord) error {
	if record.ID == "" {
		return fmt.Errorf("raw record ID is required")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO raw_records (id, profile_id, domain, fetched_at, data) VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.ProfileID, string(record.Domain), record.FetchedAt, data)
	if err != nil {
		return persistErr("append raw record", err)
	}
	return nil
}

func (s *MedallionStorage) AppendSignals(ctx context.Context, signals []*models.CleanSignal) error {
	if len(signals) == 0 {
		return nil
	}

	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO clean_signals (id, profile_id, domain, created_at, data) VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, signal := range signals {
			if signal.ID == "" {
				return fmt.Errorf("clean signal ID is required")
			}
			data, err := json.Marshal(signal)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, signal.ID, signal.ProfileID, string(signal.Domain), signal.CreatedAt, data); err != nil {
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
	signals, err := listJSON[models.CleanSignal](ctx, s.db.db, `
		SELECT data FROM clean_signals
		WHERE profile_id = $1 AND domain = $2 AND created_at >= $3
		ORDER BY created_at`, profileID, string(domain), since)
	if err != nil {
		return nil, persistErr("list clean signals", err)
	}
	return signals, nil
}

func (s *MedallionStorage) PurgeRawBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.db.ExecContext(ctx, `DELETE FROM raw_records WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, persistErr("purge raw records", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, persistErr("purge raw records", err)
	}

	if purged > 0 {
		s.logger.Info().
			Int("purged", int(purged)).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Purged expired raw records")
	}
	return int(purged), nil
}

// AggregateStorage implements the aggregate layer and dashboard view for PostgreSQL
type AggregateStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

func (s *AggregateStorage) upsert(ctx context.Context, domain models.Domain, profileID, reportDate string, row interface{}) error {
	if profileID == "" || reportDate == "" {
		return fmt.Errorf("profile ID and report date are required")
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO aggregates (profile_id, domain, report_date, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (profile_id, domain, report_date)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		profileID, string(domain), reportDate, data)
	if err != nil {
		return persistErr(fmt.Sprintf("upsert %s aggregate", domain), err)
	}
	return nil
}

func (s *AggregateStorage) UpsertPriceForecast(ctx context.Context, row *models.PriceForecast) error {
	return s.upsert(ctx, models.DomainPrice, row.ProfileID, row.ReportDate, row)
}

func (s *AggregateStorage) UpsertMarketSummary(ctx context.Context, row *models.MarketSummary) error {
	return s.upsert(ctx, models.DomainMarket, row.ProfileID, row.ReportDate, row)
}

func (s *AggregateStorage) UpsertNewsRanking(ctx context.Context, row *models.NewsRanking) error {
	return s.upsert(ctx, models.DomainNews, row.ProfileID, row.ReportDate, row)
}

func (s *AggregateStorage) UpsertEnsemble(ctx context.Context, row *models.EnsembleAggregate) error {
	return s.upsert(ctx, models.DomainEnsemble, row.ProfileID, row.ReportDate, row)
}

func latest[T any](ctx context.Context, db *PostgresDB, profileID string, domain models.Domain) (*T, error) {
	row := new(T)
	err := getJSON(ctx, db.db, row, string(domain)+" aggregate", profileID, `
		SELECT data FROM aggregates WHERE profile_id = $1 AND domain = $2
		ORDER BY report_date DESC LIMIT 1`, profileID, string(domain))
	if err != nil {
		return nil, persistErr("latest "+string(domain)+" aggregate", err)
	}
	return row, nil
}

func (s *AggregateStorage) LatestPriceForecast(ctx context.Context, profileID string) (*models.PriceForecast, error) {
	return latest[models.PriceForecast](ctx, s.db, profileID, models.DomainPrice)
}

func (s *AggregateStorage) LatestMarketSummary(ctx context.Context, profileID string) (*models.MarketSummary, error) {
	return latest[models.MarketSummary](ctx, s.db, profileID, models.DomainMarket)
}

func (s *AggregateStorage) LatestNewsRanking(ctx context.Context, profileID string) (*models.NewsRanking, error) {
	return latest[models.NewsRanking](ctx, s.db, profileID, models.DomainNews)
}

func (s *AggregateStorage) LatestEnsemble(ctx context.Context, profileID string) (*models.EnsembleAggregate, error) {
	return latest[models.EnsembleAggregate](ctx, s.db, profileID, models.DomainEnsemble)
}

// RefreshDashboardView refreshes the materialized view concurrently so readers
// keep seeing the previous snapshot until the refresh commits.
func (s *AggregateStorage) RefreshDashboardView(ctx context.Context, profileID string) error {
	if _, err := s.db.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY dashboard_latest`); err != nil {
		return persistErr("refresh dashboard view", err)
	}
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO dashboard_refreshes (profile_id, refreshed_at) VALUES ($1, $2)
		ON CONFLICT (profile_id) DO UPDATE SET refreshed_at = EXCLUDED.refreshed_at`,
		profileID, time.Now().UTC())
	if err != nil {
		return persistErr("record dashboard refresh", err)
	}
	return nil
}

func (s *AggregateStorage) GetDashboardView(ctx context.Context, profileID string) (*models.DashboardView, error) {
	view := &models.DashboardView{
		ProfileID: profileID,
		Freshness: make(map[models.Domain]time.Time),
	}

	err := s.db.db.QueryRowContext(ctx,
		`SELECT refreshed_at FROM dashboard_refreshes WHERE profile_id = $1`, profileID).Scan(&view.RefreshedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dashboard view %s: %w", profileID, models.ErrNotFound)
		}
		return nil, persistErr("get dashboard view", err)
	}

	rows, err := s.db.db.QueryContext(ctx,
		`SELECT domain, data FROM dashboard_latest WHERE profile_id = $1`, profileID)
	if err != nil {
		return nil, persistErr("get dashboard view", err)
	}
	defer rows.Close()

	for rows.Next() {
		var domain string
		var data []byte
		if err := rows.Scan(&domain, &data); err != nil {
			return nil, persistErr("scan dashboard view", err)
		}
		var target interface{}
		switch models.Domain(domain) {
		case models.DomainPrice:
			view.Price = &models.PriceForecast{}
			target = view.Price
		case models.DomainMarket:
			view.Market = &models.MarketSummary{}
			target = view.Market
		case models.DomainNews:
			view.News = &models.NewsRanking{}
			target = view.News
		case models.DomainEnsemble:
			view.Ensemble = &models.EnsembleAggregate{}
			target = view.Ensemble
		default:
			continue
		}
		if err := json.Unmarshal(data, target); err != nil {
			return nil, persistErr("decode dashboard view", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("get dashboard view", err)
	}

	records, err := (&FreshnessStorage{db: s.db}).ListFreshness(ctx, profileID)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		view.Freshness[r.Domain] = r.LastRefreshed
	}

	view.Degraded = view.Price == nil || view.Market == nil || view.News == nil
	if view.Ensemble != nil && len(view.Ensemble.Domains) < len(models.DomainTypes) {
		view.Degraded = true
	}

	return view, nil
}

// FreshnessStorage implements the FreshnessStorage interface for PostgreSQL
type FreshnessStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

func (s *FreshnessStorage) UpsertFreshness(ctx context.Context, record *models.FreshnessRecord) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO freshness (profile_id, domain, last_refreshed) VALUES ($1, $2, $3)
		ON CONFLICT (profile_id, domain) DO UPDATE SET last_refreshed = EXCLUDED.last_refreshed`,
		record.ProfileID, string(record.Domain), record.LastRefreshed)
	if err != nil {
		return persistErr("upsert freshness", err)
	}
	return nil
}

func (s *FreshnessStorage) GetFreshness(ctx context.Context, profileID string, domain models.Domain) (*models.FreshnessRecord, error) {
	record := &models.FreshnessRecord{ProfileID: profileID, Domain: domain}
	err := s.db.db.QueryRowContext(ctx,
		`SELECT last_refreshed FROM freshness WHERE profile_id = $1 AND domain = $2`,
		profileID, string(domain)).Scan(&record.LastRefreshed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("freshness %s: %w", models.FreshnessKey(profileID, domain), models.ErrNotFound)
		}
		return nil, persistErr("get freshness", err)
	}
	return record, nil
}

func (s *FreshnessStorage) ListFreshness(ctx context.Context, profileID string) ([]*models.FreshnessRecord, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT domain, last_refreshed FROM freshness WHERE profile_id = $1 ORDER BY domain`, profileID)
	if err != nil {
		return nil, persistErr("list freshness", err)
	}
	defer rows.Close()

	var records []*models.FreshnessRecord
	for rows.Next() {
		record := &models.FreshnessRecord{ProfileID: profileID}
		var domain string
		if err := rows.Scan(&domain, &record.LastRefreshed); err != nil {
			return nil, persistErr("scan freshness", err)
		}
		record.Domain = models.Domain(domain)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list freshness", err)
	}
	return records, nil
}

// AlertStorage implements the AlertStorage interface for PostgreSQL
type AlertStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

func (s *AlertStorage) AppendAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == "" {
		return false, fmt.Errorf("alert ID is required")
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return false, err
	}
	res, err := s.db.db.ExecContext(ctx, `
		INSERT INTO alerts (id, profile_id, acknowledged, created_at, data) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		alert.ID, alert.ProfileID, alert.Acknowledged, alert.CreatedAt, data)
	if err != nil {
		return false, persistErr("append alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("append alert", err)
	}
	return n > 0, nil
}

func (s *AlertStorage) ListAlerts(ctx context.Context, profileID string, unacknowledgedOnly bool, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	alerts, err := listJSON[models.Alert](ctx, s.db.db, `
		SELECT data FROM alerts
		WHERE ($1 = '' OR profile_id = $1) AND (NOT $2 OR acknowledged = false)
		ORDER BY created_at DESC LIMIT $3`, profileID, unacknowledgedOnly, limit)
	if err != nil {
		return nil, persistErr("list alerts", err)
	}
	return alerts, nil
}

func (s *AlertStorage) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var alert models.Alert
		if err := getJSON(ctx, tx, &alert, "alert", alertID,
			`SELECT data FROM alerts WHERE id = $1 FOR UPDATE`, alertID); err != nil {
			return err
		}
		if alert.Acknowledged {
			return nil
		}

		at = at.UTC()
		alert.Acknowledged = true
		alert.AcknowledgedAt = &at
		data, err := json.Marshal(&alert)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE alerts SET acknowledged = true, data = $2 WHERE id = $1`, alertID, data)
		return err
	})
	if err != nil {
		return persistErr("acknowledge alert", err)
	}
	return nil
}
