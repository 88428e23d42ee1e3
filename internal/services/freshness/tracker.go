// Package freshness records when each domain of a profile was last refreshed
// and decides staleness against per-domain service-level targets.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// DomainFreshness is one entry of a profile snapshot
type DomainFreshness struct {
	Domain        models.Domain
	LastRefreshed time.Time // Zero when never refreshed
	SLA           time.Duration
	Staleness     common.StalenessResult
}

// Tracker is the freshness service
type Tracker struct {
	store  interfaces.FreshnessStorage
	config common.FreshnessConfig
	logger arbor.ILogger
}

// NewTracker creates a tracker over the freshness store
func NewTracker(store interfaces.FreshnessStorage, config common.FreshnessConfig, logger arbor.ILogger) *Tracker {
	return &Tracker{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Touch records a successful refresh of a domain
func (t *Tracker) Touch(ctx context.Context, profileID string, domain models.Domain, at time.Time) error {
	record := &models.FreshnessRecord{
		ProfileID:     profileID,
		Domain:        domain,
		LastRefreshed: at.UTC(),
	}
	if err := t.store.UpsertFreshness(ctx, record); err != nil {
		return fmt.Errorf("failed to touch %s freshness for %s: %w", domain, profileID, err)
	}

	t.logger.Debug().
		Str("profile_id", profileID).
		Str("domain", string(domain)).
		Msg("Freshness touched")
	return nil
}

// Get returns the freshness record or models.ErrNotFound
func (t *Tracker) Get(ctx context.Context, profileID string, domain models.Domain) (*models.FreshnessRecord, error) {
	return t.store.GetFreshness(ctx, profileID, domain)
}

// SLA returns the freshness target of a domain
func (t *Tracker) SLA(domain models.Domain) time.Duration {
	return t.config.SLA(domain)
}

// Check reports whether a domain is stale at now. A domain that was never
// refreshed is stale.
func (t *Tracker) Check(ctx context.Context, profileID string, domain models.Domain, now time.Time) (common.StalenessResult, error) {
	record, err := t.store.GetFreshness(ctx, profileID, domain)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return common.CheckFreshness(time.Time{}, now, t.SLA(domain), nil), nil
		}
		return common.StalenessResult{}, err
	}
	return common.CheckFreshness(record.LastRefreshed, now, t.SLA(domain), t.workingDays(domain)), nil
}

// IsFresh is Check reduced to a boolean; lookup errors count as stale
func (t *Tracker) IsFresh(ctx context.Context, profileID string, domain models.Domain, now time.Time) bool {
	result, err := t.Check(ctx, profileID, domain, now)
	if err != nil {
		t.logger.Warn().Err(err).Str("profile_id", profileID).Str("domain", string(domain)).Msg("Freshness check failed")
		return false
	}
	return !result.IsStale
}

// Snapshot returns the freshness of every domain, ensemble included
func (t *Tracker) Snapshot(ctx context.Context, profileID string, now time.Time) (map[models.Domain]DomainFreshness, error) {
	records, err := t.store.ListFreshness(ctx, profileID)
	if err != nil {
		return nil, err
	}

	byDomain := make(map[models.Domain]time.Time, len(records))
	for _, r := range records {
		byDomain[r.Domain] = r.LastRefreshed
	}

	domains := append(append([]models.Domain{}, models.DomainTypes...), models.DomainEnsemble)
	out := make(map[models.Domain]DomainFreshness, len(domains))
	for _, d := range domains {
		last := byDomain[d]
		out[d] = DomainFreshness{
			Domain:        d,
			LastRefreshed: last,
			SLA:           t.SLA(d),
			Staleness:     common.CheckFreshness(last, now, t.SLA(d), t.workingDays(d)),
		}
	}
	return out, nil
}

// StaleProfiles returns the active profiles with at least one stale domain
func (t *Tracker) StaleProfiles(ctx context.Context, profiles []*models.Profile, now time.Time) ([]*models.Profile, error) {
	var stale []*models.Profile
	for _, p := range profiles {
		if !p.Active {
			continue
		}
		snapshot, err := t.Snapshot(ctx, p.ID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to read freshness for %s: %w", p.ID, err)
		}
		for _, d := range models.DomainTypes {
			if snapshot[d].Staleness.IsStale {
				stale = append(stale, p)
				break
			}
		}
	}
	return stale, nil
}

// workingDays applies the trading calendar to the market-data domains
func (t *Tracker) workingDays(domain models.Domain) []time.Weekday {
	if !t.config.TradingDaysOnly {
		return nil
	}
	switch domain {
	case models.DomainPrice, models.DomainMarket:
		return common.DefaultWorkingDays()
	}
	return nil
}
