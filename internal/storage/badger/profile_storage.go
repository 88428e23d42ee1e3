package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// ProfileStorage implements the ProfileStorage interface for Badger
type ProfileStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProfileStorage creates a new ProfileStorage instance
func NewProfileStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProfileStorage {
	return &ProfileStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProfileStorage) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile ID is required")
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		var existing models.Profile
		if err := s.db.Store().Get(profile.ID, &existing); err == nil {
			profile.CreatedAt = existing.CreatedAt
		} else {
			profile.CreatedAt = now
		}
	}
	profile.UpdatedAt = now

	if err := s.db.Store().Upsert(profile.ID, profile); err != nil {
		return persistErr("save profile", err)
	}
	return nil
}

func (s *ProfileStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.Store().Get(id, &profile); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("profile %s: %w: %w", id, models.ErrProfileNotFound, models.ErrNotFound)
		}
		return nil, persistErr("get profile", err)
	}
	return &profile, nil
}

func (s *ProfileStorage) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	var profiles []models.Profile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, persistErr("list profiles", err)
	}

	result := make([]*models.Profile, len(profiles))
	for i := range profiles {
		result[i] = &profiles[i]
	}
	return result, nil
}
