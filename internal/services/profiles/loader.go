// Package profiles loads forecasting profiles from TOML files into storage.
package profiles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// profileFile is one TOML file: either a single top-level profile or
// any number of [[profile]] tables.
//
//	[[profile]]
//	id = "coffee-arabica"
//	name = "Arabica coffee"
//	keywords = ["arabica coffee", "coffee futures"]
//	region = "Brazil"
//	active = true
//	schedule = "0 0 6 * * 1-5"
type profileFile struct {
	Profiles []models.Profile `toml:"profile"`
	models.Profile
}

// Loader validates profiles and saves them through ProfileStorage
type Loader struct {
	store    interfaces.ProfileStorage
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewLoader creates a profile loader
func NewLoader(store interfaces.ProfileStorage, logger arbor.ILogger) *Loader {
	return &Loader{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// Parse decodes and validates the profiles in one TOML document
func (l *Loader) Parse(data []byte) ([]*models.Profile, error) {
	var file profileFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profile toml: %w", err)
	}

	candidates := file.Profiles
	if len(candidates) == 0 && file.Profile.ID != "" {
		candidates = []models.Profile{file.Profile}
	}

	out := make([]*models.Profile, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for i := range candidates {
		p := candidates[i]
		if err := l.Validate(&p); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true
		out = append(out, &p)
	}
	return out, nil
}

// Validate checks struct tags and the optional cron schedule
func (l *Loader) Validate(p *models.Profile) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.Mode == "" {
		p.Mode = models.ProfileModeQuantity
	}
	if err := l.validate.Struct(p); err != nil {
		return fmt.Errorf("profile %q: %w", p.ID, err)
	}
	if p.Schedule != "" {
		if err := common.ValidateSchedule(p.Schedule); err != nil {
			return fmt.Errorf("profile %q schedule: %w", p.ID, err)
		}
	}
	return nil
}

// LoadFile parses one file and saves every profile in it
func (l *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	profiles, err := l.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	for _, p := range profiles {
		if err := l.store.SaveProfile(ctx, p); err != nil {
			return 0, err
		}
		l.logger.Debug().Str("profile_id", p.ID).Str("file", path).Msg("Profile loaded")
	}
	return len(profiles), nil
}

// LoadDir loads every *.toml file in dir. A missing dir is not an error;
// a file that fails to parse is logged and skipped.
func (l *Loader) LoadDir(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		l.logger.Debug().Str("dir", dir).Msg("Profiles directory does not exist, skipping")
		return 0, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	total := 0
	for _, path := range paths {
		n, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", path).Msg("Failed to load profile file")
			continue
		}
		total += n
	}

	l.logger.Info().Int("profiles", total).Int("files", len(paths)).Str("dir", dir).Msg("Profiles loaded")
	return total, nil
}
