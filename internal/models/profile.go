package models

import (
	"strings"
	"time"
)

// ProfileMode selects how a profile is forecast.
type ProfileMode string

const (
	ProfileModeQuantity ProfileMode = "quantity"
	ProfileModeQuality  ProfileMode = "quality"
)

// Entity is a typed key/value attached to a profile (e.g. grade=arabica).
type Entity struct {
	Type  string `json:"type" toml:"type" validate:"required"`
	Value string `json:"value" toml:"value" validate:"required"`
}

// Profile is a forecasting target: a tracked keyword/entity/region combination.
// Profiles are read-only to the pipeline.
type Profile struct {
	ID          string      `json:"id" toml:"id" validate:"required"`
	Name        string      `json:"name" toml:"name" validate:"required"`
	Keywords    []string    `json:"keywords" toml:"keywords" validate:"required,min=1,dive,required"`
	Entities    []Entity    `json:"entities" toml:"entities" validate:"dive"`
	Region      string      `json:"region" toml:"region"`
	Mode        ProfileMode `json:"mode" toml:"mode" validate:"omitempty,oneof=quantity quality"`
	Active      bool        `json:"active" toml:"active"`
	Schedule    string      `json:"schedule,omitempty" toml:"schedule"`
	HorizonDays int         `json:"horizon_days,omitempty" toml:"horizon_days" validate:"omitempty,min=1,max=365"`
	OwnerID     string      `json:"owner_id,omitempty" toml:"owner_id"`
	CreatedAt   time.Time   `json:"created_at" toml:"-"`
	UpdatedAt   time.Time   `json:"updated_at" toml:"-"`
}

// Subject returns the primary keyword used in prompts and summaries.
func (p *Profile) Subject() string {
	if len(p.Keywords) > 0 {
		return p.Keywords[0]
	}
	return p.Name
}

// KeywordSet returns the lower-cased keywords for matching.
func (p *Profile) KeywordSet() []string {
	out := make([]string, 0, len(p.Keywords))
	for _, k := range p.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
