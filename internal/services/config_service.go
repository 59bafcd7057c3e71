package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

// ErrValidation matches every *ValidationError
var ErrValidation = errors.New("validation failed")

// ValidationError reports the first invalid field of a form
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) work
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

const maxHeadlineLength = 255

// ConfigStore persists ad configs per session
type ConfigStore interface {
	GetAdConfig(ctx context.Context, sessionID string) (*models.AdConfig, error)
	SaveAdConfig(ctx context.Context, sessionID string, cfg *models.AdConfig) error
}

// ConfigService provides business logic for ad configs
type ConfigService struct {
	store  ConfigStore
	policy *bluemonday.Policy

	mu       sync.RWMutex
	defaults models.AdConfig
}

// NewConfigService creates a new config service
func NewConfigService(store ConfigStore, defaults models.AdConfig) *ConfigService {
	return &ConfigService{
		store:    store,
		policy:   bluemonday.StrictPolicy(),
		defaults: defaults,
	}
}

// Defaults returns the config used by sessions that saved none
func (s *ConfigService) Defaults() models.AdConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// SetDefaults replaces the defaults, as after a config file reload
func (s *ConfigService) SetDefaults(cfg models.AdConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = cfg
}

// Get returns the config saved by a session, or the defaults
func (s *ConfigService) Get(ctx context.Context, sessionID string) (*models.AdConfig, error) {
	cfg, err := s.store.GetAdConfig(ctx, sessionID)
	if errors.Is(err, shared.ErrNotFound) {
		defaults := s.Defaults()
		return &defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ad config: %w", err)
	}
	return cfg, nil
}

// Save cleans and validates a config, then stores it for the session
func (s *ConfigService) Save(ctx context.Context, sessionID string, input models.AdConfig) (*models.AdConfig, error) {
	cfg, err := s.Normalize(input)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveAdConfig(ctx, sessionID, cfg); err != nil {
		return nil, fmt.Errorf("failed to save ad config: %w", err)
	}
	return cfg, nil
}

// Normalize trims and sanitises the fields and validates them
func (s *ConfigService) Normalize(input models.AdConfig) (*models.AdConfig, error) {
	cfg := &models.AdConfig{
		FacebookPageID: strings.TrimSpace(input.FacebookPageID),
		Headline:       s.sanitize(input.Headline),
		Link:           strings.TrimSpace(input.Link),
		UTMParameters:  strings.TrimPrefix(strings.TrimSpace(input.UTMParameters), "?"),
	}

	if cfg.FacebookPageID != "" && !isDigits(cfg.FacebookPageID) {
		return nil, &ValidationError{Field: "facebook_page_id", Message: "must contain digits only"}
	}

	if utf8.RuneCountInString(cfg.Headline) > maxHeadlineLength {
		return nil, &ValidationError{Field: "headline", Message: fmt.Sprintf("must be at most %d characters", maxHeadlineLength)}
	}

	if cfg.Link != "" {
		u, err := url.Parse(cfg.Link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, &ValidationError{Field: "link", Message: "must be an absolute http or https URL"}
		}
	}

	if cfg.UTMParameters != "" {
		values, err := url.ParseQuery(cfg.UTMParameters)
		if err != nil {
			return nil, &ValidationError{Field: "utm_parameters", Message: "must be a query string such as utm_source=facebook&utm_medium=cpc"}
		}
		for key := range values {
			if key == "" {
				return nil, &ValidationError{Field: "utm_parameters", Message: "contains a parameter without a name"}
			}
		}
	}

	return cfg, nil
}

// sanitize strips markup from free text. The strict policy escapes entities,
// which are turned back into plain characters.
func (s *ConfigService) sanitize(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
