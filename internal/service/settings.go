package service

import (
	"context"
	"strings"
)

const maxSettingKeyLength = 255

// GetSettings returns all application settings.
func (s *Service) GetSettings(ctx context.Context) (map[string]string, error) {
	return s.store.GetSettings(ctx)
}

// UpdateSettings upserts the given settings and returns the full set.
func (s *Service) UpdateSettings(ctx context.Context, settings map[string]string) (map[string]string, error) {
	if len(settings) == 0 {
		return nil, &ValidationError{Field: "settings", Message: "at least one setting is required"}
	}
	for key := range settings {
		if strings.TrimSpace(key) == "" {
			return nil, &ValidationError{Field: "key", Message: "is required"}
		}
		if len(key) > maxSettingKeyLength {
			return nil, &ValidationError{Field: key, Message: "key is too long"}
		}
	}

	if err := s.store.SetSettings(ctx, settings); err != nil {
		return nil, persistence("update settings", err)
	}
	return s.store.GetSettings(ctx)
}
