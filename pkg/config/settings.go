package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/models"
)

// Settings is a linkage settings file with its blocking rules already
// constructed.
type Settings struct {
	Linkage models.LinkageSettings
	Rules   []blocking.Rule
}

// LoadSettings reads and validates the linkage settings YAML at path.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	s, err := ParseSettings(data)
	if err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// ParseSettings decodes linkage settings. Unknown keys are rejected and
// every rule description is converted, so configuration mistakes surface
// here rather than at query time.
func ParseSettings(data []byte) (*Settings, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var linkage models.LinkageSettings
	if err := dec.Decode(&linkage); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: settings are empty", apperrors.ErrConfiguration)
		}
		if errors.Is(err, apperrors.ErrConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	linkage.ApplyDefaults()
	if err := linkage.Validate(); err != nil {
		return nil, err
	}

	rules, err := blocking.FromDescriptions(linkage.BlockingRules)
	if err != nil {
		return nil, err
	}
	return &Settings{Linkage: linkage, Rules: rules}, nil
}

// Dialect returns the settings' SQL dialect, or fallback when unset.
func (s *Settings) Dialect(fallback string) string {
	if s.Linkage.SQLDialect != "" {
		return s.Linkage.SQLDialect
	}
	return fallback
}
