package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

// RuntimeSettings are the knobs a user may change without restarting the
// environment, persisted as JSON under the data directory.
type RuntimeSettings struct {
	APIURL          string `json:"api_url"`
	TokenURL        string `json:"token_url"`
	Credential      string `json:"credential"`
	TargetLanguage  string `json:"target_language"`
	MaintenanceCron string `json:"maintenance_cron"`
}

// SettingsPath returns the runtime settings file location, overridable via
// SETTINGS_FILE.
func (c *Config) SettingsPath() string {
	return getEnvString("SETTINGS_FILE", filepath.Join(c.System.DataDir, "settings.json"))
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.APIURL) == "" {
		return fmt.Errorf("api_url is required")
	}
	if strings.TrimSpace(s.MaintenanceCron) != "" {
		if _, err := cron.ParseStandard(s.MaintenanceCron); err != nil {
			return fmt.Errorf("invalid maintenance_cron: %w", err)
		}
	}
	if strings.TrimSpace(s.TargetLanguage) != "" {
		if _, err := language.Parse(s.TargetLanguage); err != nil {
			return fmt.Errorf("invalid target_language: %w", err)
		}
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		APIURL:          c.API.BaseURL,
		TokenURL:        c.Auth.TokenURL,
		Credential:      c.Auth.Credential,
		TargetLanguage:  c.Translate.TargetLanguage,
		MaintenanceCron: c.System.MaintenanceCron,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.APIURL) != "" {
			c.API.BaseURL = settings.APIURL
		}
		if strings.TrimSpace(settings.TokenURL) != "" {
			c.Auth.TokenURL = settings.TokenURL
		}
		if strings.TrimSpace(settings.Credential) != "" {
			c.Auth.Credential = settings.Credential
		}
		if strings.TrimSpace(settings.TargetLanguage) != "" {
			c.Translate.TargetLanguage = settings.TargetLanguage
		}
		if strings.TrimSpace(settings.MaintenanceCron) != "" {
			c.System.MaintenanceCron = settings.MaintenanceCron
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

// WriteRuntimeSettingsFile validates and writes settings atomically. The
// file may hold a credential, so it is written private to the user.
func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
