// Package settings provides configuration loading for moss.
// This package is separate from cli so that engine and retention can read
// configuration without importing the command layer.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/jsonutil"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
)

// DisabledEnvVar turns shadow tracking off regardless of the settings files.
const DisabledEnvVar = "MOSS_SHADOW_DISABLED"

// DefaultRetentionDays is used when retention_days is not configured.
const DefaultRetentionDays = 30

var validate = validator.New()

// MossSettings represents the .moss/settings.json configuration
type MossSettings struct {
	// Enabled indicates whether shadow tracking is active. When false, edits
	// are not recorded and navigation commands refuse to run. Defaults to true.
	Enabled bool `json:"enabled"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Can be overridden by MOSS_LOG_LEVEL environment variable.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`

	// RetentionDays is the age after which dead branches are pruned
	// automatically. Zero disables automatic retention.
	RetentionDays int `json:"retention_days" validate:"gte=0,lte=36500"`

	// NormalizeLineEndings makes conflict detection treat CRLF and LF as equal.
	NormalizeLineEndings bool `json:"normalize_line_endings,omitempty"`

	// CrossCheckpointDefault lets navigation cross checkpoints without the
	// explicit override flag.
	CrossCheckpointDefault bool `json:"cross_checkpoint_default,omitempty"`

	// Telemetry controls anonymous usage analytics.
	// nil = not asked yet, true = opted in, false = opted out
	Telemetry *bool `json:"telemetry,omitempty"`
}

// Defaults returns the settings used when no settings file exists.
func Defaults() *MossSettings {
	return &MossSettings{
		Enabled:       true,
		RetentionDays: DefaultRetentionDays,
	}
}

// Load loads the moss settings from <root>/.moss/settings.json,
// then applies any overrides from .moss/settings.local.json if it exists,
// then the MOSS_SHADOW_DISABLED environment override.
// Returns default settings if neither file exists.
func Load(worktreeRoot string) (*MossSettings, error) {
	settings, err := loadFromFile(filepath.Join(worktreeRoot, paths.SettingsFile))
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	localData, err := os.ReadFile(filepath.Join(worktreeRoot, paths.LocalFile)) //nolint:gosec // path is built from constants
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
	} else {
		if err := mergeJSON(settings, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	if v := os.Getenv(DisabledEnvVar); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil && disabled {
			settings.Enabled = false
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks field constraints.
func (s *MossSettings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// loadFromFile loads settings from a specific file path.
// Returns default settings if the file doesn't exist.
func loadFromFile(filePath string) (*MossSettings, error) {
	settings := Defaults()

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from caller
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	return settings, nil
}

// mergeJSON merges JSON data into existing settings.
// Only fields present in the JSON override existing settings.
func mergeJSON(settings *MossSettings, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	if enabledRaw, ok := raw["enabled"]; ok {
		var e bool
		if err := json.Unmarshal(enabledRaw, &e); err != nil {
			return fmt.Errorf("parsing enabled field: %w", err)
		}
		settings.Enabled = e
	}

	if logLevelRaw, ok := raw["log_level"]; ok {
		var ll string
		if err := json.Unmarshal(logLevelRaw, &ll); err != nil {
			return fmt.Errorf("parsing log_level field: %w", err)
		}
		if ll != "" {
			settings.LogLevel = ll
		}
	}

	if retentionRaw, ok := raw["retention_days"]; ok {
		var days int
		if err := json.Unmarshal(retentionRaw, &days); err != nil {
			return fmt.Errorf("parsing retention_days field: %w", err)
		}
		settings.RetentionDays = days
	}

	if normalizeRaw, ok := raw["normalize_line_endings"]; ok {
		var n bool
		if err := json.Unmarshal(normalizeRaw, &n); err != nil {
			return fmt.Errorf("parsing normalize_line_endings field: %w", err)
		}
		settings.NormalizeLineEndings = n
	}

	if crossRaw, ok := raw["cross_checkpoint_default"]; ok {
		var c bool
		if err := json.Unmarshal(crossRaw, &c); err != nil {
			return fmt.Errorf("parsing cross_checkpoint_default field: %w", err)
		}
		settings.CrossCheckpointDefault = c
	}

	if telemetryRaw, ok := raw["telemetry"]; ok {
		var t bool
		if err := json.Unmarshal(telemetryRaw, &t); err != nil {
			return fmt.Errorf("parsing telemetry field: %w", err)
		}
		settings.Telemetry = &t
	}

	return nil
}

// Save writes settings to <root>/.moss/settings.json.
func Save(worktreeRoot string, settings *MossSettings) error {
	return saveToFile(settings, filepath.Join(worktreeRoot, paths.SettingsFile))
}

// SaveLocal writes settings to <root>/.moss/settings.local.json.
func SaveLocal(worktreeRoot string, settings *MossSettings) error {
	return saveToFile(settings, filepath.Join(worktreeRoot, paths.LocalFile))
}

func saveToFile(settings *MossSettings, filePath string) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := jsonutil.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	//nolint:gosec // G306: settings file is config, not secrets; 0o644 is appropriate
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}
