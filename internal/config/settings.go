package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"tonic/internal/fingerprint"
)

// Settings is everything persisted outside the track store: the chosen music
// root, the fingerprint of the last completed scan, and presentation state
// the UI asked us to keep across restarts.
type Settings struct {
	MusicRoot   string               `toml:"music_root"`
	Fingerprint fingerprint.Snapshot `toml:"fingerprint"`
	UI          UIState              `toml:"ui"`
}

type UIState struct {
	TreeState      []string `toml:"tree_state,omitempty"`
	WindowGeometry string   `toml:"window_geometry,omitempty"`
}

// LoadSettings reads the settings file. A missing file yields empty settings;
// a corrupt file is logged and treated the same so startup never fails on it.
func LoadSettings(path string) Settings {
	body, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("read settings file")
		}
		return Settings{}
	}

	var settings Settings
	if err := toml.Unmarshal(body, &settings); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("parse settings file, starting with defaults")
		return Settings{}
	}

	return settings
}

// SaveSettings writes the settings file via a temp file and rename so a crash
// mid-write never leaves a truncated file behind.
func SaveSettings(path string, settings Settings) error {
	body, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(tmpPath, body, 0o644); err != nil {
		return fmt.Errorf("write settings temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}

	return nil
}
