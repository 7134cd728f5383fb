package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/showreel/internal/models"
)

// LoadPresetsFromFiles loads batch presets from YAML files in the specified
// directory. Invalid files are logged and skipped so one bad preset never
// blocks startup.
func LoadPresetsFromFiles(presetsDir string, logger arbor.ILogger) ([]models.BatchPreset, error) {
	if _, err := os.Stat(presetsDir); os.IsNotExist(err) {
		logger.Debug().Str("dir", presetsDir).Msg("Presets directory does not exist, skipping")
		return nil, nil
	}

	logger.Info().Str("dir", presetsDir).Msg("Loading batch presets from files")

	entries, err := os.ReadDir(presetsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets directory: %w", err)
	}

	var presets []models.BatchPreset
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		filePath := filepath.Join(presetsDir, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read preset file")
			continue
		}

		var preset models.BatchPreset
		if err := yaml.Unmarshal(data, &preset); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse preset YAML")
			continue
		}

		if preset.Name == "" {
			logger.Warn().Str("file", entry.Name()).Msg("Preset missing name, skipping")
			continue
		}
		if !models.ValidKind(preset.Kind) {
			logger.Warn().Str("file", entry.Name()).Str("kind", string(preset.Kind)).Msg("Preset has unknown job kind, skipping")
			continue
		}

		presets = append(presets, preset)
		logger.Debug().Str("preset", preset.Name).Str("kind", string(preset.Kind)).Int("items", len(preset.Items)).Msg("Loaded batch preset")
	}

	logger.Info().Int("count", len(presets)).Msg("Batch presets loaded")
	return presets, nil
}
