// Package localization provides the status and activity labels shown in the
// chat header. Translations are JSON files named by language code (e.g.
// "en.json"); the built-in set is embedded in the binary.
package localization

import (
	"calcchat/backend/internal/presence"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
)

//go:embed locales/*.json
var builtin embed.FS

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// NewLocalizer loads every "<lang>.json" file found in dir of fsys.
func NewLocalizer(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[lang] = translations
	}

	return l, nil
}

// Builtin returns the Localizer over the embedded translations.
func Builtin() (*Localizer, error) {
	return NewLocalizer(builtin, "locales")
}

// GetString returns the localized string for a given key and language.
// If the language or the key is not found, it returns the key itself as a fallback.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if langTranslations, ok := l.translations[lang]; ok {
		if value, ok := langTranslations[key]; ok {
			return value
		}
	}

	// Fall back to English when the requested language lacks the key
	if lang != "en" {
		if enTranslations, ok := l.translations["en"]; ok {
			if value, ok := enTranslations[key]; ok {
				return value
			}
		}
	}

	return key
}

// PresenceLabels returns the header labels for lang.
func (l *Localizer) PresenceLabels(lang string) presence.Labels {
	return presence.Labels{
		Online:             l.GetString(lang, "status_online"),
		Offline:            l.GetString(lang, "status_offline"),
		Typing:             l.GetString(lang, "activity_typing"),
		Recording:          l.GetString(lang, "activity_recording"),
		TypingIndicator:    l.GetString(lang, "indicator_typing"),
		RecordingIndicator: l.GetString(lang, "indicator_recording"),
	}
}
