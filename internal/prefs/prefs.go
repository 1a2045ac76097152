// Package prefs holds user preferences persisted across restarts.
package prefs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/storage"
)

// ErrInvalidTheme is returned for theme names other than dark and light
var ErrInvalidTheme = errors.New("invalid theme")

// ThemeKey is the settings key the theme flag is stored under
const ThemeKey = "theme"

// Theme is the dashboard color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ParseTheme accepts "dark" or "light", case-insensitively
func ParseTheme(s string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeDark:
		return ThemeDark, nil
	case ThemeLight:
		return ThemeLight, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTheme, s)
	}
}

// Opposite returns the other theme
func (t Theme) Opposite() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// SettingsStore is the key/value persistence behind Preferences
type SettingsStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Preferences caches the persisted theme. Safe for concurrent use.
type Preferences struct {
	store  SettingsStore
	logger zerolog.Logger

	mu    sync.RWMutex
	theme Theme
}

// Load reads the stored theme once. A missing or unreadable value falls back
// to the given default.
func Load(store SettingsStore, fallback Theme, logger zerolog.Logger) *Preferences {
	p := &Preferences{store: store, logger: logger, theme: fallback}

	raw, err := store.GetSetting(ThemeKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Debug().Str("theme", string(fallback)).Msg("No stored theme, using default")
	case err != nil:
		logger.Warn().Err(err).Msg("Failed to read stored theme, using default")
	default:
		theme, perr := ParseTheme(raw)
		if perr != nil {
			logger.Warn().Str("stored", raw).Msg("Ignoring invalid stored theme")
			break
		}
		p.theme = theme
	}
	return p
}

// Theme returns the current theme
func (p *Preferences) Theme() Theme {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.theme
}

// Set applies and persists a theme. The in-memory value changes even when
// persisting fails; the write error is returned for logging.
func (p *Preferences) Set(theme Theme) error {
	parsed, err := ParseTheme(string(theme))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setLocked(parsed)
}

// Toggle flips between dark and light and returns the new theme
func (p *Preferences) Toggle() (Theme, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.theme.Opposite()
	return next, p.setLocked(next)
}

// setLocked applies and stores theme. The store write happens under mu so
// the stored value always matches the in-memory one.
func (p *Preferences) setLocked(theme Theme) error {
	p.theme = theme
	if err := p.store.SetSetting(ThemeKey, string(theme)); err != nil {
		return fmt.Errorf("failed to persist theme: %w", err)
	}
	p.logger.Info().Str("theme", string(theme)).Msg("Theme changed")
	return nil
}
