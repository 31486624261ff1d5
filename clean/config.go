package clean

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid cleaning config")

const (
	// DefaultLinkDensityThreshold is the link-to-token ratio above which a window
	// of lines is treated as navigation.
	DefaultLinkDensityThreshold = 0.3

	// DefaultWindowSize is the number of consecutive lines examined at once
	// during boilerplate detection.
	DefaultWindowSize = 5
)

// Config selects which cleaning stages run. Every stage can be switched off
// independently; the zero value disables all of them.
type Config struct {
	RemoveBoilerplate    bool    `toml:"remove_boilerplate" json:"remove_boilerplate"`
	RemoveTOC            bool    `toml:"remove_toc" json:"remove_toc"`
	RemoveEmojis         bool    `toml:"remove_emojis" json:"remove_emojis"`
	NormalizeWhitespace  bool    `toml:"normalize_whitespace" json:"normalize_whitespace"`
	LinkDensityThreshold float64 `toml:"link_density_threshold" json:"link_density_threshold"`
	WindowSize           int     `toml:"window_size" json:"window_size"`
}

// DefaultConfig enables every stage with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		RemoveBoilerplate:    true,
		RemoveTOC:            true,
		RemoveEmojis:         true,
		NormalizeWhitespace:  true,
		LinkDensityThreshold: DefaultLinkDensityThreshold,
		WindowSize:           DefaultWindowSize,
	}
}

// IsZero reports whether no option has been set.
func (c Config) IsZero() bool {
	return c == Config{}
}

// Normalize fills unset thresholds with their defaults.
func (c *Config) Normalize() {
	if c.LinkDensityThreshold == 0 {
		c.LinkDensityThreshold = DefaultLinkDensityThreshold
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
}

// Validate checks option ranges. It normalizes the config first.
func (c *Config) Validate() error {
	c.Normalize()

	if c.LinkDensityThreshold <= 0 || c.LinkDensityThreshold > 1 {
		return fmt.Errorf("%w: link_density_threshold must be in (0, 1], got %v", ErrInvalidConfig, c.LinkDensityThreshold)
	}
	if c.WindowSize < 1 || c.WindowSize > 50 {
		return fmt.Errorf("%w: window_size must be between 1 and 50, got %d", ErrInvalidConfig, c.WindowSize)
	}
	return nil
}
