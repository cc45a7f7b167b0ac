package engine

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned by Config.Validate for values outside [0, 1].
var ErrOutOfRange = errors.New("value out of range [0,1]")

// Config holds the driver-tunable parameters. Luck is read at the start of
// every promotion phase; UserMerit only on world (re)initialization.
type Config struct {
	Luck      float64 `json:"luck"`       // 0 = pure merit, 1 = pure chance
	UserMerit float64 `json:"user_merit"` // Merit assigned to the user agent
}

// DefaultConfig returns a pure-meritocracy configuration with a median user.
func DefaultConfig() Config {
	return Config{Luck: 0, UserMerit: 0.5}
}

// Validate rejects values the scoring formula is not defined for.
func (c Config) Validate() error {
	if !inUnit(c.Luck) {
		return fmt.Errorf("luck %v: %w", c.Luck, ErrOutOfRange)
	}
	if !inUnit(c.UserMerit) {
		return fmt.Errorf("user merit %v: %w", c.UserMerit, ErrOutOfRange)
	}
	return nil
}

// Clamped returns c with both values forced into [0, 1].
func (c Config) Clamped() Config {
	return Config{Luck: clampUnit(c.Luck), UserMerit: clampUnit(c.UserMerit)}
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// clampUnit maps NaN to 0.
func clampUnit(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
