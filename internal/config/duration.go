package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that round-trips as "30s"-style strings in
// JSON, YAML and TOML config files.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler (YAML, TOML).
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (YAML, TOML).
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		return d.UnmarshalText([]byte(asString))
	}
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	return fmt.Errorf("invalid duration value %s", string(data))
}
