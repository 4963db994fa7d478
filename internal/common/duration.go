package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

const day = 24 * time.Hour

// Duration is a time.Duration read from text such as "6s", "30m" or "7d".
type Duration struct {
	time.Duration
}

// NewDuration returns Duration wrapper
func NewDuration(duration time.Duration) Duration {
	return Duration{duration}
}

// UnmarshalText accepts Go duration syntax plus a whole number of days ("2d").
func (d *Duration) UnmarshalText(data []byte) error {
	text := strings.TrimSpace(string(data))

	if days, ok := strings.CutSuffix(text, "d"); ok {
		n, err := strconv.ParseUint(days, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid duration %q: days must be a whole number", text)
		}
		d.Duration = time.Duration(n) * day
		return nil
	}

	duration, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = duration
	return nil
}

// MarshalText writes the duration in its canonical text form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// JSONSchema returns a custom schema to be used for the JSON Schema generation of this type
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units: [ns, us, ms, s, m, h] or a whole number of days (d)",
		Examples: []any{
			"6s",
			"30m",
			"1d",
		},
	}
}
