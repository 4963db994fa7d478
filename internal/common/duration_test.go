package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr string
	}{
		{input: "250ms", want: 250 * time.Millisecond},
		{input: "6s", want: 6 * time.Second},
		{input: "1h30m", want: 90 * time.Minute},
		{input: " 30m ", want: 30 * time.Minute},
		{input: "7d", want: 7 * 24 * time.Hour},
		{input: "0", want: 0},
		{input: "1.5d", wantErr: "days must be a whole number"},
		{input: "d", wantErr: "days must be a whole number"},
		{input: "soon", wantErr: `invalid duration "soon"`},
		{input: "", wantErr: "invalid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d.Duration)
		})
	}
}

type pollSettings struct {
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`
}

func TestDuration_ConfigFormats(t *testing.T) {
	want := pollSettings{PollInterval: NewDuration(6 * time.Second)}

	var fromYAML pollSettings
	require.NoError(t, yaml.Unmarshal([]byte(`poll_interval: 6s`), &fromYAML))
	require.Equal(t, want, fromYAML)

	var fromJSON pollSettings
	require.NoError(t, json.Unmarshal([]byte(`{"poll_interval":"6s"}`), &fromJSON))
	require.Equal(t, want, fromJSON)

	var fromTOML pollSettings
	_, err := toml.Decode(`poll_interval = "6s"`, &fromTOML)
	require.NoError(t, err)
	require.Equal(t, want, fromTOML)

	out, err := json.Marshal(want)
	require.NoError(t, err)
	require.JSONEq(t, `{"poll_interval":"6s"}`, string(out))

	var bad pollSettings
	require.Error(t, yaml.Unmarshal([]byte(`poll_interval: fast`), &bad))
}

func TestDuration_JSONSchema(t *testing.T) {
	schema := Duration{}.JSONSchema()
	require.Equal(t, "string", schema.Type)
	require.Contains(t, schema.Examples, "6s")
}
