package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "block-stream", Normalize("  Block-Stream\n"))
	require.Empty(t, Normalize("   "))
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536 * 1024, "1.5 MiB"},
		{3 << 30, "3.0 GiB"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, HumanBytes(tt.in))
	}
}
