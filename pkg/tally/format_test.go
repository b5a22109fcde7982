package tally

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		value    float64
		expected string
	}{
		{0, "0"},
		{10, "10"},
		{100, "100"},
		{1024, "1,024"},
		{-1024, "-1,024"},
		{1234567, "1,234,567"},
		{1234.5, "1,234.5"},
		{0.25, "0.25"},
		{1.0 / 3, "0.333333"},
		{2.0 / 3, "0.666667"},
		{-0.5, "-0.5"},
		{1.0000001, "1"},
		{0.0000004, "0"},
		{-0.0000004, "0"},
		{math.Copysign(0, -1), "0"},
		{0.1 + 0.2, "0.3"},
		{math.NaN(), Undefined},
		{math.Inf(1), Undefined},
		{math.Inf(-1), Undefined},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.value))
		})
	}
}

func TestFormatIsIdempotent(t *testing.T) {
	values := []float64{0, 7, 1024, -98765.4321, 1.0 / 3, 2.0 / 3, 0.1 + 0.2, 123456.789012}
	for _, v := range values {
		first := Format(v)
		parsed, err := ParseFormatted(first)
		require.NoError(t, err)
		assert.Equal(t, first, Format(parsed), "value %v", v)
	}
}

func TestParseFormatted(t *testing.T) {
	v, err := ParseFormatted("1,234.5")
	require.NoError(t, err)
	assert.Equal(t, 1234.5, v)

	v, err = ParseFormatted(Undefined)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))

	_, err = ParseFormatted("twelve")
	assert.Error(t, err)
}
