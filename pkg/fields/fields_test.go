package fields

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"3.5", 3.5, true},
		{" 42 ", 42, true},
		{"-1", -1, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Float(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestInt(t *testing.T) {
	v, ok := Int("7")
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)

	v, ok = Int("7.0")
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)

	_, ok = Int("7.5")
	assert.False(t, ok)
	_, ok = Int("seven")
	assert.False(t, ok)
}

func TestInt_Range(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"9007199254740992", 1 << 53, true},
		{"-9223372036854775808", math.MinInt64, true},
		{"9223372036854775808", 0, false},
		{"9223372036854775807", 0, false}, // rounds to 2^63 as a float64
		{"1e20", 0, false},
		{"-1e20", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Int(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(""))
	assert.True(t, IsNull(" NULL "))
	assert.True(t, IsNull("nan"))
	assert.False(t, IsNull("0"))
}
