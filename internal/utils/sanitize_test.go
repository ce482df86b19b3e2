package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		spaceAllowed bool
		replacement  rune
		want         string
	}{
		{
			name:         "spaces kept with underscore replacement",
			input:        "I s@nitize $tring exc*pt_underscore-hypen.",
			spaceAllowed: true,
			replacement:  '_',
			want:         "I s_nitize _tring exc_pt_underscore-hypen.",
		},
		{
			name:         "spaces replaced with hyphen replacement",
			input:        "I s@nitize $tring exc*pt_underscore-hypen.",
			spaceAllowed: false,
			replacement:  '-',
			want:         "I-s-nitize--tring-exc-pt_underscore-hypen.",
		},
		{
			name:         "already clean",
			input:        "core-resource_1.2",
			spaceAllowed: false,
			replacement:  '-',
			want:         "core-resource_1.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeName(tt.input, tt.spaceAllowed, tt.replacement)
			assert.Equal(t, tt.want, got)

			// idempotent under reapplication
			assert.Equal(t, got, SanitizeName(got, tt.spaceAllowed, tt.replacement))
		})
	}
}

func TestTrimLength(t *testing.T) {
	assert.Equal(t, "abc", TrimLength("abcdef", 3))
	assert.Equal(t, "abcdef", TrimLength("abcdef", 128))
	assert.Equal(t, "abcdef", TrimLength("abcdef", 0))
}
