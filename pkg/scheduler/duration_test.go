package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		token string
		want  time.Duration
	}{
		{"5m", 5 * time.Minute},
		{"30m", 30 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"90m", 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseDuration(tt.token)
			if err != nil {
				t.Fatalf("ParseDuration(%q) error: %v", tt.token, err)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestParseDurationErrors(t *testing.T) {
	tests := []struct {
		token string
		want  error
	}{
		{"5x", ErrInvalidDurationFormat},
		{"m", ErrInvalidDurationFormat},
		{"", ErrInvalidDurationFormat},
		{"abc", ErrInvalidDurationFormat},
		{"1.5h", ErrInvalidDurationFormat},
		{"h5", ErrInvalidDurationFormat},
		{"0m", ErrInvalidDelay},
		{"-1h", ErrInvalidDelay},
		{"-30m", ErrInvalidDelay},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			_, err := ParseDuration(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseDuration(%q) error = %v, want %v", tt.token, err, tt.want)
			}
		})
	}
}
