package scheduler

import (
	"fmt"
	"strconv"
	"time"
)

// Duration token errors. Both are user-input errors: the caller answers with
// a corrective message, never crashes.
var (
	// ErrInvalidDurationFormat means the token is not <integer><unit>.
	ErrInvalidDurationFormat = fmt.Errorf("invalid duration format")
	// ErrInvalidDelay means the token parsed but the delay is not positive.
	ErrInvalidDelay = fmt.Errorf("delay must be positive")
)

// ParseDuration parses a reminder duration token of the form <integer><unit>
// with unit m (minutes), h (hours) or d (days). "30m", "2h", "1d" are valid;
// "5x" and "abc" fail with ErrInvalidDurationFormat; "0m" and "-1h" fail
// with ErrInvalidDelay.
func ParseDuration(token string) (time.Duration, error) {
	if len(token) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, token)
	}

	var unit time.Duration
	switch token[len(token)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, token)
	}

	n, err := strconv.Atoi(token[:len(token)-1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, token)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelay, token)
	}

	return time.Duration(n) * unit, nil
}
