package chorderr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseErrorUnwrapsToSentinel(t *testing.T) {
	err := NewParseError("GAMEPAD_ZZZZ_A", "unknown vendor id")
	require.True(t, errors.Is(err, ErrParse))
	require.Contains(t, err.Error(), "GAMEPAD_ZZZZ_A")
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrParse, ErrDeviceNotActivated, ErrHookUnavailable,
		ErrInboxFull, ErrStuckKeyCorrected, ErrMatchCooldown,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			require.False(t, errors.Is(a, b), "sentinel %d must not match sentinel %d", i, j)
		}
	}
}
