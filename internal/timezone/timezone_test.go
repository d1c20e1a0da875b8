package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStampTruncatesToMinuteInPacific(t *testing.T) {
	utc := time.Date(2025, time.January, 15, 20, 42, 37, 123, time.UTC)

	got := Stamp(utc)

	require.Equal(t, Location, got.Location())
	require.Equal(t, 12, got.Hour())
	require.Equal(t, 42, got.Minute())
	require.Zero(t, got.Second())
	require.Zero(t, got.Nanosecond())
	require.True(t, got.Equal(time.Date(2025, time.January, 15, 20, 42, 0, 0, time.UTC)))
}

func TestStampHandlesDaylightSaving(t *testing.T) {
	utc := time.Date(2025, time.July, 1, 19, 5, 59, 0, time.UTC)

	got := Stamp(utc)

	require.Equal(t, 12, got.Hour())
	require.Equal(t, 5, got.Minute())
}
