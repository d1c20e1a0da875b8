package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFormatName(t *testing.T) {
	cases := map[string]string{
		"Exalted Orb":        "ExaltedOrb",
		"Mirror of Kalandra": "MirrorofKalandra",
		"Blessing (Chayula)": "BlessingChayula",
		"Cartographer's Orb": "CartographersOrb",
		"":                   "",
	}
	for in, want := range cases {
		require.Equal(t, want, FormatName(in), in)
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"180.5", "180.5"},
		{"1,234", "1234"},
		{" 12,345.67 ", "12345.67"},
		{"1 000", "1000"},
		{"0", "0"},
	}
	for _, tc := range cases {
		got, err := ParsePrice(tc.raw)
		require.NoError(t, err, tc.raw)
		require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%q -> %s", tc.raw, got)
	}
}

func TestParsePriceRejectsGarbage(t *testing.T) {
	_, err := ParsePrice("   ")
	require.ErrorIs(t, err, ErrEmptyPrice)

	_, err = ParsePrice("n/a")
	require.Error(t, err)
}

func TestObservationValidate(t *testing.T) {
	obs := Observation{CurrencyID: "divine", ObservedAt: time.Now()}
	require.NoError(t, obs.Validate())

	obs.CurrencyID = " "
	require.ErrorIs(t, obs.Validate(), ErrEmptyCurrencyID)

	obs = Observation{CurrencyID: "divine"}
	require.Error(t, obs.Validate())
}
