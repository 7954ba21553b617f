package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autorenta/p2p-reconciler/internal/entities"
)

func TestValidAccountNumber(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid 22 digits", "0000003100010000000001", true},
		{"valid with spaces and dashes", "0000003-1000100 0000000 1", true},
		{"21 digits", "000000310001000000000", false},
		{"23 digits", "00000031000100000000011", false},
		{"contains letter", "00000031000100000000aa", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ValidAccountNumber(tc.input))
		})
	}
}

func TestValidAlias(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  bool
	}{
		{"three tokens", "ab.cd.ef", true},
		{"digits allowed", "pago.1234.mp", true},
		{"two tokens", "ab.cd", false},
		{"four tokens", "a.b.c.d", false},
		{"empty token", "ab..ef", false},
		{"disallowed character", "ab.c-d.ef", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ValidAlias(tc.input))
		})
	}
}

func TestDestination(t *testing.T) {
	t.Run("prefers alias", func(t *testing.T) {
		got, err := Destination(entities.PaymentDestination{
			AccountNumber: "0000003100010000000001",
			Alias:         "ab.cd.ef",
		})
		require.NoError(t, err)
		require.Equal(t, "ab.cd.ef", got)
	})

	t.Run("falls back to account number and strips separators", func(t *testing.T) {
		got, err := Destination(entities.PaymentDestination{
			AccountNumber: "0000003-1000100000000 01",
		})
		require.NoError(t, err)
		require.Equal(t, "0000003100010000000001", got)
	})

	t.Run("invalid alias with valid account number", func(t *testing.T) {
		got, err := Destination(entities.PaymentDestination{
			AccountNumber: "0000003100010000000001",
			Alias:         "not-an-alias",
		})
		require.NoError(t, err)
		require.Equal(t, "0000003100010000000001", got)
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, err := Destination(entities.PaymentDestination{Alias: "ab.cd"})
		require.ErrorIs(t, err, entities.ErrValidation)
	})

	t.Run("empty destination", func(t *testing.T) {
		_, err := Destination(entities.PaymentDestination{})
		require.ErrorIs(t, err, entities.ErrValidation)
	})
}

func TestSanitizeAdType(t *testing.T) {
	got, err := SanitizeAdType(" Buy ")
	require.NoError(t, err)
	require.Equal(t, "buy", got)

	got, err = SanitizeAdType("SELL")
	require.NoError(t, err)
	require.Equal(t, "sell", got)

	_, err = SanitizeAdType("buy'; alert(1); //")
	require.ErrorIs(t, err, entities.ErrValidation)
}

func TestSanitizeAssetCode(t *testing.T) {
	got, err := SanitizeAssetCode(" usdt ")
	require.NoError(t, err)
	require.Equal(t, "USDT", got)

	_, err = SanitizeAssetCode("")
	require.ErrorIs(t, err, entities.ErrValidation)

	_, err = SanitizeAssetCode("AAAAAAAAAAA")
	require.ErrorIs(t, err, entities.ErrValidation)

	_, err = SanitizeAssetCode("US$T")
	require.ErrorIs(t, err, entities.ErrValidation)
}

func TestSanitizeLabel(t *testing.T) {
	got, err := SanitizeLabel("Juan O'Brien")
	require.NoError(t, err)
	require.Equal(t, `Juan O\'Brien`, got)

	got, err = SanitizeLabel("line1\nline2")
	require.NoError(t, err)
	require.Equal(t, `line1\nline2`, got)

	_, err = SanitizeLabel(strings.Repeat("a", 51))
	require.ErrorIs(t, err, entities.ErrValidation)

	_, err = SanitizeLabel("   ")
	require.ErrorIs(t, err, entities.ErrValidation)

	require.Equal(t, "<redacted>", SafeLabel(strings.Repeat("x", 100)))
}
