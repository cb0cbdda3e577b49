package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	t.Run("AlreadyNormalized", func(t *testing.T) {
		p, err := NormalizePhone("+14155550100")
		require.NoError(t, err)
		assert.Equal(t, "+14155550100", p)
	})

	t.Run("SeparatorsStripped", func(t *testing.T) {
		p, err := NormalizePhone("+1 (415) 555-0100")
		require.NoError(t, err)
		assert.Equal(t, "+14155550100", p)

		p, err = NormalizePhone("+1.415.555.0100")
		require.NoError(t, err)
		assert.Equal(t, "+14155550100", p)
	})

	t.Run("InternationalPrefix", func(t *testing.T) {
		p, err := NormalizePhone("004915112345678")
		require.NoError(t, err)
		assert.Equal(t, "+4915112345678", p)
	})

	t.Run("BareTenDigitsAssumedNANP", func(t *testing.T) {
		p, err := NormalizePhone("4155550100")
		require.NoError(t, err)
		assert.Equal(t, "+14155550100", p)
	})

	t.Run("ElevenDigitsStartingWithOne", func(t *testing.T) {
		p, err := NormalizePhone("14155550100")
		require.NoError(t, err)
		assert.Equal(t, "+14155550100", p)
	})

	t.Run("OtherBareNumbersGetPlus", func(t *testing.T) {
		p, err := NormalizePhone("4915112345678")
		require.NoError(t, err)
		assert.Equal(t, "+4915112345678", p)
	})

	t.Run("RejectsLetters", func(t *testing.T) {
		_, err := NormalizePhone("call-me-maybe")
		assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
	})

	t.Run("RejectsEmbeddedPlus", func(t *testing.T) {
		_, err := NormalizePhone("415+5550100x")
		assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
	})

	t.Run("RejectsTooShort", func(t *testing.T) {
		_, err := NormalizePhone("1234567")
		assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
	})

	t.Run("RejectsTooLong", func(t *testing.T) {
		_, err := NormalizePhone("+1234567890123456")
		assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
	})

	t.Run("RejectsEmpty", func(t *testing.T) {
		_, err := NormalizePhone("")
		assert.ErrorIs(t, err, ErrInvalidPhoneNumber)

		_, err = NormalizePhone("   ")
		assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
	})

	t.Run("IdempotentOnNormalizedOutput", func(t *testing.T) {
		inputs := []string{"00491511234567", "(415) 555-0100", "+44 20 7946 0958"}
		for _, in := range inputs {
			first, err := NormalizePhone(in)
			require.NoError(t, err)
			second, err := NormalizePhone(first)
			require.NoError(t, err)
			assert.Equal(t, first, second, "normalizing %q twice diverged", in)
		}
	})
}

func TestLoadLocationCached(t *testing.T) {
	t.Run("UTCShortcut", func(t *testing.T) {
		loc, err := LoadLocationCached("")
		require.NoError(t, err)
		assert.Equal(t, "UTC", loc.String())

		loc, err = LoadLocationCached("UTC")
		require.NoError(t, err)
		assert.Equal(t, "UTC", loc.String())
	})

	t.Run("CachesNamedZone", func(t *testing.T) {
		first, err := LoadLocationCached("America/New_York")
		require.NoError(t, err)
		second, err := LoadLocationCached("America/New_York")
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("UnknownZone", func(t *testing.T) {
		_, err := LoadLocationCached("Mars/Olympus_Mons")
		assert.Error(t, err)
	})
}
