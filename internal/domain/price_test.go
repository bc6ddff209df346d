package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice("6.5")
	require.NoError(t, err)
	assert.Equal(t, Price(650_000_000), p)
	assert.Equal(t, "6.5", p.String())

	p, err = ParsePrice(" 100000 ")
	require.NoError(t, err)
	assert.Equal(t, Price(100000*PriceScale), p)

	p, err = ParsePrice("0.123456789")
	require.NoError(t, err)
	assert.Equal(t, Price(12_345_678), p, "digits past 8 decimals are truncated")

	_, err = ParsePrice("six")
	assert.True(t, errors.Is(err, ErrInvalidPrice))
}

func TestPriceRange(t *testing.T) {
	cases := []struct {
		in   string
		want Price
		ok   bool
	}{
		{"92233720368.54775807", Price(1<<63 - 1), true},
		{"-92233720368.54775808", Price(-1 << 63), true},
		{"92233720368.54775808", 0, false},
		{"184467440737.09551617", 0, false},
		{"184467440738", 0, false},
		{"100000000000", 0, false},
		{"-100000000000", 0, false},
	}
	for _, tc := range cases {
		p, err := ParsePrice(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidPrice, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, p, tc.in)
	}

	var p Price
	err := json.Unmarshal([]byte(`100000000000`), &p)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Zero(t, p)
}

func TestPriceJSON(t *testing.T) {
	b, err := json.Marshal(Price(850_000_000))
	require.NoError(t, err)
	assert.Equal(t, `"8.5"`, string(b))

	var p Price
	require.NoError(t, json.Unmarshal([]byte(`7`), &p))
	assert.Equal(t, Price(700_000_000), p)
	require.NoError(t, json.Unmarshal([]byte(`"99000.5"`), &p))
	assert.Equal(t, Price(9_900_050_000_000), p)
}

func TestParseConditionType(t *testing.T) {
	for in, want := range map[string]ConditionType{
		"above":     ConditionAbove,
		">=":        ConditionAbove,
		"BELOW":     ConditionBelow,
		"<":         ConditionBelow,
		"==":        ConditionEq,
		"Immediate": ConditionImmediate,
	} {
		got, err := ParseConditionType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseConditionType("sideways")
	assert.True(t, errors.Is(err, ErrInvalidCondition))
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "BTC", NormalizeToken(" btc "))
}
