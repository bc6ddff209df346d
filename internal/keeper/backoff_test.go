package keeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"negative", -1, 1 * time.Second},
		{"first retry", 0, 1 * time.Second},
		{"second retry", 1, 2 * time.Second},
		{"third retry", 2, 4 * time.Second},
		{"sixth retry", 5, 32 * time.Second},
		{"capped", 6, 60 * time.Second},
		{"far past cap", 31, 60 * time.Second},
		{"huge", 1000, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateBackoff(tt.retryCount))
		})
	}
}

func TestTokenBackoff(t *testing.T) {
	b := newTokenBackoff()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, b.ready("APT", now))
	assert.Equal(t, time.Second, b.fail("APT", now))
	assert.False(t, b.ready("APT", now))
	assert.True(t, b.ready("BTC", now), "other tokens are unaffected")
	assert.True(t, b.ready("APT", now.Add(time.Second)))

	assert.Equal(t, 2*time.Second, b.fail("APT", now))
	b.succeed("APT")
	assert.True(t, b.ready("APT", now))
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, d.IsDuplicate("k", now))
	assert.True(t, d.IsDuplicate("k", now.Add(30*time.Second)))
	assert.False(t, d.IsDuplicate("k", now.Add(2*time.Minute)))

	d.Cleanup(now.Add(10 * time.Minute))
	assert.False(t, d.IsDuplicate("k", now.Add(10*time.Minute)))
}
