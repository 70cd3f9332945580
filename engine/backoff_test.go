package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := &backoff{cfg: BackoffConfig{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    35 * time.Millisecond,
		MaxAttempts: 10,
	}}

	first := b.next()
	assert.GreaterOrEqual(t, first, 10*time.Millisecond)
	assert.Less(t, first, 20*time.Millisecond) // base + up to 50% jitter

	second := b.next()
	assert.GreaterOrEqual(t, second, 20*time.Millisecond)

	// Deep attempts stay bounded by the cap.
	for i := 0; i < 5; i++ {
		assert.LessOrEqual(t, b.next(), 35*time.Millisecond)
	}
}

func TestBackoff_Exhausted(t *testing.T) {
	b := &backoff{cfg: BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 2}}
	require.False(t, b.exhausted())
	b.next()
	require.False(t, b.exhausted())
	b.next()
	require.True(t, b.exhausted())
}

func TestBackoffConfig_Defaults(t *testing.T) {
	var cfg BackoffConfig
	cfg.defaults()
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 5, cfg.MaxAttempts)
}
