package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(map[string]Policy{
		ActionSendMessage: {PerMinute: 6, Burst: 2},
	})
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("u1", ActionSendMessage)
	assert.True(t, ok)
	ok, _ = rl.Allow("u1", ActionSendMessage)
	assert.True(t, ok)

	ok, wait := rl.Allow("u1", ActionSendMessage)
	assert.False(t, ok)
	assert.InDelta(t, float64(10*time.Second), float64(wait), float64(time.Millisecond))

	// other users and actions have their own buckets
	ok, _ = rl.Allow("u2", ActionSendMessage)
	assert.True(t, ok)
	ok, _ = rl.Allow("u1", ActionOpenChat)
	assert.True(t, ok)

	now = now.Add(10 * time.Second)
	ok, _ = rl.Allow("u1", ActionSendMessage)
	assert.True(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(nil)
	rl.now = func() time.Time { return now }

	rl.Allow("u1", ActionSendMessage)
	now = now.Add(2 * time.Hour)
	rl.Allow("u2", ActionSendMessage)
	rl.Cleanup(time.Hour)

	assert.Len(t, rl.buckets, 1)
	assert.Contains(t, rl.buckets, "u2:"+ActionSendMessage)
}
