package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstAndIsolation(t *testing.T) {
	l := newRateLimiter(3, 30)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d should pass", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))

	// Other addresses carry their own bucket.
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestRateLimiterRefills(t *testing.T) {
	l := newRateLimiter(1, 600) // 10 tokens/s, quick to refill in a test

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	time.Sleep(150 * time.Millisecond)
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestRateLimiterPrune(t *testing.T) {
	l := newRateLimiter(10, 30)
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")

	l.prune(time.Hour)
	assert.Len(t, l.buckets, 2)

	l.prune(0)
	assert.Empty(t, l.buckets)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:4455"
	assert.Equal(t, "203.0.113.9", clientIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", clientIP(r))

	r.Header.Set("X-Forwarded-For", "")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
