package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

// mockClock allows controlling time in tests
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Given: 10 calls per minute
// When: 15 calls arrive within a second
// Then: the first 10 pass and the rest are budget errors
func TestLimiter_OverLimit(t *testing.T) {
	clock := newMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	limiter := NewLimiterWithClock(10, time.Minute, clock.Now)

	allowed, rejected := 0, 0
	for i := 0; i < 15; i++ {
		if err := limiter.Allow(); err == nil {
			allowed++
		} else {
			assert.True(t, errors.Is(err, ErrBudgetExceeded))
			rejected++
		}
		clock.Advance(10 * time.Millisecond)
	}

	assert.Equal(t, 10, allowed)
	assert.Equal(t, 5, rejected)
}

// Given: a full window
// When: the oldest call slides out
// Then: exactly one more call fits
func TestLimiter_WindowSlides(t *testing.T) {
	clock := newMockClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	limiter := NewLimiterWithClock(3, time.Minute, clock.Now)

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow())
		clock.Advance(10 * time.Second)
	}
	require.Error(t, limiter.Allow())

	clock.Advance(30 * time.Second) // first call is now exactly 60s old
	require.NoError(t, limiter.Allow())
	require.Error(t, limiter.Allow())

	calls, remaining := limiter.Stats()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, remaining)
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiterWithClock(0, time.Minute, time.Now)
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Allow())
	}

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Allow())
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewLimiterWithClock(50, time.Minute, time.Now)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}
