package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	configA = "01J9ZD3WP0K6Q0E7Y3N8B4XA01"
	configB = "01J9ZD3WP0K6Q0E7Y3N8B4XB02"
)

func TestRateLimiter_WithinBudget(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(configA), "call %d should be within budget", i+1)
	}
}

func TestRateLimiter_BlocksOverBudget(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(configA))
	}

	assert.False(t, rl.Allow(configA), "fourth call should be rejected")
	assert.False(t, rl.Allow(configA), "should stay rejected inside the window")
}

func TestRateLimiter_ConfigsIsolated(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	assert.True(t, rl.Allow(configA))
	assert.True(t, rl.Allow(configA))
	assert.False(t, rl.Allow(configA))

	// Exhausting one config's budget leaves the other untouched
	assert.True(t, rl.Allow(configB))
	assert.True(t, rl.Allow(configB))
	assert.False(t, rl.Allow(configB))
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	defer rl.Stop()

	assert.True(t, rl.Allow(configA))
	assert.True(t, rl.Allow(configA))
	assert.False(t, rl.Allow(configA))

	time.Sleep(60 * time.Millisecond)

	assert.True(t, rl.Allow(configA), "budget should recover once the window slides past")
}

func TestRateLimiter_ConcurrentCalls(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute)
	defer rl.Stop()

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- rl.Allow(configA)
		}()
	}

	wg.Wait()
	close(allowed)

	granted := 0
	for a := range allowed {
		if a {
			granted++
		}
	}

	assert.Equal(t, 100, granted, "exactly the budgeted number of calls should pass")
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Stop()
	rl.Stop()

	// Allow keeps working after the pruner is stopped
	assert.True(t, rl.Allow(configA))
}
