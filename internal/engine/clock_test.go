package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_FollowsSource(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClockFrom(func() time.Time { return at })

	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Current())
}

func TestClock_NeverRepeatsOrGoesBackwards(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := []time.Time{at, at, at.Add(-time.Hour)}
	i := 0
	c := NewClockFrom(func() time.Time {
		r := readings[i]
		i++
		return r
	})

	first := c.Now()
	second := c.Now()
	third := c.Now()

	assert.Equal(t, at, first)
	assert.Equal(t, at.Add(time.Nanosecond), second)
	assert.Equal(t, at.Add(2*time.Nanosecond), third)
}

func TestClock_ConcurrentUnique(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClockFrom(func() time.Time { return at })

	const goroutines = 10
	const perGoroutine = 100

	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ts := c.Now().UnixNano()
				mu.Lock()
				assert.False(t, seen[ts], "timestamp %d generated twice", ts)
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}
