package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	mock := NewMockClock(start)

	assert.Equal(t, start, mock.Now())

	mock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), mock.Now())

	later := start.Add(24 * time.Hour)
	mock.Set(later)
	assert.Equal(t, later, mock.Now())
}

func TestMockClockConcurrentAdvance(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	mock := NewMockClock(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mock.Advance(time.Second)
			_ = mock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(50*time.Second), mock.Now())
}

func TestRealClock(t *testing.T) {
	before := time.Now()
	now := RealClock{}.Now()

	assert.False(t, now.Before(before))
}
