package timectrl

import (
	"sync"
	"testing"
	"time"
)

func TestOffsetClockZeroOffsetIsWallTime(t *testing.T) {
	wall := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewOffsetClockWithSource(func() time.Time { return wall }, 0)

	if got := c.Now(); !got.Equal(wall) {
		t.Fatalf("Now() = %v, want %v", got, wall)
	}
}

func TestOffsetClockSetAndStep(t *testing.T) {
	wall := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewOffsetClockWithSource(func() time.Time { return wall }, 0)

	c.Set(3600 * time.Second)
	if got, want := c.Now(), wall.Add(time.Hour); !got.Equal(want) {
		t.Fatalf("Now() after Set = %v, want %v", got, want)
	}

	if got := c.Step(-30 * time.Minute); got != 30*time.Minute {
		t.Fatalf("Step returned %v, want 30m", got)
	}
	if got, want := c.Now(), wall.Add(30*time.Minute); !got.Equal(want) {
		t.Fatalf("Now() after Step = %v, want %v", got, want)
	}
}

func TestOffsetClockConcurrentAccess(t *testing.T) {
	c := NewOffsetClock(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Step(time.Second)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Now()
			}
		}()
	}
	wg.Wait()

	if got := c.Offset(); got != 800*time.Second {
		t.Fatalf("Offset() = %v, want 800s", got)
	}
}

func TestManualClockAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	c.Advance(42 * time.Second)
	if got, want := c.Now(), start.Add(42*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}

	c.SetTime(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() after SetTime = %v, want %v", got, start)
	}
}
