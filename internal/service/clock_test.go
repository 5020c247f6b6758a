package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonotonicClockNeverRepeats(t *testing.T) {
	clock := monotonicClock()

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				now := clock()
				mu.Lock()
				seen[now] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 1600)

	previous := clock()
	for i := 0; i < 100; i++ {
		next := clock()
		require.True(t, next.After(previous))
		require.Equal(t, time.UTC, next.Location())
		require.Zero(t, next.Nanosecond()%1000)
		previous = next
	}
}
