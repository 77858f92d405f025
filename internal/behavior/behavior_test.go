package behavior

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwatch/internal/models"
)

func TestAdaptiveInterval(t *testing.T) {
	r := NewRandomized()
	base := 30 * time.Second

	tests := []struct {
		rate float64
		want time.Duration
	}{
		{1.0, 30 * time.Second},
		{0.9, 30 * time.Second},
		{0.89, 45 * time.Second},
		{0.5, 45 * time.Second},
		{0.49, 75 * time.Second},
		{0.0, 75 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.AdaptiveInterval(tt.rate, base), "rate %.2f", tt.rate)
	}
}

func TestExecuteRequiresInitialize(t *testing.T) {
	r := NewRandomized()

	err := r.Execute(context.Background(), "check", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotInitialized)

	require.NoError(t, r.Initialize())
	ran := false
	err = r.Execute(context.Background(), "check", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestPauseHonoursCancellation(t *testing.T) {
	r := NewRandomized()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Pause(ctx, PauseThink)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPauseConcurrent(t *testing.T) {
	// One policy is shared between the agent's check and booking listeners;
	// concurrent draws from the rng must be safe.
	r := NewRandomized()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, r.Pause(ctx, PauseKeystroke))
			}
		}()
	}
	wg.Wait()
}

func TestPauseRangesAreOrdered(t *testing.T) {
	// Keystrokes must be the shortest class, thinking the longest.
	kinds := []PauseKind{PauseKeystroke, PauseAction, PauseProbe, PauseThink}
	var prev time.Duration
	for _, k := range kinds {
		lo, hi := pauseRange(k)
		assert.Less(t, lo, hi)
		assert.GreaterOrEqual(t, lo, prev, "kind %d", k)
		prev = lo
	}
}
