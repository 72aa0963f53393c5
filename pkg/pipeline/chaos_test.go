package pipeline

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChaos_Disabled(t *testing.T) {
	c := newChaos(ChaosConfig{MinDelay: time.Second, MaxDelay: 2 * time.Second}, nil)
	c.sleep = func(time.Duration) { t.Fatal("disabled chaos must not sleep") }

	assert.Zero(t, c.pause())

	var nilChaos *chaos
	assert.Zero(t, nilChaos.delay())
}

func TestChaos_DelayWithinRange(t *testing.T) {
	cfg := ChaosConfig{Enabled: true, MinDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond}
	c := newChaos(cfg, rand.NewPCG(1, 2))

	for i := 0; i < 1000; i++ {
		d := c.delay()
		require.GreaterOrEqual(t, d, cfg.MinDelay)
		require.LessOrEqual(t, d, cfg.MaxDelay)
	}
}

func TestChaos_SwapsInvertedRange(t *testing.T) {
	cfg := ChaosConfig{Enabled: true, MinDelay: 2 * time.Second, MaxDelay: 500 * time.Millisecond}

	norm, swapped := cfg.Normalized()
	assert.True(t, swapped)
	assert.Equal(t, 500*time.Millisecond, norm.MinDelay)
	assert.Equal(t, 2*time.Second, norm.MaxDelay)

	c := newChaos(cfg, rand.NewPCG(3, 4))
	d := c.delay()
	assert.GreaterOrEqual(t, d, 500*time.Millisecond)
	assert.LessOrEqual(t, d, 2*time.Second)
}

func TestChaos_FixedDelay(t *testing.T) {
	c := newChaos(ChaosConfig{Enabled: true, MinDelay: 5 * time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)

	var slept time.Duration
	c.sleep = func(d time.Duration) { slept = d }

	assert.Equal(t, 5*time.Millisecond, c.pause())
	assert.Equal(t, 5*time.Millisecond, slept)
}

func TestPool_ChaosKeepsEveryUnit(t *testing.T) {
	cfg := Config{
		Workers: 4,
		Chaos:   ChaosConfig{Enabled: true, MinDelay: 0, MaxDelay: 2 * time.Millisecond},
	}
	rec := &recorder{}
	p, err := New(cfg, WithObserver(rec), WithRandSource(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	require.NoError(t, p.Run())

	for i := 1; i <= 100; i++ {
		require.NoError(t, p.Submit("SET k"+string(rune('a'+i%26))+" v", uint64(i)))
	}
	report := shutdownWithin(t, p, 10*time.Second)

	assert.Equal(t, uint64(100), report.Processed)
	assert.True(t, report.Healthy())
}

func TestChaos_ConcurrentDelay(t *testing.T) {
	c := newChaos(ChaosConfig{Enabled: true, MinDelay: 0, MaxDelay: time.Millisecond}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.delay()
			}
		}()
	}
	wg.Wait()
}
