package pipeline

import (
	"math/rand/v2"
	"sync"
	"time"
)

// ChaosConfig injects a random pause into every worker right after it
// dequeues a unit. It exists to shake out ordering assumptions in tests and
// staging runs and is off by default.
type ChaosConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultChaosConfig returns a disabled config with a 500ms-2s range
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		MinDelay: 500 * time.Millisecond,
		MaxDelay: 2 * time.Second,
	}
}

// Normalized returns c with MinDelay <= MaxDelay, swapping them if needed
func (c ChaosConfig) Normalized() (ChaosConfig, bool) {
	if c.MinDelay > c.MaxDelay {
		c.MinDelay, c.MaxDelay = c.MaxDelay, c.MinDelay
		return c, true
	}
	return c, false
}

// chaos is shared by all workers of a pool
type chaos struct {
	cfg   ChaosConfig
	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(time.Duration)
}

func newChaos(cfg ChaosConfig, src rand.Source) *chaos {
	cfg, _ = cfg.Normalized()
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &chaos{cfg: cfg, rng: rand.New(src), sleep: time.Sleep}
}

// delay picks the next pause; zero when disabled
func (c *chaos) delay() time.Duration {
	if c == nil || !c.cfg.Enabled {
		return 0
	}
	span := int64(c.cfg.MaxDelay - c.cfg.MinDelay)
	if span <= 0 {
		return c.cfg.MinDelay
	}

	c.mu.Lock()
	n := c.rng.Int64N(span + 1)
	c.mu.Unlock()
	return c.cfg.MinDelay + time.Duration(n)
}

// pause sleeps for the next delay and returns it
func (c *chaos) pause() time.Duration {
	d := c.delay()
	if d > 0 {
		c.sleep(d)
	}
	return d
}
