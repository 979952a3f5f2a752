package agentrt

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: exponential from Initial to Max with
// ±JitterPct randomization so a fleet of agents doesn't reconnect in
// lockstep after a broker restart.
type Backoff struct {
	Initial   time.Duration
	Max       time.Duration
	JitterPct float64
}

// Next returns the delay for the given attempt (0-based).
func (b Backoff) Next(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}

	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}

	if b.JitterPct > 0 {
		jitter := 1 + (rand.Float64()*2-1)*b.JitterPct
		d = time.Duration(float64(d) * jitter)
	}
	if d < 0 {
		d = initial
	}
	return d
}
