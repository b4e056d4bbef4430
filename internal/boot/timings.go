package boot

import (
	"fmt"
	"strings"
	"time"
)

// Timings records how long each boot phase took, in order.
type Timings struct {
	phases []phase
}

type phase struct {
	name string
	dur  time.Duration
}

// Add records one phase.
func (t *Timings) Add(name string, dur time.Duration) {
	t.phases = append(t.phases, phase{name: name, dur: dur})
}

// Time runs fn and records its duration under name.
func (t *Timings) Time(name string, fn func()) {
	start := time.Now()
	fn()
	t.Add(name, time.Since(start))
}

// Total sums all phases.
func (t *Timings) Total() time.Duration {
	var total time.Duration
	for _, p := range t.phases {
		total += p.dur
	}
	return total
}

// Summary renders the single boot log line.
func (t *Timings) Summary() string {
	parts := make([]string, 0, len(t.phases))
	for _, p := range t.phases {
		parts = append(parts, fmt.Sprintf("%s=%dms", p.name, p.dur.Milliseconds()))
	}
	return fmt.Sprintf("boot complete in %dms (%s)", t.Total().Milliseconds(), strings.Join(parts, " "))
}
