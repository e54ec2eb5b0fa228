package indicator

import (
	"strings"
	"sync"
)

// DefaultWindow is the number of samples a series must hold before any
// reading is produced.
const DefaultWindow = 30

// Tracker owns one fixed-capacity ring of samples per symbol/timeframe.
// It is safe for concurrent use.
type Tracker struct {
	capacity int

	mu     sync.RWMutex
	series map[string]*ring
}

// NewTracker returns a tracker whose rings hold capacity samples.
func NewTracker(capacity int) *Tracker {
	if capacity < 2 {
		capacity = DefaultWindow
	}
	return &Tracker{capacity: capacity, series: make(map[string]*ring)}
}

// Observe appends price to the series of symbol/timeframe, evicting the oldest sample when full.
func (t *Tracker) Observe(symbol, timeframe string, price float64) {
	key := seriesKey(symbol, timeframe)
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.series[key]
	if !ok {
		r = newRing(t.capacity)
		t.series[key] = r
	}
	r.push(price)
}

// Read computes the named indicator for symbol/timeframe. It reports false
// until the window is full and for unknown indicator names.
func (t *Tracker) Read(symbol, timeframe, name string, params map[string]float64) (Reading, bool) {
	t.mu.RLock()
	r, ok := t.series[seriesKey(symbol, timeframe)]
	if !ok || r.len() < t.capacity {
		t.mu.RUnlock()
		return Reading{}, false
	}
	values := r.values()
	t.mu.RUnlock()
	return Compute(name, params, values)
}

// Len returns the number of samples held for symbol/timeframe.
func (t *Tracker) Len(symbol, timeframe string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.series[seriesKey(symbol, timeframe)]
	if !ok {
		return 0
	}
	return r.len()
}

// Reset drops every series.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.series = make(map[string]*ring)
}

func seriesKey(symbol, timeframe string) string {
	return strings.ToUpper(symbol) + "|" + timeframe
}

type ring struct {
	buf   []float64
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.size
}

// values copies the samples out oldest first.
func (r *ring) values() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
