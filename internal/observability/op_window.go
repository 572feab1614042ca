package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type PortalOpStats struct {
	Op          string  `json:"op"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type PortalOpIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type PortalOpSnapshot struct {
	GeneratedAt time.Time           `json:"generated_at"`
	WindowSize  int                 `json:"window_size"`
	Ops         []PortalOpStats     `json:"ops"`
	Indicators  []PortalOpIndicator `json:"indicators,omitempty"`
}

type portalOpWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*portalOpBuffer
	indicators map[string]int
}

type portalOpBuffer struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newPortalOpWindow(maxSamples int) *portalOpWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &portalOpWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*portalOpBuffer),
		indicators: make(map[string]int),
	}
}

func (w *portalOpWindow) Observe(op string, ms float64) {
	if op == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.ops[op]
	if !ok {
		buf = &portalOpBuffer{
			values: make([]float64, w.maxSamples),
		}
		w.ops[op] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *portalOpWindow) Snapshot() PortalOpSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ops := make([]PortalOpStats, 0, len(w.ops))
	keys := make([]string, 0, len(w.ops))
	for op := range w.ops {
		keys = append(keys, op)
	}
	sort.Strings(keys)

	for _, op := range keys {
		buf := w.ops[op]
		if buf == nil {
			continue
		}
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}

		ops = append(ops, PortalOpStats{
			Op:          op,
			Samples:     n,
			LastMS:      round2(buf.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: opTargetP95MS(op),
		})
	}

	indicators := make([]PortalOpIndicator, 0, len(w.indicators))
	indicatorKeys := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		indicatorKeys = append(indicatorKeys, name)
	}
	sort.Strings(indicatorKeys)
	for _, name := range indicatorKeys {
		count := w.indicators[name]
		if count <= 0 {
			continue
		}
		indicators = append(indicators, PortalOpIndicator{
			Name:  name,
			Count: count,
		})
	}

	return PortalOpSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Ops:         ops,
		Indicators:  indicators,
	}
}

func (w *portalOpWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *portalOpWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops = make(map[string]*portalOpBuffer)
	w.indicators = make(map[string]int)
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func opTargetP95MS(op string) float64 {
	switch op {
	case "login":
		return 8000
	case "ensure_session":
		return 2000
	case "search":
		return 12000
	case "book":
		return 15000
	default:
		return 0
	}
}
