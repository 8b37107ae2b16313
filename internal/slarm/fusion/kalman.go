// Package fusion flags implausible sensor samples with a per-series 1D
// Kalman filter.
package fusion

import (
	"math"
	"strings"
	"sync"
)

// Filter defaults.
const (
	DefaultQ         = 1e-5
	DefaultR         = 1e-2
	DefaultThreshold = 0.15
)

// AnomalySuffix marks the metric recorded for a flagged sample.
const AnomalySuffix = "_anomaly"

// Filter is a scalar Kalman filter with a constant-state model.
type Filter struct {
	Q, R float64

	x, p  float64
	ready bool
}

// Update folds measurement z and returns the new estimate, its variance,
// and the residual of z against the previous estimate. The first
// measurement seeds the filter and has a zero residual.
func (f *Filter) Update(z float64) (estimate, variance, residual float64) {
	if !f.ready {
		f.x, f.p, f.ready = z, 1, true
		return f.x, f.p, 0
	}
	pp := f.p + f.Q
	k := pp / (pp + f.R)
	residual = z - f.x
	f.x += k * residual
	f.p = (1 - k) * pp
	return f.x, f.p, residual
}

// Anomaly describes one flagged sample.
type Anomaly struct {
	Device   string
	Metric   string
	Value    float64
	Estimate float64
	Residual float64
}

// Detector keeps one filter per (device, metric) series.
type Detector struct {
	q, r      float64
	threshold float64

	mu      sync.Mutex
	filters map[string]*Filter
}

// NewDetector builds a detector. threshold is the fraction of the measured
// value the residual may reach before a sample counts as anomalous; zero
// values select the defaults.
func NewDetector(q, r, threshold float64) *Detector {
	if q <= 0 {
		q = DefaultQ
	}
	if r <= 0 {
		r = DefaultR
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{q: q, r: r, threshold: threshold, filters: make(map[string]*Filter)}
}

// Observe feeds one sample. Anomaly series themselves are never tracked.
func (d *Detector) Observe(device, metric string, z float64) (Anomaly, bool) {
	if strings.HasSuffix(metric, AnomalySuffix) || math.IsNaN(z) || math.IsInf(z, 0) {
		return Anomaly{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := device + "/" + metric
	f, ok := d.filters[key]
	if !ok {
		f = &Filter{Q: d.q, R: d.r}
		d.filters[key] = f
	}
	est, _, resid := f.Update(z)
	if math.Abs(resid) <= d.threshold*math.Abs(z) {
		return Anomaly{}, false
	}
	return Anomaly{Device: device, Metric: metric, Value: z, Estimate: est, Residual: resid}, true
}

// Reset forgets every series.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filters = make(map[string]*Filter)
}
