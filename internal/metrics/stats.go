package metrics

import (
	"sort"
	"time"
)

// Window accumulates timing stats across multiple steps.
type Window struct {
	samples     int
	data        time.Duration
	compute     time.Duration
	steps       int
	lastGenLoss float64
	lastDisLoss float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, genLoss, disLoss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lastGenLoss = genLoss
	w.lastDisLoss = disLoss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	snap.LastGenLoss = w.lastGenLoss
	snap.LastDisLoss = w.lastDisLoss

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	LastGenLoss  float64
	LastDisLoss  float64
}

// EpochMeans averages named scalars over an epoch.
type EpochMeans struct {
	sums   map[string]float64
	counts map[string]int
}

// Add records one value for name.
func (e *EpochMeans) Add(name string, v float64) {
	if e.sums == nil {
		e.sums = make(map[string]float64)
		e.counts = make(map[string]int)
	}
	e.sums[name] += v
	e.counts[name]++
}

// AddAll records every entry of values.
func (e *EpochMeans) AddAll(values map[string]float64) {
	for k, v := range values {
		e.Add(k, v)
	}
}

// Snapshot returns the means and clears the accumulator.
func (e *EpochMeans) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(e.sums))
	for k, s := range e.sums {
		out[k] = s / float64(e.counts[k])
	}
	*e = EpochMeans{}
	return out
}

// SortedKeys returns the keys of values in lexical order.
func SortedKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
