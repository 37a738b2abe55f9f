// Package measure samples wall-clock time and process memory around a
// measured body.
package measure

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Strategy selects the memory sampler.
type Strategy string

const (
	// StrategyRSS samples the resident set size of the process.
	StrategyRSS Strategy = "rss"

	// StrategyHeap samples cumulative Go heap allocation, which grows
	// monotonically and is insensitive to GC timing.
	StrategyHeap Strategy = "heap"
)

// ParseStrategy converts a config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRSS, "":
		return StrategyRSS, nil
	case StrategyHeap:
		return StrategyHeap, nil
	default:
		return "", fmt.Errorf("unknown measurement strategy %q (want rss or heap)", s)
	}
}

// Sampler reports a process-wide memory reading in bytes.
type Sampler interface {
	Sample() (uint64, error)
}

// RSSSampler reads the process RSS through gopsutil.
type RSSSampler struct {
	proc *process.Process
}

// NewRSSSampler creates a sampler bound to the current process.
func NewRSSSampler() (*RSSSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process: %w", err)
	}
	return &RSSSampler{proc: proc}, nil
}

// Sample returns the current RSS.
func (s *RSSSampler) Sample() (uint64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory info: %w", err)
	}
	return info.RSS, nil
}

// HeapSampler reads runtime.MemStats.TotalAlloc.
type HeapSampler struct{}

// Sample returns bytes allocated on the heap since process start.
func (HeapSampler) Sample() (uint64, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.TotalAlloc, nil
}

// NewSampler builds the sampler for a strategy.
func NewSampler(strategy Strategy) (Sampler, error) {
	switch strategy {
	case StrategyHeap:
		return HeapSampler{}, nil
	case StrategyRSS, "":
		return NewRSSSampler()
	default:
		return nil, fmt.Errorf("unknown measurement strategy %q", strategy)
	}
}

// Probe pairs a sampler with a clock. Samples are process-wide, so
// concurrent measured bodies are serialized: Begin takes the lock and the
// returned Span's End releases it. Heavy work that is not measured runs
// through Unmeasured so it cannot overlap an open span.
type Probe struct {
	sampler Sampler
	now     func() time.Time
	mu      sync.RWMutex
}

// NewProbe creates a probe.
func NewProbe(sampler Sampler) *Probe {
	return &Probe{sampler: sampler, now: time.Now}
}

// Unmeasured runs fn while no span is open. Unmeasured calls may overlap
// each other; a span opened meanwhile waits for them to finish.
func (p *Probe) Unmeasured(fn func() error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn()
}

// Span is an open measurement.
type Span struct {
	probe  *Probe
	start  time.Time
	before uint64
	done   bool
}

// Reading is the result of a closed span.
type Reading struct {
	Elapsed time.Duration

	// DeltaBytes is max(0, after-before) + the caller's offset
	DeltaBytes int64
}

// Milliseconds returns Elapsed as fractional milliseconds.
func (r Reading) Milliseconds() float64 {
	return float64(r.Elapsed.Nanoseconds()) / 1e6
}

// Begin locks the probe and takes the opening sample.
func (p *Probe) Begin() (*Span, error) {
	p.mu.Lock()
	before, err := p.sampler.Sample()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	return &Span{probe: p, start: p.now(), before: before}, nil
}

// End takes the closing sample and releases the probe. Calls after the
// first return an error.
func (s *Span) End(offset int64) (Reading, error) {
	if s.done {
		return Reading{}, fmt.Errorf("span already ended")
	}
	s.done = true
	defer s.probe.mu.Unlock()

	elapsed := s.probe.now().Sub(s.start)
	after, err := s.probe.sampler.Sample()
	if err != nil {
		return Reading{Elapsed: elapsed}, err
	}

	var delta int64
	if after > s.before {
		delta = int64(after - s.before)
	}
	return Reading{Elapsed: elapsed, DeltaBytes: delta + offset}, nil
}

// Abort releases the probe without measuring.
func (s *Span) Abort() {
	if s.done {
		return
	}
	s.done = true
	s.probe.mu.Unlock()
}
