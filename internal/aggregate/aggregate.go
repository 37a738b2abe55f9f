// Package aggregate reduces pipeline outcomes to per-tenant run summaries.
package aggregate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sensorsplit/sensorsplit/pkg/bytesize"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

type bucket struct {
	timeSum float64
	memSum  float64
	samples int
	errors  int
	utility map[string]float64
}

// RunAggregator collects outcomes for one run. It is safe for concurrent use.
type RunAggregator struct {
	mu      sync.Mutex
	buckets map[types.PipelineKind]map[string]*bucket
}

// New creates an empty aggregator.
func New() *RunAggregator {
	return &RunAggregator{
		buckets: map[types.PipelineKind]map[string]*bucket{
			types.KindRaw:       {},
			types.KindFramework: {},
		},
	}
}

// Add records one outcome under kind. Failed outcomes only count toward
// Errors. A successful outcome whose MemoryUsed cannot be parsed is
// rejected and leaves the aggregator unchanged.
func (a *RunAggregator) Add(kind types.PipelineKind, o types.PipelineOutcome) error {
	var mem float64
	if o.OK() {
		v, err := bytesize.ParseFloat(o.MemoryUsed)
		if err != nil {
			return fmt.Errorf("aggregate: tenant %s %s outcome: %w", o.Tenant, kind, err)
		}
		mem = v
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tenants, ok := a.buckets[kind]
	if !ok {
		return fmt.Errorf("aggregate: unknown pipeline kind %q", kind)
	}
	b, ok := tenants[o.Tenant]
	if !ok {
		b = &bucket{}
		tenants[o.Tenant] = b
	}

	if !o.OK() {
		b.errors++
		return nil
	}

	b.timeSum += o.ExecutionTimeMS
	b.memSum += mem
	b.samples++
	if kind == types.KindFramework && o.UtilityCheck != nil {
		b.utility = make(map[string]float64, len(o.UtilityCheck))
		for k, v := range o.UtilityCheck {
			b.utility[k] = v
		}
	}
	return nil
}

// Summarize reduces everything added so far. Tenants without a successful
// outcome for a kind are omitted from that kind's map.
func (a *RunAggregator) Summarize(now time.Time) types.RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	return types.RunSummary{
		Raw:       a.reduce(types.KindRaw),
		Framework: a.reduce(types.KindFramework),
		Timestamp: now.Format(types.TimestampLayout),
	}
}

func (a *RunAggregator) reduce(kind types.PipelineKind) map[string]types.TenantSummary {
	out := make(map[string]types.TenantSummary)
	for tenant, b := range a.buckets[kind] {
		if b.samples == 0 {
			continue
		}
		n := float64(b.samples)
		s := types.TenantSummary{
			ExecutionTimeMS: b.timeSum / n,
			MemoryUsed:      bytesize.FormatFloat(b.memSum / n),
			Samples:         b.samples,
			Errors:          b.errors,
		}
		if kind == types.KindFramework && b.utility != nil {
			s.UtilityCheck = make(map[string]float64, len(b.utility))
			for k, v := range b.utility {
				s.UtilityCheck[k] = v
			}
		}
		out[tenant] = s
	}
	return out
}

// Errors returns the failed-outcome count per kind.
func (a *RunAggregator) Errors() map[types.PipelineKind]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[types.PipelineKind]int, len(a.buckets))
	for kind, tenants := range a.buckets {
		for _, b := range tenants {
			out[kind] += b.errors
		}
	}
	return out
}

// Tenants returns every tenant seen, successful or not, sorted.
func (a *RunAggregator) Tenants() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]struct{})
	for _, tenants := range a.buckets {
		for t := range tenants {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
