// Package generator produces synthetic IoT sensor batches.
package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// Generator yields one batch per call for a tenant.
type Generator interface {
	Generate(ctx context.Context, tenant string, count int) (types.Batch, error)
}

// Columns is the synthetic IoT schema in serialization order.
var Columns = []string{
	"S_NAME",
	"S_ID",
	"NS_TEMPERATURE",
	"S_LOCATION",
	"NS_HUMIDITY",
	types.TenantTagField,
}

// Value ranges of the synthetic readings.
const (
	MinTemperature = 20.0
	MaxTemperature = 30.0
	MinHumidity    = 40.0
	MaxHumidity    = 60.0
)

// IoT generates sensor readings with uniformly distributed temperature and
// humidity. It is safe for concurrent use.
type IoT struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewIoT creates a generator. A zero seed picks one from the clock.
func NewIoT(seed uint64) *IoT {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &IoT{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate returns count rows for tenant. Row i carries S_ID "{tenant}_{i}".
func (g *IoT) Generate(ctx context.Context, tenant string, count int) (types.Batch, error) {
	if tenant == "" {
		return types.Batch{}, perrors.NewGenerationError("tenant is required", nil)
	}
	if count < 0 {
		return types.Batch{}, perrors.NewGenerationError(fmt.Sprintf("negative record count %d", count), nil)
	}
	if err := ctx.Err(); err != nil {
		return types.Batch{}, perrors.NewGenerationError("generation cancelled", err)
	}

	b := types.Batch{
		Tenant:  tenant,
		Columns: append([]string(nil), Columns...),
		Rows:    make([]types.Record, count),
	}
	tag := types.TenantTag(tenant)

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < count; i++ {
		b.Rows[i] = types.Record{
			"S_NAME":             fmt.Sprintf("User_%s_%d", tenant, i),
			"S_ID":               fmt.Sprintf("%s_%d", tenant, i),
			"NS_TEMPERATURE":     uniform(g.rng, MinTemperature, MaxTemperature),
			"S_LOCATION":         fmt.Sprintf("Loc_%s_%d", tenant, i),
			"NS_HUMIDITY":        uniform(g.rng, MinHumidity, MaxHumidity),
			types.TenantTagField: tag,
		}
	}
	return b, nil
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, tenant string, count int) (types.Batch, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, tenant string, count int) (types.Batch, error) {
	return f(ctx, tenant, count)
}
