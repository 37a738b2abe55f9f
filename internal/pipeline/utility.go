package pipeline

import (
	"fmt"
	"math"

	"github.com/sensorsplit/sensorsplit/internal/codec"
	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// UtilityCheck averages field per NS_tenant_id group of the non-sensitive
// projection. A projection without the field yields an empty result; rows
// with a missing value are skipped. A value that is not a finite number is
// an error.
func UtilityCheck(ns types.Batch, field string) (map[string]float64, error) {
	if !ns.HasColumn(field) {
		return map[string]float64{}, nil
	}

	type acc struct {
		sum float64
		n   int
	}
	groups := make(map[string]*acc)

	for i, row := range ns.Rows {
		v, ok := row[field]
		if !ok || v == nil {
			continue
		}
		f, ok := codec.Float(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, perrors.NewClassificationError(perrors.CodeUtilityField,
				fmt.Sprintf("row %d: %s value %v is not numeric", i, field, v))
		}

		tag, _ := row[types.TenantTagField].(string)
		g, ok := groups[tag]
		if !ok {
			g = &acc{}
			groups[tag] = g
		}
		g.sum += f
		g.n++
	}

	out := make(map[string]float64, len(groups))
	for tag, g := range groups {
		out[tag] = g.sum / float64(g.n)
	}
	return out, nil
}
