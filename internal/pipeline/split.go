package pipeline

import (
	"github.com/sensorsplit/sensorsplit/internal/classify"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// SplitResult holds the two projections of one batch. Both have the
// source row count and row order.
type SplitResult struct {
	Sensitive      types.Batch
	NonSensitive   types.Batch
	Classification classify.Classification
}

// Split classifies the batch schema and builds the sensitive and
// non-sensitive projections. The caller's batch is never modified.
//
// When the schema has no S_ID field, one identifier per row
// ("{tenant}_{row+1}") is added to the sensitive projection. Every
// non-sensitive row carries the tenant's group tag in NS_tenant_id.
func Split(c *classify.Classifier, tenant string, b types.Batch) (SplitResult, error) {
	cls, err := c.Partition(b.Columns)
	if err != nil {
		return SplitResult{}, err
	}

	src := b
	if !cls.HasSensitive(types.IdentifierField) {
		src = b.Clone()
		for i, row := range src.Rows {
			row[types.IdentifierField] = types.RowIdentifier(tenant, i)
		}
		src.Columns = append(src.Columns, types.IdentifierField)
		cls.Sensitive = append(cls.Sensitive, types.IdentifierField)
	}

	sensitive := src.Project(cls.Sensitive)
	sensitive.Tenant = tenant

	nsColumns := append([]string(nil), cls.NonSensitive...)
	hasTag := false
	for _, col := range nsColumns {
		if col == types.TenantTagField {
			hasTag = true
			break
		}
	}
	if !hasTag {
		nsColumns = append(nsColumns, types.TenantTagField)
		cls.NonSensitive = append(cls.NonSensitive, types.TenantTagField)
	}

	// Project allocates fresh rows, so tagging cannot reach the caller.
	nonSensitive := src.Project(nsColumns)
	nonSensitive.Tenant = tenant
	tag := types.TenantTag(tenant)
	for _, row := range nonSensitive.Rows {
		row[types.TenantTagField] = tag
	}

	return SplitResult{
		Sensitive:      sensitive,
		NonSensitive:   nonSensitive,
		Classification: cls,
	}, nil
}
