// Package types provides core data types for sensorsplit.
package types

import (
	"fmt"
)

// Field naming convention. A field's prefix decides its classification.
const (
	// SensitivePrefix marks fields that identify or locate an individual.
	SensitivePrefix = "S_"

	// NonSensitivePrefix marks fields that are safe to persist in the clear.
	NonSensitivePrefix = "NS_"

	// IdentifierField is the reserved per-tenant, per-row unique identifier.
	IdentifierField = "S_ID"

	// TenantTagField is the reserved group tag written on non-sensitive rows.
	TenantTagField = "NS_tenant_id"

	// TenantTagPrefix prefixes the tenant ID in TenantTagField values.
	TenantTagPrefix = "NS_T"
)

// Value is a scalar field value: string, float64, int64 or bool.
type Value = any

// Record maps field names to scalar values.
type Record map[string]Value

// Clone returns a shallow copy of the record. Values are scalars, so the
// copy shares nothing mutable with r.
func (r Record) Clone() Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Batch is an ordered sequence of records sharing one tenant and one schema.
type Batch struct {
	// Tenant owns every row of the batch
	Tenant string `json:"tenant"`

	// Columns is the schema in serialization order
	Columns []string `json:"columns"`

	// Rows holds the records; a missing key is serialized as an empty value
	Rows []Record `json:"rows"`
}

// Len returns the row count.
func (b Batch) Len() int {
	return len(b.Rows)
}

// Empty reports whether the batch has no rows or no columns.
func (b Batch) Empty() bool {
	return len(b.Rows) == 0 || len(b.Columns) == 0
}

// HasColumn reports whether name is part of the schema.
func (b Batch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Clone deep-copies the batch so the copy can be mutated freely.
func (b Batch) Clone() Batch {
	cp := Batch{
		Tenant:  b.Tenant,
		Columns: append([]string(nil), b.Columns...),
		Rows:    make([]Record, len(b.Rows)),
	}
	for i, r := range b.Rows {
		cp.Rows[i] = r.Clone()
	}
	return cp
}

// Project returns a new batch holding only the given columns, with the
// same row count and row order as b.
func (b Batch) Project(columns []string) Batch {
	out := Batch{
		Tenant:  b.Tenant,
		Columns: append([]string(nil), columns...),
		Rows:    make([]Record, len(b.Rows)),
	}
	for i, r := range b.Rows {
		row := make(Record, len(columns))
		for _, c := range columns {
			if v, ok := r[c]; ok {
				row[c] = v
			}
		}
		out.Rows[i] = row
	}
	return out
}

// Values returns the column's values in row order.
func (b Batch) Values(column string) []Value {
	vals := make([]Value, len(b.Rows))
	for i, r := range b.Rows {
		vals[i] = r[column]
	}
	return vals
}

// Validate checks the batch shape: a tenant, unique column names, and no
// row carrying a field outside the schema.
func (b Batch) Validate() error {
	if b.Tenant == "" {
		return fmt.Errorf("types: batch has no tenant")
	}

	seen := make(map[string]struct{}, len(b.Columns))
	for _, c := range b.Columns {
		if c == "" {
			return fmt.Errorf("types: batch has an empty column name")
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("types: duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}

	for i, r := range b.Rows {
		if r == nil {
			return fmt.Errorf("types: row %d is nil", i)
		}
		for k := range r {
			if _, ok := seen[k]; !ok {
				return fmt.Errorf("types: row %d has field %q outside the schema", i, k)
			}
		}
	}
	return nil
}

// TenantTag returns the group tag shared by every non-sensitive row of a tenant.
func TenantTag(tenant string) string {
	return TenantTagPrefix + tenant
}

// RowIdentifier returns the synthesized identifier for the row at a
// zero-based index: "{tenant}_{index+1}".
func RowIdentifier(tenant string, index int) string {
	return fmt.Sprintf("%s_%d", tenant, index+1)
}
