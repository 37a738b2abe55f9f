// Package classify assigns record fields to sensitivity categories by
// naming convention.
package classify

import (
	"fmt"
	"strings"

	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// Category is the sensitivity class of a field name.
type Category int

const (
	Unclassified Category = iota
	Sensitive
	NonSensitive
)

// String returns the lower-case category name.
func (c Category) String() string {
	switch c {
	case Sensitive:
		return "sensitive"
	case NonSensitive:
		return "non_sensitive"
	default:
		return "unclassified"
	}
}

// UnclassifiedPolicy decides what happens to fields matching neither prefix.
type UnclassifiedPolicy string

const (
	// PolicyDrop excludes unclassified fields from both projections.
	PolicyDrop UnclassifiedPolicy = "drop"

	// PolicyReject treats an unclassified field as a schema violation.
	PolicyReject UnclassifiedPolicy = "reject"
)

// ParsePolicy converts a config string to a policy. Empty means PolicyDrop.
func ParsePolicy(s string) (UnclassifiedPolicy, error) {
	switch UnclassifiedPolicy(strings.ToLower(s)) {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("classify: unknown unclassified policy %q (must be drop or reject)", s)
	}
}

// Classify returns the category of a single field name. The non-sensitive
// prefix is checked first so that "NS_" names never fall through to "S_".
func Classify(name string) Category {
	switch {
	case strings.HasPrefix(name, types.NonSensitivePrefix):
		return NonSensitive
	case strings.HasPrefix(name, types.SensitivePrefix):
		return Sensitive
	default:
		return Unclassified
	}
}

// Classification holds disjoint field sets in input order.
type Classification struct {
	Sensitive    []string
	NonSensitive []string
	Unclassified []string
}

// HasSensitive reports whether name is in the sensitive set.
func (c Classification) HasSensitive(name string) bool {
	for _, f := range c.Sensitive {
		if f == name {
			return true
		}
	}
	return false
}

// Classifier partitions schemas under a fixed unclassified-field policy.
type Classifier struct {
	policy UnclassifiedPolicy
}

// New creates a classifier. An empty policy means PolicyDrop.
func New(policy UnclassifiedPolicy) *Classifier {
	if policy == "" {
		policy = PolicyDrop
	}
	return &Classifier{policy: policy}
}

// Policy returns the configured unclassified-field policy.
func (c *Classifier) Policy() UnclassifiedPolicy {
	return c.policy
}

// Partition splits field names into categories. Under PolicyReject any
// unclassified name yields a classification error; under PolicyDrop they
// are only reported in Classification.Unclassified.
func (c *Classifier) Partition(fields []string) (Classification, error) {
	var out Classification
	for _, f := range fields {
		switch Classify(f) {
		case Sensitive:
			out.Sensitive = append(out.Sensitive, f)
		case NonSensitive:
			out.NonSensitive = append(out.NonSensitive, f)
		default:
			out.Unclassified = append(out.Unclassified, f)
		}
	}

	if c.policy == PolicyReject && len(out.Unclassified) > 0 {
		return out, perrors.NewClassificationError(
			perrors.CodeUnclassifiedField,
			fmt.Sprintf("fields match neither %q nor %q: %s",
				types.SensitivePrefix, types.NonSensitivePrefix, strings.Join(out.Unclassified, ", ")),
		).WithDetails(map[string]interface{}{"fields": out.Unclassified})
	}
	return out, nil
}
