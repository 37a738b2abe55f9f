package types

// TimestampLayout formats RunSummary.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// TenantSummary reduces every outcome of one (tenant, kind) pair in a run.
type TenantSummary struct {
	// ExecutionTimeMS is the mean over successful outcomes
	ExecutionTimeMS float64 `json:"execution_time_ms"`

	// MemoryUsed is the byte-space mean, re-rendered by bytesize
	MemoryUsed string `json:"memory_used"`

	// UtilityCheck is taken from the last successful framework outcome
	UtilityCheck map[string]float64 `json:"utility_check,omitempty"`

	Samples int `json:"samples"`
	Errors  int `json:"errors"`
}

// RunSummary is the run's final mapping handed to summary sinks. A missing
// tenant key means "no data", never a zero measurement.
type RunSummary struct {
	Raw       map[string]TenantSummary `json:"raw"`
	Framework map[string]TenantSummary `json:"framework"`
	Timestamp string                   `json:"timestamp"`
}

// ForKind returns the per-tenant map for a pipeline kind.
func (s RunSummary) ForKind(kind PipelineKind) map[string]TenantSummary {
	if kind == KindFramework {
		return s.Framework
	}
	return s.Raw
}
