package types

import (
	"path/filepath"
	"time"
)

// PipelineKind names the strategy that produced an outcome.
type PipelineKind string

const (
	// KindRaw persists records unmodified.
	KindRaw PipelineKind = "raw"

	// KindFramework splits, tags and protects records.
	KindFramework PipelineKind = "framework"
)

// Status is the terminal state of one pipeline invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ArtifactKind partitions artifacts by pipeline and sensitivity. It doubles
// as the object-storage prefix.
type ArtifactKind string

const (
	ArtifactRaw          ArtifactKind = "raw"
	ArtifactNonSensitive ArtifactKind = "framework/non_sensitive"
	ArtifactSensitive    ArtifactKind = "framework/sensitive"
	ArtifactMetrics      ArtifactKind = "metrics"
)

// Artifact is one file produced by a pipeline.
type Artifact struct {
	Kind        ArtifactKind `json:"kind"`
	Path        string       `json:"path"`
	SizeBytes   int64        `json:"size_bytes"`
	Fingerprint string       `json:"fingerprint,omitempty"`
}

// Name is the artifact's file name.
func (a Artifact) Name() string {
	return filepath.Base(a.Path)
}

// ObjectKey returns the stable object-storage key "{kind}/{artifact_name}".
func (a Artifact) ObjectKey() string {
	return string(a.Kind) + "/" + a.Name()
}

// PipelineOutcome is the immutable result of one pipeline invocation.
type PipelineOutcome struct {
	Tenant    string       `json:"tenant_id"`
	Kind      PipelineKind `json:"kind"`
	Iteration int          `json:"iteration"`
	Status    Status       `json:"status"`

	// ExecutionTimeMS is the wall-clock duration of the measured body
	ExecutionTimeMS float64 `json:"execution_time_ms,omitempty"`

	// MemoryUsed is the offset memory delta rendered by bytesize.Format
	MemoryUsed  string `json:"memory_used,omitempty"`
	MemoryBytes int64  `json:"memory_bytes,omitempty"`

	Artifacts []Artifact `json:"artifacts,omitempty"`

	// UtilityCheck maps tenant tag to the mean of the utility field
	// (framework only)
	UtilityCheck map[string]float64 `json:"utility_check,omitempty"`

	// ErrorKind is the failure category when Status is StatusError
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// OK reports whether the invocation succeeded.
func (o PipelineOutcome) OK() bool {
	return o.Status == StatusSuccess
}

// Artifact returns the first artifact of the given kind.
func (o PipelineOutcome) Artifact(kind ArtifactKind) (Artifact, bool) {
	for _, a := range o.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return Artifact{}, false
}
