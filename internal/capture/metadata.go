package capture

import (
	"encoding/json"
	"fmt"
	"time"
)

// metadataVersion is bumped when any variant changes shape.
const metadataVersion = 1

// Metadata is the closed per-jobtype payload union. Each variant carries
// only the fields its job type needs; malformed payloads fail at decode.
type Metadata interface {
	JobType() JobType
	Validate() error
}

// SyncMetadata parameterizes a full activity sync.
type SyncMetadata struct {
	WindowDays int `json:"window_days"`
}

// JobType implements Metadata.
func (SyncMetadata) JobType() JobType { return JobTypeSync }

// Validate implements Metadata.
func (m SyncMetadata) Validate() error {
	if m.WindowDays <= 0 {
		return fmt.Errorf("%w: sync window_days must be > 0", ErrInvalidInput)
	}
	return nil
}

// DetailFetchMetadata targets a single pull request or issue.
type DetailFetchMetadata struct {
	Number int    `json:"number"`
	Kind   string `json:"kind"`
}

// JobType implements Metadata.
func (DetailFetchMetadata) JobType() JobType { return JobTypeDetailFetch }

// Validate implements Metadata.
func (m DetailFetchMetadata) Validate() error {
	if m.Number <= 0 {
		return fmt.Errorf("%w: detail fetch number must be > 0", ErrInvalidInput)
	}
	if m.Kind != "pull" && m.Kind != "issue" && m.Kind != "discussion" {
		return fmt.Errorf("%w: unknown detail kind %q", ErrInvalidInput, m.Kind)
	}
	return nil
}

// ReviewFetchMetadata targets reviews for one pull request.
type ReviewFetchMetadata struct {
	PullNumber int `json:"pull_number"`
}

// JobType implements Metadata.
func (ReviewFetchMetadata) JobType() JobType { return JobTypeReviewFetch }

// Validate implements Metadata.
func (m ReviewFetchMetadata) Validate() error {
	if m.PullNumber <= 0 {
		return fmt.Errorf("%w: review fetch pull_number must be > 0", ErrInvalidInput)
	}
	return nil
}

// CommentFetchMetadata targets comments for one issue or pull request.
type CommentFetchMetadata struct {
	Number int `json:"number"`
}

// JobType implements Metadata.
func (CommentFetchMetadata) JobType() JobType { return JobTypeCommentFetch }

// Validate implements Metadata.
func (m CommentFetchMetadata) Validate() error {
	if m.Number <= 0 {
		return fmt.Errorf("%w: comment fetch number must be > 0", ErrInvalidInput)
	}
	return nil
}

// CommitAnalysisMetadata parameterizes commit-history analysis.
type CommitAnalysisMetadata struct {
	Ref   string `json:"ref"`
	Since string `json:"since,omitempty"`
}

// JobType implements Metadata.
func (CommitAnalysisMetadata) JobType() JobType { return JobTypeCommitAnalysis }

// Validate implements Metadata.
func (m CommitAnalysisMetadata) Validate() error {
	if m.Ref == "" {
		return fmt.Errorf("%w: commit analysis ref is required", ErrInvalidInput)
	}
	if m.Since != "" {
		if _, err := time.Parse(time.RFC3339, m.Since); err != nil {
			return fmt.Errorf("%w: commit analysis since must be RFC3339", ErrInvalidInput)
		}
	}
	return nil
}

// ClassificationMetadata parameterizes a size reclassification run.
type ClassificationMetadata struct {
	Force bool `json:"force,omitempty"`
}

// JobType implements Metadata.
func (ClassificationMetadata) JobType() JobType { return JobTypeClassification }

// Validate implements Metadata.
func (ClassificationMetadata) Validate() error { return nil }

type metadataEnvelope struct {
	Type    JobType         `json:"type"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// MarshalMetadata encodes a variant into the versioned storage envelope.
func MarshalMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: metadata is required", ErrInvalidInput)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	env := metadataEnvelope{Type: m.JobType(), Version: metadataVersion, Data: data}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata envelope: %w", err)
	}
	return out, nil
}

// UnmarshalMetadata decodes the storage envelope back into its variant.
func UnmarshalMetadata(raw []byte) (Metadata, error) {
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decode metadata envelope: %v", ErrInvalidInput, err)
	}
	if env.Version != metadataVersion {
		return nil, fmt.Errorf("%w: unsupported metadata version %d", ErrInvalidInput, env.Version)
	}
	var m Metadata
	switch env.Type {
	case JobTypeSync:
		m = &SyncMetadata{}
	case JobTypeDetailFetch:
		m = &DetailFetchMetadata{}
	case JobTypeReviewFetch:
		m = &ReviewFetchMetadata{}
	case JobTypeCommentFetch:
		m = &CommentFetchMetadata{}
	case JobTypeCommitAnalysis:
		m = &CommitAnalysisMetadata{}
	case JobTypeClassification:
		m = &ClassificationMetadata{}
	default:
		return nil, fmt.Errorf("%w: unknown metadata type %q", ErrInvalidInput, env.Type)
	}
	if err := json.Unmarshal(env.Data, m); err != nil {
		return nil, fmt.Errorf("%w: decode %s metadata: %v", ErrInvalidInput, env.Type, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultMetadata builds the zero-parameter variant for a job type, used
// when a trigger path supplies none.
func DefaultMetadata(t JobType) Metadata {
	switch t {
	case JobTypeSync:
		return &SyncMetadata{WindowDays: 30}
	case JobTypeClassification:
		return &ClassificationMetadata{}
	default:
		return nil
	}
}
