package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadata_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Metadata{
		&SyncMetadata{WindowDays: 30},
		&DetailFetchMetadata{Number: 12, Kind: "pull"},
		&ReviewFetchMetadata{PullNumber: 9},
		&CommentFetchMetadata{Number: 77},
		&CommitAnalysisMetadata{Ref: "main"},
		&ClassificationMetadata{Force: true},
	}
	for _, meta := range cases {
		raw, err := MarshalMetadata(meta)
		require.NoError(t, err, "type=%s", meta.JobType())

		decoded, err := UnmarshalMetadata(raw)
		require.NoError(t, err)
		require.Equal(t, meta, decoded)
	}
}

func TestMetadata_ValidationRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := MarshalMetadata(&SyncMetadata{WindowDays: 0})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = MarshalMetadata(&DetailFetchMetadata{Number: 3, Kind: "gist"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = MarshalMetadata(&CommitAnalysisMetadata{Ref: "main", Since: "yesterday"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = MarshalMetadata(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestUnmarshalMetadata_RejectsUnknownTypeAndVersion(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalMetadata([]byte(`{"type":"mystery","version":1,"data":{}}`))
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = UnmarshalMetadata([]byte(`{"type":"sync","version":99,"data":{"window_days":30}}`))
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = UnmarshalMetadata([]byte(`not json`))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestDefaultMetadata(t *testing.T) {
	t.Parallel()

	require.Equal(t, &SyncMetadata{WindowDays: 30}, DefaultMetadata(JobTypeSync))
	require.Equal(t, &ClassificationMetadata{}, DefaultMetadata(JobTypeClassification))
	require.Nil(t, DefaultMetadata(JobTypeDetailFetch))
}
