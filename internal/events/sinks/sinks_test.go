package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	blobmemory "github.com/JakeFAU/repo-capture-engine/internal/blob/memory"
	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/events"
	pubmemory "github.com/JakeFAU/repo-capture-engine/internal/publisher/memory"
)

func sampleBatch(ts time.Time) []events.Event {
	return []events.Event{
		{TS: ts, Kind: events.KindJobCreated, JobID: "j1", Processor: capture.ProcessorRealtime},
		{TS: ts, Kind: events.KindJobCompleted, JobID: "j1", Processor: capture.ProcessorRealtime, Dur: 3 * time.Second},
		{TS: ts, Kind: events.KindJobRetried, JobID: "j2", Processor: capture.ProcessorBulk, Attempts: 2},
		{TS: ts, Kind: events.KindJobAbandoned, JobID: "j2", Processor: capture.ProcessorBulk, Dur: time.Minute},
		{TS: ts, Kind: events.KindRequestSuppressed, RepositoryID: "r1"},
	}
}

func TestPrometheusSinkCountsByKind(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch(time.Now().UTC())))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsCreated.WithLabelValues("realtime")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("realtime", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("bulk", "permanent_failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.retries.WithLabelValues("bulk")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.suppressions))
}

func TestPublisherSinkForwardsEachEvent(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	sink := NewPublisherSink(pub, "capture-events")
	batch := sampleBatch(time.Now().UTC())

	require.NoError(t, sink.Consume(context.Background(), batch))
	msgs := pub.Messages()
	require.Len(t, msgs, len(batch))
	require.Equal(t, "capture-events", msgs[0].Topic)
}

func TestArchiveSinkStoresTerminalRecords(t *testing.T) {
	t.Parallel()

	store := blobmemory.New()
	sink := NewArchiveSink(store, "")
	ts := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch(ts)))

	// Only the completed and abandoned events are archived.
	require.Equal(t, 2, store.Len())

	raw, ok := store.Get("audit/2026/02/14/j1.json")
	require.True(t, ok)
	var rec events.Event
	require.NoError(t, json.Unmarshal(raw, &rec))
	require.Equal(t, events.KindJobCompleted, rec.Kind)
	require.Equal(t, "j1", rec.JobID)

	_, ok = store.Get("audit/2026/02/14/j2.json")
	require.True(t, ok)
}
