package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/repo-capture-engine/internal/blob"
	"github.com/JakeFAU/repo-capture-engine/internal/events"
)

// ArchiveSink writes one immutable audit record per terminal job event
// (completed or abandoned) to a blob store. Non-terminal events pass
// through untouched, so the archive stays a compact record of outcomes
// rather than a full event log.
type ArchiveSink struct {
	store  blob.Store
	prefix string
}

// NewArchiveSink constructs an ArchiveSink. prefix is prepended to every
// object path; an empty prefix defaults to "audit".
func NewArchiveSink(store blob.Store, prefix string) *ArchiveSink {
	if prefix == "" {
		prefix = "audit"
	}
	return &ArchiveSink{store: store, prefix: prefix}
}

// Consume persists the terminal events in the batch. The first write
// failure fails the batch.
func (s *ArchiveSink) Consume(ctx context.Context, batch []events.Event) error {
	if s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Kind != events.KindJobCompleted && evt.Kind != events.KindJobAbandoned {
			continue
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		path := fmt.Sprintf("%s/%s/%s.json", s.prefix, evt.TS.UTC().Format("2006/01/02"), evt.JobID)
		if _, err := s.store.PutObject(ctx, path, "application/json", bytes.NewReader(payload)); err != nil {
			return fmt.Errorf("archive %s record for job %s: %w", evt.Kind, evt.JobID, err)
		}
	}
	return nil
}

// Close is a no-op; the blob store owns its own lifecycle.
func (s *ArchiveSink) Close(_ context.Context) error {
	return nil
}
