// Package processors implements the execution capabilities that run
// claimed jobs. Both capabilities share a handler table keyed by job
// type; they differ only in timeout policy.
package processors

import (
	"context"
	"fmt"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// HandlerFunc executes one job type.
type HandlerFunc func(ctx context.Context, job capture.CaptureJob) (capture.ExecutionResult, error)

// Table maps every job type to its handler.
type Table map[capture.JobType]HandlerFunc

// NewTable validates that the table covers every job type, so a missing
// handler fails at startup rather than when the first job of that type is
// claimed.
func NewTable(handlers map[capture.JobType]HandlerFunc) (Table, error) {
	known := make(map[capture.JobType]bool, len(capture.JobTypes()))
	for _, jt := range capture.JobTypes() {
		known[jt] = true
		h, ok := handlers[jt]
		if !ok || h == nil {
			return nil, fmt.Errorf("no handler registered for job type %q", jt)
		}
	}
	for jt := range handlers {
		if !known[jt] {
			return nil, fmt.Errorf("handler registered for unknown job type %q", jt)
		}
	}
	return Table(handlers), nil
}

// Dispatch runs the handler for the job's type.
func (t Table) Dispatch(ctx context.Context, job capture.CaptureJob) (capture.ExecutionResult, error) {
	h, ok := t[job.Type]
	if !ok {
		return capture.ExecutionResult{}, fmt.Errorf("%w: no handler for job type %q", capture.ErrInvalidInput, job.Type)
	}
	return h(ctx, job)
}
