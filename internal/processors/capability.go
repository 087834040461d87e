package processors

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// Default per-job timeouts. Realtime targets minutes-level freshness;
// bulk work on large repositories can legitimately run much longer.
const (
	DefaultRealtimeTimeout = 5 * time.Minute
	DefaultBulkTimeout     = 45 * time.Minute
)

// Capability executes claimed jobs through the handler table under a
// per-job timeout. It implements capture.ProcessorCapability.
type Capability struct {
	name    capture.Processor
	table   Table
	timeout time.Duration
	logger  *zap.Logger
}

// NewRealtime builds the latency-sensitive capability.
func NewRealtime(table Table, timeout time.Duration, logger *zap.Logger) *Capability {
	return newCapability(capture.ProcessorRealtime, table, timeout, DefaultRealtimeTimeout, logger)
}

// NewBulk builds the throughput-oriented capability.
func NewBulk(table Table, timeout time.Duration, logger *zap.Logger) *Capability {
	return newCapability(capture.ProcessorBulk, table, timeout, DefaultBulkTimeout, logger)
}

func newCapability(name capture.Processor, table Table, timeout, fallback time.Duration, logger *zap.Logger) *Capability {
	if timeout <= 0 {
		timeout = fallback
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capability{name: name, table: table, timeout: timeout, logger: logger}
}

// Name returns which processor this capability serves.
func (c *Capability) Name() capture.Processor {
	return c.name
}

// Execute dispatches the job to its handler. A blown timeout surfaces as
// a context deadline error, which the lifecycle manager classifies as
// transient.
func (c *Capability) Execute(ctx context.Context, job capture.CaptureJob) (capture.ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.table.Dispatch(ctx, job)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Debug("job execution failed",
			zap.String("processor", string(c.name)),
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.Type)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return result, err
	}
	c.logger.Debug("job executed",
		zap.String("processor", string(c.name)),
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.Int("items", result.Progress.ProcessedItems),
		zap.Int("api_calls", result.APICallsUsed),
		zap.Duration("elapsed", elapsed))
	return result, nil
}
