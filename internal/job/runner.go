package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"etlkit/internal/batch"
	"etlkit/internal/metrics"
)

// Run executes j's steps in order. Each step is timed, logged, and recorded
// via metrics.RecordStep; the first failing step stops the run and its error
// comes back wrapped with the job name. Failures are logged before returning.
func Run(ctx context.Context, jc Context, j Job) error {
	start := time.Now()
	log.Printf("job: start name=%s id=%s", jc.Name, jc.ID)

	b, err := runExtract(ctx, jc, j)
	if err != nil {
		return err
	}
	b, err = runTransform(ctx, jc, j, b)
	if err != nil {
		return err
	}
	if err := runLoad(ctx, jc, j, b); err != nil {
		return err
	}

	log.Printf("job: done name=%s id=%s elapsed=%s", jc.Name, jc.ID, time.Since(start).Truncate(time.Millisecond))
	return nil
}

func runExtract(ctx context.Context, jc Context, j Job) (*batch.Batch, error) {
	t0 := time.Now()
	b, err := j.Extract(ctx, jc)
	metrics.RecordStep(jc.Name, "extract", err, time.Since(t0))
	if err != nil {
		log.Printf("job: extract failed name=%s id=%s err=%v", jc.Name, jc.ID, err)
		return nil, fmt.Errorf("job %s: extract: %w", jc.Name, err)
	}
	metrics.RecordRows(jc.Name, "read", int64(b.Len()))
	log.Printf("job: extract name=%s id=%s rows=%d elapsed=%s",
		jc.Name, jc.ID, b.Len(), time.Since(t0).Truncate(time.Millisecond))
	return b, nil
}

func runTransform(ctx context.Context, jc Context, j Job, in *batch.Batch) (*batch.Batch, error) {
	t0 := time.Now()
	b, err := j.Transform(ctx, jc, in)
	metrics.RecordStep(jc.Name, "transform", err, time.Since(t0))
	if err != nil {
		log.Printf("job: transform failed name=%s id=%s err=%v", jc.Name, jc.ID, err)
		return nil, fmt.Errorf("job %s: transform: %w", jc.Name, err)
	}
	metrics.RecordRows(jc.Name, "kept", int64(b.Len()))
	log.Printf("job: transform name=%s id=%s in=%d out=%d elapsed=%s",
		jc.Name, jc.ID, in.Len(), b.Len(), time.Since(t0).Truncate(time.Millisecond))
	return b, nil
}

func runLoad(ctx context.Context, jc Context, j Job, b *batch.Batch) error {
	t0 := time.Now()
	err := j.Load(ctx, jc, b)
	metrics.RecordStep(jc.Name, "load", err, time.Since(t0))
	if err != nil {
		log.Printf("job: load failed name=%s id=%s err=%v", jc.Name, jc.ID, err)
		return fmt.Errorf("job %s: load: %w", jc.Name, err)
	}
	log.Printf("job: load name=%s id=%s rows=%d elapsed=%s",
		jc.Name, jc.ID, b.Len(), time.Since(t0).Truncate(time.Millisecond))
	return nil
}
