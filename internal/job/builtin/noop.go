// Package builtin registers the built-in job kinds with the job factory.
// Importing it for side effects makes "noop" and "sync" available:
//
//	import _ "etlkit/internal/job/builtin"
package builtin

import (
	"context"
	"log"

	"etlkit/internal/batch"
	"etlkit/internal/config"
	"etlkit/internal/job"
)

func init() {
	job.Register("noop", func(job.Runtime, config.Options) (job.Job, error) {
		return noopJob{}, nil
	})
}

// noopJob is the job template: every step logs and passes its input along.
// It exists so a config file can be smoke-tested end to end without touching
// a database.
type noopJob struct{}

func (noopJob) Extract(_ context.Context, jc job.Context) (*batch.Batch, error) {
	log.Printf("noop: extract name=%s id=%s", jc.Name, jc.ID)
	return batch.New(), nil
}

func (noopJob) Transform(_ context.Context, jc job.Context, b *batch.Batch) (*batch.Batch, error) {
	log.Printf("noop: transform name=%s id=%s", jc.Name, jc.ID)
	return b, nil
}

func (noopJob) Load(_ context.Context, jc job.Context, b *batch.Batch) error {
	log.Printf("noop: load name=%s id=%s", jc.Name, jc.ID)
	return nil
}
