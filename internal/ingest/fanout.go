package ingest

import (
	"context"
	"sync"

	"dota-ingest/internal/opendota"
)

const jobBuffer = 100

// matchJob is one match selected for detail lookup
type matchJob struct {
	Page    int
	Summary opendota.MatchSummary
}

// fanout is a fixed pool of workers consuming a buffered job channel
type fanout struct {
	jobs chan matchJob
	wg   sync.WaitGroup

	abandoned func()
}

// startFanout launches workers that call handle for each job. Jobs still
// queued once ctx is done are passed to abandoned instead.
func startFanout(ctx context.Context, workers int, handle func(context.Context, matchJob), abandoned func()) *fanout {
	f := &fanout{
		jobs:      make(chan matchJob, jobBuffer),
		abandoned: abandoned,
	}
	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go f.worker(ctx, handle)
	}
	return f
}

func (f *fanout) worker(ctx context.Context, handle func(context.Context, matchJob)) {
	defer f.wg.Done()

	for job := range f.jobs {
		if ctx.Err() != nil {
			f.abandoned()
			continue
		}
		handle(ctx, job)
	}
}

// submit queues a job, blocking while the buffer is full. It reports false
// if ctx ended first.
func (f *fanout) submit(ctx context.Context, job matchJob) bool {
	select {
	case f.jobs <- job:
		return true
	case <-ctx.Done():
		f.abandoned()
		return false
	}
}

// close stops accepting jobs and waits for the workers to drain the queue
func (f *fanout) close() {
	close(f.jobs)
	f.wg.Wait()
}
