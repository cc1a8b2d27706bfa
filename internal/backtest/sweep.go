package backtest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	JOB_CHAN_SIZE = 100
)

// Job is one entry of a parameter sweep.
type Job struct {
	Name    string
	Request Request
}

type task struct {
	index int
	job   Job
}

// WorkerPool runs sweep jobs on a fixed number of goroutines supervised by
// a tomb. The first failing job kills the tomb and stops the others.
type WorkerPool struct {
	n     int       // number of workers
	tasks chan task // pending jobs
}

func NewWorkerPool(size int) WorkerPool {
	if size < 1 {
		size = 1
	}
	return WorkerPool{
		n:     size,
		tasks: make(chan task, JOB_CHAN_SIZE),
	}
}

// Sweep runs every job in isolation and returns the results in job order.
// Runs share no state: each one builds its own tracker, engine and OMS.
func Sweep(ctx context.Context, jobs []Job, workers int) ([]Result, error) {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	pool := NewWorkerPool(min(workers, len(jobs)))
	t, ctx := tomb.WithContext(ctx)

	for id := range pool.n {
		t.Go(func() error {
			return pool.worker(t, ctx, id, results)
		})
	}
	t.Go(func() error {
		defer close(pool.tasks)
		for i, job := range jobs {
			select {
			case <-t.Dying():
				return nil
			case pool.tasks <- task{index: i, job: job}:
			}
		}
		return nil
	})

	if err := t.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Workers wait on jobs and write each result into its own slot.
func (pool *WorkerPool) worker(t *tomb.Tomb, ctx context.Context, id int, results []Result) error {
	for task := range pool.tasks {
		select {
		case <-t.Dying():
			return nil
		default:
		}
		result, err := Run(ctx, task.job.Request)
		if err != nil {
			log.Error().Err(err).Int("worker", id).Str("job", task.job.Name).Msg("worker exiting")
			return fmt.Errorf("sweep job %q: %w", task.job.Name, err)
		}
		results[task.index] = result
	}
	return nil
}
