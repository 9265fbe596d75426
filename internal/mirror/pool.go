package mirror

import (
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism is the number of workers of a Pool created with a
// non-positive parallelism.
const DefaultParallelism = defaultMaxConns

// Job is a unit of work run by a Pool.
type Job func() error

type task struct {
	job  Job
	done func(error)
}

// Pool runs jobs with bounded concurrency.
//
// Submit never blocks; jobs wait in a queue drained by exactly
// parallelism workers. A failing or panicking job is recorded and does
// not affect other jobs.
type Pool struct {
	parallelism int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []task
	group    *errgroup.Group // nil while no workers run
	draining bool
	failures []error
}

// NewPool creates a Pool with parallelism workers.
func NewPool(parallelism int) *Pool {
	if parallelism < 1 {
		parallelism = DefaultParallelism
	}

	p := &Pool{parallelism: parallelism}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Parallelism returns the maximum number of concurrently running jobs.
func (p *Pool) Parallelism() int {
	return p.parallelism
}

// Submit enqueues job. done, if not nil, is called exactly once after the
// job finished, with the job's error.
func (p *Pool) Submit(job Job, done func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = append(p.queue, task{job: job, done: done})
	if p.group == nil {
		p.startWorkers()
	}
	p.cond.Signal()
}

// startWorkers must be called with p.mu held.
func (p *Pool) startWorkers() {
	g := new(errgroup.Group)
	for i := 0; i < p.parallelism; i++ {
		g.Go(p.worker)
	}
	p.group = g
}

func (p *Pool) worker() error {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.draining {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		t := p.queue[0]
		p.queue[0] = task{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		err := p.run(t.job)
		if err != nil {
			p.mu.Lock()
			p.failures = append(p.failures, err)
			p.mu.Unlock()
		}
		if t.done != nil {
			t.done(err)
		}
	}
}

func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job panicked: %v", r)
		}
	}()
	return job()
}

// Wait blocks until every job submitted before the call has completed
// and returns all failures recorded so far. The workers exit once the
// queue is empty; the pool can be reused.
func (p *Pool) Wait() []error {
	p.mu.Lock()
	g := p.group
	if g == nil {
		p.mu.Unlock()
		return p.Failures()
	}
	p.draining = true
	p.cond.Broadcast()
	p.mu.Unlock()

	// never cancel or fail siblings; workers return nil
	_ = g.Wait()

	p.mu.Lock()
	if p.group == g {
		p.group = nil
		p.draining = false
		// jobs submitted after the last worker exited
		if len(p.queue) > 0 {
			p.startWorkers()
		}
	}
	p.mu.Unlock()

	return p.Failures()
}

// Failures returns the errors of the failed jobs.
func (p *Pool) Failures() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.failures...)
}
