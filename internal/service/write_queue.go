package service

import (
	"context"
	"sync"
)

// writeQueue runs remote writes one at a time in the order they were pushed.
// The queue is unbounded so producers never block on the network.
type writeQueue struct {
	mu   sync.Mutex
	jobs []func(ctx context.Context)
	wake chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{wake: make(chan struct{}, 1)}
}

func (q *writeQueue) push(job func(ctx context.Context)) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *writeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// run executes jobs until ctx is done. Jobs still queued at that point are dropped;
// their local records stay cached for the next replay.
func (q *writeQueue) run(ctx context.Context) {
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			q.mu.Lock()
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}
}
