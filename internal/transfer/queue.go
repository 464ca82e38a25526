package transfer

import (
	"context"
	"errors"
	"sync"
)

// Queue carries jobs from the HTTP surface to transfer workers. Each job is
// delivered to exactly one subscriber.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	Subscribe() Subscription
}

// Subscription represents an active job stream.
type Subscription interface {
	Jobs() <-chan Job
	Close()
}

// QueueTransporter publishes jobs to a queue for asynchronous delivery.
type QueueTransporter struct {
	queue Queue
}

// NewQueueTransporter wraps queue as an AssetTransporter.
func NewQueueTransporter(queue Queue) *QueueTransporter {
	return &QueueTransporter{queue: queue}
}

func (t *QueueTransporter) Transfer(ctx context.Context, job Job) (Result, error) {
	if err := t.queue.Publish(ctx, job); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusQueued}, nil
}

// MemoryQueue is a single-process work queue backed by a buffered channel.
type MemoryQueue struct {
	jobs   chan Job
	closed chan struct{}
	once   sync.Once
}

// NewMemoryQueue initialises an in-memory queue holding up to buffer pending
// jobs.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryQueue{
		jobs:   make(chan Job, buffer),
		closed: make(chan struct{}),
	}
}

// Publish enqueues job, waiting for room until ctx is done.
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many jobs wait for a subscriber.
func (q *MemoryQueue) Pending() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Subscribe() Subscription {
	sub := &memorySubscription{
		queue: q,
		ch:    make(chan Job),
		done:  make(chan struct{}),
	}
	go sub.run()
	return sub
}

// Close stops every subscription. Pending jobs are discarded.
func (q *MemoryQueue) Close() {
	q.once.Do(func() { close(q.closed) })
}

type memorySubscription struct {
	queue *MemoryQueue
	ch    chan Job
	done  chan struct{}
	once  sync.Once
}

func (s *memorySubscription) Jobs() <-chan Job {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) run() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case <-s.queue.closed:
			return
		case job := <-s.queue.jobs:
			select {
			case s.ch <- job:
			case <-s.done:
				s.requeue(job)
				return
			case <-s.queue.closed:
				return
			}
		}
	}
}

func (s *memorySubscription) requeue(job Job) {
	select {
	case s.queue.jobs <- job:
	default:
	}
}
