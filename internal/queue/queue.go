// Package queue owns the bounded per-device ingress buffer.
//
// Ownership boundary:
// - FIFO admission with a fixed maximum depth
// - overflow policy: reject-new, drop-oldest, block-with-timeout
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrQueueFull     = errors.New("queue: full")
	ErrClosed        = errors.New("queue: closed")
	ErrInvalidConfig = errors.New("queue: invalid config")
)

// OverflowPolicy selects what Enqueue does when the queue is at depth.
type OverflowPolicy string

const (
	// OverflowReject signals ErrQueueFull to the caller immediately.
	OverflowReject OverflowPolicy = "reject"
	// OverflowDropOldest evicts the head to admit the new item. Used when
	// only the latest desired state matters, e.g. rapid toggling.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowBlock suspends the caller up to the configured bound.
	OverflowBlock OverflowPolicy = "block"
)

func ParsePolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case OverflowReject, OverflowDropOldest, OverflowBlock:
		return OverflowPolicy(s), nil
	default:
		return "", fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, s)
	}
}

// Queue is a bounded FIFO for one device. Ordering is preserved among
// accepted items; no ordering is defined across queues.
type Queue[T any] struct {
	ch      chan T
	policy  OverflowPolicy
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a queue of the given depth. timeout bounds Enqueue under
// OverflowBlock and is ignored by the other policies.
func New[T any](depth int, policy OverflowPolicy, timeout time.Duration) (*Queue[T], error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: depth must be positive", ErrInvalidConfig)
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == OverflowBlock && timeout <= 0 {
		return nil, fmt.Errorf("%w: block policy requires a positive timeout", ErrInvalidConfig)
	}
	return &Queue[T]{
		ch:      make(chan T, depth),
		policy:  policy,
		timeout: timeout,
		done:    make(chan struct{}),
	}, nil
}

// Enqueue admits item per the overflow policy.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- item:
		return nil
	default:
	}

	switch q.policy {
	case OverflowReject:
		return ErrQueueFull
	case OverflowDropOldest:
		for {
			select {
			case q.ch <- item:
				return nil
			default:
			}
			select {
			case <-q.ch: // evict head
			default:
			}
		}
	case OverflowBlock:
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		select {
		case q.ch <- item:
			return nil
		case <-timer.C:
			return ErrQueueFull
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrClosed
		}
	default:
		return fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, q.policy)
	}
}

// Dequeue blocks until an item is available, the context ends, or the
// queue is closed.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.done:
		return zero, ErrClosed
	}
}

// Drain returns everything currently buffered without blocking. Used at
// shutdown to resolve still-queued commands.
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		select {
		case item := <-q.ch:
			out = append(out, item)
		default:
			return out
		}
	}
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
