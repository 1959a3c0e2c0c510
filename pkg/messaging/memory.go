package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrBrokerClosed = errors.New("broker closed")

// MemoryOption configures a MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithMaxDeliveries sets how many times a message is handed to a failing
// handler before it is dead-lettered.
func WithMaxDeliveries(n int) MemoryOption {
	return func(b *MemoryBroker) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithRedeliveryDelay postpones redeliveries by d.
func WithRedeliveryDelay(d time.Duration) MemoryOption {
	return func(b *MemoryBroker) { b.redeliveryDelay = d }
}

// WithMemoryLogger sets the broker logger.
func WithMemoryLogger(l *zap.Logger) MemoryOption {
	return func(b *MemoryBroker) { b.logger = l }
}

type memoryDelivery struct {
	env     Envelope
	attempt int
}

type memoryQueue struct {
	name        string
	patterns    []string
	pending     []memoryDelivery
	outstanding int
	handler     Handler
	wake        chan struct{}
	dead        []DeadLetter
}

func (q *memoryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// MemoryBroker is an in-process topic broker with durable named queues.
// A queue exists from its first DeclareQueue or Subscribe and from then on
// receives every matching publish, whether or not a handler is attached.
// Each queue is drained by one worker in publish order.
type MemoryBroker struct {
	mu              sync.Mutex
	idle            *sync.Cond
	queues          map[string]*memoryQueue
	order           []string
	maxDeliveries   int
	redeliveryDelay time.Duration
	logger          *zap.Logger
	closed          bool
	done            chan struct{}
	wg              sync.WaitGroup
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		queues:        make(map[string]*memoryQueue),
		maxDeliveries: DefaultMaxDeliveries,
		logger:        zap.NewNop(),
		done:          make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DeclareQueue creates queue bound to routingKeys without attaching a handler.
// Re-declaring adds bindings.
func (b *MemoryBroker) DeclareQueue(queue string, routingKeys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.declareLocked(queue, routingKeys)
	return nil
}

func (b *MemoryBroker) declareLocked(queue string, routingKeys []string) *memoryQueue {
	q, ok := b.queues[queue]
	if !ok {
		q = &memoryQueue{name: queue, wake: make(chan struct{}, 1)}
		b.queues[queue] = q
		b.order = append(b.order, queue)
	}
	for _, rk := range routingKeys {
		if !contains(q.patterns, rk) {
			q.patterns = append(q.patterns, rk)
		}
	}
	return q
}

// Publish enqueues env on every queue bound to routingKey.
func (b *MemoryBroker) Publish(ctx context.Context, routingKey string, env Envelope) error {
	if err := CheckRoutingKey(routingKey, &env); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for _, name := range b.order {
		q := b.queues[name]
		if !MatchAny(q.patterns, routingKey) {
			continue
		}
		q.pending = append(q.pending, memoryDelivery{env: env, attempt: 1})
		q.outstanding++
		q.notify()
	}
	return nil
}

// Subscribe attaches h to queue and starts its worker. A queue has at most one handler.
func (b *MemoryBroker) Subscribe(ctx context.Context, queue string, routingKeys []string, h Handler) error {
	if queue == "" {
		return errors.New("queue name is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	q := b.declareLocked(queue, routingKeys)
	if q.handler != nil {
		return fmt.Errorf("queue %s already has a consumer", queue)
	}
	q.handler = h
	q.notify()

	b.wg.Add(1)
	go b.run(ctx, q)
	return nil
}

func (b *MemoryBroker) run(ctx context.Context, q *memoryQueue) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			b.detach(q)
			return
		case <-b.done:
			return
		case <-q.wake:
		}

		for {
			b.mu.Lock()
			if len(q.pending) == 0 || ctx.Err() != nil || b.closed {
				b.mu.Unlock()
				break
			}
			d := q.pending[0]
			q.pending = q.pending[1:]
			h := q.handler
			b.mu.Unlock()

			err := SafeHandle(WithDelivery(ctx, Delivery{Queue: q.name, Attempt: d.attempt}), h, d.env)
			b.settle(q, d, err)
		}
	}
}

func (b *MemoryBroker) settle(q *memoryQueue, d memoryDelivery, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil:
		q.outstanding--
	case ShouldDeadLetter(d.attempt, b.maxDeliveries, err):
		q.outstanding--
		q.dead = append(q.dead, DeadLetter{
			Queue:    q.name,
			Envelope: d.env,
			Reason:   err.Error(),
			Attempts: d.attempt,
			At:       time.Now().UTC(),
		})
		b.logger.Warn("Message dead-lettered",
			zap.String("queue", q.name),
			zap.String("routing_key", d.env.RoutingKey),
			zap.String("correlation_id", d.env.CorrelationID),
			zap.Int("attempts", d.attempt),
			zap.Error(err),
		)
	default:
		d.attempt++
		if b.redeliveryDelay > 0 {
			time.AfterFunc(b.redeliveryDelay, func() { b.requeue(q, d) })
		} else {
			q.pending = append(q.pending, d)
			q.notify()
		}
	}
	b.idle.Broadcast()
}

func (b *MemoryBroker) requeue(q *memoryQueue, d memoryDelivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	q.pending = append(q.pending, d)
	q.notify()
}

func (b *MemoryBroker) detach(q *memoryQueue) {
	b.mu.Lock()
	q.handler = nil
	b.mu.Unlock()
	b.idle.Broadcast()
}

// Flush blocks until every queue that has a consumer has no queued or
// in-flight messages.
func (b *MemoryBroker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.mu.Lock()
		for !b.closed && b.busyLocked() {
			b.idle.Wait()
		}
		b.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) busyLocked() bool {
	for _, q := range b.queues {
		if q.handler != nil && q.outstanding > 0 {
			return true
		}
	}
	return false
}

// DeadLetters returns a copy of the dead-letter list for queue.
func (b *MemoryBroker) DeadLetters(queue string) []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	return append([]DeadLetter(nil), q.dead...)
}

// Pending returns the number of messages waiting in queue.
func (b *MemoryBroker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.pending)
	}
	return 0
}

// Replay moves queue's dead letters back onto it with a fresh delivery budget.
func (b *MemoryBroker) Replay(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0
	}
	n := len(q.dead)
	for _, dl := range q.dead {
		q.pending = append(q.pending, memoryDelivery{env: dl.Envelope, attempt: 1})
		q.outstanding++
	}
	q.dead = nil
	q.notify()
	return n
}

// Close stops all workers. Queued messages are discarded.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	b.idle.Broadcast()
	b.wg.Wait()
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
