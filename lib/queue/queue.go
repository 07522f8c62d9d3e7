// Package queue provides the lock-free Multi-Producer Single-Consumer (MPSC)
// operation queue feeding the synchronization scheduler.
//
// Features and Guarantees:
//
//   - Lock-Free writes: atomic operations for high throughput even when many
//     subsystems report changes concurrently
//   - Unbounded Size: the queue can grow to any size, limited only by
//     available memory; backpressure is the producers' responsibility and
//     the exported length is the safety valve operators should watch
//   - Small Footprint: two pointers of overhead per queued operation
//   - Thread-Safe writes: any number of goroutines may Push() concurrently
//   - Single Consumer: designed for one goroutine (the scheduling loop) to
//     drain via TryDequeue()
//   - Per-Producer FIFO: operations pushed by the same goroutine are
//     delivered in push order. Across different producers no ordering is
//     guaranteed, which matches the core's contract (ordering only per
//     subsystem, each fed by a single forwarder goroutine).
package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node struct {
	value *SyncOperation
	next  atomic.Pointer[node]
}

// OpQueue is a lock-free multi-producer single-consumer operation queue.
// Implementation uses a linked list of nodes with atomic operations
// for concurrent push operations without locks.
type OpQueue struct {
	head     atomic.Pointer[node]
	tail     atomic.Pointer[node]
	out      chan *SyncOperation
	size     atomic.Int64
	consumer sync.WaitGroup
	closed   atomic.Bool // atomic flag

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// NewOpQueue creates a new lock-free multi-producer single-consumer
// operation queue.
func NewOpQueue() *OpQueue {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node{}

	q := &OpQueue{
		out: make(chan *SyncOperation),
	}

	// Initialize condition variable
	q.cond = sync.NewCond(&q.mu)

	// Set the initial head and tail to the sentinel node
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds an operation to the queue.
// Returns true if the operation was added, or false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *OpQueue) Push(op *SyncOperation) bool {

	if op == nil {
		return false
	}

	if q.closed.Load() {
		return false
	}

	newNode := &node{value: op}

	var tailNode *node
	var backoff uint8 = 0

	for {
		tailNode = q.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				/*
				 Successfully appended, now try to update tail
				 Note: CAS may fail if another producer helps update tail,
				 but that's okay - tail will still be updated eventually
				*/
				q.tail.CompareAndSwap(tailNode, newNode)

				q.size.Add(1)

				// Signal the consumer that new data is available. The lock
				// pairs the signal with the consumer's empty-check, so a
				// wakeup cannot fall between its check and its Wait.
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()

				return true
			}
		} else {
			// help update the tail pointer if another producer has already appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		/*
		 Exponential backoff to handle contention:
		  - At low contention (<10 retries): spin to avoid scheduling overhead
		  - At higher contention: yield the processor so other goroutines progress
		  - Backoff grows exponentially with each retry, avoiding the thundering
		    herd where all producers retry simultaneously after a failed CAS
		*/

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume continuously sends operations from the linked list to the output
// channel and frees memory
func (q *OpQueue) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		// Process all available items in the queue
		hasItems := false

		// Try to process items
		for {
			head := q.head.Load()
			next := head.next.Load()

			if next == nil {
				break // No more items available
			}

			hasItems = true

			// Capture value before updating pointers
			value := next.value

			// move head pointer (free up memory)
			q.head.Store(next)

			// Send the value to the consumer
			q.out <- value

			// help go gc - safe to clear after sending
			next.value = nil
		}

		// Exit if closed and no more items
		if !hasItems && q.closed.Load() {
			return
		}

		// If no items were processed, wait for signal
		if !hasItems {
			q.mu.Lock()
			// Double-check condition after acquiring lock
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				// Wait for signal (releases lock while waiting)
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// TryDequeue removes and returns the next operation without blocking.
// The boolean return value indicates whether an operation was available.
//
// Thread-safety: Must only be called from the single consumer goroutine.
func (q *OpQueue) TryDequeue() (*SyncOperation, bool) {
	select {
	case op, ok := <-q.out:
		if !ok || op == nil {
			return nil, false
		}
		q.size.Add(-1)
		return op, true
	default:
		return nil, false
	}
}

// Close closes the queue, preventing further writes.
// Any operations already in the queue will still be delivered to the consumer.
func (q *OpQueue) Close() {
	q.closed.Store(true)

	// Wake up the consumer if it's waiting
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed.
func (q *OpQueue) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of queued but not yet dequeued operations.
func (q *OpQueue) Len() int {
	n := q.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
