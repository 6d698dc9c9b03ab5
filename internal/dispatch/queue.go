package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// subQueue is an ordered FIFO of *Req guarded by its own lock. Both the
// producer and consumer sub-queues of a QueuePair are this type; spec.md
// recommends a spinlock but only requires that the critical section stay
// O(1) — a plain mutex is what the teacher reaches for everywhere else in
// this codebase for comparably small critical sections (§9 DESIGN NOTES),
// so that is what this uses.
type subQueue struct {
	mu    sync.Mutex
	items []*Req
}

func (q *subQueue) pushTail(r *Req) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// popHeadLocked and sizeLocked assume the caller holds q.mu.
func (q *subQueue) popHeadLocked() *Req {
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r
}

func (q *subQueue) sizeLocked() int {
	return len(q.items)
}

// QueuePair is one of the four fixed queues (§3, §4.4): a producer
// sub-queue that Enqueue appends to, and a consumer sub-queue that
// workers drain, with an O(1) splice from producer to consumer when the
// consumer runs dry.
type QueuePair struct {
	kind     QueueKind
	producer subQueue
	consumer subQueue
}

// size reports producer.size + consumer.size, each read under its own
// lock — used only for the outstanding-request estimator (§4.4), which
// is documented as a hint and not a synchronization primitive, so a
// torn read across the two locks is acceptable.
func (qp *QueuePair) size() int {
	qp.producer.mu.Lock()
	p := qp.producer.sizeLocked()
	qp.producer.mu.Unlock()

	qp.consumer.mu.Lock()
	c := qp.consumer.sizeLocked()
	qp.consumer.mu.Unlock()

	return p + c
}

// dequeue implements the per-queue half of §4.4's dequeue path: try the
// consumer first, then splice the producer onto it. Locking order is
// consumer then producer, matching §5's "Splice acquires consumer THEN
// producer (never the reverse)".
func (qp *QueuePair) dequeue() *Req {
	qp.consumer.mu.Lock()
	if r := qp.consumer.popHeadLocked(); r != nil {
		qp.consumer.mu.Unlock()
		return r
	}

	qp.producer.mu.Lock()
	if len(qp.producer.items) == 0 {
		qp.producer.mu.Unlock()
		qp.consumer.mu.Unlock()
		return nil
	}
	// O(1) splice: move the whole producer slice onto the (empty)
	// consumer and clear the producer.
	qp.consumer.items = qp.producer.items
	qp.producer.items = nil
	qp.producer.mu.Unlock()

	r := qp.consumer.popHeadLocked()
	qp.consumer.mu.Unlock()
	return r
}

// MultiQueue holds the four fixed queues and the shared waitlist that
// worker pool handoff operates on (§3, §4.4, §4.5).
type MultiQueue struct {
	queues   [numQueues]*QueuePair
	waitlist *Waitlist

	enqueued atomic.Uint64
	dequeued atomic.Uint64

	// slot drives the weighted round-robin starting index for dequeue
	// (§4.4 "Weighting").
	slot atomic.Uint64

	// estimator sampling: outstanding-request estimate is refreshed only
	// every 10th dequeue call (§4.4).
	dequeueCalls atomic.Uint64
	outstanding  atomic.Int64

	metrics *Metrics
}

// NewMultiQueue constructs the four queues and an empty waitlist.
func NewMultiQueue(metrics *Metrics) *MultiQueue {
	mq := &MultiQueue{
		waitlist: NewWaitlist(),
		metrics:  metrics,
	}
	for k := QueueKind(0); k < numQueues; k++ {
		mq.queues[k] = &QueuePair{kind: k}
	}
	return mq
}

// Classify implements the §4.4 classification table, returning the
// queue a Req belongs on, or false if the request should be dropped.
func Classify(kind RequestKind, la Lookahead) (QueueKind, bool) {
	switch kind {
	case KindNFSRequest:
		if la.MountOp {
			return QueueMount, true
		}
		if la.HighLatency {
			return QueueHighLatency, true
		}
		return QueueLowLatency, true
	case KindNFSCall:
		return QueueCall, true
	case Kind9PRequest:
		return QueueLowLatency, true
	default:
		return 0, false
	}
}

// Enqueue classifies req, appends it to the target queue's producer
// sub-queue, and attempts a single-waiter handoff (§4.4). Requests whose
// kind classifies to "drop" are a no-op and the caller is expected to
// have already released its extra reference in that case (the decoder
// never calls Enqueue for KindOther).
func (mq *MultiQueue) Enqueue(req *Req) {
	qk, ok := Classify(req.Kind, req.Lookahead)
	if !ok {
		return
	}

	req.EnqueuedAt = time.Now()
	mq.queues[qk].producer.pushTail(req)
	mq.enqueued.Add(1)
	if mq.metrics != nil {
		mq.metrics.ObserveEnqueue(qk)
	}

	mq.waitlist.Handoff()
}

// Dequeue implements the worker side of §4.4/§4.5: scan the four queues
// in weighted round robin starting at a rotating slot; if all are empty,
// park on the waitlist until woken or until should_break reports true.
// Returns nil only when cancellation was requested while parked.
func (mq *MultiQueue) Dequeue(entry *WaitEntry, shouldBreak func() bool) *Req {
	for {
		start := int(mq.slot.Add(1)-1) % int(numQueues)
		for i := 0; i < int(numQueues); i++ {
			qk := QueueKind((start + i) % int(numQueues))
			if r := mq.queues[qk].dequeue(); r != nil {
				mq.dequeued.Add(1)
				mq.sampleOutstanding()
				if mq.metrics != nil {
					mq.metrics.ObserveDequeue(qk)
				}
				return r
			}
		}

		if mq.waitlist.Park(entry, 5*time.Second, shouldBreak) {
			continue // woken by a producer; restart the scan from the top
		}
		return nil // cancelled while parked
	}
}

// sampleOutstanding refreshes the outstanding-request estimate every
// 10th dequeue call, per §4.4.
func (mq *MultiQueue) sampleOutstanding() {
	if mq.dequeueCalls.Add(1)%10 != 0 {
		return
	}
	var total int
	for _, qp := range mq.queues {
		total += qp.size()
	}
	mq.outstanding.Store(int64(total))
	if mq.metrics != nil {
		mq.metrics.SetOutstanding(total)
	}
}

// OutstandingEstimate returns the last sampled outstanding-request
// count (§6: outstanding_reqs_est()). It is a hint, not exact.
func (mq *MultiQueue) OutstandingEstimate() int64 {
	return mq.outstanding.Load()
}

// Enqueued returns the lifetime enqueued_reqs counter (§6).
func (mq *MultiQueue) Enqueued() uint64 { return mq.enqueued.Load() }

// Dequeued returns the lifetime dequeued_reqs counter (§6).
func (mq *MultiQueue) Dequeued() uint64 { return mq.dequeued.Load() }

// QueueSize exposes one queue's current size (producer+consumer), for
// tests verifying S1-S3 in spec.md §8.
func (mq *MultiQueue) QueueSize(k QueueKind) int {
	return mq.queues[k].size()
}

// Waitlist exposes the shared waitlist so the worker pool can allocate
// and register wait entries.
func (mq *MultiQueue) Waitlist() *Waitlist { return mq.waitlist }
