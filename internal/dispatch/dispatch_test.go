package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCodec is a minimal Codec collaborator driven entirely by test setup,
// standing in for the external XDR/auth library the decoder depends on.
type fakeCodec struct {
	mu          sync.Mutex
	result      *DecodeResult
	decodeErr   error
	checksumOK  bool
	lookupFD    *FuncDesc
	lookupOK    bool
	rejects     int
	decodeFails int
}

func (c *fakeCodec) Decode(x *Xprt, data []byte) (*DecodeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decodeErr != nil {
		return nil, c.decodeErr
	}
	return c.result, nil
}

func (c *fakeCodec) Checksum(x *Xprt, result *DecodeResult) bool {
	return c.checksumOK
}

func (c *fakeCodec) Lookup(program, version, procedure uint32) (*FuncDesc, bool) {
	return c.lookupFD, c.lookupOK
}

func (c *fakeCodec) WriteAuthReject(x *Xprt, xid uint32, authStat uint32) error {
	c.mu.Lock()
	c.rejects++
	c.mu.Unlock()
	return nil
}

func (c *fakeCodec) WriteDecodeError(x *Xprt, xid uint32) error {
	c.mu.Lock()
	c.decodeFails++
	c.mu.Unlock()
	return nil
}

// fakeAuth lets each test dictate the auth verdict without a real
// AUTH_UNIX/RPCSEC_GSS implementation.
type fakeAuth struct {
	noDispatch bool
	err        error
}

func (a *fakeAuth) Authenticate(req *Req, result *DecodeResult) (bool, error) {
	return a.noDispatch, a.err
}

func newTestXprt() *Xprt {
	return NewXprt(FamilyInet4, RoleConnected, nil)
}

// S1: a MOUNT-flagged request lands only in the MOUNT queue and a worker
// can dequeue it immediately.
func TestScenarioS1MountClassification(t *testing.T) {
	mq := NewMultiQueue(nil)
	codec := &fakeCodec{
		result:     &DecodeResult{XID: 1, Lookahead: Lookahead{MountOp: true}},
		checksumOK: true,
		lookupFD:   &FuncDesc{Name: "MNT"},
		lookupOK:   true,
	}
	d := NewDecoder(codec, &fakeAuth{}, mq, nil)

	x := newTestXprt()
	d.Decode(x, nil)

	assert.Equal(t, 1, mq.QueueSize(QueueMount))
	assert.Equal(t, 0, mq.QueueSize(QueueCall))
	assert.Equal(t, 0, mq.QueueSize(QueueLowLatency))
	assert.Equal(t, 0, mq.QueueSize(QueueHighLatency))

	entry := NewWaitEntry()
	req := mq.Dequeue(entry, func() bool { return true })
	require.NotNil(t, req)
	assert.Equal(t, uint32(1), req.XID)
}

// S2: a HIGH_LATENCY-flagged (non-MOUNT) request lands only in HIGH_LATENCY.
func TestScenarioS2HighLatencyClassification(t *testing.T) {
	mq := NewMultiQueue(nil)
	codec := &fakeCodec{
		result:     &DecodeResult{XID: 2, Lookahead: Lookahead{HighLatency: true}},
		checksumOK: true,
		lookupFD:   &FuncDesc{Name: "WRITE"},
		lookupOK:   true,
	}
	d := NewDecoder(codec, &fakeAuth{}, mq, nil)

	d.Decode(newTestXprt(), nil)

	assert.Equal(t, 0, mq.QueueSize(QueueMount))
	assert.Equal(t, 0, mq.QueueSize(QueueCall))
	assert.Equal(t, 0, mq.QueueSize(QueueLowLatency))
	assert.Equal(t, 1, mq.QueueSize(QueueHighLatency))
}

// S3: five requests pushed to LOW's producer with no consumer activity;
// the first dequeue splices the whole backlog and returns the head, the
// second pops without another splice, and order matches insertion.
func TestScenarioS3Splice(t *testing.T) {
	mq := NewMultiQueue(nil)
	reqs := make([]*Req, 5)
	for i := range reqs {
		reqs[i] = NewReq(KindNFSRequest, nil)
		reqs[i].XID = uint32(i)
		mq.queues[QueueLowLatency].producer.pushTail(reqs[i])
	}

	qp := mq.queues[QueueLowLatency]
	assert.Equal(t, 5, qp.producer.sizeLocked()+func() int {
		qp.consumer.mu.Lock()
		defer qp.consumer.mu.Unlock()
		return qp.consumer.sizeLocked()
	}())

	first := qp.dequeue()
	require.NotNil(t, first)
	assert.Equal(t, uint32(0), first.XID)
	qp.consumer.mu.Lock()
	assert.Equal(t, 4, qp.consumer.sizeLocked())
	qp.consumer.mu.Unlock()
	qp.producer.mu.Lock()
	assert.Equal(t, 0, qp.producer.sizeLocked())
	qp.producer.mu.Unlock()

	second := qp.dequeue()
	require.NotNil(t, second)
	assert.Equal(t, uint32(1), second.XID)
	qp.consumer.mu.Lock()
	assert.Equal(t, 3, qp.consumer.sizeLocked())
	qp.consumer.mu.Unlock()
}

// S4: three workers park on an empty multi-queue; enqueueing one request
// wakes exactly one of them, leaving the other two parked.
func TestScenarioS4WaiterHandoff(t *testing.T) {
	mq := NewMultiQueue(nil)

	type result struct {
		entry *WaitEntry
		req   *Req
	}
	results := make(chan result, 3)
	entries := make([]*WaitEntry, 3)
	for i := range entries {
		entries[i] = NewWaitEntry()
		go func(e *WaitEntry) {
			r := mq.Dequeue(e, func() bool { return false })
			results <- result{entry: e, req: r}
		}(entries[i])
	}

	require.Eventually(t, func() bool { return mq.Waitlist().Waiters() == 3 }, time.Second, time.Millisecond)

	mq.Enqueue(newTestReq(KindNFSRequest, Lookahead{}))

	select {
	case r := <-results:
		require.NotNil(t, r.req)
	case <-time.After(time.Second):
		t.Fatal("no worker woke up after enqueue")
	}

	assert.Equal(t, 2, mq.Waitlist().Waiters())

	select {
	case <-results:
		t.Fatal("a second worker woke up for a single enqueued request")
	case <-time.After(50 * time.Millisecond):
	}
}

// S5: a message with an unrecognized auth flavor produces an auth-reject
// reply on the wire and nothing is enqueued.
func TestScenarioS5AuthReject(t *testing.T) {
	mq := NewMultiQueue(nil)
	codec := &fakeCodec{
		result: &DecodeResult{XID: 5, CredFlavor: 99},
	}
	d := NewDecoder(codec, &fakeAuth{err: errors.New("auth: unsupported flavor 99")}, mq, nil)

	d.Decode(newTestXprt(), nil)

	assert.Equal(t, 1, codec.rejects)
	for k := QueueKind(0); k < numQueues; k++ {
		assert.Equal(t, 0, mq.QueueSize(k))
	}
}

// S6: a GSS negotiation message reports no_dispatch; the core enqueues
// nothing and does not write any reply of its own (the auth collaborator
// already replied).
func TestScenarioS6GSSNegotiationNoDispatch(t *testing.T) {
	mq := NewMultiQueue(nil)
	codec := &fakeCodec{
		result: &DecodeResult{XID: 6, CredFlavor: 6}, // AUTH_RPCSEC_GSS
	}
	d := NewDecoder(codec, &fakeAuth{noDispatch: true}, mq, nil)

	d.Decode(newTestXprt(), nil)

	assert.Equal(t, 0, codec.rejects)
	assert.Equal(t, 0, codec.decodeFails)
	for k := QueueKind(0); k < numQueues; k++ {
		assert.Equal(t, 0, mq.QueueSize(k))
	}
}

// S7: with workers parked, stopping the pool returns every worker within
// the cooperative-shutdown window and Dequeue stops handing out work.
func TestScenarioS7Shutdown(t *testing.T) {
	mq := NewMultiQueue(nil)
	pool := NewWorkerPool(mq, nil)
	pool.Start(3)

	require.Eventually(t, func() bool { return mq.Waitlist().Waiters() == 3 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(6 * time.Second):
		t.Fatal("worker pool did not shut down within the cooperative window")
	}

	assert.Equal(t, int32(0), pool.ActiveWorkers())
}
