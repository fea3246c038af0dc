package fabric

import (
	"sync"

	"go.uber.org/atomic"
)

// Context is one endpoint context: the bundle of send/receive completion
// queues (owned by the Provider) and tx/rx counters on which ordered RDMA
// operations are issued, per spec.md §4.2/§5. Many threads may post
// concurrently on one Context; Fence and Quiet take the write lock, every
// other primitive takes the read lock, matching the multi-thread contract.
type Context struct {
	Provider Provider

	mu sync.RWMutex // gates endpoint mutation (fence/quiet) vs. in-flight ops

	numTx       atomic.Uint64
	numRx       atomic.Uint64
	numTxFail   atomic.Uint64
	numRxFail   atomic.Uint64
	txSuccess   atomic.Uint64
	rxSuccess   atomic.Uint64

	opCounter atomic.Uint64 // source of unique OpContext tags

	// stash holds completions one waiter popped off the CQ on another
	// waiter's behalf. Many goroutines poll the same two queues; without
	// this handoff a completion consumed by the wrong goroutine would be
	// lost and its rightful waiter would spin until the timeout budget.
	stashMu sync.Mutex
	stash   [2]map[uint64]Completion // indexed by CQSide

	// seenTxFail/seenRxFail track the failure totals as of the last
	// Quiet, so Quiet raises only on failures accumulated since then.
	// Written under the write lock Quiet already holds.
	seenTxFail uint64
	seenRxFail uint64
}

func NewContext(p Provider) *Context {
	c := &Context{Provider: p}
	c.stash[CQTx] = make(map[uint64]Completion)
	c.stash[CQRx] = make(map[uint64]Completion)
	return c
}

// stashPut parks a completion that belongs to some other waiter on this
// context; stashTake is how that waiter eventually claims it.
func (c *Context) stashPut(side CQSide, comp Completion) {
	c.stashMu.Lock()
	c.stash[side][comp.OpContext] = comp
	c.stashMu.Unlock()
}

func (c *Context) stashTake(side CQSide, opContext uint64) bool {
	c.stashMu.Lock()
	_, ok := c.stash[side][opContext]
	if ok {
		delete(c.stash[side], opContext)
	}
	c.stashMu.Unlock()
	return ok
}

// NextOpContext returns a fresh tag for a to-be-posted operation.
func (c *Context) NextOpContext() uint64 {
	return c.opCounter.Inc()
}

func (c *Context) rlock()   { c.mu.RLock() }
func (c *Context) runlock() { c.mu.RUnlock() }
func (c *Context) wlock()   { c.mu.Lock() }
func (c *Context) wunlock() { c.mu.Unlock() }

// Stats is a snapshot of the running totals spec.md §4.2 requires each
// context to keep: {num_tx, num_rx, num_tx_fail, num_rx_fail}.
type Stats struct {
	NumTx     uint64
	NumRx     uint64
	NumTxFail uint64
	NumRxFail uint64
}

func (c *Context) Stats() Stats {
	return Stats{
		NumTx:     c.numTx.Load(),
		NumRx:     c.numRx.Load(),
		NumTxFail: c.numTxFail.Load(),
		NumRxFail: c.numRxFail.Load(),
	}
}
