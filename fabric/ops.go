package fabric

import (
	"time"

	"github.com/openfam/fam/cmn"
)

// famErrFromPost maps a post-time provider rejection (e.g. an
// unregistered or permission-denied key caught before the op ever
// reaches the completion queue) through GetFamError, same as the
// completion and Quiet paths below, so cmn.KindOf sees ErrLibfabric/
// ErrNoPerm instead of a bare *ProviderError.
func famErrFromPost(err error) error {
	if perr, is := err.(*ProviderError); is {
		return GetFamError(perr)
	}
	return err
}

// Blocking determines whether a post()+wait() pair is issued, or whether
// the op is fired and its completion left to drain into the counter (to
// be observed later by Quiet).
type Blocking bool

const (
	NonBlocking Blocking = false
	IsBlocking  Blocking = true
)

// Write issues key's registered region a write of local at remoteOff on
// peer. Per spec.md §4.2: unordered among peers except across Fence
// points; completes with delivery-complete semantics.
func (c *Context) Write(key Key, local []byte, remoteOff uint64, peer PeerAddr, blocking Blocking) error {
	c.rlock()
	defer c.runlock()

	ctxTag := c.NextOpContext()
	if err := c.Provider.PostWrite(WriteArgs{Key: key, Local: local, RemoteOff: remoteOff, Peer: peer, OpContext: ctxTag}); err != nil {
		c.numTxFail.Inc()
		return famErrFromPost(err)
	}
	c.numTx.Inc()
	if !bool(blocking) {
		go c.drainTx(ctxTag)
		return nil
	}
	if err := c.waitCompletion(CQTx, ctxTag); err != nil {
		c.numTxFail.Inc()
		return err
	}
	c.txSuccess.Inc()
	return nil
}

// Read issues a read of size len(local) from remoteOff on peer into local.
func (c *Context) Read(key Key, local []byte, remoteOff uint64, peer PeerAddr, blocking Blocking) error {
	c.rlock()
	defer c.runlock()

	ctxTag := c.NextOpContext()
	if err := c.Provider.PostRead(ReadArgs{Key: key, Local: local, RemoteOff: remoteOff, Peer: peer, OpContext: ctxTag}); err != nil {
		c.numRxFail.Inc()
		return famErrFromPost(err)
	}
	c.numRx.Inc()
	if !bool(blocking) {
		go c.drainRx(ctxTag)
		return nil
	}
	if err := c.waitCompletion(CQRx, ctxTag); err != nil {
		c.numRxFail.Inc()
		return err
	}
	c.rxSuccess.Inc()
	return nil
}

// drainTx/drainRx are what a non-blocking post leaves running so its
// eventual completion still advances the success/fail counters that
// Quiet inspects.
func (c *Context) drainTx(ctxTag uint64) {
	if err := c.waitCompletion(CQTx, ctxTag); err != nil {
		c.numTxFail.Inc()
		return
	}
	c.txSuccess.Inc()
}

func (c *Context) drainRx(ctxTag uint64) {
	if err := c.waitCompletion(CQRx, ctxTag); err != nil {
		c.numRxFail.Inc()
		return
	}
	c.rxSuccess.Inc()
}

// Atomic issues a non-fetching remote atomic RMW, injected per spec.md
// §4.2 ("non-fetching inject with FI_INJECT"). Overlapping atomics to the
// same 8-byte word at the same peer are serialized by the provider/NIC.
func (c *Context) Atomic(key Key, op AtomicOp, dt Datatype, operand uint64, remoteOff uint64, peer PeerAddr) error {
	c.rlock()
	defer c.runlock()

	ctxTag := c.NextOpContext()
	args := AtomicArgs{Key: key, Op: op, Dt: dt, Operand: operand, RemoteOff: remoteOff, Peer: peer, OpContext: ctxTag, Inject: true}
	if err := c.Provider.PostAtomic(args); err != nil {
		c.numTxFail.Inc()
		return famErrFromPost(err)
	}
	c.numTx.Inc()
	if err := c.waitCompletion(CQTx, ctxTag); err != nil {
		c.numTxFail.Inc()
		return err
	}
	c.txSuccess.Inc()
	return nil
}

// FetchAtomic issues a fetching remote atomic RMW and blocks for the
// previous value, per spec.md §4.2 ("fetching variants are blocking").
func (c *Context) FetchAtomic(key Key, op AtomicOp, dt Datatype, operand uint64, remoteOff uint64, peer PeerAddr) (uint64, error) {
	c.rlock()
	defer c.runlock()

	ctxTag := c.NextOpContext()
	args := AtomicArgs{Key: key, Op: op, Dt: dt, Operand: operand, RemoteOff: remoteOff, Peer: peer, OpContext: ctxTag, Fetch: true}
	if err := c.Provider.PostAtomic(args); err != nil {
		c.numTxFail.Inc()
		return 0, famErrFromPost(err)
	}
	c.numTx.Inc()
	prev, err := c.Provider.FetchResult(ctxTag)
	if err != nil {
		c.numTxFail.Inc()
		return 0, famErrFromPost(err)
	}
	c.txSuccess.Inc()
	return prev, nil
}

// CompareAtomic issues a native single-word compare-and-swap: the remote
// 8-byte word at remoteOff is replaced by desired only if it equals
// expected, and the prior value is returned either way. Blocking, like
// every fetching variant.
func (c *Context) CompareAtomic(key Key, dt Datatype, expected, desired uint64, remoteOff uint64, peer PeerAddr) (uint64, error) {
	c.rlock()
	defer c.runlock()

	ctxTag := c.NextOpContext()
	args := AtomicArgs{
		Key: key, Op: AtomicWrite, Dt: dt, Operand: desired, RemoteOff: remoteOff,
		Peer: peer, OpContext: ctxTag, Fetch: true, Compare: true, CompareAt: expected,
	}
	if err := c.Provider.PostAtomic(args); err != nil {
		c.numTxFail.Inc()
		return 0, famErrFromPost(err)
	}
	c.numTx.Inc()
	prev, err := c.Provider.FetchResult(ctxTag)
	if err != nil {
		c.numTxFail.Inc()
		return 0, famErrFromPost(err)
	}
	c.txSuccess.Inc()
	return prev, nil
}

// CASLocker is the per-object mutex service hosted at the memory server
// (spec.md §9 "named mutex service... keyed by (region_id, offset)"),
// used to emulate a 128-bit compare-and-swap that the provider cannot do
// natively in one RMW.
type CASLocker interface {
	AcquireCASLock(regionID uint64, offset int64) (release func(), err error)
}

// CompareAtomic128 emulates a 128-bit CAS: acquire the per-object lock,
// read, compare, write back, release. Returns the prior value. lockOff
// names the word in the lock service's keyspace (the server-local slab
// offset), which may differ from remoteOff when the fabric key covers
// only the data item's own byte range.
func (c *Context) CompareAtomic128(lock CASLocker, regionID uint64, lockOff int64, key Key, remoteOff uint64, peer PeerAddr,
	expectedLo, expectedHi, newLo, newHi uint64) (priorLo, priorHi uint64, err error) {

	release, err := lock.AcquireCASLock(regionID, lockOff)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	buf := make([]byte, 16)
	if err = c.Read(key, buf, remoteOff, peer, IsBlocking); err != nil {
		return 0, 0, err
	}
	priorLo = leUint64(buf[0:8])
	priorHi = leUint64(buf[8:16])
	if priorLo != expectedLo || priorHi != expectedHi {
		return priorLo, priorHi, nil // unchanged: compare failed
	}
	putLE(buf[0:8], newLo)
	putLE(buf[8:16], newHi)
	if err = c.Write(key, buf, remoteOff, peer, IsBlocking); err != nil {
		return priorLo, priorHi, err
	}
	return priorLo, priorHi, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// Fence posts a no-op fenced write to peer, establishing an ordering
// barrier between earlier and later posts to that peer on this context
// (spec.md §4.2/§5). Fence takes the write lock: no other op on this
// context may be in flight while the barrier is established.
func (c *Context) Fence(key Key, peer PeerAddr) error {
	c.wlock()
	defer c.wunlock()

	ctxTag := c.NextOpContext()
	if err := c.Provider.PostWrite(WriteArgs{Key: key, Local: nil, RemoteOff: 0, Peer: peer, OpContext: ctxTag, Fence: true}); err != nil {
		c.numTxFail.Inc()
		return famErrFromPost(err)
	}
	c.numTx.Inc()
	if err := c.waitCompletion(CQTx, ctxTag); err != nil {
		c.numTxFail.Inc()
		return err
	}
	c.txSuccess.Inc()
	return nil
}

// Quiet blocks until every operation posted so far on this context has
// completed (tx_success+tx_fail == num_tx and rx_success+rx_fail ==
// num_rx), per spec.md §4.2/§8 property 7. If any new failure occurred
// since the last Quiet, it raises.
//
// Quiet helps drain the CQs, but only into the stash: the drain
// goroutines a non-blocking post leaves behind are what actually credit
// the success counters, and stashed completions are how they make
// progress while Quiet holds the write lock.
func (c *Context) Quiet() error {
	c.wlock()
	defer c.wunlock()

	for {
		txDone := c.txSuccess.Load() + c.numTxFail.Load()
		rxDone := c.rxSuccess.Load() + c.numRxFail.Load()
		if txDone >= c.numTx.Load() && rxDone >= c.numRx.Load() {
			break
		}
		polled := false
		for _, side := range [2]CQSide{CQTx, CQRx} {
			comp, ok, err := c.Provider.PollCQ(side)
			if err != nil {
				if perr, is := err.(*ProviderError); is {
					return GetFamError(perr)
				}
				return err
			}
			if ok {
				c.stashPut(side, comp)
				polled = true
			}
		}
		if !polled {
			time.Sleep(TimeoutWaitSleep)
		}
	}
	txFail, rxFail := c.numTxFail.Load(), c.numRxFail.Load()
	newFailures := txFail > c.seenTxFail || rxFail > c.seenRxFail
	c.seenTxFail, c.seenRxFail = txFail, rxFail
	if newFailures {
		return cmn.NewFamError(cmn.ErrLibfabric, "quiet: one or more posted operations failed")
	}
	return nil
}
