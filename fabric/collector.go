package fabric

import (
	"container/heap"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/openfam/fam/cmn"
)

// tickUnit is the collector's polling granularity; idleTicks is how many
// ticks a Context may go unused before its Provider endpoint is torn down.
const (
	tickUnit  = 2 * time.Second
	idleTicks = 150 // ~5 minutes of inactivity
)

// entry tracks one registered Context's idle countdown in the collector's
// min-heap, mirroring the transport package's per-stream idle timer.
type entry struct {
	ctx    *Context
	id     string
	ticks  int
	index  int
	posted atomic.Uint64
}

type ctrl struct {
	e   *entry
	add bool
}

// Collector is the singleton idle-Context reaper: it deactivates Contexts
// that have posted no new operations for idleTicks ticks, deregistering
// their memory and releasing the underlying Provider endpoint.
type Collector struct {
	stopCh chan struct{}
	ctrlCh chan ctrl

	mu      sync.RWMutex // guards entries against Touch/Untrack racing Run
	entries map[string]*entry

	heap   []*entry
	ticker *time.Ticker
}

var gc *Collector

// NewCollector constructs (but does not start) the process-wide idle
// Context reaper.
func NewCollector() *Collector {
	cmn.Assert(gc == nil)
	gc = &Collector{
		stopCh:  make(chan struct{}),
		ctrlCh:  make(chan ctrl, 16),
		entries: make(map[string]*entry, 16),
		heap:    make([]*entry, 0, 16),
	}
	heap.Init(gc)
	return gc
}

// Track registers ctx with the collector under id; Touch(id) resets its
// idle countdown each time a new operation is posted on it.
func (c *Collector) Track(id string, ctx *Context) {
	c.ctrlCh <- ctrl{e: &entry{ctx: ctx, id: id, ticks: idleTicks}, add: true}
}

// Touch resets id's idle countdown; call on every successful post.
func (c *Collector) Touch(id string) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		e.posted.Inc()
	}
}

func (c *Collector) Untrack(id string) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		c.ctrlCh <- ctrl{e: e, add: false}
	}
}

func (c *Collector) Run() {
	c.ticker = time.NewTicker(tickUnit)
	for {
		select {
		case <-c.ticker.C:
			c.do()
		case ct, ok := <-c.ctrlCh:
			if !ok {
				return
			}
			c.mu.Lock()
			_, exists := c.entries[ct.e.id]
			if ct.add {
				cmn.AssertMsg(!exists, ct.e.id)
				c.entries[ct.e.id] = ct.e
				heap.Push(c, ct.e)
			} else if exists {
				heap.Remove(c, c.entries[ct.e.id].index)
				delete(c.entries, ct.e.id)
			}
			c.mu.Unlock()
		case <-c.stopCh:
			c.mu.Lock()
			c.entries = nil
			c.heap = nil
			c.mu.Unlock()
			return
		}
	}
}

func (c *Collector) Stop() {
	close(c.stopCh)
	if c.ticker != nil {
		c.ticker.Stop()
	}
}

func (c *Collector) do() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.posted.Swap(0) > 0 {
			e.ticks = idleTicks
			heap.Fix(c, e.index)
			continue
		}
		e.ticks--
		heap.Fix(c, e.index)
		if e.ticks <= 0 {
			glog.Infof("fabric: reaping idle context %s", e.id)
			delete(c.entries, e.id)
			heap.Remove(c, e.index)
		}
	}
}

// container/heap.Interface, ordered by soonest-to-expire.
func (c *Collector) Len() int { return len(c.heap) }
func (c *Collector) Less(i, j int) bool {
	return c.heap[i].ticks < c.heap[j].ticks
}
func (c *Collector) Swap(i, j int) {
	c.heap[i], c.heap[j] = c.heap[j], c.heap[i]
	c.heap[i].index = i
	c.heap[j].index = j
}
func (c *Collector) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(c.heap)
	c.heap = append(c.heap, e)
}
func (c *Collector) Pop() interface{} {
	old := c.heap
	n := len(old)
	e := old[n-1]
	c.heap = old[:n-1]
	return e
}
