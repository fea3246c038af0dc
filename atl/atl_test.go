package atl_test

import (
	"sync"
	"testing"

	"github.com/openfam/fam/atl"
	"github.com/openfam/fam/fabric"
	"github.com/openfam/fam/fabric/memprovider"
	"github.com/openfam/fam/internal/tassert"
)

type memStore struct {
	mu      sync.Mutex
	regions map[uint64][]byte
}

func newMemStore() *memStore { return &memStore{regions: make(map[uint64][]byte)} }

func (m *memStore) ensure(regionID uint64, upto int64) []byte {
	buf, ok := m.regions[regionID]
	if !ok || int64(len(buf)) < upto {
		grown := make([]byte, upto)
		copy(grown, buf)
		buf = grown
		m.regions[regionID] = buf
	}
	return buf
}

func (m *memStore) WriteAt(regionID uint64, offset int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.ensure(regionID, offset+int64(len(data)))
	copy(buf[offset:], data)
	return nil
}

func (m *memStore) ReadAt(regionID uint64, offset int64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.ensure(regionID, offset+int64(len(buf)))
	copy(buf, src[offset:offset+int64(len(buf))])
	return nil
}

func TestPushPopOrderAndFullness(t *testing.T) {
	q, err := atl.Open(t.TempDir(), "q0", 2)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, q.Push(&atl.Descriptor{Flags: atl.FlagWrite | atl.FlagContainData, RegionID: 1, Offset: 0, Size: 4, Buffer: []byte("aaaa")}))
	tassert.CheckFatal(t, q.Push(&atl.Descriptor{Flags: atl.FlagWrite | atl.FlagContainData, RegionID: 1, Offset: 4, Size: 4, Buffer: []byte("bbbb")}))

	err = q.Push(&atl.Descriptor{Flags: atl.FlagWrite | atl.FlagContainData, RegionID: 1, Offset: 8, Size: 4, Buffer: []byte("cccc")})
	tassert.Fatalf(t, err == atl.ErrQueueFull, "expected ErrQueueFull, got %v", err)

	first, ok := q.Pop()
	tassert.Fatalf(t, ok && string(first.Buffer) == "aaaa", "expected first descriptor's buffer aaaa, got %+v", first)

	second, ok := q.Pop()
	tassert.Fatalf(t, ok && string(second.Buffer) == "bbbb", "expected second descriptor's buffer bbbb, got %+v", second)

	_, ok = q.Pop()
	tassert.Fatalf(t, !ok, "expected empty queue")
}

func TestWorkerAppliesContainDataWrite(t *testing.T) {
	q, err := atl.Open(t.TempDir(), "q1", 4)
	tassert.CheckFatal(t, err)

	store := newMemStore()
	ctx := fabric.NewContext(memprovider.New())
	w := atl.NewWorker(q, store, ctx)

	tassert.CheckFatal(t, q.Push(&atl.Descriptor{Flags: atl.FlagWrite | atl.FlagContainData, RegionID: 7, Offset: 16, Size: 5, Buffer: []byte("hello")}))
	tassert.CheckFatal(t, w.Drain())

	out := make([]byte, 5)
	tassert.CheckFatal(t, store.ReadAt(7, 16, out))
	tassert.Fatalf(t, string(out) == "hello", "got %q", out)
	tassert.Fatalf(t, q.Len() == 0, "expected the drained descriptor to be popped, got len %d", q.Len())
}

// TestDrainLeavesDescriptorQueuedUntilApplied pins down the
// crash-atomicity protocol directly against Queue: Requeue must be able
// to find and persist a descriptor's WRITE_IN_PROGRESS/WRITE_COMPLETED
// transitions while it still sits at the front of the queue, and only a
// subsequent Pop may remove it.
func TestDrainLeavesDescriptorQueuedUntilApplied(t *testing.T) {
	q, err := atl.Open(t.TempDir(), "q1b", 2)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, q.Push(&atl.Descriptor{Flags: atl.FlagWrite | atl.FlagContainData, RegionID: 1, Offset: 0, Size: 4, Buffer: []byte("aaaa")}))

	d, ok := q.Front()
	tassert.Fatalf(t, ok, "expected a front descriptor")

	d.Flags |= atl.FlagWriteInProgress
	tassert.CheckFatal(t, q.Requeue(d))
	tassert.Fatalf(t, q.Len() == 1, "descriptor must still be queued after persisting WRITE_IN_PROGRESS")

	d.Flags &^= atl.FlagWriteInProgress
	d.Flags |= atl.FlagWriteCompleted
	tassert.CheckFatal(t, q.Requeue(d))
	tassert.Fatalf(t, q.Len() == 1, "descriptor must still be queued after persisting WRITE_COMPLETED")

	_, ok = q.Pop()
	tassert.Fatalf(t, ok, "expected to pop the completed descriptor")
	tassert.Fatalf(t, q.Len() == 0, "expected queue empty after pop")
}

func TestScatterStrideAppliesPerElement(t *testing.T) {
	q, err := atl.Open(t.TempDir(), "q2", 4)
	tassert.CheckFatal(t, err)

	store := newMemStore()
	a := memprovider.New()
	b := memprovider.New()
	a.Connect("client", b)
	b.Connect("ms", a)
	clientBuf := make([]byte, 64)
	for i := range clientBuf {
		clientBuf[i] = byte(i)
	}
	key, _, err := b.RegisterMemory(9, clientBuf)
	tassert.CheckFatal(t, err)

	ctx := fabric.NewContext(a)
	w := atl.NewWorker(q, store, ctx)

	tassert.CheckFatal(t, q.Push(&atl.Descriptor{
		Flags:      atl.FlagScatterStride,
		RegionID:   9,
		Offset:     0,
		Size:       64,
		ElemSize:   4,
		First:      0,
		Stride:     8,
		IndexCount: 8,
		ClientAddr: "client",
		SourceKey:  uint64(key),
	}))
	tassert.CheckFatal(t, w.Drain())

	out := make([]byte, 4)
	tassert.CheckFatal(t, store.ReadAt(9, 8*4, out))
	tassert.Fatalf(t, out[0] == clientBuf[4], "expected strided element to match client buffer at its source offset")
}

func TestRecoverReplaysInProgressWrite(t *testing.T) {
	dir := t.TempDir()
	q, err := atl.Open(dir, "q3", 4)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, q.Push(&atl.Descriptor{
		Flags: atl.FlagWrite | atl.FlagWriteInProgress | atl.FlagBufferAllocated,
		RegionID: 3, Offset: 0, Size: 4, Buffer: []byte("ZZZZ"),
	}))

	store := newMemStore()
	ctx := fabric.NewContext(memprovider.New())
	w := atl.NewWorker(q, store, ctx)

	tassert.CheckFatal(t, w.Recover())

	out := make([]byte, 4)
	tassert.CheckFatal(t, store.ReadAt(3, 0, out))
	tassert.Fatalf(t, string(out) == "ZZZZ", "expected crash-recovered write to have landed, got %q", out)
	tassert.Fatalf(t, q.Len() == 0, "expected recovered entry to be popped, got len %d", q.Len())
}
