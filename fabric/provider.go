package fabric

// WriteArgs bundles one posted RDMA write.
type WriteArgs struct {
	Key       Key
	Local     []byte
	RemoteOff uint64
	Peer      PeerAddr
	OpContext uint64
	Fence     bool // establish an ordering barrier before this op (see Context.Fence)
	Inject    bool // non-fetching, small-payload inline send (FI_INJECT)
}

type ReadArgs struct {
	Key       Key
	Local     []byte
	RemoteOff uint64
	Peer      PeerAddr
	OpContext uint64
}

type AtomicArgs struct {
	Key       Key
	Op        AtomicOp
	Dt        Datatype
	Operand   uint64 // little-endian encoded operand, width per Dt
	RemoteOff uint64
	Peer      PeerAddr
	OpContext uint64
	Fetch     bool   // fetching variant: previous value returned via FetchResult
	Compare   bool   // compare-and-swap: Operand is the new value, Compare is the expected value
	CompareAt uint64
	Inject    bool // non-fetching, small-payload inline send (FI_INJECT)
}

// Provider is the fabric transport capability: reliable-datagram
// endpoints, registered memory with 64-bit keys, completion queues with
// tagged contexts, event counters, and address-vector lookup. A Context
// is built over exactly one Provider.
//
// No portable Go libfabric binding exists, so this interface stands in
// for the real one; see DESIGN.md for the two concrete providers
// (memprovider loopback, tcpprovider) built against it.
type Provider interface {
	// RegisterMemory registers buf for RDMA access and returns its key
	// and base address (as seen by remote peers).
	RegisterMemory(regionID uint64, buf []byte) (Key, BaseAddress, error)
	DeregisterMemory(key Key) error

	// LookupPeer resolves (and caches, inserting on first use) a remote
	// endpoint address for raw (e.g. "host:port" or an in-process id).
	LookupPeer(raw string) (PeerAddr, error)

	// PostWrite/PostRead/PostAtomic post one operation; completions
	// surface later via PollCQ. Providers must deliver completions in
	// FIFO order per (cq side) unless Fence is set, matching the
	// ordering table in spec.md §4.2.
	PostWrite(a WriteArgs) error
	PostRead(a ReadArgs) error
	PostAtomic(a AtomicArgs) error

	// FetchResult blocks (this is the fetching path, always blocking
	// per spec.md) until the fetch/compare tagged with opContext has
	// been satisfied by the peer, and returns the previous value.
	FetchResult(opContext uint64) (uint64, error)

	// PollCQ performs one non-blocking poll of the given side's
	// completion queue. Returns (completion, true, nil) on a real
	// completion, (zero, false, nil) on "nothing yet" (caller should
	// retry per the timeout/retry policy), or a *ProviderError.
	PollCQ(side CQSide) (Completion, bool, error)
}
