// Package memprovider is an in-process loopback implementation of
// fabric.Provider: RDMA operations become direct memory copies against a
// shared byte-slice registry, and completions are delivered through
// buffered channels instead of a NIC completion queue. It stands in for
// libfabric's sockets provider in tests and in same-process client/memory
// server pairings (see DESIGN.md).
package memprovider

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/openfam/fam/fabric"
)

type region struct {
	mu  sync.Mutex
	buf []byte
}

// Provider is a single loopback fabric endpoint. Every PeerAddr it
// resolves names another *Provider in the same process (or itself, for
// single-node tests).
type Provider struct {
	mu      sync.Mutex
	regions map[fabric.Key]*region
	peers   map[string]*Provider
	nextKey atomic.Uint64

	txCQ chan fabric.Completion
	rxCQ chan fabric.Completion

	fetchMu  sync.Mutex
	fetchRes map[uint64]uint64
}

func New() *Provider {
	return &Provider{
		regions:  make(map[fabric.Key]*region),
		peers:    make(map[string]*Provider),
		txCQ:     make(chan fabric.Completion, 4096),
		rxCQ:     make(chan fabric.Completion, 4096),
		fetchRes: make(map[uint64]uint64),
	}
}

// Connect registers other under addr so LookupPeer(addr) on p resolves to
// it; loopback tests wire every participant's address this way up front.
func (p *Provider) Connect(addr string, other *Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[addr] = other
}

func (p *Provider) RegisterMemory(regionID uint64, buf []byte) (fabric.Key, fabric.BaseAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := fabric.Key(p.nextKey.Inc())
	p.regions[k] = &region{buf: buf}
	return k, fabric.BaseAddress(0), nil
}

func (p *Provider) DeregisterMemory(key fabric.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.regions, key)
	return nil
}

func (p *Provider) LookupPeer(raw string) (fabric.PeerAddr, error) {
	p.mu.Lock()
	_, ok := p.peers[raw]
	p.mu.Unlock()
	if !ok {
		return fabric.PeerAddr{}, &fabric.ProviderError{Errno: fabric.ErrnoOther, Message: fmt.Sprintf("unknown peer %q", raw)}
	}
	return fabric.NewPeerAddr(raw), nil
}

func (p *Provider) peerOf(addr fabric.PeerAddr) (*Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	other, ok := p.peers[addr.String()]
	if !ok {
		return nil, &fabric.ProviderError{Errno: fabric.ErrnoOther, Message: fmt.Sprintf("unknown peer %q", addr)}
	}
	return other, nil
}

func (p *Provider) regionOf(key fabric.Key) (*region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.regions[key]
	if !ok {
		return nil, &fabric.ProviderError{Errno: fabric.ErrnoOther, Message: "unregistered key"}
	}
	return r, nil
}

func (p *Provider) PostWrite(a fabric.WriteArgs) error {
	other, err := p.peerOf(a.Peer)
	if err != nil {
		return err
	}
	r, err := other.regionOf(a.Key)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if int(a.RemoteOff)+len(a.Local) > len(r.buf) {
		r.mu.Unlock()
		return &fabric.ProviderError{Errno: fabric.ErrnoOther, Message: "write out of bounds"}
	}
	copy(r.buf[a.RemoteOff:], a.Local)
	r.mu.Unlock()
	p.txCQ <- fabric.Completion{OpContext: a.OpContext, Len: len(a.Local)}
	return nil
}

func (p *Provider) PostRead(a fabric.ReadArgs) error {
	other, err := p.peerOf(a.Peer)
	if err != nil {
		return err
	}
	r, err := other.regionOf(a.Key)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if int(a.RemoteOff)+len(a.Local) > len(r.buf) {
		r.mu.Unlock()
		return &fabric.ProviderError{Errno: fabric.ErrnoOther, Message: "read out of bounds"}
	}
	copy(a.Local, r.buf[a.RemoteOff:int(a.RemoteOff)+len(a.Local)])
	r.mu.Unlock()
	p.rxCQ <- fabric.Completion{OpContext: a.OpContext, Len: len(a.Local)}
	return nil
}

func (p *Provider) PostAtomic(a fabric.AtomicArgs) error {
	other, err := p.peerOf(a.Peer)
	if err != nil {
		return err
	}
	r, err := other.regionOf(a.Key)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if int(a.RemoteOff)+8 > len(r.buf) {
		r.mu.Unlock()
		return &fabric.ProviderError{Errno: fabric.ErrnoOther, Message: "atomic out of bounds"}
	}
	prev := leUint64(r.buf[a.RemoteOff : a.RemoteOff+8])
	var next uint64
	switch {
	case a.Compare:
		next = prev
		if prev == a.CompareAt {
			next = a.Operand
		}
	default:
		next = fabric.ApplyAtomic(a.Op, a.Dt, prev, a.Operand)
	}
	putLE(r.buf[a.RemoteOff:a.RemoteOff+8], next)
	r.mu.Unlock()

	if a.Fetch || a.Compare {
		p.fetchMu.Lock()
		p.fetchRes[a.OpContext] = prev
		p.fetchMu.Unlock()
	}
	p.txCQ <- fabric.Completion{OpContext: a.OpContext, Len: 8}
	return nil
}

func (p *Provider) FetchResult(opContext uint64) (uint64, error) {
	deadline := time.Now().Add(fabric.MaxWait)
	for {
		p.fetchMu.Lock()
		v, ok := p.fetchRes[opContext]
		if ok {
			delete(p.fetchRes, opContext)
		}
		p.fetchMu.Unlock()
		if ok {
			return v, nil
		}
		if time.Now().After(deadline) {
			return 0, &fabric.TimeoutError{Waited: fabric.MaxWait}
		}
		time.Sleep(time.Microsecond)
	}
}

func (p *Provider) PollCQ(side fabric.CQSide) (fabric.Completion, bool, error) {
	var ch chan fabric.Completion
	if side == fabric.CQTx {
		ch = p.txCQ
	} else {
		ch = p.rxCQ
	}
	select {
	case c := <-ch:
		return c, true, nil
	default:
		return fabric.Completion{}, false, nil
	}
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
