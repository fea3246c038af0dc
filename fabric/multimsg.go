package fabric

// IOVLimit is the provider-reported maximum message count per posted
// multi-message operation (spec.md §4.2: "iov_limit (provider-reported)").
// The loopback and tcp providers both report this value; a real libfabric
// binding would ask the provider instead of hard-coding it.
const IOVLimit = 32

// WriteMultiMsg splits iovs into iterations of at most IOVLimit entries,
// posting one multi-message write per iteration and tagging each with the
// per-context internal[0] slot (here, a dedicated OpContext per
// iteration) so its completion can be matched. Blocking awaits every
// iteration's completion; non-blocking returns once every iteration has
// been posted, leaving drain to Quiet.
func (c *Context) WriteMultiMsg(local []byte, key Key, peer PeerAddr, iovs []IOV, blocking Blocking) error {
	c.rlock()
	defer c.runlock()

	for start := 0; start < len(iovs); start += IOVLimit {
		end := start + IOVLimit
		if end > len(iovs) {
			end = len(iovs)
		}
		if err := c.postWriteIteration(local, key, peer, iovs[start:end], blocking); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) postWriteIteration(local []byte, key Key, peer PeerAddr, batch []IOV, blocking Blocking) error {
	tags := make([]uint64, len(batch))
	for i, e := range batch {
		tag := c.NextOpContext()
		tags[i] = tag
		buf := local[e.LocalOff : e.LocalOff+e.Len]
		if err := c.Provider.PostWrite(WriteArgs{Key: key, Local: buf, RemoteOff: e.RemoteOff, Peer: peer, OpContext: tag}); err != nil {
			c.numTxFail.Inc()
			return err
		}
		c.numTx.Inc()
	}
	if !bool(blocking) {
		for _, tag := range tags {
			go c.drainTx(tag)
		}
		return nil
	}
	for _, tag := range tags {
		if err := c.waitCompletion(CQTx, tag); err != nil {
			c.numTxFail.Inc()
			return err
		}
		c.txSuccess.Inc()
	}
	return nil
}

// ReadMultiMsg is the read-side counterpart of WriteMultiMsg.
func (c *Context) ReadMultiMsg(local []byte, key Key, peer PeerAddr, iovs []IOV, blocking Blocking) error {
	c.rlock()
	defer c.runlock()

	for start := 0; start < len(iovs); start += IOVLimit {
		end := start + IOVLimit
		if end > len(iovs) {
			end = len(iovs)
		}
		if err := c.postReadIteration(local, key, peer, iovs[start:end], blocking); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) postReadIteration(local []byte, key Key, peer PeerAddr, batch []IOV, blocking Blocking) error {
	tags := make([]uint64, len(batch))
	for i, e := range batch {
		tag := c.NextOpContext()
		tags[i] = tag
		buf := local[e.LocalOff : e.LocalOff+e.Len]
		if err := c.Provider.PostRead(ReadArgs{Key: key, Local: buf, RemoteOff: e.RemoteOff, Peer: peer, OpContext: tag}); err != nil {
			c.numRxFail.Inc()
			return err
		}
		c.numRx.Inc()
	}
	if !bool(blocking) {
		for _, tag := range tags {
			go c.drainRx(tag)
		}
		return nil
	}
	for _, tag := range tags {
		if err := c.waitCompletion(CQRx, tag); err != nil {
			c.numRxFail.Inc()
			return err
		}
		c.rxSuccess.Inc()
	}
	return nil
}

// ScatterStride posts a strided scatter write of count elements of
// elemSize starting at element first with stride s against base/key on
// peer, per spec.md's "Scatter/gather stride", dispatched through
// WriteMultiMsg.
func (c *Context) ScatterStride(local []byte, key Key, base uint64, peer PeerAddr, elemSize, first, stride int64, count int, blocking Blocking) error {
	return c.WriteMultiMsg(local, key, peer, StrideIOVs(base, elemSize, first, stride, count), blocking)
}

// GatherStride is the read-side counterpart of ScatterStride.
func (c *Context) GatherStride(local []byte, key Key, base uint64, peer PeerAddr, elemSize, first, stride int64, count int, blocking Blocking) error {
	return c.ReadMultiMsg(local, key, peer, StrideIOVs(base, elemSize, first, stride, count), blocking)
}

// ScatterIndex posts an indexed scatter write, per spec.md's "Scatter/gather
// indexed".
func (c *Context) ScatterIndex(local []byte, key Key, base uint64, peer PeerAddr, elemSize int64, index []int64, blocking Blocking) error {
	return c.WriteMultiMsg(local, key, peer, IndexIOVs(base, elemSize, index), blocking)
}

// GatherIndex is the read-side counterpart of ScatterIndex.
func (c *Context) GatherIndex(local []byte, key Key, base uint64, peer PeerAddr, elemSize int64, index []int64, blocking Blocking) error {
	return c.ReadMultiMsg(local, key, peer, IndexIOVs(base, elemSize, index), blocking)
}
