package mds

import (
	"github.com/OneOfOne/xxhash"
)

// AnchorFor picks one id from mdsSet by xxhash64(name) % len(mdsSet).
// cis passes it memory-server ids, to choose a backup's anchor server and
// the server holding an unstriped data item; the metadata server itself
// is not chosen this way (cmd/cisd dials a single one).
func AnchorFor(name string, mdsSet []uint64) uint64 {
	if len(mdsSet) == 0 {
		return 0
	}
	h := xxhash.ChecksumString64(name)
	return mdsSet[h%uint64(len(mdsSet))]
}
