package cis_test

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric/memprovider"
	"github.com/openfam/fam/mds"
	"github.com/openfam/fam/ms"
)

func TestCis(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "cis suite")
}

// newFixtureForSpec mirrors newFixture (coordinator_test.go) without a
// *testing.T, for use inside ginkgo's BeforeEach.
func newFixtureForSpec(n int) (*cis.Coordinator, cis.MSSet) {
	catalogDir, err := os.MkdirTemp("", "fam-mds-*")
	Expect(err).NotTo(HaveOccurred())
	catalog, err := mds.Open(catalogDir)
	Expect(err).NotTo(HaveOccurred())

	mss := make(cis.MSSet, n)
	servers := make([]*ms.Server, n)
	providers := make([]*memprovider.Provider, n)
	for i := 0; i < n; i++ {
		dir, err := os.MkdirTemp("", "fam-ms-*")
		Expect(err).NotTo(HaveOccurred())
		providers[i] = memprovider.New()
		srv, err := ms.NewServer(uint64(i), providers[i], dir, 1)
		Expect(err).NotTo(HaveOccurred())
		servers[i] = srv
		mss[uint64(i)] = ms.NewLocalClient(srv)
	}
	// Every server must be able to reach every other server's fabric
	// provider for copy()'s destination-pulls-from-source contract.
	for i := range servers {
		for j := range servers {
			providers[i].Connect(servers[j].Address(), providers[j])
		}
	}
	return cis.NewCoordinator(catalog, mss), mss
}

var _ = Describe("Copy and backup", func() {
	var coord *cis.Coordinator
	var src, dst *cmn.Region

	BeforeEach(func() {
		coord, _ = newFixtureForSpec(2)

		var err error
		src, err = coord.CreateRegion("copy-src", 4<<20, 0o640, 7, 7, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
		Expect(err).NotTo(HaveOccurred())
		dst, err = coord.CreateRegion("copy-dst", 4<<20, 0o640, 7, 7, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
		Expect(err).NotTo(HaveOccurred())
	})

	It("copies a byte range from one item into another", func() {
		srcItem, err := coord.Allocate("src-item", src.RegionID, 8192, 0o640, 7, 7)
		Expect(err).NotTo(HaveOccurred())
		destItem, err := coord.Allocate("dst-item", dst.RegionID, 8192, 0o640, 7, 7)
		Expect(err).NotTo(HaveOccurred())

		tok, err := coord.Copy(src.RegionID, srcItem.Name, 0, dst.RegionID, destItem.Name, 0, 4096, 7, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(coord.WaitFor(tok)).NotTo(HaveOccurred())
	})

	It("rejects a copy whose byte range overruns either item", func() {
		_, err := coord.Allocate("small-src", src.RegionID, 4096, 0o640, 7, 7)
		Expect(err).NotTo(HaveOccurred())
		_, err = coord.Allocate("small-dst", dst.RegionID, 4096, 0o640, 7, 7)
		Expect(err).NotTo(HaveOccurred())

		_, err = coord.Copy(src.RegionID, "small-src", 1024, dst.RegionID, "small-dst", 0, 4096, 7, 7)
		Expect(cmn.KindOf(err)).To(Equal(cmn.ErrOutOfRange))
	})

	It("backs up, restores and deletes a data item's backup, refusing a duplicate backup", func() {
		item, err := coord.Allocate("backed-up", src.RegionID, 4096, 0o640, 7, 7)
		Expect(err).NotTo(HaveOccurred())

		tok, err := coord.Backup(src.RegionID, item.Name, "snap-1", 7, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(coord.WaitFor(tok)).NotTo(HaveOccurred())

		_, err = coord.Backup(src.RegionID, item.Name, "snap-1", 7, 7)
		Expect(cmn.KindOf(err)).To(Equal(cmn.ErrBackupFileExist))

		Expect(coord.Deallocate(src.RegionID, item.Name, 7, 7)).NotTo(HaveOccurred())

		rtok, err := coord.Restore("snap-1", src.RegionID, "restored", 7, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(coord.WaitFor(rtok)).NotTo(HaveOccurred())

		dtok, err := coord.DeleteBackup("snap-1", 7, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(coord.WaitFor(dtok)).NotTo(HaveOccurred())
	})
})
