// Package mds implements the metadata service: the regions/data-items
// catalog and the region-id bitmap. The uid/gid/mode permission checks
// that gate control-plane calls are made by cis (cmn.RequireAccess), not
// here. A single process serves every memory server in the cluster.
package mds

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/sdomino/scribble"

	"github.com/openfam/fam/cmn"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func unmarshalInto(raw []byte, v interface{}) error {
	return jsonAPI.Unmarshal(raw, v)
}

const (
	regionsCollection    = "regions"
	dataitemsCollection  = "dataitems"
	bitmapCollection     = "bitmap"
	bitmapRecordID       = "region_ids"
	maxRegionIDs         = 1 << 20 // bitmap size; generous headroom over any realistic cluster
)

// bitmapState is the persisted free/used bit vector for region ids.
type bitmapState struct {
	Used []bool
}

// Catalog is the MDS's entire durable state: one scribble driver shared
// by the regions collection, the data-items collection, and the region-id
// bitmap.
type Catalog struct {
	mu      sync.RWMutex
	driver  *scribble.Driver
	bitmap  bitmapState
	nameIdx map[string]uint64 // region name -> region_id, rebuilt from disk at Open
}

func Open(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	driver, err := scribble.New(filepath.Join(dir, "mds.db"), nil)
	if err != nil {
		return nil, err
	}
	c := &Catalog{driver: driver, nameIdx: make(map[string]uint64)}

	if err := driver.Read(bitmapCollection, bitmapRecordID, &c.bitmap); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		c.bitmap = bitmapState{Used: make([]bool, maxRegionIDs)}
		if err := driver.Write(bitmapCollection, bitmapRecordID, &c.bitmap); err != nil {
			return nil, err
		}
	}

	names, err := driver.ReadAll(regionsCollection)
	if err == nil {
		for _, raw := range names {
			var r cmn.Region
			if jsonErr := unmarshalInto(raw, &r); jsonErr == nil {
				c.nameIdx[r.Name] = r.RegionID
			}
		}
	}
	return c, nil
}

// reserveRegionID finds and marks the lowest free bit, per spec.md's
// "region_id unique and monotonic-within-bitmap".
func (c *Catalog) reserveRegionID() (uint64, error) {
	for i, used := range c.bitmap.Used {
		if !used {
			c.bitmap.Used[i] = true
			if err := c.driver.Write(bitmapCollection, bitmapRecordID, &c.bitmap); err != nil {
				c.bitmap.Used[i] = false
				return 0, err
			}
			return uint64(i), nil
		}
	}
	return 0, cmn.NewFamError(cmn.ErrResource, "region-id bitmap exhausted")
}

// ReleaseRegionID returns id to the free pool; callers must only call
// this once every MS has confirmed cleanup (spec.md's "a destroyed
// region's id is not reused until all MS confirm cleanup").
func (c *Catalog) ReleaseRegionID(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id >= uint64(len(c.bitmap.Used)) {
		return cmn.NewFamError(cmn.ErrOutOfRange, fmt.Sprintf("region id %d out of bitmap range", id))
	}
	c.bitmap.Used[id] = false
	return c.driver.Write(bitmapCollection, bitmapRecordID, &c.bitmap)
}

// CreateRegion reserves a region_id and persists r under it (and under
// its name for lookup-by-name), validating uniqueness of name first.
func (c *Catalog) CreateRegion(r *cmn.Region) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nameIdx[r.Name]; exists {
		return 0, cmn.NewFamError(cmn.ErrRegionNotCreated, fmt.Sprintf("region %q already exists", r.Name))
	}
	id, err := c.reserveRegionID()
	if err != nil {
		return 0, err
	}
	r.RegionID = id
	if err := r.Validate(); err != nil {
		c.bitmap.Used[id] = false
		return 0, err
	}
	if err := c.driver.Write(regionsCollection, idKey(id), r); err != nil {
		c.bitmap.Used[id] = false
		return 0, err
	}
	c.nameIdx[r.Name] = id
	return id, nil
}

// ReserveRegionID implements the first half of create_region's contract
// when a coordinator needs to fan out to memory servers before the
// region record itself can be written: validate name uniqueness, reserve
// a region_id from the bitmap, and hand it back without yet persisting a
// region record. Call FinalizeRegion on fan-out success or
// AbandonReservation on fan-out failure.
func (c *Catalog) ReserveRegionID(name string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.nameIdx[name]; exists {
		return 0, cmn.NewFamError(cmn.ErrRegionNotCreated, fmt.Sprintf("region %q already exists", name))
	}
	id, err := c.reserveRegionID()
	if err != nil {
		return 0, err
	}
	c.nameIdx[name] = id // provisional: claims the name against concurrent create_region calls
	return id, nil
}

// FinalizeRegion persists r (whose RegionID must already have been
// reserved via ReserveRegionID) as the durable region record.
func (c *Catalog) FinalizeRegion(r *cmn.Region) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := r.Validate(); err != nil {
		return err
	}
	return c.driver.Write(regionsCollection, idKey(r.RegionID), r)
}

// AbandonReservation undoes ReserveRegionID after a failed MS fan-out:
// releases the name claim and, if release is true (every MS cleanup
// succeeded), the region_id bit itself.
func (c *Catalog) AbandonReservation(name string, id uint64, release bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nameIdx, name)
	if !release {
		return nil
	}
	c.bitmap.Used[id] = false
	return c.driver.Write(bitmapCollection, bitmapRecordID, &c.bitmap)
}

func (c *Catalog) GetRegion(id uint64) (*cmn.Region, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var r cmn.Region
	if err := c.driver.Read(regionsCollection, idKey(id), &r); err != nil {
		if os.IsNotExist(err) {
			return nil, cmn.ErrRegionNotFoundf(idKey(id))
		}
		return nil, err
	}
	return &r, nil
}

func (c *Catalog) GetRegionByName(name string) (*cmn.Region, error) {
	c.mu.RLock()
	id, ok := c.nameIdx[name]
	c.mu.RUnlock()
	if !ok {
		return nil, cmn.ErrRegionNotFoundf(name)
	}
	return c.GetRegion(id)
}

// DestroyRegion removes r's record and, only if release is true (the MS
// fan-out returned RELEASED from every server), frees its region_id bit.
func (c *Catalog) DestroyRegion(id uint64, release bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.getRegionLocked(id)
	if err != nil {
		return err
	}
	if err := c.driver.Delete(regionsCollection, idKey(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(c.nameIdx, r.Name)
	if release {
		c.bitmap.Used[id] = false
		return c.driver.Write(bitmapCollection, bitmapRecordID, &c.bitmap)
	}
	return nil
}

func (c *Catalog) getRegionLocked(id uint64) (*cmn.Region, error) {
	var r cmn.Region
	if err := c.driver.Read(regionsCollection, idKey(id), &r); err != nil {
		if os.IsNotExist(err) {
			return nil, cmn.ErrRegionNotFoundf(idKey(id))
		}
		return nil, err
	}
	return &r, nil
}

func (c *Catalog) InsertDataItem(d *cmn.DataItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := d.Validate(); err != nil {
		return err
	}
	key := idKey(d.DataItemID)
	if d.Name != "" {
		key = d.Name + "@" + idKey(d.RegionID)
	}
	return c.driver.Write(dataitemsCollection, key, d)
}

func (c *Catalog) GetDataItem(regionID uint64, name string) (*cmn.DataItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var d cmn.DataItem
	if err := c.driver.Read(dataitemsCollection, name+"@"+idKey(regionID), &d); err != nil {
		if os.IsNotExist(err) {
			return nil, cmn.ErrDataItemNotFoundf(name)
		}
		return nil, err
	}
	return &d, nil
}

func (c *Catalog) RemoveDataItem(regionID uint64, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.driver.Delete(dataitemsCollection, name+"@"+idKey(regionID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func idKey(id uint64) string { return fmt.Sprintf("%d", id) }
