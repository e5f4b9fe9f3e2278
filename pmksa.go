package wpa

import (
	"bytes"
	"container/list"
	"net"
)

// DefaultPMKSACacheSize is the number of entries kept by a PMKSACache
// created with a non-positive size.
const DefaultPMKSACacheSize = 32

// A PMKSAEntry is a cached pairwise master key security association.
type PMKSAEntry struct {
	BSSID net.HardwareAddr
	PMKID [PMKIDLen]byte
	PMK   [PMKLen]byte
}

// A PMKSACache holds at most one PMKSA entry per BSSID for fast
// reassociation. When full, the least recently used entry is evicted. A PMKSACache is owned by a single
// Session and is not safe for concurrent use.
type PMKSACache struct {
	size int
	// Most recently used first.
	l *list.List
}

// NewPMKSACache creates a PMKSACache holding at most size entries.
func NewPMKSACache(size int) *PMKSACache {
	if size <= 0 {
		size = DefaultPMKSACacheSize
	}

	return &PMKSACache{
		size: size,
		l:    list.New(),
	}
}

// Lookup returns the entry for bssid. If pmkid is not nil, only an entry
// with that PMKID matches.
func (c *PMKSACache) Lookup(bssid net.HardwareAddr, pmkid []byte) (PMKSAEntry, bool) {
	for el := c.l.Front(); el != nil; el = el.Next() {
		e := el.Value.(*PMKSAEntry)
		if !bytes.Equal(e.BSSID, bssid) {
			continue
		}
		if pmkid != nil && !bytes.Equal(e.PMKID[:], pmkid) {
			continue
		}

		c.l.MoveToFront(el)
		return e.clone(), true
	}

	return PMKSAEntry{}, false
}

// Insert adds an entry, replacing every entry for the same BSSID so a new
// PMK never coexists with a stale one.
func (c *PMKSACache) Insert(bssid net.HardwareAddr, pmkid [PMKIDLen]byte, pmk [PMKLen]byte) {
	c.Remove(bssid)

	c.l.PushFront(&PMKSAEntry{
		BSSID: append(net.HardwareAddr(nil), bssid...),
		PMKID: pmkid,
		PMK:   pmk,
	})

	for c.l.Len() > c.size {
		c.l.Remove(c.l.Back())
	}
}

// Remove drops every entry for bssid and reports how many were removed.
func (c *PMKSACache) Remove(bssid net.HardwareAddr) int {
	var n int
	for el := c.l.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*PMKSAEntry); bytes.Equal(e.BSSID, bssid) {
			e.PMK = [PMKLen]byte{}
			c.l.Remove(el)
			n++
		}
		el = next
	}

	return n
}

// Flush removes all entries.
func (c *PMKSACache) Flush() {
	for el := c.l.Front(); el != nil; el = el.Next() {
		el.Value.(*PMKSAEntry).PMK = [PMKLen]byte{}
	}
	c.l.Init()
}

// Len returns the number of cached entries.
func (c *PMKSACache) Len() int { return c.l.Len() }

func (e *PMKSAEntry) clone() PMKSAEntry {
	out := *e
	out.BSSID = append(net.HardwareAddr(nil), e.BSSID...)
	return out
}
