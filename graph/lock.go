package graph

import "sync"

// lockID identifies one of the four graph locks. The numeric order is the
// global acquisition order; lockSet.lock sorts requests so callers cannot
// deadlock by listing locks out of order.
type lockID int

const (
	lockLeafVertices lockID = iota
	lockNonLeafVertices
	lockLeafEdges
	lockNonLeafEdges
	lockCount
)

// lockSet is the graph's lock hierarchy. With enabled=false every operation
// is a no-op, for graphs confined to a single goroutine.
type lockSet struct {
	enabled bool
	mus     [lockCount]sync.RWMutex
}

func newLockSet(enabled bool) lockSet {
	return lockSet{enabled: enabled}
}

func (ls *lockSet) lock(ids ...lockID) {
	if !ls.enabled {
		return
	}
	for i := lockID(0); i < lockCount; i++ {
		if contains(ids, i) {
			ls.mus[i].Lock()
		}
	}
}

func (ls *lockSet) unlock(ids ...lockID) {
	if !ls.enabled {
		return
	}
	for i := lockCount - 1; i >= 0; i-- {
		if contains(ids, i) {
			ls.mus[i].Unlock()
		}
	}
}

func (ls *lockSet) rlock(ids ...lockID) {
	if !ls.enabled {
		return
	}
	for i := lockID(0); i < lockCount; i++ {
		if contains(ids, i) {
			ls.mus[i].RLock()
		}
	}
}

func (ls *lockSet) runlock(ids ...lockID) {
	if !ls.enabled {
		return
	}
	for i := lockCount - 1; i >= 0; i-- {
		if contains(ids, i) {
			ls.mus[i].RUnlock()
		}
	}
}

func contains(ids []lockID, id lockID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
