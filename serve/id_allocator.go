// Issues and reclaims the integer sequence ids that bind branches to
// physical backend decoding sequences.

package serve

import "fmt"

// SeqIDAllocator hands out sequence ids unique among currently-live
// sequences. Recycled ids are reissued before fresh ones are minted.
type SeqIDAllocator struct {
	nextID  int64
	freeIDs []int64
	liveIDs map[int64]bool
}

// NewSeqIDAllocator creates an allocator starting at id 0.
func NewSeqIDAllocator() *SeqIDAllocator {
	return &SeqIDAllocator{liveIDs: make(map[int64]bool)}
}

// GetNewID returns a sequence id not bound to any live sequence.
func (a *SeqIDAllocator) GetNewID() int64 {
	var id int64
	if n := len(a.freeIDs); n > 0 {
		id = a.freeIDs[n-1]
		a.freeIDs = a.freeIDs[:n-1]
	} else {
		id = a.nextID
		a.nextID++
	}
	a.liveIDs[id] = true
	return id
}

// RecycleID returns a freed id to the allocator. Recycling an id that is
// not live is a contract breach.
func (a *SeqIDAllocator) RecycleID(id int64) {
	if !a.liveIDs[id] {
		panic(fmt.Sprintf("RecycleID: id %d is not live", id))
	}
	delete(a.liveIDs, id)
	a.freeIDs = append(a.freeIDs, id)
}

// NumLive returns the number of ids currently bound to live sequences.
func (a *SeqIDAllocator) NumLive() int {
	return len(a.liveIDs)
}
