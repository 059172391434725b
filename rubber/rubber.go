// Package rubber implements a compacting slab allocator for storing many
// variable-size blobs inside one fixed-size backing buffer. Unlike ordinary
// heap allocation, unused regions are tracked explicitly so that Compress can
// reclaim them into one free tail; the backing buffer keeps its full size.
//
// The backing region here is a single Go byte slice rather than an anonymous
// mmap: Go's garbage collector already owns the memory safety story that the
// original allocator bought itself through raw pointer bookkeeping, and no
// mmap wrapper appears anywhere in the dependency surface this module draws
// on. Hole tracking is kept in a side table (per-id structs addressed by
// index) instead of living inside the free bytes it describes, which is the
// "strict-ownership" alternative this design explicitly allows.
package rubber

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfMemory names the condition Add reports by returning id 0: no hole
// fits and the region cannot grow further. Add itself returns no error value.
var ErrOutOfMemory = errors.New("rubber: allocation exhausted")

// holeThresholds buckets free regions by size so a first-fit search only
// has to walk one short list instead of every hole in the region.
var holeThresholds = [...]uint64{
	1024 * 1024, 64 * 1024, 32 * 1024, 16 * 1024, 8192, 4096, 2048, 1024, 64, 0,
}

// moveLastMaxSize bounds the "move last allocation into a hole" defragmentation
// heuristic so it stays O(1)-amortised per Remove. The design notes call this
// threshold unparameterised in the original and suggest 64 KiB as a
// reasonable default; kept as a constant here for the same reason.
const moveLastMaxSize = 64 * 1024

// align rounds a requested size up to the allocator's granularity.
func align(size uint64) uint64 {
	const granularity = 16
	return (size + granularity - 1) &^ (granularity - 1)
}

func lookupHoleThreshold(size uint64) int {
	for i, t := range holeThresholds {
		if size >= t {
			return i
		}
	}
	return len(holeThresholds) - 1
}

type object struct {
	offset uint64
	brutto uint64 // rounded allocated size
	netto  uint64 // live size as last requested via Add/Shrink
	prevID uint32
	nextID uint32
	inUse  bool
}

type hole struct {
	offset uint64
	size   uint64
	prevID uint32 // object preceding this hole, 0 if none
	nextID uint32 // object following this hole, 0 if none
	prev   *hole
	next   *hole
	bucket int
}

// Rubber is a fixed-capacity compacting allocator. Every exported method
// locks mu, so a single Rubber may be shared by a foreground reader and a
// background store goroutine (as the cache façades do) without racing on
// buf/objects. The zero value is not usable; construct with New.
type Rubber struct {
	mu sync.Mutex

	buf       []byte
	maxSize   uint64
	nettoSize uint64
	brutto    uint64 // offset just past the highest live allocation

	objects []object // index 0 is an unused sentinel; ids are 1-based indices
	freeIDs []uint32

	firstID uint32 // head of the live id list, ordered by offset
	lastID  uint32

	holeHeads  [len(holeThresholds)]*hole
	holeByPrev map[uint32]*hole // keyed by hole.prevID, the live object immediately before
	holeByNext map[uint32]*hole // keyed by hole.nextID, the live object immediately after
	cow        bool
}

// New allocates a Rubber region able to hold up to maxSize bytes of live
// data (before rounding and fragmentation overhead). name is recorded only
// for diagnostics and may be empty.
func New(maxSize uint64, name string) (*Rubber, error) {
	if maxSize == 0 {
		return nil, fmt.Errorf("rubber %q: max size must be positive", name)
	}
	return &Rubber{
		buf:        make([]byte, maxSize),
		maxSize:    maxSize,
		objects:    make([]object, 1),
		holeByPrev: make(map[uint32]*hole),
		holeByNext: make(map[uint32]*hole),
		cow:        true,
	}, nil
}

// ForkCow controls whether a forked child process would inherit the
// allocator's backing memory copy-on-write. Go programs in this module never
// fork and exec the way the original spawner does, so this only records the
// intent for callers that model that lifecycle themselves.
func (r *Rubber) ForkCow(inherit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cow = inherit
}

// GetMaxSize returns the maximum total size of all allocations.
func (r *Rubber) GetMaxSize() uint64 { return r.maxSize }

// GetNettoSize returns the sum of all live allocation sizes.
func (r *Rubber) GetNettoSize() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nettoSize
}

// GetBruttoSize returns the offset just past the highest live allocation,
// i.e. the resident memory upper bound before Compress.
func (r *Rubber) GetBruttoSize() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.brutto
}

// Stats summarises the allocator's current utilisation.
type Stats struct {
	MaxSize uint64
	Netto   uint64
	Brutto  uint64
}

// GetStats returns a snapshot of the allocator's current utilisation.
func (r *Rubber) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{MaxSize: r.maxSize, Netto: r.nettoSize, Brutto: r.brutto}
}

func (r *Rubber) holeList(size uint64) int {
	return lookupHoleThreshold(size)
}

func (r *Rubber) unlinkHole(h *hole) {
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		r.holeHeads[h.bucket] = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	}
	h.prev, h.next = nil, nil
	if r.holeByPrev[h.prevID] == h {
		delete(r.holeByPrev, h.prevID)
	}
	if r.holeByNext[h.nextID] == h {
		delete(r.holeByNext, h.nextID)
	}
}

func (r *Rubber) addHole(offset, size uint64, prevID, nextID uint32) {
	if size == 0 {
		return
	}
	bucket := r.holeList(size)
	h := &hole{offset: offset, size: size, prevID: prevID, nextID: nextID, bucket: bucket}
	h.next = r.holeHeads[bucket]
	if h.next != nil {
		h.next.prev = h
	}
	r.holeHeads[bucket] = h
	r.holeByPrev[prevID] = h
	r.holeByNext[nextID] = h
}

func (r *Rubber) findHole(size uint64) *hole {
	bucket := r.holeList(size)
	for h := r.holeHeads[bucket]; h != nil; h = h.next {
		if h.size >= size {
			return h
		}
	}
	return nil
}

func (r *Rubber) allocID() uint32 {
	if n := len(r.freeIDs); n > 0 {
		id := r.freeIDs[n-1]
		r.freeIDs = r.freeIDs[:n-1]
		return id
	}
	r.objects = append(r.objects, object{})
	return uint32(len(r.objects) - 1)
}

func (r *Rubber) linkAfter(id uint32, prevID, nextID uint32) {
	obj := &r.objects[id]
	obj.prevID = prevID
	obj.nextID = nextID
	if prevID != 0 {
		r.objects[prevID].nextID = id
	} else {
		r.firstID = id
	}
	if nextID != 0 {
		r.objects[nextID].prevID = id
	} else {
		r.lastID = id
	}
}

// useHole carves id out of hole h, placing it at the hole's low end. Any
// remaining space becomes (or stays) a hole.
func (r *Rubber) useHole(h *hole, id uint32, size uint64) {
	prevID, nextID := h.prevID, h.nextID
	offset := h.offset
	remaining := h.size - size
	r.unlinkHole(h)

	r.objects[id] = object{offset: offset, brutto: size, netto: size, inUse: true}
	r.linkAfter(id, prevID, nextID)

	if remaining > 0 {
		r.addHole(offset+size, remaining, id, nextID)
	}
}

// Add inserts a new object of the given size and returns its id, or 0 if the
// allocator cannot satisfy the request.
func (r *Rubber) Add(size uint64) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(size)
}

func (r *Rubber) addLocked(size uint64) uint32 {
	if size == 0 {
		return 0
	}
	rounded := align(size)

	if h := r.findHole(rounded); h != nil {
		id := r.allocID()
		r.useHole(h, id, rounded)
		r.nettoSize += size
		return id
	}

	if r.brutto+rounded <= r.maxSize {
		id := r.allocID()
		r.objects[id] = object{offset: r.brutto, brutto: rounded, netto: size, inUse: true}
		r.linkAfter(id, r.lastID, 0)
		r.brutto += rounded
		r.nettoSize += size
		return id
	}

	if r.moveLast(rounded) {
		return r.addLocked(size)
	}

	return 0
}

// moveLast attempts to relocate the highest-offset live block into an
// existing hole, shrinking brutto size. Only attempted for objects no larger
// than moveLastMaxSize, keeping the amortised cost of Remove bounded.
func (r *Rubber) moveLast(wantSize uint64) bool {
	id := r.lastID
	if id == 0 {
		return false
	}
	obj := &r.objects[id]
	if obj.brutto > moveLastMaxSize || obj.brutto < wantSize {
		return false
	}
	h := r.findHole(obj.brutto)
	if h == nil {
		return false
	}
	left, hasLeft := r.holeByNext[id]
	if hasLeft && left == h {
		// the hole directly precedes the block: slide it down in place.
		r.unlinkHole(h)
		copy(r.buf[h.offset:h.offset+obj.netto], r.buf[obj.offset:obj.offset+obj.netto])
		obj.offset = h.offset
		r.brutto = obj.offset + obj.brutto
		return true
	}

	prevID, nextID := h.prevID, h.nextID
	newOffset := h.offset
	remaining := h.size - obj.brutto
	r.unlinkHole(h)

	copy(r.buf[newOffset:newOffset+obj.netto], r.buf[obj.offset:obj.offset+obj.netto])

	oldOffset := obj.offset
	oldBrutto := obj.brutto
	obj.offset = newOffset

	// unlink id from its old position in the live list and relink after prevID.
	oldPrev, oldNext := obj.prevID, obj.nextID
	if oldPrev != 0 {
		r.objects[oldPrev].nextID = oldNext
	} else {
		r.firstID = oldNext
	}
	if oldNext != 0 {
		r.objects[oldNext].prevID = oldPrev
	} else {
		r.lastID = oldPrev
	}
	r.linkAfter(id, prevID, nextID)

	if remaining > 0 {
		r.addHole(newOffset+oldBrutto, remaining, id, nextID)
	}
	// the vacated tail region shrinks brutto directly since id was the last
	// object; a hole that preceded it is now trailing too and is dropped.
	r.brutto = oldOffset
	if hasLeft {
		r.brutto = left.offset
		r.unlinkHole(left)
	}
	return true
}

// Remove releases the allocation, returning its bytes to the pool. id
// becomes invalid.
func (r *Rubber) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || int(id) >= len(r.objects) || !r.objects[id].inUse {
		return
	}
	obj := r.objects[id]
	r.nettoSize -= obj.netto

	prevID, nextID := obj.prevID, obj.nextID
	if prevID != 0 {
		r.objects[prevID].nextID = nextID
	} else {
		r.firstID = nextID
	}
	if nextID != 0 {
		r.objects[nextID].prevID = prevID
	} else {
		r.lastID = prevID
	}

	r.objects[id] = object{}
	r.freeIDs = append(r.freeIDs, id)

	if nextID == 0 {
		// trailing: drop this object's space, absorbing any hole that was
		// immediately before it (now trailing too) rather than leaving that
		// hole registered with a nextID that's about to be reused.
		trailingOffset := obj.offset
		if left, ok := r.holeByNext[id]; ok {
			trailingOffset = left.offset
			r.unlinkHole(left)
		}
		r.brutto = trailingOffset
		return
	}

	r.addHoleMerged(id, obj.offset, obj.brutto, prevID, nextID)
}

// addHoleMerged inserts a hole at offset/size for the region vacated by id,
// merging with any hole already adjacent on either side. Holes must never
// neighbour holes: useHole carves a hole by trusting its prevID/nextID to
// denote live objects, so a stale hole-to-hole boundary would corrupt the
// live list the next time that space is reused.
func (r *Rubber) addHoleMerged(id uint32, offset, size uint64, prevID, nextID uint32) {
	if left, ok := r.holeByNext[id]; ok {
		offset = left.offset
		size += left.size
		prevID = left.prevID
		r.unlinkHole(left)
	}
	if right, ok := r.holeByPrev[id]; ok {
		size += right.size
		nextID = right.nextID
		r.unlinkHole(right)
	}
	r.addHole(offset, size, prevID, nextID)
}

// Shrink reduces an allocation in place. newSize must not exceed the current
// netto size. The freed tail becomes a hole, merged with any hole already
// following the allocation and reusable by later Adds; a freed trailing
// region lowers the brutto size instead.
func (r *Rubber) Shrink(id uint32, newSize uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || int(id) >= len(r.objects) || !r.objects[id].inUse {
		return
	}
	obj := &r.objects[id]
	if newSize >= obj.netto {
		return
	}
	delta := obj.netto - newSize
	r.nettoSize -= delta
	obj.netto = newSize

	roundedNew := align(newSize)
	if roundedNew >= obj.brutto {
		return
	}
	freedOffset := obj.offset + roundedNew
	freedSize := obj.brutto - roundedNew
	obj.brutto = roundedNew

	if obj.nextID == 0 {
		r.brutto = freedOffset
		return
	}
	nextID := obj.nextID
	if right, ok := r.holeByPrev[id]; ok {
		freedSize += right.size
		nextID = right.nextID
		r.unlinkHole(right)
	}
	r.addHole(freedOffset, freedSize, id, nextID)
}

// GetSizeOf returns the rounded allocated size of id.
func (r *Rubber) GetSizeOf(id uint32) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || int(id) >= len(r.objects) {
		return 0
	}
	return r.objects[id].brutto
}

// Write returns a writable slice over the live bytes of id, sized to its
// current netto length. The slice aliases the shared backing buffer and is
// only guaranteed stable until the next call that may relocate id's block
// (Shrink, Compress, or an Add that triggers moveLast); callers that need a
// snapshot must copy it while holding whatever lease keeps id alive.
func (r *Rubber) Write(id uint32) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || int(id) >= len(r.objects) || !r.objects[id].inUse {
		return nil
	}
	obj := r.objects[id]
	return r.buf[obj.offset : obj.offset+obj.netto]
}

// Read returns a read-only view over the live bytes of id, subject to the
// same stability caveat as Write.
func (r *Rubber) Read(id uint32) []byte {
	return r.Write(id)
}

// Compress walks the live list in offset order and slides every block down
// to eliminate holes, then drops all hole bookkeeping and lowers the brutto
// size to the end of the last block; the backing buffer itself is not
// shrunk. All ids remain valid; any previously obtained
// byte slices from Write/Read are invalidated.
func (r *Rubber) Compress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expected uint64
	for id := r.firstID; id != 0; {
		obj := &r.objects[id]
		if obj.offset > expected {
			copy(r.buf[expected:expected+obj.netto], r.buf[obj.offset:obj.offset+obj.netto])
			obj.offset = expected
			obj.brutto = align(obj.netto)
		}
		expected = obj.offset + obj.brutto
		id = obj.nextID
	}
	r.brutto = expected
	for i := range r.holeHeads {
		r.holeHeads[i] = nil
	}
	r.holeByPrev = make(map[uint32]*hole)
	r.holeByNext = make(map[uint32]*hole)
}
