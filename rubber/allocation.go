package rubber

// Allocation owns a single Rubber slot and releases it exactly once. The
// zero value is an empty (false-valued) allocation, mirroring the
// move-only handle the original allocator returns from Add.
type Allocation struct {
	rubber *Rubber
	id     uint32
}

// NewAllocation wraps an existing id as an owning handle. Passing id 0
// produces an empty allocation.
func NewAllocation(r *Rubber, id uint32) Allocation {
	if id == 0 {
		return Allocation{}
	}
	return Allocation{rubber: r, id: id}
}

// Valid reports whether the allocation currently owns a live object.
func (a Allocation) Valid() bool { return a.id != 0 }

// Release frees the underlying allocation, if any. Safe to call more than
// once; subsequent calls are no-ops.
func (a *Allocation) Release() {
	if a.id != 0 {
		a.rubber.Remove(a.id)
		a.id = 0
		a.rubber = nil
	}
}

// Shrink reduces the allocation in place.
func (a Allocation) Shrink(newSize uint64) {
	if a.id != 0 {
		a.rubber.Shrink(a.id, newSize)
	}
}

// Write returns a writable view over the allocation's live bytes.
func (a Allocation) Write() []byte {
	if a.id == 0 {
		return nil
	}
	return a.rubber.Write(a.id)
}

// Read returns a read-only view over the allocation's live bytes.
func (a Allocation) Read() []byte {
	if a.id == 0 {
		return nil
	}
	return a.rubber.Read(a.id)
}

// Size returns the rounded allocated size backing this allocation.
func (a Allocation) Size() uint64 {
	if a.id == 0 {
		return 0
	}
	return a.rubber.GetSizeOf(a.id)
}
