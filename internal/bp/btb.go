package bp

// DefaultEntries is the direct mapped table size.
const DefaultEntries = 512

// DefaultAssocEntries is the fully associative table size.
const DefaultAssocEntries = 32

type btbEntry struct {
	target uint32
	tag    uint32
}

// BTB is a direct mapped branch target buffer indexed by word address and
// tagged with the full pc.
type BTB struct {
	table []btbEntry
	mask  uint32
}

// NewBTB creates a BTB; entries must be a power of two.
func NewBTB(entries int) *BTB {
	return &BTB{table: make([]btbEntry, entries), mask: uint32(entries - 1)}
}

func (b *BTB) index(pc uint32) uint32 {
	return pc >> 2 & b.mask
}

// PredictFetch returns the stored target when the tag matches pc.
func (b *BTB) PredictFetch(pc uint32) uint32 {
	e := b.table[b.index(pc)]
	// only a tag match predicts, to avoid aliasing
	if e.tag == pc {
		return e.target
	}
	return 0
}

// UpdateExecute records the next pc of every branch and jump.
func (b *BTB) UpdateExecute(pc, pcNext uint32, isBrJmp bool, inst uint32) {
	if inst == Bubble || !isBrJmp {
		return
	}
	b.table[b.index(pc)] = btbEntry{target: pcNext, tag: pc}
}

// FullyAssoc is a fully associative branch target buffer with least
// recently used replacement.
type FullyAssoc struct {
	entries []btbEntry
	valid   []bool
	used    []uint64
	clock   uint64
}

// NewFullyAssoc creates a fully associative BTB of n entries.
func NewFullyAssoc(n int) *FullyAssoc {
	return &FullyAssoc{
		entries: make([]btbEntry, n),
		valid:   make([]bool, n),
		used:    make([]uint64, n),
	}
}

func (f *FullyAssoc) lookup(pc uint32) int {
	for i := range f.entries {
		if f.valid[i] && f.entries[i].tag == pc {
			return i
		}
	}
	return -1
}

// PredictFetch returns the stored target on a hit.
func (f *FullyAssoc) PredictFetch(pc uint32) uint32 {
	i := f.lookup(pc)
	if i < 0 {
		return 0
	}
	f.clock++
	f.used[i] = f.clock
	return f.entries[i].target
}

// UpdateExecute records branches and jumps, replacing the least recently
// used entry when full.
func (f *FullyAssoc) UpdateExecute(pc, pcNext uint32, isBrJmp bool, inst uint32) {
	if inst == Bubble || !isBrJmp || len(f.entries) == 0 {
		return
	}
	i := f.lookup(pc)
	if i < 0 {
		i = 0
		for j := range f.entries {
			if !f.valid[j] {
				i = j
				break
			}
			if f.used[j] < f.used[i] {
				i = j
			}
		}
	}
	f.clock++
	f.entries[i] = btbEntry{target: pcNext, tag: pc}
	f.valid[i] = true
	f.used[i] = f.clock
}
