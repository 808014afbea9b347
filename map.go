// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package oamap is an open-addressing hash table with linear probing whose
// key and value handling is supplied at runtime by type descriptors rather
// than fixed by the Go type system. See
// https://en.wikipedia.org/wiki/Linear_probing.
//
// # Descriptors and ownership
//
// A Table[K,V] is constructed from a KeyType[K] (hash, equal, copy, destroy)
// and a ValueType[V] (copy, destroy). Keys need not be comparable: equality
// is whatever KeyType.Equal says it is. Every key and value handed to Put is
// copied through its descriptor before it is stored, and the caller keeps
// its originals. From that point the table owns the copies and releases each
// one through Destroy exactly once: when the entry is overwritten, when it is
// deleted, or when the table is closed. Resizing moves owned entries between
// bin arrays without copying or destroying them.
//
// # Bins and probing
//
// The table is a power-of-two array of bins, never smaller than 8. Each bin
// is in one of three states:
//
//	never-used: nothing has been stored here since the last resize
//	 tombstone: an entry was stored here and has since been deleted
//	  occupied: holds an owned key, an owned value, and hash(key)
//
// The probe sequence for hash h is h, h+1, h+2, ... modulo the table size.
// Lookup walks the sequence until it finds an occupied bin holding the key,
// or a never-used bin, which proves the key is absent since insertion always
// fills the earliest non-occupied bin of the sequence. Tombstones keep probe
// chains intact and are skipped by lookups but reused by insertions. Linear
// probing suffers from primary clustering; in exchange the index arithmetic
// is a single add and mask, and neighbouring probes share cache lines.
//
// The hash of each key is cached in its bin. Lookups compare the cached hash
// before calling Equal, and resizing re-homes entries using the cached hash
// without calling Hash again.
//
// # Load factor
//
// Two counters drive resizing. used is the number of bins that are occupied
// or tombstoned and active is the number of occupied bins. After an
// insertion, if used exceeds half the size the table doubles. After a
// deletion, if active drops below an eighth of the size the table halves
// (but never below its minimum size). A resize rebuilds the bin array from
// scratch, dropping every tombstone, so afterwards used == active. Keeping
// used <= size/2 guarantees every probe sequence reaches a never-used bin.
//
// A Table is NOT goroutine-safe.
package oamap

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// minSize is the smallest number of bins a Table ever has.
const minSize = 8

type binState uint8

const (
	// binNeverUsed is the zero value so freshly allocated bin arrays need no
	// initialisation beyond clearing.
	binNeverUsed binState = iota
	binTombstone
	binOccupied
)

func (s binState) String() string {
	switch s {
	case binNeverUsed:
		return "never-used"
	case binTombstone:
		return "tombstone"
	case binOccupied:
		return "occupied"
	default:
		return fmt.Sprintf("binState(%d)", uint8(s))
	}
}

// Bin is a single storage slot in a Table. It is exported only so that an
// Allocator can hand out arrays of bins; its fields are private to the
// table.
type Bin[K, V any] struct {
	state binState
	// hash caches KeyType.Hash(key) while the bin is occupied.
	hash  uint32
	key   K
	value V
}

// Stats reports the sizing counters of a Table.
type Stats struct {
	// Size is the number of bins.
	Size int
	// Used is the number of bins that are occupied or tombstoned.
	Used int
	// Active is the number of occupied bins, i.e. the number of entries.
	Active int
}

// Table is an unordered map from keys to values with Put, Get, Delete, and
// All operations, using descriptor-supplied hashing, equality and ownership.
//
// A Table is NOT goroutine-safe.
type Table[K, V any] struct {
	keyType   *KeyType[K]
	valueType *ValueType[V]
	// The allocator to use for the bins slice.
	allocator Allocator[K, V]
	logger    zerolog.Logger
	// bins is a power of two in length. The length minus one is used as a
	// mask to quickly compute i%len(bins).
	bins []Bin[K, V]
	mask uint32
	// The number of occupied and tombstoned bins.
	used int
	// The number of occupied bins.
	active  int
	minSize int
}

// New constructs a new Table using kt to handle keys and vt to handle
// values. The descriptors are retained, not copied, and must not be modified
// while the table is in use. The zero value for a Table is not usable.
func New[K, V any](kt *KeyType[K], vt *ValueType[V], options ...option[K, V]) *Table[K, V] {
	if kt == nil || kt.Hash == nil || kt.Equal == nil {
		panic(errors.AssertionFailedf("oamap: key type must provide Hash and Equal"))
	}
	if vt == nil {
		vt = &ValueType[V]{}
	}

	t := &Table[K, V]{
		keyType:   kt,
		valueType: vt,
		allocator: defaultAllocator[K, V]{},
		logger:    zerolog.Nop(),
		minSize:   minSize,
	}

	for _, op := range options {
		op.apply(t)
	}

	t.setBins(t.allocBins(t.minSize))
	t.checkInvariants()
	return t
}

// Close destroys every key and value owned by the table and releases the
// bins back to the configured allocator. It is invalid to use a Table after
// it has been closed, though Close itself is idempotent.
func (t *Table[K, V]) Close() {
	if t.bins == nil {
		return
	}
	for i := range t.bins {
		b := &t.bins[i]
		if b.state == binOccupied {
			t.keyType.destroy(b.key)
			t.valueType.destroy(b.value)
		}
	}
	t.logger.Debug().Int("size", len(t.bins)).Int("active", t.active).Msg("close")
	t.freeBins(t.bins)
	t.bins = nil
	t.mask = 0
	t.used = 0
	t.active = 0
}

// Put inserts an entry into the table, overwriting an existing value if an
// entry with an equal key already exists. The table stores copies of key and
// value made with the descriptors; the caller keeps ownership of the
// arguments.
//
// Overwriting always replaces both the stored key and the stored value with
// fresh copies and destroys the old ones, even when the new value is
// identical to the old one.
func (t *Table[K, V]) Put(key K, value V) {
	h := t.keyType.Hash(key)
	b := t.findKey(h, key)

	if b.state == binOccupied {
		// Copy before destroying: value may be a view of b.value obtained
		// from Get.
		newKey, newValue := t.keyType.copy(key), t.valueType.copy(value)
		t.keyType.destroy(b.key)
		t.valueType.destroy(b.value)
		b.key, b.value = newKey, newValue
		t.checkInvariants()
		return
	}

	// The key is absent. The earliest reusable bin of the probe sequence may
	// be a tombstone before the never-used bin findKey stopped at.
	t.uncheckedPut(h, t.keyType.copy(key), t.valueType.copy(value))
	t.active++

	if t.used > len(t.bins)/2 {
		t.resize(2*len(t.bins), "grow")
	}
	t.checkInvariants()
}

// Get retrieves the value from the table for the specified key, returning
// ok=false if the key is not present. The returned value is the table's own
// copy: it must not be destroyed by the caller, and for types with reference
// semantics it is only valid until the next Put, Delete or Close.
func (t *Table[K, V]) Get(key K) (value V, ok bool) {
	b := t.findKey(t.keyType.Hash(key), key)
	if b.state != binOccupied {
		return value, false
	}
	return b.value, true
}

// Has returns true if the table contains an entry for key.
func (t *Table[K, V]) Has(key K) bool {
	_, ok := t.Get(key)
	return ok
}

// Delete deletes the entry corresponding to the specified key from the
// table, destroying the owned key and value. It is a noop to delete a
// non-existent key, apart from possibly shrinking the table.
func (t *Table[K, V]) Delete(key K) {
	b := t.findKey(t.keyType.Hash(key), key)

	if b.state == binOccupied {
		t.keyType.destroy(b.key)
		t.valueType.destroy(b.value)
		// Clear the bin so the GC does not retain the destroyed key and
		// value. The bin stays part of probe sequences until the next
		// resize.
		*b = Bin[K, V]{state: binTombstone}
		t.active--
	}

	// The shrink check runs even when nothing was deleted so that the
	// active >= size/8 bound holds after every Delete, including deletes
	// following a growth that was triggered mostly by tombstones.
	if t.active < len(t.bins)/8 && len(t.bins) > t.minSize {
		t.resize(len(t.bins)/2, "shrink")
	}
	t.checkInvariants()
}

// All calls yield sequentially for each key and value present in the
// table, in no particular order. If yield returns false, iteration stops.
// The table must not be mutated during iteration.
func (t *Table[K, V]) All(yield func(key K, value V) bool) {
	for i := range t.bins {
		b := &t.bins[i]
		if b.state == binOccupied {
			if !yield(b.key, b.value) {
				return
			}
		}
	}
}

// Len returns the number of entries in the table.
func (t *Table[K, V]) Len() int {
	return t.active
}

// Stats returns the current size and occupancy counters of the table.
func (t *Table[K, V]) Stats() Stats {
	return Stats{Size: len(t.bins), Used: t.used, Active: t.active}
}

// findKey returns the bin holding key, or the never-used bin that ends its
// probe sequence if the key is absent.
func (t *Table[K, V]) findKey(h uint32, key K) *Bin[K, V] {
	n := uint32(len(t.bins))
	for seq := makeProbeSeq(h, t.mask); seq.index < n; seq = seq.next() {
		b := &t.bins[seq.offset]
		switch b.state {
		case binNeverUsed:
			return b
		case binOccupied:
			if b.hash == h && t.keyType.Equal(b.key, key) {
				return b
			}
		}
	}
	panic(errors.AssertionFailedf("oamap: probe sequence exhausted looking up hash %08x\n%s",
		h, t.debugString()))
}

// findEmpty returns the first tombstoned or never-used bin of the probe
// sequence for h.
func (t *Table[K, V]) findEmpty(h uint32) *Bin[K, V] {
	n := uint32(len(t.bins))
	for seq := makeProbeSeq(h, t.mask); seq.index < n; seq = seq.next() {
		b := &t.bins[seq.offset]
		if b.state != binOccupied {
			return b
		}
	}
	panic(errors.AssertionFailedf("oamap: no free bin for hash %08x\n%s", h, t.debugString()))
}

// uncheckedPut stores an already-owned key and value known not to be in the
// table. It maintains used but not active, which callers adjust themselves.
func (t *Table[K, V]) uncheckedPut(h uint32, key K, value V) {
	b := t.findEmpty(h)
	if b.state == binNeverUsed {
		t.used++
	}
	*b = Bin[K, V]{state: binOccupied, hash: h, key: key, value: value}
}

// resize rebuilds the table with newSize bins, moving every occupied bin
// into the new array using its cached hash, and discards the old array.
// Ownership of keys and values moves with the bins; nothing is copied or
// destroyed.
func (t *Table[K, V]) resize(newSize int, reason string) {
	oldBins := t.bins
	oldActive := t.active

	t.setBins(t.allocBins(newSize))
	for i := range oldBins {
		b := &oldBins[i]
		if b.state != binOccupied {
			continue
		}
		t.uncheckedPut(b.hash, b.key, b.value)
		t.active++
	}

	if t.active != oldActive {
		panic(errors.AssertionFailedf("oamap: resize moved %d entries, expected %d",
			t.active, oldActive))
	}

	t.logger.Debug().
		Str("reason", reason).
		Int("from", len(oldBins)).
		Int("to", newSize).
		Int("active", t.active).
		Msg("resize")

	t.freeBins(oldBins)
}

func (t *Table[K, V]) allocBins(n int) []Bin[K, V] {
	bins := t.allocator.AllocBins(n)
	if len(bins) != n {
		panic(errors.AssertionFailedf("oamap: allocator returned %d bins, expected %d", len(bins), n))
	}
	clear(bins)
	return bins
}

func (t *Table[K, V]) freeBins(bins []Bin[K, V]) {
	clear(bins)
	t.allocator.FreeBins(bins)
}

func (t *Table[K, V]) setBins(bins []Bin[K, V]) {
	t.bins = bins
	t.mask = uint32(len(bins) - 1)
	t.used = 0
	t.active = 0
}

func (t *Table[K, V]) checkInvariants() {
	if invariants {
		size := len(t.bins)
		if size < t.minSize || size&(size-1) != 0 {
			panic(fmt.Sprintf("invariant failed: size %d is not a power of two >= %d\n%s",
				size, t.minSize, t.debugString()))
		}

		var used, active int
		for i := range t.bins {
			b := &t.bins[i]
			switch b.state {
			case binNeverUsed:
			case binTombstone:
				used++
			case binOccupied:
				used++
				active++
				if h := t.keyType.Hash(b.key); h != b.hash {
					panic(fmt.Sprintf("invariant failed: bin(%d): cached hash %08x != %08x\n%s",
						i, b.hash, h, t.debugString()))
				}
				if f := t.findKey(b.hash, b.key); f != b {
					panic(fmt.Sprintf("invariant failed: bin(%d): %v not found\n%s",
						i, b.key, t.debugString()))
				}
			default:
				panic(fmt.Sprintf("invariant failed: bin(%d): bad state %s", i, b.state))
			}
		}

		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d used bins, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
		if active != t.active {
			panic(fmt.Sprintf("invariant failed: found %d active bins, but active count is %d\n%s",
				active, t.active, t.debugString()))
		}
		if t.used > size/2 {
			panic(fmt.Sprintf("invariant failed: used %d exceeds half of size %d\n%s",
				t.used, size, t.debugString()))
		}
	}
}

func (t *Table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "size=%d  used=%d  active=%d\n", len(t.bins), t.used, t.active)
	for i := range t.bins {
		switch b := &t.bins[i]; b.state {
		case binOccupied:
			fmt.Fprintf(&buf, "  %4d: %v [hash=%08x home=%d]\n", i, b.key, b.hash, b.hash&t.mask)
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, b.state)
		}
	}
	return buf.String()
}

// probeSeq maintains the state for a probe sequence. The sequence is linear:
//
//	p(i) := hash + i (mod mask+1)
//
// Since the table size is a power of two, the modulus is a mask and the
// sequence visits every bin exactly once in its first mask+1 steps.
type probeSeq struct {
	mask   uint32
	offset uint32
	index  uint32
}

func makeProbeSeq(hash, mask uint32) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: hash & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index++
	s.offset = (s.offset + 1) & s.mask
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}
