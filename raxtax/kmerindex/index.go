// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package kmerindex implements the inverted k-mer index: a mapping from
// each of the 65536 possible 8-mer keys to the sorted set of reference
// indices whose sequence contains that key.
package kmerindex

import (
	"sort"

	"github.com/twotwotwo/sorts"

	"github.com/voidforge/raxtax/raxtax/seqcode"
)

// Index stores buckets contiguously: Offsets[k]..Offsets[k+1] is the slice
// of References holding the bucket for key k, so a lookup is two array
// reads plus a contiguous scan, never a pointer chase.
//
// References holds reference indices as uint64 regardless of whether the
// owning database was built wide: spec §9 requires index type to stay
// uniform across the index, the tree's leaf lists, and the scratch array,
// and a runtime-selected width cannot be threaded through a compile-time
// generic parameter. Database.Wide instead governs only the on-disk width
// (see raxdb/serialization.go) and the build-time capacity check.
type Index struct {
	Offsets    [seqcode.NumKeys + 1]uint32
	References []uint64
}

// entry is a (key, reference) pair used only while building the index.
type entry struct {
	key uint16
	ref uint64
}

type entries []entry

func (e entries) Len() int      { return len(e) }
func (e entries) Swap(i, j int) { e[i], e[j] = e[j], e[i] }
func (e entries) Less(i, j int) bool {
	if e[i].key != e[j].key {
		return e[i].key < e[j].key
	}
	return e[i].ref < e[j].ref
}

// Builder accumulates (key set, reference) pairs before Build lays out the
// contiguous offsets+flat-array representation.
type Builder struct {
	entries entries
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Add registers every key in keys (already unique, per seqcode.Unique) as
// occurring in reference ref.
func (b *Builder) Add(ref uint64, keys []uint16) {
	for _, k := range keys {
		b.entries = append(b.entries, entry{key: k, ref: ref})
	}
}

// Build sorts all (key, ref) pairs by key (then by ascending reference
// index, so buckets come out already index-ordered per spec §4.3) and lays
// them into the contiguous Offsets/References representation.
func (b *Builder) Build() *Index {
	// sorts.Quicksort parallelizes across sorts.MaxProcs goroutines for
	// the large-N case (millions of k-mer occurrences); it accepts any
	// sort.Interface.
	if len(b.entries) > 1<<16 {
		sorts.Quicksort(b.entries)
	} else {
		sort.Sort(b.entries)
	}

	idx := &Index{References: make([]uint64, len(b.entries))}
	pos := uint32(0)
	key := uint16(0)
	for _, e := range b.entries {
		for key < e.key {
			idx.Offsets[key+1] = pos
			key++
		}
		idx.References[pos] = e.ref
		pos++
	}
	for k := int(key); k < seqcode.NumKeys; k++ {
		idx.Offsets[k+1] = pos
	}
	return idx
}

// Bucket returns the sorted, deduplicated list of reference indices whose
// sequence contains key.
func (idx *Index) Bucket(key uint16) []uint64 {
	return idx.References[idx.Offsets[key]:idx.Offsets[int(key)+1]]
}

// AccumulateHits increments hits[r] for every reference r containing any
// key in keys. hits must have length >= number of references and must be
// zeroed by the caller before the first call for a given query. touched is
// appended with every reference index whose hit count transitions from
// zero to nonzero, so callers can visit only the references actually hit
// without scanning the whole hits array.
func AccumulateHits(idx *Index, keys []uint16, hits []uint32, touched []uint64) []uint64 {
	for _, k := range keys {
		for _, r := range idx.Bucket(k) {
			if hits[r] == 0 {
				touched = append(touched, r)
			}
			hits[r]++
		}
	}
	return touched
}
