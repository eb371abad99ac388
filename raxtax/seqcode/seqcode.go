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

// Package seqcode translates ASCII nucleotide sequences into the 2-bit
// alphabet and emits the stream of overlapping 8-mers as 16-bit keys.
package seqcode

import (
	"sync"

	"github.com/shenwei356/kmers"
)

// K is the fixed k-mer length used throughout the classifier.
const K = 8

// NumKeys is the number of distinct k-mer keys addressable by K=8.
const NumKeys = 1 << (2 * K)

// codeTable maps an ASCII nucleotide to its 2-bit code. codeTable[b] == 0xff
// marks b as ambiguous/degenerate.
var codeTable = func() [256]uint8 {
	var t [256]uint8
	for i := range t {
		t[i] = 0xff
	}
	t['A'], t['a'] = 0, 0
	t['C'], t['c'] = 1, 1
	t['G'], t['g'] = 2, 2
	t['T'], t['t'] = 3, 3
	t['U'], t['u'] = 3, 3
	return t
}()

const keyMask = uint16(NumKeys - 1)

// Encode returns the 2-bit code for an ASCII base and whether it is
// unambiguous.
func Encode(base byte) (code uint8, ok bool) {
	c := codeTable[base]
	return c, c != 0xff
}

var poolKeys = sync.Pool{
	New: func() interface{} {
		s := make([]uint16, 0, 1024)
		return &s
	},
}

// GetKeysSlice returns a scratch []uint16 from a pool, for callers that
// want to avoid an allocation per sequence. Callers must call
// RecycleKeysSlice when done.
func GetKeysSlice() *[]uint16 {
	return poolKeys.Get().(*[]uint16)
}

// RecycleKeysSlice returns a scratch slice obtained from GetKeysSlice.
func RecycleKeysSlice(p *[]uint16) {
	*p = (*p)[:0]
	poolKeys.Put(p)
}

// Keys appends the ordered stream of overlapping 8-mer keys found in seq to
// dst and returns the result. Any ambiguous base resets the running window:
// no k-mer crossing an ambiguous base is emitted. Emission order is
// left-to-right. Duplicate keys are not collapsed here; callers that need a
// reference's or query's *set* of keys must call Unique on the result.
func Keys(seq []byte, dst []uint16) []uint16 {
	var window uint16
	var run int // number of consecutive unambiguous bases accumulated
	for _, b := range seq {
		code, ok := Encode(b)
		if !ok {
			window = 0
			run = 0
			continue
		}
		window = (window << 2) | uint16(code)
		window &= keyMask
		run++
		if run >= K {
			dst = append(dst, window)
		}
	}
	return dst
}

// Unique sorts keys ascending and removes duplicates in place, returning the
// deduplicated prefix. It is used both to build a reference's k-mer set
// before index insertion and to build a query's unique key set before
// scoring.
func Unique(keys []uint16) []uint16 {
	if len(keys) < 2 {
		return keys
	}
	sortUint16(keys)
	w := 1
	for r := 1; r < len(keys); r++ {
		if keys[r] != keys[w-1] {
			keys[w] = keys[r]
			w++
		}
	}
	return keys[:w]
}

// sortUint16 sorts a small slice with insertion sort for tiny inputs
// (typical unambiguous 8-mer counts per record) and falls back to a
// standard sort otherwise.
func sortUint16(a []uint16) {
	if len(a) < 32 {
		for i := 1; i < len(a); i++ {
			v := a[i]
			j := i - 1
			for j >= 0 && a[j] > v {
				a[j+1] = a[j]
				j--
			}
			a[j+1] = v
		}
		return
	}
	quickSortUint16(a)
}

func quickSortUint16(a []uint16) {
	if len(a) < 2 {
		return
	}
	if len(a) < 32 {
		sortUint16(a)
		return
	}
	pivot := a[len(a)/2]
	lo, hi := 0, len(a)-1
	for lo <= hi {
		for a[lo] < pivot {
			lo++
		}
		for a[hi] > pivot {
			hi--
		}
		if lo <= hi {
			a[lo], a[hi] = a[hi], a[lo]
			lo++
			hi--
		}
	}
	quickSortUint16(a[:hi+1])
	quickSortUint16(a[lo:])
}

// Decode renders a k-mer key back to its 8-nucleotide string, for use in
// human-readable log messages only; the numeric hot path never needs this.
func Decode(key uint16) string {
	// kmers.Decode operates on the same 2-bit-per-base big-endian packing
	// this package uses, so it is reused here purely for formatting.
	return string(kmers.Decode(uint64(key), K))
}

// IsLowComplexity reports whether seq looks degenerate (a homopolymer or
// entirely ambiguous), used to attach a warning to suspicious queries.
func IsLowComplexity(seq []byte) bool {
	if len(seq) == 0 {
		return true
	}
	var distinct [4]bool
	nAmbiguous := 0
	for _, b := range seq {
		code, ok := Encode(b)
		if !ok {
			nAmbiguous++
			continue
		}
		distinct[code] = true
	}
	if nAmbiguous == len(seq) {
		return true
	}
	n := 0
	for _, d := range distinct {
		if d {
			n++
		}
	}
	return n <= 1
}
