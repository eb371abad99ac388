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

package seqcode

import "testing"

func TestKeysExactlyOneWindow(t *testing.T) {
	keys := Keys([]byte("ACGTACGT"), nil)
	if len(keys) != 1 {
		t.Fatalf("expected exactly one 8-mer key, got %d", len(keys))
	}
}

func TestKeysAmbiguousResetsWindow(t *testing.T) {
	keys := Keys([]byte("AAAAAAAANAAAAAAA"), nil)
	// 8 unambiguous, then N resets, then 7 more (< 8) after reset: no
	// k-mer can cross the N, and the trailing run is one base short.
	if len(keys) != 1 {
		t.Fatalf("expected exactly one key across the reset boundary, got %d", len(keys))
	}
}

func TestKeysOnlyAmbiguous(t *testing.T) {
	keys := Keys([]byte("NNNNNNNNNN"), nil)
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %d", len(keys))
	}
}

func TestKeysShorterThanK(t *testing.T) {
	keys := Keys([]byte("ACGTACG"), nil)
	if len(keys) != 0 {
		t.Fatalf("expected no keys for a 7-base sequence, got %d", len(keys))
	}
}

func TestUniqueDeduplicates(t *testing.T) {
	keys := Keys([]byte("AAAAAAAAA"), nil) // two overlapping identical 8-mers
	if len(keys) != 2 {
		t.Fatalf("expected 2 raw keys, got %d", len(keys))
	}
	u := Unique(keys)
	if len(u) != 1 {
		t.Fatalf("expected 1 unique key, got %d", len(u))
	}
}

func TestIsLowComplexity(t *testing.T) {
	if !IsLowComplexity([]byte("AAAAAAAAAAAA")) {
		t.Fatalf("homopolymer should be low complexity")
	}
	if !IsLowComplexity([]byte("NNNNNNNN")) {
		t.Fatalf("all-ambiguous should be low complexity")
	}
	if IsLowComplexity([]byte("ACGTACGTACGTACGT")) {
		t.Fatalf("balanced sequence should not be low complexity")
	}
}
