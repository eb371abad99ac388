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

package score

import (
	"math"
	"testing"

	"github.com/voidforge/raxtax/raxtax/kmerindex"
	"github.com/voidforge/raxtax/raxtax/query"
	"github.com/voidforge/raxtax/raxtax/raxdb"
	"github.com/voidforge/raxtax/raxtax/seqcode"
	"github.com/voidforge/raxtax/raxtax/taxon"
)

// buildDB constructs an in-memory database from raw sequences and lineages,
// bypassing FASTA parsing entirely.
func buildDB(t *testing.T, seqs [][]byte, lineages [][]string) *raxdb.Database {
	t.Helper()
	tb := taxon.NewBuilder()
	kb := kmerindex.NewBuilder()

	db := &raxdb.Database{}
	for i, s := range seqs {
		tb.Add(uint64(i), lineages[i])
		keys := seqcode.Unique(seqcode.Keys(s, nil))
		kb.Add(uint64(i), keys)
		db.References = append(db.References, raxdb.Reference{Seq: s, Keys: keys})
	}
	tree, err := tb.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	db.Tree = tree
	db.Index = kb.Build()
	return db
}

func mkQuery(s []byte) query.Query {
	return query.Query{Label: "q", Seq: s, Keys: seqcode.Unique(seqcode.Keys(s, nil))}
}

func TestRunExactMatchFastPath(t *testing.T) {
	seqs := [][]byte{
		[]byte("ACGTACGTACGTACGT"),
		[]byte("TTTTTTTTTTTTTTTT"),
	}
	lineages := [][]string{
		{"A", "B"},
		{"A", "C"},
	}
	db := buildDB(t, seqs, lineages)
	scratch := NewScratch(len(db.References), len(db.Tree.Nodes))

	out := Run(db, mkQuery(append([]byte(nil), seqs[0]...)), scratch, Options{FilterExponent: DefaultFilterExponent})
	if !out.ExactHit {
		t.Fatalf("expected exact hit")
	}
	if len(out.Rows) != 1 || out.Rows[0].RefIndex != 0 {
		t.Fatalf("rows = %+v", out.Rows)
	}
	for _, c := range out.Rows[0].Confidences {
		if c != 1.0 {
			t.Fatalf("expected confidence 1.0 at every rank, got %v", out.Rows[0].Confidences)
		}
	}
	if out.Global != 1.0 || out.Rows[0].Local != 1.0 {
		t.Fatalf("expected local=global=1.0, got local=%v global=%v", out.Rows[0].Local, out.Global)
	}
}

func TestRunSkipExactMatchesExcludesHit(t *testing.T) {
	seqs := [][]byte{
		[]byte("ACGTACGTACGTACGT"),
		[]byte("ACGTACGTACGTACGA"),
	}
	lineages := [][]string{
		{"A", "B"},
		{"A", "C"},
	}
	db := buildDB(t, seqs, lineages)
	scratch := NewScratch(len(db.References), len(db.Tree.Nodes))

	out := Run(db, mkQuery(append([]byte(nil), seqs[0]...)), scratch, Options{SkipExactMatches: true, FilterExponent: DefaultFilterExponent})
	if out.ExactHit {
		t.Fatalf("skip-exact-matches must disable the fast path")
	}
	for _, row := range out.Rows {
		if row.RefIndex == 0 {
			t.Fatalf("reference 0 should have been zeroed out of scoring, got row %+v", row)
		}
	}
}

func TestRunTwoBranchTieProducesDistinctConfidences(t *testing.T) {
	// Two references share a hit count against the query (4 keys each)
	// but terminate at different rank-2 nodes under the same rank-1
	// parent, and their k-mer sets differ in size (4 vs 8), so their
	// scores differ (0.8 vs 4/9); each row must carry its own rank-2
	// confidence derived from its own path, not a single shared
	// "best leaf" value.
	seqs := [][]byte{
		[]byte("ACGTACGTACGTACGTACGT"),
		[]byte("ACGTACGTACGTACGTTTTT"),
	}
	lineages := [][]string{
		{"Root2", "Left"},
		{"Root2", "Right"},
	}
	db := buildDB(t, seqs, lineages)
	scratch := NewScratch(len(db.References), len(db.Tree.Nodes))

	q := mkQuery([]byte("ACGTACGTACGTACGTACGA"))
	out := Run(db, q, scratch, Options{FilterExponent: DefaultFilterExponent})
	if len(out.Rows) < 1 {
		t.Fatalf("expected at least one surviving row")
	}
	if len(out.Rows) == 2 {
		if out.Rows[0].Confidences[len(out.Rows[0].Confidences)-1] == out.Rows[1].Confidences[len(out.Rows[1].Confidences)-1] {
			t.Fatalf("expected distinct rank-2 confidences for a hit-count tie with unequal scores, got %+v", out.Rows)
		}
	}
}

func TestRunNoHitFallback(t *testing.T) {
	seqs := [][]byte{[]byte("ACGTACGTACGTACGT")}
	lineages := [][]string{{"A", "B"}}
	db := buildDB(t, seqs, lineages)
	scratch := NewScratch(len(db.References), len(db.Tree.Nodes))

	// A query sharing no 8-mer at all with the only reference.
	q := mkQuery([]byte("GGGGGGGGGGGGGGGG"))
	out := Run(db, q, scratch, Options{FilterExponent: DefaultFilterExponent})
	if !out.Fallback {
		t.Fatalf("expected fallback outcome")
	}
	if len(out.Rows) != 1 {
		t.Fatalf("expected exactly one synthesized row, got %d", len(out.Rows))
	}
	threshold := math.Pow(10, -float64(DefaultFilterExponent))
	for _, c := range out.Rows[0].Confidences {
		if c < threshold {
			t.Fatalf("confidence %v below floor %v", c, threshold)
		}
	}
}

func TestRunDominantBestSurvivesAlone(t *testing.T) {
	seqs := [][]byte{
		[]byte("ACGTACGTACGTACGTACGTACGTACGT"),
		[]byte("TTTTTTTTTTTTTTTTTTTTTTTTTTTT"),
	}
	lineages := [][]string{
		{"A", "B"},
		{"A", "C"},
	}
	db := buildDB(t, seqs, lineages)
	scratch := NewScratch(len(db.References), len(db.Tree.Nodes))

	out := Run(db, mkQuery(append([]byte(nil), seqs[0]...)), scratch, Options{FilterExponent: DefaultFilterExponent})
	if out.Fallback {
		t.Fatalf("did not expect a fallback for a dominant exact-length match")
	}
	if len(out.Rows) != 1 || out.Rows[0].RefIndex != 0 {
		t.Fatalf("expected reference 0 to survive alone, rows=%+v", out.Rows)
	}
}

func TestRunDeterministicAcrossRepeatedCalls(t *testing.T) {
	seqs := [][]byte{
		[]byte("ACGTACGTACGTACGTACGT"),
		[]byte("ACGTACGTACGTACGTTTTT"),
		[]byte("ACGTACGTACGTTTTTTTTT"),
	}
	lineages := [][]string{
		{"A", "B"},
		{"A", "C"},
		{"A", "D"},
	}
	db := buildDB(t, seqs, lineages)
	q := mkQuery([]byte("ACGTACGTACGTACGTACGA"))

	scratch := NewScratch(len(db.References), len(db.Tree.Nodes))
	first := Run(db, q, scratch, Options{FilterExponent: DefaultFilterExponent})
	second := Run(db, q, scratch, Options{FilterExponent: DefaultFilterExponent})

	if len(first.Rows) != len(second.Rows) {
		t.Fatalf("row count differs across repeated runs: %d vs %d", len(first.Rows), len(second.Rows))
	}
	for i := range first.Rows {
		if first.Rows[i].RefIndex != second.Rows[i].RefIndex || first.Rows[i].W != second.Rows[i].W {
			t.Fatalf("row %d differs across repeated runs: %+v vs %+v", i, first.Rows[i], second.Rows[i])
		}
	}
}
