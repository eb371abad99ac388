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

package driver

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/voidforge/raxtax/raxtax/kmerindex"
	"github.com/voidforge/raxtax/raxtax/query"
	"github.com/voidforge/raxtax/raxtax/raxdb"
	"github.com/voidforge/raxtax/raxtax/score"
	"github.com/voidforge/raxtax/raxtax/seqcode"
	"github.com/voidforge/raxtax/raxtax/taxon"
)

func buildTestDB(t *testing.T, n int) *raxdb.Database {
	t.Helper()
	tb := taxon.NewBuilder()
	kb := kmerindex.NewBuilder()
	db := &raxdb.Database{}
	bases := []byte("ACGT")
	for i := 0; i < n; i++ {
		s := []byte(fmt.Sprintf("ACGTACGT%c%c%c%c%c%c%c%c", bases[i%4], bases[(i+1)%4], bases[(i+2)%4], bases[(i+3)%4], bases[i%4], bases[(i+1)%4], bases[(i+2)%4], bases[(i+3)%4]))
		tb.Add(uint64(i), []string{"A", fmt.Sprintf("leaf%d", i)})
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

func TestRunPreservesInputOrder(t *testing.T) {
	db := buildTestDB(t, 20)
	queries := make([]query.Query, 50)
	for i := range queries {
		s := db.References[i%len(db.References)].Seq
		queries[i] = query.Query{
			Position: i,
			Label:    fmt.Sprintf("q%d", i),
			Seq:      append([]byte(nil), s...),
			Keys:     seqcode.Unique(seqcode.Keys(s, nil)),
		}
	}

	results := Run(db, queries, Options{Threads: 4, Score: score.Options{FilterExponent: score.DefaultFilterExponent}})
	if len(results) != len(queries) {
		t.Fatalf("expected %d results, got %d", len(queries), len(results))
	}
	for i, r := range results {
		if r.Query.Label != queries[i].Label {
			t.Fatalf("result %d out of order: got label %q, want %q", i, r.Query.Label, queries[i].Label)
		}
	}
}

func TestRunProgressCallback(t *testing.T) {
	db := buildTestDB(t, 5)
	queries := make([]query.Query, 10)
	for i := range queries {
		s := db.References[i%len(db.References)].Seq
		queries[i] = query.Query{Position: i, Label: fmt.Sprintf("q%d", i), Seq: s, Keys: seqcode.Unique(seqcode.Keys(s, nil))}
	}

	var n int64
	Run(db, queries, Options{Threads: 2, Score: score.Options{FilterExponent: score.DefaultFilterExponent}, Progress: func() {
		atomic.AddInt64(&n, 1)
	}})
	if int(n) != len(queries) {
		t.Fatalf("progress calls = %d, want %d", n, len(queries))
	}
}
