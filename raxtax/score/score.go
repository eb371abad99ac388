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

// Package score is the scoring engine: for one query it computes a dense
// hit-count vector over all references, derives per-reference likelihood
// scores, and aggregates them into per-rank confidences plus the local and
// global signals.
package score

import (
	"math"
	"sort"

	"github.com/voidforge/raxtax/raxtax/kmerindex"
	"github.com/voidforge/raxtax/raxtax/query"
	"github.com/voidforge/raxtax/raxtax/raxdb"
)

// DefaultFilterExponent is F in spec.md §4.4's 10^-F output floor.
const DefaultFilterExponent = 2

// Options configures one classification run.
type Options struct {
	SkipExactMatches bool
	FilterExponent   int // F; the output floor is 10^-F, so 0 sets it to 1
}

// Scratch is one worker's reusable per-query state: a dense hit-count
// array, a dense per-reference score array, and a dense per-taxonomy-node
// weight array used for the "small stack of sibling-set reductions" tree
// aggregation. Not safe for concurrent use; one Scratch per worker.
type Scratch struct {
	hits       []uint32
	touched    []uint64
	scores     []float64
	nodeWeight []float64
	path       []int32
}

// NewScratch allocates a Scratch sized for a database with numRefs
// references and numNodes taxonomy nodes.
func NewScratch(numRefs, numNodes int) *Scratch {
	return &Scratch{
		hits:       make([]uint32, numRefs),
		scores:     make([]float64, numRefs),
		nodeWeight: make([]float64, numNodes),
	}
}

// Row is one surviving reference in a query's output.
type Row struct {
	RefIndex    uint64
	NodeID      int32
	W           float64
	Confidences []float64 // one per rank, root-to-leaf order
	Local       float64
}

// Outcome is the complete scoring result for one query.
type Outcome struct {
	Query     query.Query
	ExactHit  bool
	Rows      []Row
	Global    float64
	Fallback  bool // true when no reference passed the output filter
	NoKeys    bool // true when the query yielded zero k-mers
}

// Run scores one query against db using scratch for its working arrays.
func Run(db *raxdb.Database, q query.Query, scratch *Scratch, opts Options) Outcome {
	exact := db.ExactMatches(q.Seq)
	if !opts.SkipExactMatches && len(exact) == 1 {
		return exactMatchOutcome(db, q, exact[0])
	}

	for i := range scratch.hits {
		scratch.hits[i] = 0
	}
	for i := range scratch.nodeWeight {
		scratch.nodeWeight[i] = 0
	}
	scratch.touched = kmerindex.AccumulateHits(db.Index, q.Keys, scratch.hits, scratch.touched[:0])

	if opts.SkipExactMatches {
		for _, r := range exact {
			scratch.hits[r] = 0
		}
	}

	sort.Slice(scratch.touched, func(i, j int) bool { return scratch.touched[i] < scratch.touched[j] })

	qLen := len(q.Keys)
	var sMax, sSum float64
	for _, r := range scratch.touched {
		h := scratch.hits[r]
		if h == 0 {
			scratch.scores[r] = 0
			continue
		}
		denom := qLen + len(db.References[r].Keys) - int(h)
		var s float64
		if denom > 0 {
			s = float64(h) / float64(denom)
		}
		scratch.scores[r] = s
		if s > sMax {
			sMax = s
		}
		sSum += s
	}

	if sMax == 0 {
		return noHitOutcome(db, q, opts, len(q.Keys) == 0)
	}

	threshold := math.Pow(10, -float64(opts.FilterExponent))

	type cand struct {
		ref uint64
		w   float64
	}
	cands := make([]cand, 0, len(scratch.touched))
	for _, r := range scratch.touched {
		s := scratch.scores[r]
		if s == 0 {
			continue
		}
		w := s * (s / sMax)
		cands = append(cands, cand{ref: r, w: w})
		leaf := db.Tree.RefToLeaf[r]
		addWeightAlongPath(db, scratch, leaf, w)
	}

	survivors := make([]cand, 0, len(cands))
	for _, c := range cands {
		if c.w >= threshold {
			survivors = append(survivors, c)
		}
	}

	fallback := false
	if len(survivors) == 0 {
		fallback = true
		best := cands[0]
		for _, c := range cands[1:] {
			if c.w > best.w || (c.w == best.w && c.ref < best.ref) {
				best = c
			}
		}
		survivors = []cand{best}
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].w != survivors[j].w {
			return survivors[i].w > survivors[j].w
		}
		return survivors[i].ref < survivors[j].ref
	})

	global := sMax / sSum
	if global > 1 {
		global = 1
	}

	rows := make([]Row, len(survivors))
	for i, c := range survivors {
		leaf := db.Tree.RefToLeaf[c.ref]
		conf, local := confidencePath(db, scratch, leaf)
		w := c.w
		if fallback {
			w = threshold
			for j := range conf {
				if conf[j] < threshold {
					conf[j] = threshold
				}
			}
			local = geometricMean(conf)
		}
		rows[i] = Row{RefIndex: c.ref, NodeID: leaf, W: w, Confidences: conf, Local: local}
	}

	return Outcome{Query: q, Rows: rows, Global: global, Fallback: fallback}
}

// addWeightAlongPath adds w to scratch.nodeWeight for every ancestor of
// leaf, root included, so that a later sibling-sum lookup at any depth
// reflects the contribution of every scored reference, not just the ones
// that will end up surviving the output filter.
func addWeightAlongPath(db *raxdb.Database, scratch *Scratch, leaf int32, w float64) {
	for id := leaf; ; id = db.Tree.Nodes[id].ParentID {
		scratch.nodeWeight[id] += w
		if id == 0 {
			break
		}
	}
}

// confidencePath walks leaf's ancestor path and returns the per-rank
// confidence vector together with the local signal.
func confidencePath(db *raxdb.Database, scratch *Scratch, leaf int32) ([]float64, float64) {
	scratch.path = db.Tree.Path(leaf, scratch.path)
	path := scratch.path
	depth := len(path) - 1
	conf := make([]float64, depth)
	for d := 1; d <= depth; d++ {
		parent, child := path[d-1], path[d]
		var siblingSum float64
		for _, c := range db.Tree.ChildIDs(parent) {
			siblingSum += scratch.nodeWeight[c]
		}
		if siblingSum > 0 {
			conf[d-1] = scratch.nodeWeight[child] / siblingSum
		}
	}
	return conf, geometricMean(conf)
}

func geometricMean(conf []float64) float64 {
	if len(conf) == 0 {
		return 0
	}
	product := 1.0
	for _, c := range conf {
		product *= c
	}
	if product <= 0 {
		return 0
	}
	return math.Pow(product, 1/float64(len(conf)))
}

func exactMatchOutcome(db *raxdb.Database, q query.Query, ref uint64) Outcome {
	leaf := db.Tree.RefToLeaf[ref]
	depth := db.Tree.NumRanks(leaf)
	conf := make([]float64, depth)
	for i := range conf {
		conf[i] = 1.0
	}
	return Outcome{
		Query:    q,
		ExactHit: true,
		Global:   1.0,
		Rows: []Row{{
			RefIndex:    ref,
			NodeID:      leaf,
			W:           1.0,
			Confidences: conf,
			Local:       1.0,
		}},
	}
}

// noHitOutcome builds the fallback single-line result for a query with no
// nonzero reference score at all (spec §7 "No hit", §8 boundary case).
func noHitOutcome(db *raxdb.Database, q query.Query, opts Options, noKeys bool) Outcome {
	threshold := math.Pow(10, -float64(opts.FilterExponent))
	if len(db.References) == 0 {
		return Outcome{Query: q, Fallback: true, NoKeys: noKeys}
	}
	leaf := db.Tree.RefToLeaf[0]
	depth := db.Tree.NumRanks(leaf)
	conf := make([]float64, depth)
	for i := range conf {
		conf[i] = threshold
	}
	return Outcome{
		Query:    q,
		Fallback: true,
		NoKeys:   noKeys,
		Rows: []Row{{
			RefIndex:    0,
			NodeID:      leaf,
			W:           threshold,
			Confidences: conf,
			Local:       geometricMean(conf),
		}},
	}
}
