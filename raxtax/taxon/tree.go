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

// Package taxon implements the multifurcating taxonomy tree as a flat
// arena of nodes rather than a pointer graph, built from reference
// lineage labels of the form "...;tax=L1,L2,...,Lm;".
package taxon

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrInconsistentTaxonomy is returned when a label is reused at the same
// depth under two different parents.
var ErrInconsistentTaxonomy = errors.New("inconsistent taxonomy")

// Node is one arena entry. Children and leaf reference indices are never
// stored as pointers; ChildStart/ChildLen index into Tree.Children, and
// Start/End index into the tree's reference-sorted-by-lineage order
// (Tree.Order).
type Node struct {
	Label      string
	ParentID   int32
	Depth      int32 // 0 == root
	ChildStart int32
	ChildLen   int32
	// [Start,End) is the range, in Tree.Order, of every reference in
	// this node's subtree: "the reference set of a node" from spec §4.2.
	Start int32
	End   int32
}

// Tree is the arena-backed taxonomy tree.
type Tree struct {
	Nodes    []Node
	Children []int32 // flat child-id array, sliced by Node.ChildStart/ChildLen

	// Order[i] is the original reference index at sorted position i;
	// references are ordered by their full joined lineage string so that
	// every node's subtree is the contiguous range [Start,End) of this
	// array and child ranges partition the parent's range in order.
	//
	// Order holds reference indices as uint64 unconditionally, matching
	// kmerindex.Index.References and score.Scratch.touched, per spec §9's
	// uniform-index-type requirement (see kmerindex.Index's doc comment).
	Order []uint64

	// RefToLeaf maps an original reference index to the node id where it
	// terminates. Node ids are bounded by tree size, not reference count,
	// so this stays int32 regardless of index width.
	RefToLeaf []int32
}

const rootID = 0

// NumRanks returns the number of labels in the lineage terminating at
// nodeID (its depth).
func (t *Tree) NumRanks(nodeID int32) int {
	return int(t.Nodes[nodeID].Depth)
}

// Path fills dst with the ancestor chain from root to nodeID inclusive
// (dst[0] is root, dst[len(dst)-1] is nodeID) and returns it, reusing dst's
// backing array when large enough.
func (t *Tree) Path(nodeID int32, dst []int32) []int32 {
	depth := t.Nodes[nodeID].Depth
	if cap(dst) < int(depth)+1 {
		dst = make([]int32, depth+1)
	} else {
		dst = dst[:depth+1]
	}
	for id := nodeID; ; id = t.Nodes[id].ParentID {
		dst[t.Nodes[id].Depth] = id
		if id == rootID {
			break
		}
	}
	return dst
}

// ChildIDs returns the child node ids of nodeID.
func (t *Tree) ChildIDs(nodeID int32) []int32 {
	n := &t.Nodes[nodeID]
	return t.Children[n.ChildStart : n.ChildStart+n.ChildLen]
}

// Lineage joins the labels from root (exclusive) to nodeID into the
// comma-separated lineage string used in output.
func (t *Tree) Lineage(nodeID int32) string {
	depth := int(t.Nodes[nodeID].Depth)
	labels := make([]string, depth)
	for id := nodeID; id != rootID; id = t.Nodes[id].ParentID {
		labels[t.Nodes[id].Depth-1] = t.Nodes[id].Label
	}
	return strings.Join(labels, ",")
}

// record is a build-time (lineage, original reference index) pair.
type record struct {
	lineage []string
	joined  string
	ref     uint64
}

// Builder accumulates records before Build constructs the immutable arena.
type Builder struct {
	records []record
	nRefs   uint64
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers reference index ref (assigned densely from 0) with the
// given ordered lineage labels.
func (b *Builder) Add(ref uint64, lineage []string) {
	cp := make([]string, len(lineage))
	copy(cp, lineage)
	b.records = append(b.records, record{
		lineage: cp,
		joined:  strings.Join(cp, "\x00"),
		ref:     ref,
	})
	if ref+1 > b.nRefs {
		b.nRefs = ref + 1
	}
}

// depthLabel identifies a label at a given rank, independent of parent, for
// the cross-tree uniqueness check spec §3 requires: "no label string
// appears under two different parents at the same rank".
type depthLabel struct {
	depth int32
	label string
}

// Build sorts the accumulated records by lineage and constructs the arena
// tree. It returns ErrInconsistentTaxonomy, naming the offending label, if
// a label is reused at the same depth under two different parents.
func (b *Builder) Build() (*Tree, error) {
	sort.Slice(b.records, func(i, j int) bool {
		return b.records[i].joined < b.records[j].joined
	})

	t := &Tree{
		Nodes:     make([]Node, 1, len(b.records)*2+1),
		Order:     make([]uint64, len(b.records)),
		RefToLeaf: make([]int32, b.nRefs),
	}
	t.Nodes[0] = Node{Label: "", ParentID: -1, Depth: 0, Start: 0, End: int32(len(b.records))}

	type key struct {
		parent int32
		label  string
	}
	childIndex := make(map[key]int32, len(b.records)*2)
	childrenOf := make(map[int32][]int32, len(b.records))
	parentOfLabel := make(map[depthLabel]int32, len(b.records)*2)

	for i, rec := range b.records {
		t.Order[i] = rec.ref
		cur := int32(rootID)
		for depth, label := range rec.lineage {
			k := key{parent: cur, label: label}
			child, ok := childIndex[k]
			if !ok {
				dl := depthLabel{depth: int32(depth + 1), label: label}
				if prevParent, seen := parentOfLabel[dl]; seen && prevParent != cur {
					return nil, errors.Wrapf(ErrInconsistentTaxonomy,
						"label %q reused at rank %d under two different parents", label, depth+1)
				}
				parentOfLabel[dl] = cur

				child = int32(len(t.Nodes))
				t.Nodes = append(t.Nodes, Node{
					Label:    label,
					ParentID: cur,
					Depth:    int32(depth + 1),
					Start:    int32(i),
					End:      int32(i + 1),
				})
				childIndex[k] = child
				childrenOf[cur] = append(childrenOf[cur], child)
			} else {
				t.Nodes[child].End = int32(i + 1)
			}
			cur = child
		}
		t.RefToLeaf[rec.ref] = cur
	}

	total := 0
	for _, cs := range childrenOf {
		total += len(cs)
	}
	t.Children = make([]int32, 0, total)
	for id := range t.Nodes {
		cs := childrenOf[int32(id)]
		t.Nodes[id].ChildStart = int32(len(t.Children))
		t.Nodes[id].ChildLen = int32(len(cs))
		t.Children = append(t.Children, cs...)
	}

	return t, nil
}
