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

// Package raxdb assembles the reference database: FASTA loading, lineage
// parsing, the taxonomy tree, the k-mer index, the exact-match table, and
// the binary sidecar (de)serialization of all of the above.
package raxdb

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/xopen"
	"github.com/zeebo/wyhash"

	"github.com/voidforge/raxtax/raxtax/kmerindex"
	"github.com/voidforge/raxtax/raxtax/seqcode"
	"github.com/voidforge/raxtax/raxtax/taxon"
)

// ErrInvalidFormat marks a malformed FASTA record: missing "tax=" prefix,
// forbidden characters in a lineage label, or an empty sequence.
var ErrInvalidFormat = errors.New("invalid database record")

// ErrIndexCapacity marks a reference count exceeding the configured index
// width.
var ErrIndexCapacity = errors.New("reference count exceeds index capacity")

// forbiddenLabelChars are disallowed inside a single lineage label, per
// spec §6 ("Lineage labels contain none of , : ; |").
const forbiddenLabelChars = ",:;|"

const hashSeed = uint64(0x7261787461780)

// Reference is one database record.
type Reference struct {
	Seq  []byte
	Keys []uint16 // sorted, deduplicated k-mer set (S_r)
}

// Database is the complete, immutable, read-shared classification target:
// the reference records, the taxonomy tree, and the k-mer index.
type Database struct {
	References []Reference
	Tree       *taxon.Tree
	Index      *kmerindex.Index

	// exact maps a fast hash of a raw sequence to the candidate
	// reference indices sharing that hash, verified by full byte
	// comparison at lookup time (see ExactMatches).
	exact map[uint64][]uint64

	// Wide selects the on-disk reference-index width (uint64 instead of
	// uint32) and gates the build-time capacity check in LoadFASTA. In
	// memory, reference indices are always uint64 (kmerindex.Index,
	// taxon.Tree.Order, score.Row.RefIndex); spec §9 requires the index
	// type to be uniform across those structures, and a runtime flag
	// cannot select a compile-time generic width, so Wide only narrows
	// the serialized form.
	Wide bool
}

// Warner receives soft-warning messages (spec §7) during database
// construction: short/degenerate references and content duplicated across
// diverging lineages.
type Warner func(format string, args ...interface{})

// LoadFASTA reads a reference FASTA (or FASTA.gz) file, parses each
// record's ";tax=L1,L2,...,Lm;" lineage, and builds the taxonomy tree and
// k-mer index. Returns ErrInvalidFormat for malformed records and
// taxon.ErrInconsistentTaxonomy for a taxonomy conflict.
func LoadFASTA(path string, wide bool, warn Warner) (*Database, error) {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	seq.ValidateSeq = false

	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	defer fh.Close()

	reader, err := fastx.NewReader(nil, path, "")
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	defer reader.Close()

	db := &Database{Wide: wide, exact: make(map[uint64][]uint64, 1024)}
	tb := taxon.NewBuilder()
	kb := kmerindex.NewBuilder()

	var ref uint64
	for {
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, path)
		}

		lineage, err := ParseLineage(string(record.ID))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidFormat, "%s: record %q: %v", path, record.ID, err)
		}

		s := bytes.ToUpper(append([]byte(nil), record.Seq.Seq...))
		if len(s) == 0 {
			return nil, errors.Wrapf(ErrInvalidFormat, "%s: record %q: empty sequence", path, record.ID)
		}

		tb.Add(ref, lineage)

		keys := seqcode.Unique(seqcode.Keys(s, nil))
		if len(keys) == 0 {
			warn("reference %q is shorter than one k-mer (or entirely ambiguous); it will be a tree leaf but unreachable by k-mer scoring", record.ID)
		} else if seqcode.IsLowComplexity(s) {
			warn("reference %q looks low-complexity (homopolymer or near-degenerate); its k-mer set may match many unrelated queries", record.ID)
		}
		kb.Add(ref, keys)

		h := wyhash.Hash(s, hashSeed)
		db.exact[h] = append(db.exact[h], ref)

		db.References = append(db.References, Reference{Seq: s, Keys: keys})
		ref++
	}

	if !wide && uint64(len(db.References)) > 1<<32-1 {
		return nil, errors.Wrapf(ErrIndexCapacity, "%d references exceed the 32-bit index; rebuild with the wide-index option", len(db.References))
	}

	tree, err := tb.Build()
	if err != nil {
		return nil, err
	}
	db.Tree = tree
	db.Index = kb.Build()

	warnDuplicateContentDivergentLineage(db, warn)

	return db, nil
}

// warnDuplicateContentDivergentLineage logs the soft warning spec §3/§7
// require: identical raw sequence content registered under lineages that
// differ above the terminal rank.
func warnDuplicateContentDivergentLineage(db *Database, warn Warner) {
	byHash := make(map[uint64][]uint64, len(db.References))
	for i, r := range db.References {
		h := wyhash.Hash(r.Seq, hashSeed)
		byHash[h] = append(byHash[h], uint64(i))
	}
	for _, refs := range byHash {
		if len(refs) < 2 {
			continue
		}
		for i := 1; i < len(refs); i++ {
			a, b := refs[i-1], refs[i]
			if !bytes.Equal(db.References[a].Seq, db.References[b].Seq) {
				continue
			}
			leafA, leafB := db.Tree.RefToLeaf[a], db.Tree.RefToLeaf[b]
			if leafA == leafB {
				continue // identical lineage too: explicitly permitted
			}
			lineageA, lineageB := db.Tree.Lineage(leafA), db.Tree.Lineage(leafB)
			if divergesAboveTerminal(lineageA, lineageB) {
				warn("references %d and %d share identical sequence content but diverge in lineage above the terminal rank (%q vs %q)", a, b, lineageA, lineageB)
			}
		}
	}
}

func divergesAboveTerminal(a, b string) bool {
	pa, pb := strings.Split(a, ","), strings.Split(b, ",")
	n := len(pa)
	if len(pb) < n {
		n = len(pb)
	}
	for i := 0; i < n-1; i++ {
		if pa[i] != pb[i] {
			return true
		}
	}
	return false
}

// ParseLineage extracts the ordered lineage labels from a FASTA identifier
// of the form "...;tax=L1,L2,...,Lm;" or "...;tax=L1,L2,...,Lm" (a trailing
// ";" is optional if the tag runs to the end of the identifier).
func ParseLineage(id string) ([]string, error) {
	const tag = ";tax="
	i := strings.Index(id, tag)
	if i < 0 {
		return nil, fmt.Errorf("missing %q prefix", tag)
	}
	rest := id[i+len(tag):]
	if j := strings.IndexByte(rest, ';'); j >= 0 {
		rest = rest[:j]
	}
	if rest == "" {
		return nil, fmt.Errorf("empty lineage")
	}
	labels := strings.Split(rest, ",")
	for _, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("empty lineage label")
		}
		if strings.ContainsAny(l, forbiddenLabelChars) {
			return nil, fmt.Errorf("label %q contains a forbidden character", l)
		}
	}
	return labels, nil
}

// ExactMatches returns the reference indices whose raw sequence equals seq
// exactly, or nil if none. A Database assembled without LoadFASTA or Load
// has no hash table; its references are then compared one by one.
func (db *Database) ExactMatches(s []byte) []uint64 {
	if db.exact == nil {
		var out []uint64
		for r := range db.References {
			if bytes.Equal(db.References[r].Seq, s) {
				out = append(out, uint64(r))
			}
		}
		return out
	}
	h := wyhash.Hash(s, hashSeed)
	candidates := db.exact[h]
	if len(candidates) == 0 {
		return nil
	}
	var out []uint64
	for _, r := range candidates {
		if bytes.Equal(db.References[r].Seq, s) {
			out = append(out, r)
		}
	}
	return out
}
