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

package raxdb

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/zeebo/wyhash"

	"github.com/voidforge/raxtax/raxtax/kmerindex"
	"github.com/voidforge/raxtax/raxtax/seqcode"
	"github.com/voidforge/raxtax/raxtax/taxon"
)

// Binary sidecar layout (spec §6, §9):
//
//	8 bytes   magic "RAXTAXDB"
//	1 byte    main version
//	1 byte    minor version
//	1 byte    index width: 0 = uint32, 1 = uint64
//	1 byte    gzip flag: 0 = raw, 1 = pgzip-wrapped payload follows
//	--- everything below this point may be pgzip-wrapped ---
//	uint64    number of references
//	per reference: uint32 seq length, seq bytes
//	uint32    number of taxonomy nodes
//	per node: uint32 label length, label bytes, int32 parent, int32 depth,
//	          int32 childStart, int32 childLen, int32 start, int32 end
//	uint32    number of children entries; int32 * that many
//	uint32    number of Order entries (== numRefs); one ref-index value
//	          per entry, at the index-width byte's width (uint32 or uint64)
//	uint32    number of RefToLeaf entries (== numRefs); int32 * that many
//	uint32    number of index References entries; one ref-index value per
//	          entry, at the index-width byte's width
//	65537 * uint32 index Offsets
var magic = [8]byte{'R', 'A', 'X', 'T', 'A', 'X', 'D', 'B'}

const mainVersion = 1
const minorVersion = 0

// ErrVersion marks a sidecar file whose version this build cannot read.
var ErrVersion = errors.New("incompatible raxtax database version")

var be = binary.BigEndian

// Save writes the database to path in the binary sidecar format,
// optionally pgzip-compressed.
func (db *Database) Save(path string, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, path)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	bw.Write(magic[:])
	bw.WriteByte(mainVersion)
	bw.WriteByte(minorVersion)
	if db.Wide {
		bw.WriteByte(1)
	} else {
		bw.WriteByte(0)
	}
	if compress {
		bw.WriteByte(1)
	} else {
		bw.WriteByte(0)
	}

	var w io.Writer = bw
	var gz *pgzip.Writer
	if compress {
		gz, err = pgzip.NewWriterLevel(bw, pgzip.DefaultCompression)
		if err != nil {
			return errors.Wrap(err, path)
		}
		w = gz
	}

	if err := writeBody(w, db); err != nil {
		return errors.Wrap(err, path)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.Wrap(err, path)
		}
	}
	return errors.Wrap(bw.Flush(), path)
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	be.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeInt32(w io.Writer, v int32) error { return writeUint32(w, uint32(v)) }

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	be.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// writeRefIndex writes a reference-index value at the database's on-disk
// width: uint64 when wide, uint32 (narrowed) otherwise. LoadFASTA's
// capacity check guarantees a non-wide database's indices all fit in 32
// bits, so the narrowing is lossless.
func writeRefIndex(w io.Writer, wide bool, v uint64) error {
	if wide {
		return writeUint64(w, v)
	}
	return writeUint32(w, uint32(v))
}

// readRefIndex reads one reference-index value at the given on-disk width.
func readRefIndex(r io.Reader, wide bool) (uint64, error) {
	if wide {
		return readUint64(r)
	}
	v, err := readUint32(r)
	return uint64(v), err
}

func writeBody(w io.Writer, db *Database) error {
	if err := writeUint64(w, uint64(len(db.References))); err != nil {
		return err
	}
	for _, r := range db.References {
		if err := writeUint32(w, uint32(len(r.Seq))); err != nil {
			return err
		}
		if _, err := w.Write(r.Seq); err != nil {
			return err
		}
	}

	t := db.Tree
	if err := writeUint32(w, uint32(len(t.Nodes))); err != nil {
		return err
	}
	for _, n := range t.Nodes {
		if err := writeUint32(w, uint32(len(n.Label))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, n.Label); err != nil {
			return err
		}
		for _, v := range []int32{n.ParentID, n.Depth, n.ChildStart, n.ChildLen, n.Start, n.End} {
			if err := writeInt32(w, v); err != nil {
				return err
			}
		}
	}

	if err := writeUint32(w, uint32(len(t.Children))); err != nil {
		return err
	}
	for _, c := range t.Children {
		if err := writeInt32(w, c); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(t.Order))); err != nil {
		return err
	}
	for _, o := range t.Order {
		if err := writeRefIndex(w, db.Wide, o); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(t.RefToLeaf))); err != nil {
		return err
	}
	for _, l := range t.RefToLeaf {
		if err := writeInt32(w, l); err != nil {
			return err
		}
	}

	idx := db.Index
	if err := writeUint32(w, uint32(len(idx.References))); err != nil {
		return err
	}
	for _, r := range idx.References {
		if err := writeRefIndex(w, db.Wide, r); err != nil {
			return err
		}
	}
	for _, o := range idx.Offsets {
		if err := writeUint32(w, o); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a database previously written by Save, rebuilding each
// reference's k-mer set and the exact-match table from the loaded
// sequences (the sidecar stores only Seq; Keys is derived, not persisted).
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var hdr [12]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, errors.Wrap(err, path)
	}
	if [8]byte(hdr[:8]) != magic {
		return nil, errors.Wrapf(ErrInvalidFormat, "%s: bad magic", path)
	}
	if hdr[8] != mainVersion {
		return nil, errors.Wrapf(ErrVersion, "%s: on-disk version %d.%d, this build reads %d.x", path, hdr[8], hdr[9], mainVersion)
	}
	wide := hdr[10] == 1
	compressed := hdr[11] == 1

	var r io.Reader = br
	if compressed {
		gz, err := pgzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		defer gz.Close()
		r = gz
	}

	db := &Database{Wide: wide}
	if err := readBody(r, db); err != nil {
		return nil, errors.Wrap(err, path)
	}

	db.exact = make(map[uint64][]uint64, len(db.References))
	for i, ref := range db.References {
		h := wyhash.Hash(ref.Seq, hashSeed)
		db.exact[h] = append(db.exact[h], uint64(i))
	}
	return db, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return be.Uint32(b[:]), nil
}

func readInt32(r io.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return be.Uint64(b[:]), nil
}

func readBody(r io.Reader, db *Database) error {
	nRefs, err := readUint64(r)
	if err != nil {
		return err
	}
	db.References = make([]Reference, nRefs)
	for i := range db.References {
		n, err := readUint32(r)
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		db.References[i].Seq = buf
		db.References[i].Keys = seqcode.Unique(seqcode.Keys(buf, nil))
	}

	nNodes, err := readUint32(r)
	if err != nil {
		return err
	}
	tree := &taxon.Tree{Nodes: make([]taxon.Node, nNodes)}
	for i := range tree.Nodes {
		labLen, err := readUint32(r)
		if err != nil {
			return err
		}
		labBuf := make([]byte, labLen)
		if _, err := io.ReadFull(r, labBuf); err != nil {
			return err
		}
		var vals [6]int32
		for j := range vals {
			v, err := readInt32(r)
			if err != nil {
				return err
			}
			vals[j] = v
		}
		tree.Nodes[i] = taxon.Node{
			Label:      string(labBuf),
			ParentID:   vals[0],
			Depth:      vals[1],
			ChildStart: vals[2],
			ChildLen:   vals[3],
			Start:      vals[4],
			End:        vals[5],
		}
	}

	nChildren, err := readUint32(r)
	if err != nil {
		return err
	}
	tree.Children = make([]int32, nChildren)
	for i := range tree.Children {
		v, err := readInt32(r)
		if err != nil {
			return err
		}
		tree.Children[i] = v
	}

	nOrder, err := readUint32(r)
	if err != nil {
		return err
	}
	tree.Order = make([]uint64, nOrder)
	for i := range tree.Order {
		v, err := readRefIndex(r, db.Wide)
		if err != nil {
			return err
		}
		tree.Order[i] = v
	}

	nRefToLeaf, err := readUint32(r)
	if err != nil {
		return err
	}
	tree.RefToLeaf = make([]int32, nRefToLeaf)
	for i := range tree.RefToLeaf {
		v, err := readInt32(r)
		if err != nil {
			return err
		}
		tree.RefToLeaf[i] = v
	}
	db.Tree = tree

	nIdxRefs, err := readUint32(r)
	if err != nil {
		return err
	}
	idx := &kmerindex.Index{References: make([]uint64, nIdxRefs)}
	for i := range idx.References {
		v, err := readRefIndex(r, db.Wide)
		if err != nil {
			return err
		}
		idx.References[i] = v
	}
	for i := range idx.Offsets {
		v, err := readUint32(r)
		if err != nil {
			return err
		}
		idx.Offsets[i] = v
	}
	db.Index = idx

	return nil
}
