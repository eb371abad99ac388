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

// Package query loads query FASTA records and prepares each one for
// scoring: an upper-cased sequence and its ordered-then-deduplicated
// k-mer key set.
package query

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/voidforge/raxtax/raxtax/seqcode"
)

// Query is one classification target.
type Query struct {
	Position int // input order, for the result sink (spec §4.6)
	Label    string
	Seq      []byte
	Keys     []uint16 // unique k-mer keys
}

// Warner receives a soft-warning message about one loaded query.
type Warner func(format string, args ...interface{})

// LoadAll reads every record from path (FASTA or FASTA.gz) in file order,
// assigning each its input Position. warn, if non-nil, is called once per
// query whose sequence looks low-complexity (a homopolymer or an entirely
// ambiguous sequence, per seqcode.IsLowComplexity), which tends to
// over-match the k-mer index.
func LoadAll(path string, warn Warner) ([]Query, error) {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	reader, err := fastx.NewReader(nil, path, "")
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	defer reader.Close()

	var queries []Query
	pos := 0
	for {
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, path)
		}
		s := bytes.ToUpper(append([]byte(nil), record.Seq.Seq...))
		keys := seqcode.Unique(seqcode.Keys(s, nil))
		if seqcode.IsLowComplexity(s) {
			if len(keys) > 0 {
				warn("query %q looks low-complexity (repeated motif %s); its k-mer set may match many unrelated references", record.ID, seqcode.Decode(keys[0]))
			} else {
				warn("query %q looks low-complexity (homopolymer or entirely ambiguous)", record.ID)
			}
		}
		queries = append(queries, Query{
			Position: pos,
			Label:    string(record.ID),
			Seq:      s,
			Keys:     keys,
		})
		pos++
	}
	return queries, nil
}
