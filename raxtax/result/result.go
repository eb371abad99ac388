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

// Package result formats a query's scoring outcome into the raxtax.out and
// raxtax.tsv line formats.
package result

import (
	"strconv"
	"strings"

	"github.com/voidforge/raxtax/raxtax/raxdb"
	"github.com/voidforge/raxtax/raxtax/score"
)

const precision = 5

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

// OutLines renders one raxtax.out line per surviving row of out, in the
// order score.Run already sorted them (descending w(r), ascending reference
// index on ties).
func OutLines(db *raxdb.Database, out score.Outcome) []string {
	lines := make([]string, len(out.Rows))
	for i, row := range out.Rows {
		lines[i] = outLine(db, out.Query.Label, row, out.Global)
	}
	return lines
}

func outLine(db *raxdb.Database, label string, row score.Row, global float64) string {
	lineage := db.Tree.Lineage(row.NodeID)
	confs := make([]string, len(row.Confidences))
	for i, c := range row.Confidences {
		confs[i] = formatFloat(c)
	}
	return strings.Join([]string{
		label,
		lineage,
		strings.Join(confs, ","),
		formatFloat(row.Local),
		formatFloat(global),
	}, "\t")
}

// TSVLines renders the optional raxtax.tsv format: rank and label
// interleaved with confidence, local and global signal, and the query
// sequence appended.
func TSVLines(db *raxdb.Database, out score.Outcome) []string {
	lines := make([]string, len(out.Rows))
	for i, row := range out.Rows {
		lines[i] = tsvLine(db, out.Query.Label, row, out.Global, out.Query.Seq)
	}
	return lines
}

func tsvLine(db *raxdb.Database, label string, row score.Row, global float64, seq []byte) string {
	labels := strings.Split(db.Tree.Lineage(row.NodeID), ",")
	fields := make([]string, 0, 2+2*len(labels)+3)
	fields = append(fields, label)
	for i, l := range labels {
		fields = append(fields, l, formatFloat(row.Confidences[i]))
	}
	fields = append(fields, formatFloat(row.Local), formatFloat(global), string(seq))
	return strings.Join(fields, "\t")
}
