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

// Package driver runs a batch of queries against a database on a worker
// pool, one score.Scratch per worker, and collects results indexed by input
// position so the caller can emit them in the order they were read
// regardless of which worker finished first.
package driver

import (
	"runtime"
	"sync"

	"github.com/voidforge/raxtax/raxtax/logs"
	"github.com/voidforge/raxtax/raxtax/pin"
	"github.com/voidforge/raxtax/raxtax/query"
	"github.com/voidforge/raxtax/raxtax/raxdb"
	"github.com/voidforge/raxtax/raxtax/score"
)

// Options configures a batch run.
type Options struct {
	Threads int  // 0 means runtime.NumCPU()
	Pin     bool // best-effort pin each worker to a distinct CPU
	Score   score.Options
	// Progress, if non-nil, is called once per completed query (from
	// worker goroutines; must be safe for concurrent use).
	Progress func()
}

// Run scores every query in queries concurrently and returns their outcomes
// indexed by their position in queries, so results[i] always corresponds to
// queries[i] (for query.LoadAll's output, the i-th query read from the input
// file). This is a deliberate departure from a
// drain-as-you-go printer: the caller needs stable input-order output.
func Run(db *raxdb.Database, queries []query.Query, opts Options) []score.Outcome {
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if threads > len(queries) {
		threads = len(queries)
	}
	if threads < 1 {
		threads = 1
	}

	results := make([]score.Outcome, len(queries))
	jobs := make(chan int, threads)

	var wg sync.WaitGroup
	wg.Add(threads)
	for w := 0; w < threads; w++ {
		go func(worker int) {
			defer wg.Done()
			if opts.Pin {
				if err := pin.Pin(worker, threads); err != nil {
					logs.Log.Debugf("thread pinning: %v", err)
				}
			}
			scratch := score.NewScratch(len(db.References), len(db.Tree.Nodes))
			for i := range jobs {
				results[i] = score.Run(db, queries[i], scratch, opts.Score)
				if opts.Progress != nil {
					opts.Progress()
				}
			}
		}(w)
	}

	for i := range queries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
