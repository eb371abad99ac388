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

// Package cmd implements raxtax's single-command CLI: build or load a
// database, classify a batch of queries against it, and write the results.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
	"gonum.org/v1/gonum/stat"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/voidforge/raxtax/raxtax/config"
	"github.com/voidforge/raxtax/raxtax/driver"
	"github.com/voidforge/raxtax/raxtax/logs"
	"github.com/voidforge/raxtax/raxtax/query"
	"github.com/voidforge/raxtax/raxtax/raxdb"
	"github.com/voidforge/raxtax/raxtax/result"
	"github.com/voidforge/raxtax/raxtax/score"
	"github.com/voidforge/raxtax/raxtax/seqcode"
)

var rootCmd = &cobra.Command{
	Use:   "raxtax <db-path> [query-path]",
	Short: "Fast k-mer-based taxonomic classification of DNA barcodes",
	Long: `raxtax classifies DNA barcode sequences against a reference database
using an 8-mer inverted index and a taxonomy-tree confidence aggregation,
without alignment.

<db-path> is either a reference FASTA (built into a database first) or a
previously built binary sidecar. Pass --make-db to build and save the
sidecar without classifying anything; in that case <query-path> may be
omitted.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  run,
}

// Execute runs the root command, exiting the process with a non-zero status
// on error via checkError.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		checkError(err)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringP("prefix", "p", "", "output directory: holds raxtax.out, raxtax.log, and (with --tsv) raxtax.tsv (default: <query-filename>.out)")
	flags.BoolP("redo", "r", false, "overwrite an existing output directory")
	flags.Bool("skip-exact-matches", false, "exclude exact-match references from scoring instead of short-circuiting to them")
	flags.Bool("tsv", false, "also write the interleaved raxtax.tsv format")
	flags.Bool("make-db", false, "build and save a binary sidecar database from a reference FASTA, then exit")
	flags.Bool("wide-index", false, "build a 64-bit-index database, for reference sets exceeding 2^32-1 records")
	flags.Bool("pin", false, "best-effort pin worker goroutines to distinct CPUs")
	flags.IntP("threads", "T", 0, "number of worker threads (0 = number of CPUs)")
	flags.IntP("filter-exponent", "F", config.Default().FilterExponent, "output floor exponent F: references with w(r) < 10^-F are dropped")
	flags.BoolP("verbose", "v", false, "print debug-level log messages")
	flags.BoolP("quiet", "q", false, "print only error-level log messages")
	flags.String("config", "", "path to a TOML config file (flags override its values)")
}

func run(cmd *cobra.Command, args []string) {
	opts := config.Default()
	opts.DBPath = args[0]
	if len(args) > 1 {
		opts.QueryPath = args[1]
	}

	if cfgPath := getFlagString(cmd, "config"); cfgPath != "" {
		var err error
		opts, err = config.LoadTOML(opts, cfgPath)
		checkError(errors.Wrap(err, cfgPath))
		opts.DBPath = args[0]
		if len(args) > 1 {
			opts.QueryPath = args[1]
		}
	}

	if cmd.Flags().Changed("prefix") {
		opts.Prefix = getFlagString(cmd, "prefix")
	}
	prefix, err := homedir.Expand(opts.Prefix)
	checkError(errors.Wrap(err, opts.Prefix))
	opts.Prefix = prefix
	if cmd.Flags().Changed("redo") {
		opts.Redo = getFlagBool(cmd, "redo")
	}
	if cmd.Flags().Changed("skip-exact-matches") {
		opts.SkipExactMatches = getFlagBool(cmd, "skip-exact-matches")
	}
	if cmd.Flags().Changed("tsv") {
		opts.TSV = getFlagBool(cmd, "tsv")
	}
	opts.MakeDB = getFlagBool(cmd, "make-db")
	if cmd.Flags().Changed("wide-index") {
		opts.WideIndex = getFlagBool(cmd, "wide-index")
	}
	if cmd.Flags().Changed("pin") {
		opts.Pin = getFlagBool(cmd, "pin")
	}
	if cmd.Flags().Changed("threads") {
		opts.Threads = getFlagNonNegativeInt(cmd, "threads")
	}
	if cmd.Flags().Changed("filter-exponent") {
		opts.FilterExponent = getFlagNonNegativeInt(cmd, "filter-exponent")
	}
	opts.Verbose = getFlagBool(cmd, "verbose")
	opts.Quiet = getFlagBool(cmd, "quiet")

	if !opts.MakeDB && opts.QueryPath == "" {
		checkError(fmt.Errorf("a query-path is required unless --make-db is set"))
	}

	if opts.Prefix == "" {
		if opts.QueryPath != "" {
			opts.Prefix = filepath.Base(opts.QueryPath) + ".out"
		} else {
			opts.Prefix = "raxtax.out"
		}
	}

	if opts.Threads == 0 {
		opts.Threads = runtime.NumCPU()
	}
	sorts.MaxProcs = opts.Threads
	runtime.GOMAXPROCS(opts.Threads)

	makeOutDir(opts.Prefix, opts.Redo)

	level := logs.LevelDefault
	switch {
	case opts.Verbose:
		level = logs.LevelVerbose
	case opts.Quiet:
		level = logs.LevelQuiet
	}
	logFile := filepath.Join(opts.Prefix, "raxtax.log")
	closeLog, err := logs.Setup(level, logFile)
	checkError(err)
	defer closeLog()

	db := loadOrBuildDatabase(opts)

	if opts.MakeDB {
		log.Info("database built; --make-db set, exiting without classifying")
		return
	}

	log.Infof("loading queries from %s", opts.QueryPath)
	queries, err := query.LoadAll(opts.QueryPath, func(format string, args ...interface{}) {
		log.Warningf(format, args...)
	})
	checkError(errors.Wrap(err, opts.QueryPath))
	log.Infof("loaded %d queries", len(queries))

	start := time.Now()
	bar, pbs := newProgressBar(len(queries), !opts.Quiet)
	results := driver.Run(db, queries, driver.Options{
		Threads: opts.Threads,
		Pin:     opts.Pin,
		Score:   score.Options{SkipExactMatches: opts.SkipExactMatches, FilterExponent: opts.FilterExponent},
		Progress: func() {
			if bar != nil {
				bar.Increment()
			}
		},
	})
	if pbs != nil {
		pbs.Wait()
	}
	log.Infof("classified %d queries in %s", len(queries), time.Since(start))

	writeResults(opts, db, results)
	logSummaryStats(results)
}

// makeOutDir creates the output directory, failing if it already exists
// unless redo is set (spec §6: "fails if directory exists unless redo").
func makeOutDir(outDir string, redo bool) {
	existed, err := pathutil.DirExists(outDir)
	checkError(errors.Wrap(err, outDir))
	if existed {
		if !redo {
			checkError(fmt.Errorf("output directory %s already exists, use --redo to overwrite", outDir))
		}
		checkError(errors.Wrap(os.RemoveAll(outDir), outDir))
	}
	checkError(errors.Wrap(os.MkdirAll(outDir, 0777), outDir))
}

func loadOrBuildDatabase(opts config.Options) *raxdb.Database {
	isSidecar := isRaxtaxSidecar(opts.DBPath)
	if isSidecar {
		log.Infof("loading database from %s", opts.DBPath)
		db, err := raxdb.Load(opts.DBPath)
		checkError(errors.Wrap(err, opts.DBPath))
		logDatabaseSummary(db)
		return db
	}

	log.Infof("building database from reference FASTA %s", opts.DBPath)
	db, err := raxdb.LoadFASTA(opts.DBPath, opts.WideIndex, func(format string, args ...interface{}) {
		log.Warningf(format, args...)
	})
	checkError(errors.Wrap(err, opts.DBPath))
	log.Infof("indexed %d references, %d taxonomy nodes", len(db.References), len(db.Tree.Nodes))
	logDatabaseSummary(db)

	if opts.MakeDB {
		sidecarPath := filepath.Join(opts.Prefix, "raxtax.raxtaxdb")
		checkError(errors.Wrap(db.Save(sidecarPath, true), sidecarPath))
		log.Infof("database saved to %s", sidecarPath)
	}
	return db
}

// logDatabaseSummary logs the tip count (taxonomy leaves) and k-mer index
// fill ratio (fraction of the 65536 possible 8-mer buckets holding at least
// one reference) at DEBUG level, for diagnosing thin or degenerate
// reference sets under --verbose.
func logDatabaseSummary(db *raxdb.Database) {
	tips := 0
	for _, n := range db.Tree.Nodes {
		if n.ChildLen == 0 {
			tips++
		}
	}
	filled := 0
	for k := 0; k < seqcode.NumKeys; k++ {
		if len(db.Index.Bucket(uint16(k))) > 0 {
			filled++
		}
	}
	fillRatio := float64(filled) / float64(seqcode.NumKeys)
	log.Debugf("database summary: %d tips, k-mer index fill ratio %.4f (%d/%d buckets occupied)",
		tips, fillRatio, filled, seqcode.NumKeys)
}

func isRaxtaxSidecar(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var hdr [8]byte
	if _, err := f.Read(hdr[:]); err != nil {
		return false
	}
	return string(hdr[:]) == "RAXTAXDB"
}

func newProgressBar(total int, verbose bool) (*mpb.Bar, *mpb.Progress) {
	if !verbose || total == 0 {
		return nil, nil
	}
	pbs := mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
	bar := pbs.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("classifying: ", decor.WC{W: len("classifying: "), C: decor.DindentRight}),
			decor.Name("", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
			decor.EwmaETA(decor.ET_STYLE_GO, 10),
			decor.OnComplete(decor.Name(""), ". done"),
		),
	)
	return bar, pbs
}

func writeResults(opts config.Options, db *raxdb.Database, results []score.Outcome) {
	outPath := filepath.Join(opts.Prefix, "raxtax.out")
	outFh, err := os.Create(outPath)
	checkError(errors.Wrap(err, outPath))
	defer outFh.Close()

	var tsvFh *os.File
	if opts.TSV {
		tsvPath := filepath.Join(opts.Prefix, "raxtax.tsv")
		tsvFh, err = os.Create(tsvPath)
		checkError(errors.Wrap(err, tsvPath))
		defer tsvFh.Close()
	}

	for _, out := range results {
		for _, line := range result.OutLines(db, out) {
			fmt.Fprintln(outFh, line)
		}
		if tsvFh != nil {
			for _, line := range result.TSVLines(db, out) {
				fmt.Fprintln(tsvFh, line)
			}
		}
	}
	log.Infof("results written to %s", filepath.Clean(outPath))
}

func logSummaryStats(results []score.Outcome) {
	globals := make([]float64, 0, len(results))
	exact := 0
	fallback := 0
	for _, r := range results {
		globals = append(globals, r.Global)
		if r.ExactHit {
			exact++
		}
		if r.Fallback {
			fallback++
		}
	}
	if len(globals) == 0 {
		return
	}
	mean := stat.Mean(globals, nil)
	sd := stat.StdDev(globals, nil)
	log.Debugf("global signal: mean=%.4f stddev=%.4f; %d exact matches, %d fallback lines", mean, sd, exact, fallback)
}
