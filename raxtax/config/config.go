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

// Package config holds raxtax's run options and the optional TOML file that
// can supply defaults for them. Precedence is CLI flags, then TOML, then
// the built-in defaults below.
package config

import (
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Options is the full set of knobs a raxtax run can be configured with.
type Options struct {
	DBPath    string
	QueryPath string

	// Prefix is the output directory holding raxtax.out, raxtax.log, and
	// (with TSV set) raxtax.tsv. Empty means "not yet defaulted"; the CLI
	// fills it in from the query filename once the query path is known.
	Prefix string

	Redo             bool
	SkipExactMatches bool
	TSV              bool
	MakeDB           bool
	WideIndex        bool
	Pin              bool

	Threads int

	Verbose bool
	Quiet   bool

	FilterExponent int
}

// Default returns the built-in defaults, before any TOML or flag overrides.
// Prefix is left empty: it defaults to "<query-filename>.out" once the query
// path is known, so it cannot be filled in here.
func Default() Options {
	return Options{
		FilterExponent: 2,
	}
}

// fileOptions mirrors the subset of Options a TOML config file may set;
// unset fields (nil pointers) leave the built-in default untouched.
type fileOptions struct {
	Prefix           *string `toml:"prefix"`
	Redo             *bool   `toml:"redo"`
	SkipExactMatches *bool   `toml:"skip-exact-matches"`
	TSV              *bool   `toml:"tsv"`
	WideIndex        *bool   `toml:"wide-index"`
	Pin              *bool   `toml:"pin"`
	Threads          *int    `toml:"threads"`
	FilterExponent   *int    `toml:"filter-exponent"`
}

// LoadTOML reads path (expanding a leading "~"), applying any set fields
// onto opts, and returns the merged result. A missing or unreadable file is
// an error; callers only invoke this when a config file was explicitly
// requested.
func LoadTOML(opts Options, path string) (Options, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return opts, errors.Wrap(err, path)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return opts, errors.Wrap(err, expanded)
	}

	var fo fileOptions
	if err := toml.Unmarshal(data, &fo); err != nil {
		return opts, errors.Wrap(err, expanded)
	}

	if fo.Prefix != nil {
		opts.Prefix = *fo.Prefix
	}
	if fo.Redo != nil {
		opts.Redo = *fo.Redo
	}
	if fo.SkipExactMatches != nil {
		opts.SkipExactMatches = *fo.SkipExactMatches
	}
	if fo.TSV != nil {
		opts.TSV = *fo.TSV
	}
	if fo.WideIndex != nil {
		opts.WideIndex = *fo.WideIndex
	}
	if fo.Pin != nil {
		opts.Pin = *fo.Pin
	}
	if fo.Threads != nil {
		opts.Threads = *fo.Threads
	}
	if fo.FilterExponent != nil {
		opts.FilterExponent = *fo.FilterExponent
	}
	return opts, nil
}
