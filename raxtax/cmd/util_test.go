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

package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMakeOutDirCreatesFreshDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.out")
	makeOutDir(dir, false)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("expected %s to exist as a directory", dir)
	}
}

func TestMakeOutDirRedoOverwritesExisting(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run.out")
	makeOutDir(dir, false)
	stale := filepath.Join(dir, "raxtax.out")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	makeOutDir(dir, true)
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected --redo to clear the stale output directory")
	}
}
