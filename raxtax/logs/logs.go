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

// Package logs wires the package-level logger used across raxtax: a
// colorized console backend plus, when a log file is requested, a second
// plain-text backend writing to it.
package logs

import (
	"os"

	"github.com/mattn/go-colorable"
	logging "github.com/shenwei356/go-logging"
)

// Log is the package-level logger every raxtax command and library package
// writes through.
var Log = logging.MustGetLogger("raxtax")

var consoleFormat = logging.MustStringFormatter(
	`%{color}[%{level:.4s}]%{color:reset} %{message}`,
)

var fileFormat = logging.MustStringFormatter(
	`%{time:2006-01-02 15:04:05} [%{level:.4s}] %{message}`,
)

// Level mirrors the three verbosity presets raxtax's CLI exposes.
type Level int

const (
	LevelDefault Level = iota
	LevelVerbose
	LevelQuiet
)

// Setup installs the console backend (and, when logFile is non-empty, a
// second file backend) at the verbosity implied by level.
func Setup(level Level, logFile string) (func() error, error) {
	consoleBackend := logging.NewLogBackend(colorable.NewColorableStderr(), "", 0)
	consoleFormatted := logging.NewBackendFormatter(consoleBackend, consoleFormat)

	backends := []logging.Backend{consoleFormatted}
	closer := func() error { return nil }

	if logFile != "" {
		f, err := os.Create(logFile)
		if err != nil {
			return nil, err
		}
		fileBackend := logging.NewLogBackend(f, "", 0)
		fileFormatted := logging.NewBackendFormatter(fileBackend, fileFormat)
		backends = append(backends, fileFormatted)
		closer = f.Close
	}

	logging.SetBackend(backends...)

	switch level {
	case LevelVerbose:
		logging.SetLevel(logging.DEBUG, "raxtax")
	case LevelQuiet:
		logging.SetLevel(logging.ERROR, "raxtax")
	default:
		logging.SetLevel(logging.WARNING, "raxtax")
	}

	return closer, nil
}
