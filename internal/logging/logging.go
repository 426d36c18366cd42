// Package logging configures the process wide phuslu logger.
package logging

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// Setup installs the default logger at the given level. Output is JSON when
// stdout is not a terminal and a console format otherwise.
func Setup(level string) {
	var writer log.Writer = &log.IOWriter{Writer: os.Stdout}
	if log.IsTerminal(os.Stdout.Fd()) {
		writer = &log.ConsoleWriter{ColorOutput: true, EndWithMessage: true}
	}
	log.DefaultLogger = New(level, writer)
}

// New returns a logger at the given level writing to w.
func New(level string, w log.Writer) log.Logger {
	return log.Logger{
		Level:  log.ParseLevel(level),
		Writer: w,
	}
}

// Discard silences the default logger.
func Discard() {
	log.DefaultLogger = New("error", &log.IOWriter{Writer: io.Discard})
}
