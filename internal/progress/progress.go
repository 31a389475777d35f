// Package progress prints the run's progress lines to stdout behind a
// single mutex, per spec §5 ("Standard output... guarded by a dedicated
// mutex to prevent interleaved log lines") and §7's two required messages.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
)

// Logger serializes writes to an underlying writer so that concurrent
// Splitter and Bloom Builder tasks never interleave partial lines.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
}

// New wraps w (typically os.Stdout) in a Logger.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// Working announces the start of a Split task, along with the size of the
// partition file it is about to consume.
func (l *Logger) Working(name string, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "Working on %s (%s)\n", name, humanize.Bytes(uint64(size)))
}

// Blooming announces a Bloom task. It names the partition file rather than
// the output node file, matching the reference implementation; this is a
// cosmetic artefact the spec does not require either way (spec §9).
func (l *Logger) Blooming(partitionName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "Blooming %s\n", partitionName)
}
