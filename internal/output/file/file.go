package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/crimson-sun/pooling/internal/output"
)

const bufSize = 64 * 1024 // 64KB

// Option configures a file Output.
type Option func(*Output)

// WithAppend appends to an existing file instead of truncating it.
func WithAppend() Option {
	return func(o *Output) { o.flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND }
}

// Output writes NDJSON records to a file with buffered I/O.
type Output struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	path  string
	flags int
}

// New creates a file output that writes NDJSON to path.
func New(path string, opts ...Option) (*Output, error) {
	o := &Output{
		path:  path,
		flags: os.O_CREATE | os.O_WRONLY | os.O_TRUNC,
	}
	for _, opt := range opts {
		opt(o)
	}

	f, err := os.OpenFile(o.path, o.flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file output: open %s: %w", o.path, err)
	}
	o.f = f
	o.w = bufio.NewWriterSize(f, bufSize)
	return o, nil
}

// Write JSON-encodes rec and appends it as a line.
func (o *Output) Write(_ context.Context, rec output.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("file output: marshal: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.w.Write(data); err != nil {
		return fmt.Errorf("file output: write: %w", err)
	}
	return nil
}

// Close flushes the buffer and closes the file.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.Flush(); err != nil {
		o.f.Close()
		return fmt.Errorf("file output: flush: %w", err)
	}
	return o.f.Close()
}
