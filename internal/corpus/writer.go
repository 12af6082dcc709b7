package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vk/symsteer/internal/backoff"
	"github.com/vk/symsteer/internal/path"
)

// Writer appends whole blocks to a corpus file. Each block is written with
// a single write call on an O_APPEND descriptor, so blocks from several
// processes never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// Append opens name for appending, creating it if needed.
func Append(name string) (*Writer, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	return &Writer{w: f, c: f}, nil
}

// NewWriter wraps an arbitrary writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteBlock appends raw block bytes.
func (w *Writer) WriteBlock(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(b)
	return err
}

// WritePath serializes and appends p.
func (w *Writer) WritePath(p *path.Path) error {
	return w.WriteBlock(path.Marshal(p))
}

// Close closes the underlying file, if any.
func (w *Writer) Close() error {
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}

// StreamOptions control Split and Join.
type StreamOptions struct {
	// Follow keeps reading after the end of the input, waiting through
	// Waiter, until the context is done.
	Follow bool
	Waiter backoff.Waiter
}

// Next reads one block, waiting for it in follow mode.
func (o StreamOptions) Next(ctx context.Context, r *Reader) (Block, error) {
	if !o.Follow {
		return r.Next()
	}
	return r.NextWait(ctx, o.Waiter)
}

// Split distributes the blocks of r round-robin over outs and returns the
// number of blocks copied.
func Split(ctx context.Context, r *Reader, outs []*Writer, opts StreamOptions) (int, error) {
	if len(outs) == 0 {
		return 0, errors.New("corpus: split needs at least one output")
	}
	n := 0
	for {
		b, err := opts.Next(ctx, r)
		if err != nil {
			return n, endOfStream(err)
		}
		if err := outs[n%len(outs)].WriteBlock(b.Data); err != nil {
			return n, err
		}
		n++
	}
}

// Join copies the blocks of every reader to out. Without follow, readers are
// drained in order. With follow, readers are polled in turn so that no input
// starves the others.
func Join(ctx context.Context, ins []*Reader, out *Writer, opts StreamOptions) (int, error) {
	n := 0
	if !opts.Follow {
		for _, r := range ins {
			for {
				b, err := r.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return n, err
				}
				if err := out.WriteBlock(b.Data); err != nil {
					return n, err
				}
				n++
			}
		}
		return n, nil
	}

	err := backoff.Retry(ctx, opts.Waiter, func(int) (bool, error) {
		for _, r := range ins {
			b, err := r.Next()
			if errors.Is(err, io.EOF) {
				continue
			}
			if err != nil {
				return false, err
			}
			if err := out.WriteBlock(b.Data); err != nil {
				return false, err
			}
			n++
		}
		return false, ctx.Err()
	})
	return n, endOfStream(err)
}

// endOfStream maps the normal ends of a stream to a nil error.
func endOfStream(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
