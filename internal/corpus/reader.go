// Package corpus streams path blocks from append-only corpus files.
//
// Everything here works on block boundaries only. A block is consumed once
// its end marker line is complete, so readers can run concurrently with a
// producer that is still appending to the same file.
package corpus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vk/symsteer/internal/backoff"
	"github.com/vk/symsteer/internal/path"
)

// Position is a resumable cursor into a corpus file. Line is 1-based and
// names the line at Offset.
type Position struct {
	Offset int64
	Line   int
}

// Start is the position of the first byte of a file.
var Start = Position{Offset: 0, Line: 1}

func (p Position) String() string {
	return fmt.Sprintf("offset %d (line %d)", p.Offset, p.Line)
}

// Block is one raw path record.
type Block struct {
	Data []byte
	// Start is the position of the start marker, End the position right
	// after the end marker.
	Start, End Position
}

// Reader yields complete blocks from a growing file.
type Reader struct {
	src   io.ReadSeeker
	pos   Position
	br    *bufio.Reader
	stale bool
}

// NewReader reads blocks from src starting at pos.
func NewReader(src io.ReadSeeker, pos Position) *Reader {
	if pos.Line == 0 {
		pos.Line = 1
	}
	return &Reader{src: src, pos: pos, stale: true}
}

// Position returns the position right after the last consumed block.
func (r *Reader) Position() Position {
	return r.pos
}

// Next returns the next complete block, or io.EOF if none is available yet.
// An incomplete trailing block is left for a later call.
func (r *Reader) Next() (Block, error) {
	if r.stale {
		if _, err := r.src.Seek(r.pos.Offset, io.SeekStart); err != nil {
			return Block{}, fmt.Errorf("corpus: seek: %w", err)
		}
		r.br = bufio.NewReader(r.src)
		r.stale = false
	}

	cur := r.pos
	var (
		buf     bytes.Buffer
		inBlock bool
		start   Position
	)
	for {
		line, err := r.br.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Partial line or partial block: retry from the last
				// consumed boundary next time.
				r.stale = true
				return Block{}, io.EOF
			}
			r.stale = true
			return Block{}, fmt.Errorf("corpus: read: %w", err)
		}
		text := bytes.TrimRight(line, "\r\n")
		lineStart := cur
		cur = Position{Offset: cur.Offset + int64(len(line)), Line: cur.Line + 1}

		switch {
		case string(text) == path.StartMarker:
			// A new start marker discards a block that never ended.
			buf.Reset()
			inBlock = true
			start = lineStart
			buf.Write(line)
		case inBlock:
			buf.Write(line)
			if string(text) == path.EndMarker {
				r.pos = cur
				return Block{Data: buf.Bytes(), Start: start, End: cur}, nil
			}
		default:
			// Text between blocks is skipped and consumed.
			r.pos = cur
		}
	}
}

// NextWait is Next that waits for a producer, retrying through w until a
// block is complete or ctx is done.
func (r *Reader) NextWait(ctx context.Context, w backoff.Waiter) (Block, error) {
	var b Block
	err := backoff.Retry(ctx, w, func(int) (bool, error) {
		var err error
		b, err = r.Next()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return err == nil, err
	})
	return b, err
}

// Count returns the number of complete blocks in src.
func Count(src io.ReadSeeker) (int, error) {
	r := NewReader(src, Start)
	n := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
