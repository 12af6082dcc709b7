package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vk/symsteer/internal/backoff"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/path"
)

// ErrOutOfBounds is returned when a path id is past the end of a finished
// corpus.
var ErrOutOfBounds = errors.New("path id out of bounds")

// Loader parses blocks into paths.
type Loader struct {
	r *Reader
}

// NewLoader wraps a Reader.
func NewLoader(r *Reader) *Loader {
	return &Loader{r: r}
}

// Position returns the position after the last loaded path.
func (l *Loader) Position() Position {
	return l.r.Position()
}

// Next loads the next complete path or returns io.EOF.
func (l *Loader) Next() (*path.Path, error) {
	b, err := l.r.Next()
	if err != nil {
		return nil, err
	}
	return path.ParseAt(b.Data, b.Start.Line)
}

// NextWait loads the next path, waiting for the producer through w.
func (l *Loader) NextWait(ctx context.Context, w backoff.Waiter) (*path.Path, error) {
	b, err := l.r.NextWait(ctx, w)
	if err != nil {
		return nil, err
	}
	return path.ParseAt(b.Data, b.Start.Line)
}

// Catalog gives indexed access to the paths of one corpus file, loading
// them incrementally. It is safe for concurrent use.
type Catalog struct {
	name   string
	waiter backoff.Waiter

	mu     sync.Mutex
	file   *os.File
	loader *Loader
	paths  []*path.Path
}

// OpenCatalog opens a corpus file for indexed reading. waiter is used by
// Get in follow mode.
func OpenCatalog(name string, waiter backoff.Waiter) (*Catalog, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	return &Catalog{
		name:   name,
		waiter: waiter,
		file:   f,
		loader: NewLoader(NewReader(f, Start)),
	}, nil
}

// Name returns the file name.
func (c *Catalog) Name() string {
	return c.name
}

// Close releases the file.
func (c *Catalog) Close() error {
	return c.file.Close()
}

// refill loads every complete path currently in the file.
func (c *Catalog) refill() error {
	for {
		p, err := c.loader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corpus %s: %w", c.name, err)
		}
		c.paths = append(c.paths, p)
	}
}

// Len returns the number of complete paths written so far.
func (c *Catalog) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refill(); err != nil {
		return len(c.paths), err
	}
	return len(c.paths), nil
}

// Get returns path #id (0-based). Without follow it fails with
// ErrOutOfBounds when the file does not hold that many paths yet; with
// follow it waits for the producer until ctx is done.
func (c *Catalog) Get(ctx context.Context, id int, follow bool) (*path.Path, error) {
	if id < 0 {
		return nil, ErrOutOfBounds
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := ctxlog.FromContext(ctx)
	err := backoff.Retry(ctx, c.waiter, func(attempt int) (bool, error) {
		if id < len(c.paths) {
			return true, nil
		}
		if err := c.refill(); err != nil {
			return false, err
		}
		if id < len(c.paths) {
			return true, nil
		}
		if !follow {
			return false, fmt.Errorf("corpus %s: path %d of %d: %w", c.name, id, len(c.paths), ErrOutOfBounds)
		}
		logger.Debug("Waiting for path.", "corpus", c.name, "path_id", id, "attempt", attempt)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return c.paths[id], nil
}
