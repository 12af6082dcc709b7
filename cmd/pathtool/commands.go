package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/vk/symsteer/internal/cli"
	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/path"
)

func usageError(format string, args ...any) error {
	return &cli.ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// openReader opens name for block reading from the start.
func openReader(name string) (*corpus.Reader, io.Closer, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return corpus.NewReader(f, corpus.Start), f, nil
}

func split(ctx context.Context, outW io.Writer, args []string, opts options) error {
	if len(args) < 2 {
		return usageError("split needs an input and at least one output")
	}
	r, c, err := openReader(args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	outs := make([]*corpus.Writer, 0, len(args)-1)
	defer func() {
		for _, w := range outs {
			w.Close()
		}
	}()
	for _, name := range args[1:] {
		w, err := corpus.Append(name)
		if err != nil {
			return err
		}
		outs = append(outs, w)
	}

	n, err := corpus.Split(ctx, r, outs, opts.stream)
	ctxlog.FromContext(ctx).Info("Split finished.", "paths", n, "outputs", len(outs))
	return err
}

func join(ctx context.Context, outW io.Writer, args []string, opts options) error {
	if len(args) < 2 {
		return usageError("join needs an output and at least one input")
	}
	out, err := corpus.Append(args[0])
	if err != nil {
		return err
	}
	defer out.Close()

	ins := make([]*corpus.Reader, 0, len(args)-1)
	for _, name := range args[1:] {
		r, c, err := openReader(name)
		if err != nil {
			return err
		}
		defer c.Close()
		ins = append(ins, r)
	}

	n, err := corpus.Join(ctx, ins, out, opts.stream)
	ctxlog.FromContext(ctx).Info("Join finished.", "paths", n, "inputs", len(ins))
	return err
}

func count(ctx context.Context, outW io.Writer, args []string, _ options) error {
	if len(args) != 1 {
		return usageError("count needs exactly one input")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := corpus.Count(f)
	if err != nil {
		return err
	}
	fmt.Fprintln(outW, n)
	return nil
}

func cat(ctx context.Context, outW io.Writer, args []string, opts options) error {
	if len(args) < 1 {
		return usageError("cat needs an input")
	}
	ids := make([]int, 0, len(args)-1)
	for _, a := range args[1:] {
		id, err := strconv.Atoi(a)
		if err != nil || id < 0 {
			return usageError("invalid path id %q", a)
		}
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		c, err := corpus.OpenCatalog(args[0], opts.stream.Waiter)
		if err != nil {
			return err
		}
		defer c.Close()
		for _, id := range ids {
			p, err := c.Get(ctx, id, opts.stream.Follow)
			if err != nil {
				return err
			}
			printPath(outW, id, p, opts.summary)
		}
		return nil
	}

	r, c, err := openReader(args[0])
	if err != nil {
		return err
	}
	defer c.Close()
	l := corpus.NewLoader(r)
	for id := 0; ; id++ {
		var p *path.Path
		if opts.stream.Follow {
			p, err = l.NextWait(ctx, opts.stream.Waiter)
		} else {
			p, err = l.Next()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		printPath(outW, id, p, opts.summary)
	}
}

// printPath writes p in corpus form, or as one line of id, uuid, outcome
// and participants.
func printPath(w io.Writer, id int, p *path.Path, summary bool) {
	if !summary {
		w.Write(path.Marshal(p))
		return
	}
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", id, p.UUID, p.Tags[path.TagOutcome], strings.Join(p.Participants, ","))
}
