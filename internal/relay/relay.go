// Package relay carries corpus blocks between hosts over a socket.io broker,
// so participants explored on different machines can follow each other's
// corpora.
//
// A publisher emits every block of a local corpus as a Message on
// EventPath. A subscriber announces its topic on EventSubscribe and appends
// every Message of that topic to a local corpus. The broker only fans out
// EventPath messages to the subscribers of their topic.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/path"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	EventSubscribe = "corpus:subscribe"
	EventPath      = "corpus:path"
)

// DefaultConnectTimeout bounds Dial when Options leaves it unset.
const DefaultConnectTimeout = 15 * time.Second

// Message is one relayed block.
type Message struct {
	Topic string `json:"topic"`
	Seq   int    `json:"seq"`
	Block string `json:"block"`
}

// Conn is the part of a socket.io client the relay uses.
type Conn interface {
	Emit(ev string, args ...any) error
	On(ev types.EventName, listeners ...types.Listener) error
}

var _ Conn = (*socket.Socket)(nil)

// Options locate the broker.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Dial connects to the broker and waits for the connection.
func Dial(ctx context.Context, o Options) (*socket.Socket, error) {
	logger := ctxlog.FromContext(ctx).With("url", o.URL)

	u, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(u.Path)
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 2)
	manager := socket.NewManager(fmt.Sprintf("%s://%s", u.Scheme, u.Host), opts)
	client := manager.Socket(o.Namespace, opts)

	client.Once(types.EventName("connect"), func(...any) {
		logger.Info("Relay connected.", "sid", client.Id())
		connected <- nil
	})
	client.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("%v", errs[0])
		}
		connected <- err
	})
	client.Connect()

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	select {
	case err := <-connected:
		if err != nil {
			client.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return client, nil
	case <-ctx.Done():
		client.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		client.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", timeout)
	}
}

// Publish emits every block of r under topic and returns how many were sent.
// In follow mode it keeps publishing until ctx is done.
func Publish(ctx context.Context, c Conn, topic string, r *corpus.Reader, opts corpus.StreamOptions) (int, error) {
	logger := ctxlog.FromContext(ctx).With("topic", topic)
	n := 0
	for {
		b, err := opts.Next(ctx, r)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			logger.Info("Relay: publishing finished.", "blocks", n, "position", r.Position().String())
			return n, nil
		}
		if err != nil {
			return n, err
		}
		msg := Message{Topic: topic, Seq: n, Block: string(b.Data)}
		if err := c.Emit(EventPath, msg); err != nil {
			return n, fmt.Errorf("emitting block %d: %w", n, err)
		}
		logger.Debug("Relay: block published.", "seq", n, "line", b.Start.Line)
		n++
	}
}

// Subscribe appends the blocks published under topic to w until ctx is
// done. Blocks that do not parse as paths are dropped. It returns the number
// of blocks written.
func Subscribe(ctx context.Context, c Conn, topic string, w *corpus.Writer) (int, error) {
	logger := ctxlog.FromContext(ctx).With("topic", topic)
	blocks := make(chan Message, 64)

	err := c.On(types.EventName(EventPath), func(args ...any) {
		if len(args) == 0 {
			return
		}
		msg, err := decode(args[0])
		if err != nil {
			logger.Warn("Relay: dropping malformed message.", "error", err)
			return
		}
		if msg.Topic != topic {
			return
		}
		select {
		case blocks <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return 0, fmt.Errorf("registering %s listener: %w", EventPath, err)
	}
	if err := c.Emit(EventSubscribe, topic); err != nil {
		return 0, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	logger.Info("Relay: subscribed.")

	n := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("Relay: subscription finished.", "blocks", n)
			return n, nil
		case msg := <-blocks:
			if _, err := path.Parse([]byte(msg.Block)); err != nil {
				logger.Warn("Relay: dropping block that is not a path.", "seq", msg.Seq, "error", err)
				continue
			}
			if err := w.WriteBlock([]byte(msg.Block)); err != nil {
				return n, fmt.Errorf("writing block %d: %w", msg.Seq, err)
			}
			n++
		}
	}
}

// decode accepts a Message as sent locally or as decoded from JSON by the
// client.
func decode(v any) (Message, error) {
	switch m := v.(type) {
	case Message:
		return m, nil
	case *Message:
		return *m, nil
	case map[string]any:
		var msg Message
		var ok bool
		if msg.Topic, ok = m["topic"].(string); !ok {
			return msg, errors.New("missing topic")
		}
		if msg.Block, ok = m["block"].(string); !ok {
			return msg, errors.New("missing block")
		}
		if seq, ok := m["seq"].(float64); ok {
			msg.Seq = int(seq)
		}
		return msg, nil
	}
	return Message{}, fmt.Errorf("unexpected payload %T", v)
}
