package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/corpus"
	"github.com/vk/symsteer/internal/path"
	"github.com/zishang520/engine.io/v2/types"
)

// broker fans EventPath messages out to subscribed conns, passing payloads
// through JSON like the wire does.
type broker struct {
	mu     sync.Mutex
	subs   map[string][]*fakeConn
	joined chan string
}

func newBroker() *broker {
	return &broker{subs: make(map[string][]*fakeConn), joined: make(chan string, 8)}
}

type fakeConn struct {
	b        *broker
	mu       sync.Mutex
	handlers map[types.EventName][]types.Listener
}

func (b *broker) conn() *fakeConn {
	return &fakeConn{b: b, handlers: make(map[types.EventName][]types.Listener)}
}

func (c *fakeConn) On(ev types.EventName, ls ...types.Listener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[ev] = append(c.handlers[ev], ls...)
	return nil
}

func (c *fakeConn) Emit(ev string, args ...any) error {
	switch ev {
	case EventSubscribe:
		topic := args[0].(string)
		c.b.mu.Lock()
		c.b.subs[topic] = append(c.b.subs[topic], c)
		c.b.mu.Unlock()
		c.b.joined <- topic
	case EventPath:
		raw, err := json.Marshal(args[0])
		if err != nil {
			return err
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		c.b.mu.Lock()
		// Brokers broadcast to every subscriber; the topic filter is the
		// subscriber's job as well.
		var targets []*fakeConn
		for _, conns := range c.b.subs {
			targets = append(targets, conns...)
		}
		c.b.mu.Unlock()
		for _, t := range targets {
			t.mu.Lock()
			ls := t.handlers[types.EventName(EventPath)]
			t.mu.Unlock()
			for _, l := range ls {
				l(payload)
			}
		}
	}
	return nil
}

func corpusOf(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := corpus.NewWriter(&buf)
	for i := 0; i < n; i++ {
		p := path.New()
		p.Tags["n"] = string(rune('a' + i))
		require.NoError(t, w.WritePath(p))
	}
	return buf.Bytes()
}

// syncBuffer guards a buffer written by Subscribe and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := corpus.Count(bytes.NewReader(s.buf.Bytes()))
	return n
}

func TestPublishSubscribe(t *testing.T) {
	b := newBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got, other syncBuffer
	done := make(chan int, 2)
	go func() {
		n, err := Subscribe(ctx, b.conn(), "server", corpus.NewWriter(&got))
		assert.NoError(t, err)
		done <- n
	}()
	go func() {
		n, err := Subscribe(ctx, b.conn(), "client", corpus.NewWriter(&other))
		assert.NoError(t, err)
		done <- n
	}()
	<-b.joined
	<-b.joined

	src := corpusOf(t, 3)
	n, err := Publish(ctx, b.conn(), "server", corpus.NewReader(bytes.NewReader(src), corpus.Start), corpus.StreamOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Eventually(t, func() bool { return got.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ElementsMatch(t, []int{3, 0}, []int{<-done, <-done})
	assert.Zero(t, other.count(), "other topics are ignored")

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, src, got.buf.Bytes())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    Message
		wantErr bool
	}{
		{name: "struct", in: Message{Topic: "a", Seq: 1, Block: "x"}, want: Message{Topic: "a", Seq: 1, Block: "x"}},
		{name: "json map", in: map[string]any{"topic": "a", "seq": float64(2), "block": "x"}, want: Message{Topic: "a", Seq: 2, Block: "x"}},
		{name: "missing block", in: map[string]any{"topic": "a"}, wantErr: true},
		{name: "wrong type", in: 42, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubscribe_DropsGarbage(t *testing.T) {
	b := newBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got syncBuffer
	done := make(chan int, 1)
	go func() {
		n, _ := Subscribe(ctx, b.conn(), "t", corpus.NewWriter(&got))
		done <- n
	}()
	<-b.joined

	pub := b.conn()
	require.NoError(t, pub.Emit(EventPath, Message{Topic: "t", Block: "not a path"}))
	require.NoError(t, pub.Emit(EventPath, Message{Topic: "t", Seq: 1, Block: string(corpusOf(t, 1))}))

	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.Equal(t, 1, <-done)
}
