// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
	"github.com/InputOutputStream/recommandation-system/internal/recommend"
	"github.com/InputOutputStream/recommandation-system/internal/session"
)

const ioTimeout = 5 * time.Second

type testServer struct {
	srv   *Server
	table *session.Table
	addr  string
	done  chan error
}

// newEngine builds an engine over a store where user 0 has not rated
// item 1 and user 1 is the only other user.
func newEngine(t *testing.T) *recommend.Engine {
	t.Helper()

	store := ratings.NewStore(ratings.DefaultLimits())
	store.IngestBulk([]ratings.Rating{
		{UserID: 0, ItemID: 0, CategoryID: 3, Value: 4.0},
		{UserID: 1, ItemID: 0, CategoryID: 3, Value: 3.5},
		{UserID: 1, ItemID: 1, CategoryID: 4, Value: 5.0},
	})

	engine, err := recommend.NewEngine(store, nil, logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func startServer(t *testing.T, cfg Config, capacity int, engine Recommender) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	logger := logging.NewTestLogger(io.Discard)
	table := session.NewTable(capacity, logger)
	srv := New(cfg, table, engine, logger)

	ts := &testServer{srv: srv, table: table, addr: ln.Addr().String(), done: make(chan error, 1)}
	go func() { ts.done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return ts
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, ioTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(t *testing.T, line string) {
	t.Helper()

	_ = c.conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func (c *client) readLine(t *testing.T) string {
	t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v (partial %q)", err, line)
	}
	return strings.TrimSuffix(line, "\n")
}

// expectClosed asserts the server closes the connection without sending data.
func (c *client) expectClosed(t *testing.T) {
	t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	b, err := c.r.ReadByte()
	if err == nil {
		t.Fatalf("expected closed connection, got byte %q", b)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatal("connection still open")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(ioTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_ValidRequest(t *testing.T) {
	t.Parallel()

	ts := startServer(t, DefaultConfig(), 10, newEngine(t))
	c := dial(t, ts.addr)

	c.send(t, "0 1 1 10")
	if got := c.readLine(t); got != "RECOMMENDATIONS for user 0:" {
		t.Errorf("header = %q", got)
	}
	if got := c.readLine(t); got != "Item 1 (Category 4): Rating 5.00" {
		t.Errorf("result line = %q", got)
	}
}

func TestServer_MalformedRequestKeepsConnection(t *testing.T) {
	t.Parallel()

	ts := startServer(t, DefaultConfig(), 10, newEngine(t))
	c := dial(t, ts.addr)

	c.send(t, "abc")
	if got := c.readLine(t); got != InvalidFormatReply {
		t.Errorf("reply = %q, want %q", got, InvalidFormatReply)
	}

	c.send(t, "0 3 5")
	if got := c.readLine(t); got != "RECOMMENDATIONS for user 0:" {
		t.Errorf("follow-up header = %q", got)
	}
	if got := c.readLine(t); !strings.HasPrefix(got, "Item 1 ") {
		t.Errorf("follow-up result = %q", got)
	}
	if ts.table.Count() != 1 {
		t.Errorf("Count() = %d, want 1", ts.table.Count())
	}
}

func TestServer_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	ts := startServer(t, DefaultConfig(), 10, newEngine(t))
	c := dial(t, ts.addr)

	c.send(t, "0 99 5 10")
	if got := c.readLine(t); got != "RECOMMENDATIONS for user 0:" {
		t.Errorf("header = %q", got)
	}
	if got := c.readLine(t); got != NoResultsLine {
		t.Errorf("reply = %q, want %q", got, NoResultsLine)
	}
}

func TestServer_UnknownUser(t *testing.T) {
	t.Parallel()

	ts := startServer(t, DefaultConfig(), 10, newEngine(t))
	c := dial(t, ts.addr)

	c.send(t, "500 1 5 10")
	c.readLine(t)
	if got := c.readLine(t); got != NoResultsLine {
		t.Errorf("reply = %q, want %q", got, NoResultsLine)
	}
}

func TestServer_Capacity(t *testing.T) {
	t.Parallel()

	const capacity = 3
	ts := startServer(t, DefaultConfig(), capacity, newEngine(t))

	// Each admitted client completes a round trip so admission is settled
	// before the extra client connects.
	for i := 0; i < capacity; i++ {
		c := dial(t, ts.addr)
		c.send(t, "0 99 5 1")
		c.readLine(t)
		c.readLine(t)
	}

	extra := dial(t, ts.addr)
	extra.expectClosed(t)

	if got := ts.table.Count(); got != capacity {
		t.Errorf("Count() = %d, want %d", got, capacity)
	}
}

func TestServer_PeerCloseRemovesSession(t *testing.T) {
	t.Parallel()

	ts := startServer(t, DefaultConfig(), 10, newEngine(t))
	c := dial(t, ts.addr)
	c.send(t, "abc")
	c.readLine(t)

	waitFor(t, "admission", func() bool { return ts.table.Count() == 1 })
	_ = c.conn.Close()
	waitFor(t, "session removal", func() bool { return ts.table.Count() == 0 })
}

func TestServer_IdleTimeout(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	ts := startServer(t, cfg, 10, newEngine(t))

	c := dial(t, ts.addr)
	c.send(t, "abc")
	c.readLine(t)

	// Silence past the deadline disconnects the client.
	c.expectClosed(t)
	waitFor(t, "idle session removal", func() bool { return ts.table.Count() == 0 })
}

func TestServer_OverlongLineKeepsConnection(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxMessageLength = 32
	ts := startServer(t, cfg, 10, newEngine(t))

	c := dial(t, ts.addr)
	c.send(t, strings.Repeat("1", 100))
	if got := c.readLine(t); got != InvalidFormatReply {
		t.Errorf("reply = %q, want %q", got, InvalidFormatReply)
	}

	// The rest of the long line is discarded; the next request is served.
	c.send(t, "0 1 1 10")
	if got := c.readLine(t); got != "RECOMMENDATIONS for user 0:" {
		t.Errorf("follow-up header = %q", got)
	}
	if got := c.readLine(t); got != "Item 1 (Category 4): Rating 5.00" {
		t.Errorf("follow-up result = %q", got)
	}
	if got := ts.table.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestReadLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		limit int
		want  []string
		errs  []error
	}{
		{
			name:  "plain lines",
			input: "0 1 5 10\n1 2 3\n",
			limit: 32,
			want:  []string{"0 1 5 10", "1 2 3", ""},
			errs:  []error{nil, nil, io.EOF},
		},
		{
			name:  "crlf endings",
			input: "0 1 5 10\r\n",
			limit: 32,
			want:  []string{"0 1 5 10", ""},
			errs:  []error{nil, io.EOF},
		},
		{
			name:  "line at the limit",
			input: "12345678\n",
			limit: 8,
			want:  []string{"12345678", ""},
			errs:  []error{nil, io.EOF},
		},
		{
			name:  "over-long line is skipped",
			input: strings.Repeat("9", 100) + "\n0 1 5\n",
			limit: 8,
			want:  []string{"", "0 1 5", ""},
			errs:  []error{errLineTooLong, nil, io.EOF},
		},
		{
			name:  "unterminated final line",
			input: "0 1 5",
			limit: 32,
			want:  []string{"0 1 5", ""},
			errs:  []error{nil, io.EOF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// The smallest buffer forces ReadSlice to return partial chunks.
			r := bufio.NewReaderSize(strings.NewReader(tt.input), 16)
			for i := range tt.want {
				got, err := readLine(r, tt.limit)
				if !errors.Is(err, tt.errs[i]) {
					t.Fatalf("read %d: err = %v, want %v", i, err, tt.errs[i])
				}
				if got != tt.want[i] {
					t.Errorf("read %d: line = %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestServer_BroadcastAfterIdle(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WriteTimeout = 50 * time.Millisecond
	ts := startServer(t, cfg, 10, newEngine(t))

	c := dial(t, ts.addr)
	c.send(t, "0 1 1 10")
	c.readLine(t)
	c.readLine(t)

	// Quiet for longer than the write timeout, well inside the idle timeout.
	time.Sleep(4 * cfg.WriteTimeout)

	if got := ts.table.Broadcast([]byte("hello\n")); got != 1 {
		t.Fatalf("Broadcast() delivered %d, want 1", got)
	}
	if got := c.readLine(t); got != "hello" {
		t.Errorf("broadcast line = %q, want hello", got)
	}
	if got := ts.table.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	c.send(t, "abc")
	if got := c.readLine(t); got != InvalidFormatReply {
		t.Errorf("reply after broadcast = %q, want %q", got, InvalidFormatReply)
	}
}

func TestServer_RateLimit(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 0.001
	cfg.RequestBurst = 1
	ts := startServer(t, cfg, 10, newEngine(t))

	c := dial(t, ts.addr)
	c.send(t, "0 99 5 1")
	c.readLine(t)
	c.readLine(t)

	c.send(t, "0 99 5 1")
	if got := c.readLine(t); got != RateLimitedReply {
		t.Errorf("reply = %q, want %q", got, RateLimitedReply)
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	t.Parallel()

	ts := startServer(t, DefaultConfig(), 10, newEngine(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		c := dial(t, ts.addr)
		wg.Add(1)
		go func(c *client, alg string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = c.conn.SetDeadline(time.Now().Add(ioTimeout))
				if _, err := io.WriteString(c.conn, "0 "+alg+" 1 10\n"); err != nil {
					t.Errorf("write: %v", err)
					return
				}
				header, err := c.r.ReadString('\n')
				if err != nil || header != "RECOMMENDATIONS for user 0:\n" {
					t.Errorf("header = %q, err %v", header, err)
					return
				}
				if _, err := c.r.ReadString('\n'); err != nil {
					t.Errorf("read result: %v", err)
					return
				}
			}
		}(c, []string{"1", "2", "3"}[i%3])
	}
	wg.Wait()
}

func TestServer_Shutdown(t *testing.T) {
	t.Parallel()

	ts := startServer(t, DefaultConfig(), 10, newEngine(t))

	clients := []*client{dial(t, ts.addr), dial(t, ts.addr)}
	for _, c := range clients {
		c.send(t, "0 99 5 1")
		c.readLine(t)
		c.readLine(t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := ts.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-ts.done:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve returned %v, want ErrServerClosed", err)
		}
	case <-time.After(ioTimeout):
		t.Fatal("Serve did not return after Shutdown")
	}

	for _, c := range clients {
		c.expectClosed(t)
	}
	if ts.table.Count() != 0 {
		t.Errorf("Count() = %d after shutdown, want 0", ts.table.Count())
	}

	if _, err := net.DialTimeout("tcp", ts.addr, 200*time.Millisecond); err == nil {
		t.Error("listener still accepting after Shutdown")
	}
}

func TestServer_ListenErrors(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.Address = ln.Addr().String()
	logger := logging.NewTestLogger(io.Discard)
	srv := New(cfg, session.NewTable(1, logger), newEngine(t), logger)

	if err := srv.ListenAndServe(); err == nil {
		t.Fatal("ListenAndServe on a bound port should fail")
	}
	if srv.Addr() != nil {
		t.Error("Addr() should be nil when bind failed")
	}
}

type failingEngine struct{}

func (failingEngine) Recommend(context.Context, recommend.Request) ([]recommend.Result, error) {
	return nil, errors.New("matrix allocation failed")
}

func TestServer_EngineErrorIsEmptyResult(t *testing.T) {
	t.Parallel()

	ts := startServer(t, DefaultConfig(), 10, failingEngine{})
	c := dial(t, ts.addr)

	c.send(t, "0 1 5 10")
	c.readLine(t)
	if got := c.readLine(t); got != NoResultsLine {
		t.Errorf("reply = %q, want %q", got, NoResultsLine)
	}
}
