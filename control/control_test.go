package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (addr string, s *Server, stop func()) {
	t.Helper()
	s = NewServer(nil)
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = ln.Addr().String()
	ln.Close()

	ready := make(chan error, 1)
	go func() {
		ready <- s.Serve(ctx, addr)
	}()

	// Give the listener a moment to bind before tests dial it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 10*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return addr, s, func() {
		cancel()
		<-ready
	}
}

func roundTrip(t *testing.T, addr string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	require.NoError(t, enc.Encode(req))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan(), scanner.Err())

	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	addr, s, stop := startServer(t)
	defer stop()

	s.Register("ping", func(params json.RawMessage) (any, error) {
		return map[string]string{"pong": "ok"}, nil
	})

	resp := roundTrip(t, addr, Request{ID: "1", Command: "ping"})
	assert.Equal(t, "1", resp.ID)
	assert.True(t, resp.OK)
	assert.Empty(t, resp.Error)
}

func TestDispatchUnknownCommandReturnsError(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()

	resp := roundTrip(t, addr, Request{ID: "2", Command: "does.not.exist"})
	assert.Equal(t, "2", resp.ID)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestDispatchHandlerErrorIsReported(t *testing.T) {
	addr, s, stop := startServer(t)
	defer stop()

	s.Register("boom", func(params json.RawMessage) (any, error) {
		return nil, errors.New("boom failed")
	})

	resp := roundTrip(t, addr, Request{ID: "3", Command: "boom"})
	assert.False(t, resp.OK)
	assert.Equal(t, "boom failed", resp.Error)
}

func TestMalformedRequestGetsErrorResponseWithoutClosingConn(t *testing.T) {
	addr, s, stop := startServer(t)
	defer stop()
	s.Register("ping", func(params json.RawMessage) (any, error) { return "pong", nil })

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"id":"4","command":"ping"}` + "\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	scanner := bufio.NewScanner(conn)

	require.True(t, scanner.Scan())
	var first Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &first))
	assert.False(t, first.OK)
	assert.Contains(t, first.Error, "malformed request")

	require.True(t, scanner.Scan())
	var second Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &second))
	assert.True(t, second.OK)
	assert.Equal(t, "4", second.ID)
}

func TestConcurrentConnectionsAreHandledIndependently(t *testing.T) {
	addr, s, stop := startServer(t)
	defer stop()
	s.Register("ping", func(params json.RawMessage) (any, error) { return "pong", nil })

	const n = 8
	done := make(chan Response, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			done <- roundTrip(t, addr, Request{ID: "c", Command: "ping"})
		}(i)
	}
	for i := 0; i < n; i++ {
		resp := <-done
		assert.True(t, resp.OK)
	}
}

func TestStreamHandlerPushesUnsolicitedEvents(t *testing.T) {
	addr, s, stop := startServer(t)
	defer stop()

	s.RegisterStream("watch", func(params json.RawMessage, push func(string, any), done <-chan struct{}) (any, error) {
		go push("tick", map[string]int{"n": 1})
		return map[string]bool{"subscribed": true}, nil
	})

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	require.NoError(t, enc.Encode(Request{ID: "1", Command: "watch"}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	scanner := bufio.NewScanner(conn)

	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	assert.True(t, resp.OK)

	require.True(t, scanner.Scan())
	var evt pushEvent
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
	assert.Equal(t, "tick", evt.Event)
}

func TestCloseStopsAcceptingConnections(t *testing.T) {
	addr, s, stop := startServer(t)
	require.NoError(t, s.Close())
	stop()

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}
