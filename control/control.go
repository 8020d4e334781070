// Package control implements the newline-delimited JSON request/
// response server of spec §6: each request is {id, command, params},
// each response is {id, ok, result|error}. Grounded on the daemon's
// server.go/appserver.go accept-loop shape (net.Listen, one goroutine
// per accepted connection), replacing its AGW binary protocol with
// line-oriented JSON.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/charmbracelet/log"
)

// Request is one control-channel command (spec §6).
type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request by the same ID.
type Response struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler executes one command's params and returns a result value or
// an error to report back to the caller.
type Handler func(params json.RawMessage) (any, error)

// StreamHandler is a command whose effect outlives its initial
// response: it may call push to write further unsolicited framed
// events to the same connection (e.g. spec §6's
// sysex.on_received_subscribe) until done is closed when the
// connection goes away.
type StreamHandler func(params json.RawMessage, push func(event string, data any), done <-chan struct{}) (any, error)

// pushEvent frames one unsolicited event a StreamHandler emits.
type pushEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Server accepts TCP connections and dispatches line-delimited JSON
// requests to a registered Handler table (spec §6's command set:
// device.*, route.*, player.*, processor.*, sysex.*).
type Server struct {
	logger         *log.Logger
	mu             sync.RWMutex
	handlers       map[string]Handler
	streamHandlers map[string]StreamHandler

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer returns a Server with no handlers registered yet.
func NewServer(logger *log.Logger) *Server {
	return &Server{
		logger:         logger,
		handlers:       make(map[string]Handler),
		streamHandlers: make(map[string]StreamHandler),
	}
}

// Register installs the handler for command, e.g. "route.add".
func (s *Server) Register(command string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = h
}

// RegisterStream installs a StreamHandler for command, e.g.
// "sysex.on_received_subscribe".
func (s *Server) RegisterStream(command string, h StreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamHandlers[command] = h
}

// Serve listens on addr and accepts connections until ctx is
// cancelled, one goroutine per connection (the daemon's
// server_connect_listen_thread/cmd_listen_thread shape).
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var writeMu sync.Mutex
	enc := json.NewEncoder(conn)
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(v)
	}

	done := make(chan struct{})
	defer close(done)
	push := func(event string, data any) {
		_ = write(pushEvent{Event: event, Data: data})
	}

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			write(Response{OK: false, Error: "malformed request: " + err.Error()})
			continue
		}
		resp := s.dispatch(req, push, done)
		if err := write(resp); err != nil {
			if s.logger != nil {
				s.logger.Warn("failed to write response", "err", err)
			}
			return
		}
	}
}

func (s *Server) dispatch(req Request, push func(event string, data any), done <-chan struct{}) Response {
	s.mu.RLock()
	h, ok := s.handlers[req.Command]
	sh, sok := s.streamHandlers[req.Command]
	s.mu.RUnlock()

	switch {
	case ok:
		result, err := h(req.Params)
		if err != nil {
			return Response{ID: req.ID, OK: false, Error: err.Error()}
		}
		return Response{ID: req.ID, OK: true, Result: result}
	case sok:
		result, err := sh(req.Params, push, done)
		if err != nil {
			return Response{ID: req.ID, OK: false, Error: err.Error()}
		}
		return Response{ID: req.ID, OK: true, Result: result}
	default:
		return Response{ID: req.ID, OK: false, Error: "unknown command: " + req.Command}
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
