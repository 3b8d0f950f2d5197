package transport

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ivymerfe/tinychat/pkg/eventq"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

var errSendQueueFull = errors.New("transport: send queue full")

// ErrorHandler receives non-fatal transport errors: failed or dropped
// sends and malformed frames. It must not block.
type ErrorHandler func(err error)

// Server owns the listening socket and every accepted socket. One accept
// loop plus one read loop per connection publish typed events onto the
// shared queue; they are the only concurrent actors, and they only ever
// enqueue.
type Server struct {
	addr    string
	queue   *eventq.Queue[Event]
	onError ErrorHandler
	logger  *slog.Logger

	ln      net.Listener
	mu      sync.Mutex
	conns   map[string]*Conn
	wg      sync.WaitGroup
	closing atomic.Bool
}

func NewServer(addr string, queue *eventq.Queue[Event], onError ErrorHandler, logger *slog.Logger) *Server {
	if onError == nil {
		onError = func(error) {}
	}
	return &Server{
		addr:    addr,
		queue:   queue,
		onError: onError,
		conns:   make(map[string]*Conn),
		logger:  logger.With(slog.String("component", "transport_server")),
	}
}

// Open binds and starts accepting. The outcome is reported as an
// EventServerStart; a bind failure halts startup and nothing runs.
func (s *Server) Open() {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.queue.Push(Event{Kind: EventServerStart, Err: err})
		return
	}
	s.ln = ln
	s.queue.Push(Event{Kind: EventServerStart})

	s.wg.Add(1)
	go s.acceptLoop()
}

// Addr returns the bound listen address, or "" before Open succeeds.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return
			}
			s.onError(err)
			continue
		}
		conn := newConn(raw, s.logger)

		s.mu.Lock()
		s.conns[conn.addr] = conn
		s.mu.Unlock()

		s.queue.Push(Event{Kind: EventConnRequest, Conn: conn, Addr: conn.addr})

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.readLoop(conn)
		}()
		go func() {
			defer s.wg.Done()
			conn.writeLoop()
		}()
	}
}

func (s *Server) readLoop(c *Conn) {
	var dec wire.Decoder
	buf := make([]byte, wire.MaxFrame)
	for {
		n, err := c.raw.Read(buf)
		if err != nil {
			break
		}
		payloads, derr := dec.Push(buf[:n])
		for _, p := range payloads {
			if s.closing.Load() {
				break
			}
			s.queue.Push(Event{Kind: EventPacket, Conn: c, Addr: c.addr, Payload: p})
		}
		if derr != nil {
			s.onError(derr)
		}
	}

	s.mu.Lock()
	delete(s.conns, c.addr)
	s.mu.Unlock()
	c.close()

	if !s.closing.Load() {
		s.queue.Push(Event{Kind: EventDisconnected, Addr: c.addr})
	}
}

// Kick terminates a connection after flushing queued frames. The read
// loop observes the closure and emits the disconnect event through the
// normal path.
func (s *Server) Kick(c *Conn) {
	c.shutdown()
}

// Close stops accepting, terminates every connection and joins all I/O
// loops. After it returns no further events are produced.
func (s *Server) Close() {
	s.closing.Store(true)
	if s.ln != nil {
		s.ln.Close()
	}

	s.mu.Lock()
	for _, c := range s.conns {
		c.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("transport closed")
}
