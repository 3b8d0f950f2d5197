package transport

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivymerfe/tinychat/pkg/eventq"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

// DialTimeout bounds the initial connect; once connected, reads block
// until data, closure or reset.
const DialTimeout = 1 * time.Second

var ErrNotConnected = errors.New("transport: not connected")

// Client mirrors the server multiplexer for a single outbound
// connection. A deliberate local Disconnect closes the socket without
// reporting a disconnected event; only a confirmed remote closure does.
type Client struct {
	queue   *eventq.Queue[Event]
	onError ErrorHandler
	logger  *slog.Logger

	mu   sync.Mutex
	cur  *clientConn
	wg   sync.WaitGroup
	exit atomic.Bool
}

type clientConn struct {
	raw   net.Conn
	addr  string
	local atomic.Bool
}

func NewClient(queue *eventq.Queue[Event], onError ErrorHandler, logger *slog.Logger) *Client {
	if onError == nil {
		onError = func(error) {}
	}
	return &Client{
		queue:   queue,
		onError: onError,
		logger:  logger.With(slog.String("component", "transport_client")),
	}
}

// Connect dials addr, replacing any live connection. The outcome is
// published as an EventConnected.
func (c *Client) Connect(addr string) {
	c.Disconnect()

	raw, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		c.queue.Push(Event{Kind: EventConnected, Addr: addr, Err: err})
		return
	}

	conn := &clientConn{raw: raw, addr: addr}
	c.mu.Lock()
	c.cur = conn
	c.mu.Unlock()

	c.queue.Push(Event{Kind: EventConnected, Addr: addr})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(conn)
	}()
}

func (c *Client) readLoop(conn *clientConn) {
	var dec wire.Decoder
	buf := make([]byte, wire.MaxFrame)
	for {
		n, err := conn.raw.Read(buf)
		if err != nil {
			break
		}
		payloads, derr := dec.Push(buf[:n])
		for _, p := range payloads {
			c.queue.Push(Event{Kind: EventPacket, Addr: conn.addr, Payload: p})
		}
		if derr != nil {
			c.onError(derr)
		}
	}
	conn.raw.Close()

	// A disconnect we initiated ourselves is not a network failure and
	// must not be reported upward as one.
	if !conn.local.Load() && !c.exit.Load() {
		c.queue.Push(Event{Kind: EventDisconnected, Addr: conn.addr})
	}
}

// Send frames and writes one payload on the live connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	conn := c.cur
	c.mu.Unlock()
	if conn == nil || conn.local.Load() {
		return ErrNotConnected
	}
	frame, err := wire.Encode(payload)
	if err != nil {
		return err
	}
	if _, err := conn.raw.Write(frame); err != nil {
		c.onError(err)
		return err
	}
	return nil
}

// Disconnect closes the live connection without emitting an event.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.cur
	c.cur = nil
	c.mu.Unlock()
	if conn != nil {
		conn.local.Store(true)
		conn.raw.Close()
	}
}

// Close tears the client down and joins its read loop.
func (c *Client) Close() {
	c.exit.Store(true)
	c.Disconnect()
	c.wg.Wait()
}
