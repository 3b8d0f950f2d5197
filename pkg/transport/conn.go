package transport

import (
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

// Conn wraps one accepted socket. Reads happen on its own loop which
// publishes events; writes go through a buffered send channel drained by
// a write pump, so the dispatcher never blocks on a slow peer.
type Conn struct {
	id   uuid.UUID
	raw  net.Conn
	addr string

	send  chan []byte
	done  chan struct{}
	drain chan struct{}

	closeOnce sync.Once
	drainOnce sync.Once
	logger    *slog.Logger
}

func newConn(raw net.Conn, logger *slog.Logger) *Conn {
	id := uuid.New()
	addr := raw.RemoteAddr().String()
	return &Conn{
		id:     id,
		raw:    raw,
		addr:   addr,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
		drain:  make(chan struct{}),
		logger: logger.With(slog.String("connID", id.String()), slog.String("remote", addr)),
	}
}

func (c *Conn) ID() uuid.UUID { return c.id }

// Addr returns the remote host:port, stable for the connection lifetime.
func (c *Conn) Addr() string { return c.addr }

// Send frames and queues one payload. Oversized payloads fail locally
// without touching the socket; a full send queue drops the frame and
// reports it, it never blocks the caller.
func (c *Conn) Send(payload []byte) error {
	frame, err := wire.Encode(payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return net.ErrClosed
	default:
		c.logger.Warn("send queue full, dropping frame")
		return errSendQueueFull
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case frame := <-c.send:
			if _, err := c.raw.Write(frame); err != nil {
				c.logger.Debug("write failed", slog.Any("error", err))
				c.close()
				return
			}
		case <-c.drain:
			// Flush whatever was queued before the shutdown request, so a
			// kicked peer still receives the notice explaining it.
			for {
				select {
				case frame := <-c.send:
					if _, err := c.raw.Write(frame); err != nil {
						c.close()
						return
					}
				default:
					c.close()
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

// shutdown asks the write pump to flush queued frames and then close.
func (c *Conn) shutdown() {
	c.drainOnce.Do(func() { close(c.drain) })
}

// close shuts the socket down; the read loop observes the closure and
// owns the resulting disconnect event.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.raw.Close()
	})
}
