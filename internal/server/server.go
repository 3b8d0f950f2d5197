// Package server hosts the session/event dispatcher: the single
// consumer that drains the network event queue and serially applies
// every event to shared state. That serialization is what makes user,
// connection and channel state race-free without locks.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/ivymerfe/tinychat/internal/channel"
	"github.com/ivymerfe/tinychat/internal/config"
	"github.com/ivymerfe/tinychat/internal/metrics"
	"github.com/ivymerfe/tinychat/pkg/discovery"
	"github.com/ivymerfe/tinychat/pkg/eventq"
	"github.com/ivymerfe/tinychat/pkg/state"
	"github.com/ivymerfe/tinychat/pkg/transport"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

// Console is the operator's presentation collaborator: a plain-line
// sink. How lines are rendered is not the server's concern.
type Console interface {
	Write(line string)
	Clear()
}

// Server wires the transport, discovery and channel engine together and
// runs the dispatcher loop.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	console Console

	queue       *eventq.Queue[transport.Event]
	transport   *transport.Server
	broadcaster *discovery.Broadcaster

	registry *state.Registry
	engine   *channel.Engine
	commands *commandSet

	consoleIn chan string
	done      chan struct{}
	stopOnce  sync.Once
	startErr  error
}

func New(cfg *config.Config, console Console, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "server")),
		console:   console,
		queue:     eventq.New[transport.Event](),
		registry:  state.NewRegistry(),
		consoleIn: make(chan string),
		done:      make(chan struct{}),
	}
	s.transport = transport.NewServer(cfg.Listen, s.queue, s.transportError, logger)
	s.broadcaster = discovery.NewBroadcaster(cfg.Broadcast, cfg.Server.Name, cfg.Server.Desc, cfg.Server.Visible, logger)
	s.engine = channel.NewEngine(s, console, logger)
	s.commands = newCommandSet(s)
	metrics.Channels.Set(1)
	return s
}

func (s *Server) transportError(err error) {
	s.logger.Debug("transport error", slog.Any("error", err))
}

// Start binds the listener, begins discovery announcements and runs the
// dispatcher. A bind failure is reported through the event loop and
// halts startup.
func (s *Server) Start() {
	go s.dispatch()
	s.transport.Open()
	if err := s.broadcaster.Start(); err != nil {
		s.logger.Warn("discovery broadcaster failed", slog.Any("error", err))
	}
	metrics.Serve(s.cfg.MetricsAddr, s.logger)
}

// Done is closed when the dispatcher loop has ended.
func (s *Server) Done() <-chan struct{} { return s.done }

// Addr returns the bound listen address once Start has bound it.
func (s *Server) Addr() string { return s.transport.Addr() }

// Err returns the fatal startup error, if any, once Done is closed.
func (s *Server) Err() error { return s.startErr }

// Input feeds one operator-typed line into the dispatcher. Safe to call
// from any goroutine; the line is applied on the dispatcher.
func (s *Server) Input(line string) {
	select {
	case s.consoleIn <- line:
	case <-s.done:
	}
}

// Stop injects the shutdown sentinel. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.queue.Push(transport.Event{Kind: transport.EventStop})
	})
}

// Shutdown stops the dispatcher and joins every I/O loop before
// releasing sockets, so no event is produced after teardown begins.
func (s *Server) Shutdown() {
	s.Stop()
	<-s.done
	s.transport.Close()
	s.broadcaster.Close()
	s.queue.Close()
	for range s.queue.Out() {
		// discard events buffered after the dispatcher exited
	}
	s.logger.Info("server shut down")
}

// dispatch is the single consumer. Events apply strictly one at a time,
// in publish order; console input is serialized onto the same loop.
func (s *Server) dispatch() {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.queue.Out():
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.EventServerStart:
				if !s.handleStarted(ev.Err) {
					return
				}
			case transport.EventConnRequest:
				s.handleConnRequest(ev.Conn)
			case transport.EventPacket:
				s.handlePacket(ev.Addr, ev.Payload)
			case transport.EventDisconnected:
				s.handleDisconnected(ev.Addr)
			case transport.EventStop:
				s.handleStopped()
				return
			}
		case line := <-s.consoleIn:
			s.handleInput(line)
		}
	}
}

func (s *Server) handleStarted(err error) bool {
	if err != nil {
		s.console.Write(fmt.Sprintf("+orangered(Failed to start a server: %v)", err))
		s.logger.Error("bind failed", slog.Any("error", err))
		s.startErr = err
		return false
	}
	s.console.Write(fmt.Sprintf("+green(Server running at %s)", s.transport.Addr()))
	return true
}

func (s *Server) handleStopped() {
	s.broadcastNotice("+orangered(Server closed)")
}

func (s *Server) handleConnRequest(tc *transport.Conn) {
	metrics.ConnectionsAccepted.Inc()
	host := state.Host(tc.Addr())

	if user := s.registry.FindUserByHost(host); user != nil && user.HasTag(state.TagBanned) {
		msg := "+orangered(You are banned!)"
		if reason := user.TagReason("banned"); reason != "" {
			msg += fmt.Sprintf("\n+orangered(Reason: %s)", reason)
		}
		s.sendNoticeRaw(tc, msg)
		s.transport.Kick(tc)
		return
	}
	s.registry.AddPending(tc)
}

func (s *Server) handlePacket(addr string, payload []byte) {
	metrics.PacketsIn.Inc()
	switch wire.PacketType(payload) {
	case wire.TypeMessage:
		s.handleMessage(addr, payload)
	case wire.TypeLogin:
		s.handleAuth(addr, payload)
	case wire.TypeDirectMessage:
		// reserved
	default:
		// Malformed or unknown payloads are dropped, never fatal.
	}
}

func (s *Server) handleMessage(addr string, payload []byte) {
	conn := s.registry.FindConn(addr)
	if conn == nil {
		return
	}
	user := conn.User

	if !user.CheckRight(state.RightSend, true) {
		msg := "+orangered(You are muted!)"
		if reason := user.TagReason("muted"); reason != "" {
			msg += fmt.Sprintf("\n+orangered(Reason: %s)", reason)
		}
		s.SendPacket(conn, wire.NewServerNotice(msg))
		return
	}

	channelName := gjson.GetBytes(payload, "channel").String()
	text := gjson.GetBytes(payload, "text").String()
	if channelName == "" || text == "" || s.engine.Find(channelName) == nil {
		return
	}
	m := s.engine.MemberFor(user)
	if m == nil {
		return
	}

	if strings.HasPrefix(text, "/") {
		s.engine.Command(channel.Caller{Member: m}, channelName, text)
		return
	}
	metrics.MessagesRouted.Inc()
	s.engine.WriteMessage(m, channelName, text)
}

func (s *Server) handleDisconnected(addr string) {
	conn := s.registry.Remove(addr)
	if conn == nil {
		return // was pending, nothing more to undo
	}
	metrics.ConnectionsEstablished.Dec()
	s.engine.Disconnected(conn.User)
}

// handleInput routes one operator console line: moderation commands,
// then channel commands, otherwise a chat line into the viewed channel.
func (s *Server) handleInput(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "/") {
		if s.commands.run(line) {
			return
		}
		s.engine.Command(channel.Caller{}, s.engine.Viewed().Name, line)
		return
	}
	s.engine.WriteServerMessage(line)
}

// --- channel.Sender ---

// SendPacket marshals and fires one packet at a connection. Failures go
// to the error hook and never block the dispatcher.
func (s *Server) SendPacket(conn *state.Connection, v any) {
	data, err := wire.Marshal(v)
	if err != nil {
		s.logger.Error("marshal packet", slog.Any("error", err))
		return
	}
	if err := conn.Transport.Send(data); err != nil {
		s.logger.Debug("send failed", slog.String("remote", conn.Addr), slog.Any("error", err))
	}
}

func (s *Server) Kick(conn *state.Connection) {
	s.transport.Kick(conn.Transport)
}

// --- helpers ---

func (s *Server) sendNoticeRaw(tc *transport.Conn, text string) {
	data, err := wire.Marshal(wire.NewServerNotice(text))
	if err != nil {
		return
	}
	if err := tc.Send(data); err != nil {
		s.logger.Debug("send failed", slog.String("remote", tc.Addr()), slog.Any("error", err))
	}
}

// broadcastNotice sends a server-wide notice to every established
// connection and echoes it on the console.
func (s *Server) broadcastNotice(text string) {
	for _, conn := range s.registry.Established() {
		s.SendPacket(conn, wire.NewServerNotice(text))
	}
	s.console.Write(text)
}
