package server

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/ivymerfe/tinychat/internal/channel"
	"github.com/ivymerfe/tinychat/internal/metrics"
	"github.com/ivymerfe/tinychat/pkg/names"
	"github.com/ivymerfe/tinychat/pkg/state"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

// handleAuth runs the login protocol for one connection. A rejection
// leaves the connection pending; the caller may retry with another name.
func (s *Server) handleAuth(addr string, payload []byte) {
	requested := gjson.GetBytes(payload, "username").String()
	display, normalized := names.Filter(requested)
	host := state.Host(addr)

	deny := func(reason string) {
		s.sendAuthResp(addr, wire.NewAuthDenied(reason))
	}

	if n := utf8.RuneCountInString(normalized); n <= 2 || n >= 15 {
		deny("Bad username")
		return
	}
	if strings.EqualFold(normalized, channel.ServerDisplayName) {
		deny("Hahah, funny")
		return
	}
	if owner := s.registry.FindUserByName(normalized); owner != nil && owner.Host != host {
		deny("This user already registered")
		return
	}

	// Resolve the connection before touching any user record, so a
	// login from a socket that was never admitted cannot mutate state.
	conn := s.registry.FindConn(addr)
	rename := conn != nil
	var pending *state.Connection
	if !rename {
		pending = s.registry.FindPending(addr)
		if pending == nil {
			return
		}
	}

	// Re-login from an established connection is a rename; repeating the
	// name already held is an idempotent no-op.
	oldName, oldNorm := "", ""
	if rename {
		oldName = conn.User.Name
		oldNorm = conn.User.NormName
		if oldName == display {
			return
		}
	}

	// A user has at most one established connection: a fresh login from
	// a host that already holds one replaces it.
	if !rename {
		if old := s.registry.FindConnByHost(host); old != nil {
			s.evictConn(old)
		}
	}

	user := s.registry.FindUserByHost(host)
	if user != nil {
		s.registry.RenameUser(user, display, normalized)
	} else {
		user = state.NewUser(host)
		user.SetName(display, normalized)
		s.registry.AddUser(user)
	}

	if !rename {
		s.registry.Promote(pending, user)
		conn = pending
		metrics.ConnectionsEstablished.Inc()
	}

	s.SendPacket(conn, wire.NewAuthOK(display))
	s.logger.Info("user authenticated",
		slog.String("user", display),
		slog.String("remote", addr),
		slog.Bool("rename", rename),
	)

	if rename {
		s.engine.Renamed(user, oldNorm, oldName)
	} else {
		s.engine.Connected(conn, user)
	}
}

// evictConn tears down an established connection that is being replaced
// by a newer login from the same host. The eventual socket-close event
// finds nothing left in the registry and is a no-op.
func (s *Server) evictConn(old *state.Connection) {
	s.SendPacket(old, wire.NewServerNotice("+orangered(Logged in from another location)"))
	s.registry.Remove(old.Addr)
	metrics.ConnectionsEstablished.Dec()
	s.engine.Disconnected(old.User)
	s.transport.Kick(old.Transport)
	s.logger.Info("connection replaced", slog.String("remote", old.Addr))
}

// sendAuthResp delivers an auth acknowledgment to whichever pool holds
// the address.
func (s *Server) sendAuthResp(addr string, resp wire.AuthResp) {
	if conn := s.registry.FindConn(addr); conn != nil {
		s.SendPacket(conn, resp)
		return
	}
	if pending := s.registry.FindPending(addr); pending != nil {
		data, err := wire.Marshal(resp)
		if err != nil {
			return
		}
		if err := pending.Transport.Send(data); err != nil {
			s.logger.Debug("send failed", slog.String("remote", addr), slog.Any("error", err))
		}
	}
}
