package state

import (
	"net"

	"github.com/ivymerfe/tinychat/pkg/transport"
)

// Connection pairs a live socket with its address and, once
// authenticated, the owning user. User stays nil while pending.
type Connection struct {
	Transport *transport.Conn
	Addr      string // host:port, stable for the connection lifetime
	Host      string
	User      *User
}

// Host strips the port from a host:port address; user identity is keyed
// by host alone.
func Host(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Registry tracks known users and live connections. It is owned by the
// dispatcher goroutine; every access happens on the single serialized
// event path, so there is no locking here.
type Registry struct {
	usersByHost map[string]*User
	usersByName map[string]*User

	established map[string]*Connection // by host:port
	pending     map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		usersByHost: make(map[string]*User),
		usersByName: make(map[string]*User),
		established: make(map[string]*Connection),
		pending:     make(map[string]*Connection),
	}
}

// --- users ---

func (r *Registry) FindUserByHost(host string) *User {
	return r.usersByHost[host]
}

func (r *Registry) FindUserByName(normName string) *User {
	return r.usersByName[normName]
}

func (r *Registry) AddUser(u *User) {
	r.usersByHost[u.Host] = u
	if u.NormName != "" {
		r.usersByName[u.NormName] = u
	}
}

// RenameUser updates a user's name and keeps the name index consistent.
func (r *Registry) RenameUser(u *User, display, normalized string) {
	if u.NormName != "" {
		delete(r.usersByName, u.NormName)
	}
	u.SetName(display, normalized)
	r.usersByName[normalized] = u
}

// RemoveUser drops the identity record entirely (moderation removal).
func (r *Registry) RemoveUser(u *User) {
	delete(r.usersByHost, u.Host)
	delete(r.usersByName, u.NormName)
}

// --- connections ---

// AddPending registers an accepted, unauthenticated socket.
func (r *Registry) AddPending(tc *transport.Conn) *Connection {
	conn := &Connection{Transport: tc, Addr: tc.Addr(), Host: Host(tc.Addr())}
	r.pending[conn.Addr] = conn
	return conn
}

// Promote moves a pending connection into the established pool, bound to
// user. A user has at most one established connection; an earlier one
// from a re-authenticating address has already been torn down by then.
func (r *Registry) Promote(conn *Connection, u *User) {
	delete(r.pending, conn.Addr)
	conn.User = u
	r.established[conn.Addr] = conn
}

// FindConn returns the established connection at addr.
func (r *Registry) FindConn(addr string) *Connection {
	return r.established[addr]
}

// FindPending returns the pending connection at addr.
func (r *Registry) FindPending(addr string) *Connection {
	return r.pending[addr]
}

// FindConnByName returns the established connection owned by the user
// with the given normalized name.
func (r *Registry) FindConnByName(normName string) *Connection {
	for _, c := range r.established {
		if c.User != nil && c.User.NormName == normName {
			return c
		}
	}
	return nil
}

// FindConnByHost returns any established connection from host.
func (r *Registry) FindConnByHost(host string) *Connection {
	for _, c := range r.established {
		if c.Host == host {
			return c
		}
	}
	return nil
}

// Remove drops addr from whichever pool holds it and returns the
// established connection when one was removed.
func (r *Registry) Remove(addr string) *Connection {
	if _, ok := r.pending[addr]; ok {
		delete(r.pending, addr)
		return nil
	}
	if conn, ok := r.established[addr]; ok {
		delete(r.established, addr)
		return conn
	}
	return nil
}

// Established returns a snapshot of the established pool.
func (r *Registry) Established() []*Connection {
	out := make([]*Connection, 0, len(r.established))
	for _, c := range r.established {
		out = append(out, c)
	}
	return out
}

// Pending returns a snapshot of the pending pool.
func (r *Registry) Pending() []*Connection {
	out := make([]*Connection, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, c)
	}
	return out
}
