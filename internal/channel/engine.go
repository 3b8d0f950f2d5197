package channel

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ivymerfe/tinychat/internal/metrics"
	"github.com/ivymerfe/tinychat/pkg/state"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

// Sender delivers packets to connections. The dispatcher's transport
// implements it; sends are fire-and-forget from the engine's view.
type Sender interface {
	SendPacket(conn *state.Connection, v any)
	Kick(conn *state.Connection)
}

// Console is the operator's plain-line output sink.
type Console interface {
	Write(line string)
}

// Engine owns every channel and every channel membership. Like the rest
// of the application state it is touched only by the dispatcher
// goroutine.
type Engine struct {
	sender  Sender
	console Console
	logger  *slog.Logger

	channels []*Channel
	members  map[string]*Member // by normalized user name
	global   *Channel
	viewed   *Channel // operator's currently-viewed channel
}

func NewEngine(sender Sender, console Console, logger *slog.Logger) *Engine {
	e := &Engine{
		sender:  sender,
		console: console,
		logger:  logger.With(slog.String("component", "channel_engine")),
		members: make(map[string]*Member),
	}
	e.global = newChannel(GlobalName, "")
	e.channels = []*Channel{e.global}
	e.viewed = e.global
	return e
}

func (e *Engine) Global() *Channel { return e.global }
func (e *Engine) Viewed() *Channel { return e.viewed }

func (e *Engine) Find(name string) *Channel {
	for _, ch := range e.channels {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}

// MemberFor resolves a user to their channel-engine membership record.
func (e *Engine) MemberFor(u *state.User) *Member {
	return e.members[u.NormName]
}

// Create makes a new user- or server-owned channel. Returns nil when the
// name is already taken.
func (e *Engine) Create(owner, name string) *Channel {
	if e.Find(name) != nil {
		return nil
	}
	ch := newChannel(name, owner)
	e.channels = append(e.channels, ch)
	metrics.Channels.Inc()
	e.logger.Debug("channel created", slog.String("channel", name), slog.String("owner", owner))
	return ch
}

// Destroy tears a channel down: deletion notice and channel_remove to
// every member, membership lists cleared, operator view falls back to
// the global channel. The global channel cannot be destroyed.
func (e *Engine) Destroy(ch *Channel) {
	if ch.IsGlobal() {
		return
	}
	e.broadcastServerMsg(ch, "+orangered(Channel deleted)", true)
	for _, m := range ch.members {
		e.sender.SendPacket(m.Conn, ch.removePacket())
		m.dropChannel(ch.Name)
	}
	ch.members = nil

	if e.viewed == ch {
		e.viewed = e.global
	}
	for i, have := range e.channels {
		if have == ch {
			e.channels = append(e.channels[:i], e.channels[i+1:]...)
			break
		}
	}
	metrics.Channels.Dec()
	e.logger.Debug("channel destroyed", slog.String("channel", ch.Name))
}

// Connected registers a freshly authenticated user with the engine and
// joins them to the global channel. A denial there terminates the
// connection, since there is no outside to fall back to.
func (e *Engine) Connected(conn *state.Connection, u *state.User) {
	m := &Member{
		Conn:   conn,
		User:   u,
		Rights: make(map[string][]string),
	}
	e.members[u.NormName] = m
	e.join(e.global, m)
}

// join runs admission and either denies or appends the member.
func (e *Engine) join(ch *Channel, m *Member) bool {
	if denial := ch.admit(m); denial != "" {
		e.sendServerMsg(m, denial)
		if ch.IsGlobal() {
			e.sender.Kick(m.Conn)
		}
		return false
	}

	ch.members = append(ch.members, m)
	m.Channels = append(m.Channels, ch.Name)
	if _, ok := m.Rights[ch.Name]; !ok {
		m.Rights[ch.Name] = nil
	}

	e.sender.SendPacket(m.Conn, ch.setPacket())
	e.broadcastServerMsg(ch, fmt.Sprintf("%s +green(joined)", m.User.Name), true)
	return true
}

// Transfer moves a member into target, leaving their current named
// channel first. A member is always in the global channel plus at most
// one named channel; leaving a channel they own destroys it.
func (e *Engine) Transfer(m *Member, target *Channel) {
	if len(m.Channels) == 2 {
		if last := e.Find(m.Channels[1]); last != nil && last != target {
			if last.IsOwnerUser(m.User) {
				e.Destroy(last)
			} else {
				e.leave(last, m)
			}
		}
	}
	if !target.IsGlobal() && !m.inChannel(target.Name) {
		e.join(target, m)
	}
}

func (e *Engine) leave(ch *Channel, m *Member) {
	e.broadcastServerMsg(ch, fmt.Sprintf("%s +orangered(left)", m.User.Name), true)
	e.sender.SendPacket(m.Conn, ch.removePacket())
	for i, have := range ch.members {
		if have == m {
			ch.members = append(ch.members[:i], ch.members[i+1:]...)
			break
		}
	}
	m.dropChannel(ch.Name)
}

// Disconnected fans a departure out to every channel the user belonged
// to. User-owned channels are destroyed outright; there is no ownership
// succession.
func (e *Engine) Disconnected(u *state.User) {
	m := e.members[u.NormName]
	if m == nil {
		return
	}
	joined := make([]string, len(m.Channels))
	copy(joined, m.Channels)
	for _, name := range joined {
		ch := e.Find(name)
		if ch == nil {
			continue
		}
		if ch.IsOwnerUser(u) {
			e.Destroy(ch)
			continue
		}
		e.leave(ch, m)
	}
	delete(e.members, u.NormName)
}

// Renamed propagates a display-name change into every joined channel and
// re-keys the membership record.
func (e *Engine) Renamed(u *state.User, oldNorm, oldName string) {
	m := e.members[oldNorm]
	if m == nil {
		return
	}
	delete(e.members, oldNorm)
	e.members[u.NormName] = m

	for _, name := range m.Channels {
		ch := e.Find(name)
		if ch == nil {
			continue
		}
		if ch.Owner == oldNorm {
			ch.Owner = u.NormName
		}
		if ch.secondAdmins[oldNorm] {
			delete(ch.secondAdmins, oldNorm)
			ch.secondAdmins[u.NormName] = true
		}
		e.broadcastServerMsg(ch, fmt.Sprintf("%s +green(changed his name to %s)", oldName, u.Name), true)
	}
}

// WriteMessage routes a member's chat line into a channel.
func (e *Engine) WriteMessage(m *Member, channelName, text string) {
	ch := e.Find(channelName)
	if ch == nil {
		return
	}
	if !m.inChannel(ch.Name) {
		e.sendServerMsg(m, "+orangered(You are not connected to this channel!)")
		return
	}
	if !ch.canWrite(m) {
		e.sendServerMsg(m, "+orangered(You cannot write in this channel!)")
		return
	}

	ch.Log = append(ch.Log, LogEntry{User: m.User.Name, Text: text})

	msg := wire.NewUserMessage(ch.Name, m.User.Name, text)
	for _, other := range ch.members {
		if other != m {
			e.sender.SendPacket(other.Conn, msg)
		}
	}
	e.uiMessage(ch, fmt.Sprintf("%s : %s", m.User.Name, text), true)
}

// WriteServerMessage routes an operator console line into the viewed
// channel. The server identity bypasses every rights check.
func (e *Engine) WriteServerMessage(text string) {
	ch := e.viewed
	e.uiMessage(ch, fmt.Sprintf("+yellow(Server) : %s", text), true)

	msg := wire.NewUserMessage(ch.Name, "+yellow(Server)", text)
	for _, m := range ch.members {
		e.sender.SendPacket(m.Conn, msg)
	}
}

// Table renders the channel list, hidden channels omitted.
func (e *Engine) Table() string {
	rows := []string{"+green(Channels:)"}
	for _, ch := range e.channels {
		if ch.Hidden {
			continue
		}
		admin := "+yellow(Server)"
		if ch.Owner != "" {
			if m := e.members[ch.Owner]; m != nil {
				admin = m.User.Name
			} else {
				admin = ch.Owner
			}
		}
		if ch.UserLimit == -1 {
			rows = append(rows, fmt.Sprintf("+black(%s) +green(:    admin - %s    users - %d)", ch.Name, admin, len(ch.members)))
		} else {
			rows = append(rows, fmt.Sprintf("+black(%s) +green(:    admin - %s    users - %d/%d)", ch.Name, admin, len(ch.members), ch.UserLimit))
		}
	}
	return strings.Join(rows, "\n")
}

// --- delivery helpers ---

// sendServerMsg sends a server-wide (channel-null) notice to one member.
func (e *Engine) sendServerMsg(m *Member, text string) {
	e.sender.SendPacket(m.Conn, wire.NewServerNotice(text))
}

// broadcastServerMsg notifies every member and echoes to the operator
// console when the channel is in view.
func (e *Engine) broadcastServerMsg(ch *Channel, text string, channelScoped bool) {
	var pkt wire.ServerMessage
	if channelScoped {
		pkt = wire.NewServerMessage(ch.Name, text)
	} else {
		pkt = wire.NewServerNotice(text)
	}
	for _, m := range ch.members {
		e.sender.SendPacket(m.Conn, pkt)
	}
	e.uiMessage(ch, text, channelScoped)
}

// uiMessage writes a line to the operator console if the channel is the
// global one or currently in view.
func (e *Engine) uiMessage(ch *Channel, text string, channelScoped bool) {
	if !ch.IsGlobal() && ch != e.viewed {
		return
	}
	if !channelScoped {
		e.console.Write(text)
		return
	}
	if ch.IsGlobal() {
		e.console.Write(fmt.Sprintf("+black([GLOBAL]) %s", text))
	} else {
		e.console.Write(fmt.Sprintf("+black([%s]) %s", ch.Name, text))
	}
}
