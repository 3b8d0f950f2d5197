package server

import (
	"fmt"
	"strings"

	"github.com/ivymerfe/tinychat/pkg/names"
	"github.com/ivymerfe/tinychat/pkg/state"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

const helpText = `
/clear - clear the console
/help - this text
/visible - toggle LAN visibility
/name (new server name)
/desc (new description)
/userlist - users online
/userlimit (n) - cap the viewed channel, -1 removes it
/channel list|join|create|delete
/giveadmin (user) / /takeadmin (user)

Admin commands:
/kick (user, reason)
/mute (user, reason) / /unmute (user)
/ban (user, reason) / /unban (user)
/ban-ip (addr, reason) / /unban-ip (addr)
/syscmd (user, cmd)
`

// commandSet is the operator console's moderation command table. These
// run with server-level authority; channel-scoped verbs fall through to
// the channel engine's own table.
type commandSet struct {
	s        *Server
	handlers map[string]func(args []string)
	arity    map[string]int
}

func newCommandSet(s *Server) *commandSet {
	c := &commandSet{s: s}
	c.handlers = map[string]func([]string){
		"/clear":    c.clear,
		"/help":     c.help,
		"/visible":  c.visibility,
		"/name":     c.setName,
		"/desc":     c.setDesc,
		"/syscmd":   c.sysCmd,
		"/kick":     c.kick,
		"/mute":     c.mute,
		"/unmute":   c.unmute,
		"/ban":      c.ban,
		"/unban":    c.unban,
		"/ban-ip":   c.banIP,
		"/unban-ip": c.unbanIP,
	}
	c.arity = map[string]int{
		"/name": 1, "/desc": 1, "/syscmd": 2,
		"/kick": 1, "/mute": 1, "/unmute": 1,
		"/ban": 1, "/unban": 1, "/ban-ip": 1, "/unban-ip": 1,
	}
	return c
}

// run executes line when its verb belongs to this set. Returns false
// for verbs owned by the channel engine.
func (c *commandSet) run(line string) bool {
	args := splitArgs(line)
	if len(args) == 0 {
		return false
	}
	handler, ok := c.handlers[args[0]]
	if !ok {
		return false
	}
	if len(args)-1 < c.arity[args[0]] {
		c.s.console.Write("+orangered(Missing arguments)")
		return true
	}
	handler(args[1:])
	return true
}

// splitArgs splits a command line on whitespace, keeping double-quoted
// sections together: /kick bob "spam and flooding".
func splitArgs(line string) []string {
	var args []string
	var cur strings.Builder
	quoted := false
	flush := func() {
		if cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
		}
	}
	for _, ch := range line {
		switch {
		case ch == '"':
			quoted = !quoted
		case ch == ' ' && !quoted:
			flush()
		default:
			cur.WriteRune(ch)
		}
	}
	flush()
	return args
}

func reasonOf(args []string) string {
	if len(args) > 1 {
		return strings.Join(args[1:], " ")
	}
	return ""
}

func (c *commandSet) clear(args []string) { c.s.console.Clear() }
func (c *commandSet) help(args []string)  { c.s.console.Write(helpText) }

func (c *commandSet) visibility(args []string) {
	c.s.cfg.Server.Visible = !c.s.cfg.Server.Visible
	c.s.broadcaster.SetVisible(c.s.cfg.Server.Visible)
	if c.s.cfg.Server.Visible {
		c.s.broadcastNotice("+green(Server now visible)")
	} else {
		c.s.broadcastNotice("+green(Server now invisible)")
	}
}

func (c *commandSet) setName(args []string) {
	c.s.cfg.Server.Name = args[0]
	c.s.broadcaster.SetInfo(c.s.cfg.Server.Name, c.s.cfg.Server.Desc)
	c.s.broadcastNotice(fmt.Sprintf("+green(Server name updated:) %s", args[0]))
}

func (c *commandSet) setDesc(args []string) {
	c.s.cfg.Server.Desc = strings.Join(args, " ")
	c.s.broadcaster.SetInfo(c.s.cfg.Server.Name, c.s.cfg.Server.Desc)
	c.s.broadcastNotice(fmt.Sprintf("+green(Server description updated:) %s", c.s.cfg.Server.Desc))
}

// sysCmd sends a remote command packet; whether the client executes it
// is the client's opt-in decision.
func (c *commandSet) sysCmd(args []string) {
	conn := c.s.registry.FindConnByName(names.Normalize(args[0]))
	if conn == nil {
		return
	}
	c.s.SendPacket(conn, wire.NewSysCmd(strings.Join(args[1:], " ")))
}

func (c *commandSet) kick(args []string) {
	conn := c.s.registry.FindConnByName(names.Normalize(args[0]))
	if conn == nil {
		return
	}
	msg := fmt.Sprintf("+orangered(Kicked %s)", conn.User.Name)
	if reason := reasonOf(args); reason != "" {
		msg += fmt.Sprintf(" +orangered(Reason: %s)", reason)
	}
	c.s.broadcastNotice(msg)
	c.s.Kick(conn)
}

func (c *commandSet) mute(args []string) {
	user := c.s.registry.FindUserByName(names.Normalize(args[0]))
	if user == nil || user.HasTag(state.TagMuted) {
		return
	}
	user.TagInfo["muted"] = reasonOf(args)
	user.AddTag(state.TagMuted)
	c.s.broadcastNotice(fmt.Sprintf("+orangered(Muted %s)", user.Name))
}

func (c *commandSet) unmute(args []string) {
	user := c.s.registry.FindUserByName(names.Normalize(args[0]))
	if user == nil || !user.HasTag(state.TagMuted) {
		return
	}
	user.RemoveTag(state.TagMuted)
	c.s.broadcastNotice(fmt.Sprintf("+green(Unmuted %s)", user.Name))
}

func (c *commandSet) ban(args []string) {
	user := c.s.registry.FindUserByName(names.Normalize(args[0]))
	if user == nil || user.HasTag(state.TagBanned) {
		return
	}
	user.TagInfo["banned"] = reasonOf(args)
	user.AddTag(state.TagBanned)
	c.s.broadcastNotice(fmt.Sprintf("+orangered(Banned %s)", user.Name))

	if conn := c.s.registry.FindConnByName(user.NormName); conn != nil {
		c.s.Kick(conn)
	}
}

func (c *commandSet) unban(args []string) {
	user := c.s.registry.FindUserByName(names.Normalize(args[0]))
	if user == nil || !user.HasTag(state.TagBanned) {
		return
	}
	user.RemoveTag(state.TagBanned)
	c.s.broadcastNotice(fmt.Sprintf("+green(Unbanned %s)", user.Name))
}

// banIP bans an address outright, creating an identity record when the
// address was never seen authenticated.
func (c *commandSet) banIP(args []string) {
	host := args[0]
	user := c.s.registry.FindUserByHost(host)
	if user == nil {
		user = state.NewUser(host)
		c.s.registry.AddUser(user)
	}
	if user.HasTag(state.TagBanned) {
		return
	}
	user.TagInfo["banned"] = reasonOf(args)
	user.AddTag(state.TagBanned)
	c.s.broadcastNotice(fmt.Sprintf("+orangered(Banned %s)", host))

	if conn := c.s.registry.FindConnByHost(host); conn != nil {
		c.s.Kick(conn)
	}
}

func (c *commandSet) unbanIP(args []string) {
	user := c.s.registry.FindUserByHost(args[0])
	if user == nil || !user.HasTag(state.TagBanned) {
		return
	}
	user.RemoveTag(state.TagBanned)
	c.s.broadcastNotice(fmt.Sprintf("+green(Unbanned %s)", args[0]))
}
