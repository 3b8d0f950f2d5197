// Package channel implements the channel state machine: membership,
// ownership, per-channel rights, bans and whitelists, message and
// command routing, and channel lifecycle. Everything here runs on the
// dispatcher goroutine.
package channel

import (
	"fmt"
	"strings"

	"github.com/ivymerfe/tinychat/pkg/state"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

// GlobalName is the reserved, always-present default channel every
// established connection belongs to.
const GlobalName = "__global__"

// ServerDisplayName is the server operator's identity on the wire; it
// bypasses rights checks entirely and is reserved at login.
const ServerDisplayName = "Server"

// Member is a connected, authenticated user as the channel engine sees
// it: the connection, the identity, the ordered list of joined channel
// names (global first, then at most one named channel) and the rights
// granted per channel. Rights are keyed by channel name, and members by
// normalized user name, so identity stays stable across reconnects.
type Member struct {
	Conn     *state.Connection
	User     *state.User
	Channels []string
	Rights   map[string][]string
}

func (m *Member) hasRight(channel, right string) bool {
	for _, r := range m.Rights[channel] {
		if r == right {
			return true
		}
	}
	return false
}

func (m *Member) inChannel(name string) bool {
	for _, c := range m.Channels {
		if c == name {
			return true
		}
	}
	return false
}

func (m *Member) dropChannel(name string) {
	for i, c := range m.Channels {
		if c == name {
			m.Channels = append(m.Channels[:i], m.Channels[i+1:]...)
			return
		}
	}
}

// LogEntry is one line of a channel's in-memory, append-only log.
type LogEntry struct {
	User string
	Text string
}

// Channel holds one channel's state. Owner is the normalized name of the
// owning user; empty means the server itself owns it. Secondary admins,
// whitelist and blacklist are keyed by normalized user name.
type Channel struct {
	Name  string
	Owner string

	secondAdmins map[string]bool
	whitelist    map[string]bool
	blacklist    map[string]bool

	WhitelistOn bool
	UserLimit   int // -1 = unlimited
	Hidden      bool

	// WriteRight, when set, is required to send unless the sender is the
	// channel's primary or secondary admin.
	WriteRight string

	Log     []LogEntry
	members []*Member
}

func newChannel(name, owner string) *Channel {
	return &Channel{
		Name:         name,
		Owner:        owner,
		secondAdmins: make(map[string]bool),
		whitelist:    make(map[string]bool),
		blacklist:    make(map[string]bool),
		UserLimit:    -1,
	}
}

func (ch *Channel) IsGlobal() bool { return ch.Name == GlobalName }

func (ch *Channel) Members() []*Member { return ch.members }

func (ch *Channel) findMember(normName string) *Member {
	for _, m := range ch.members {
		if m.User.NormName == normName {
			return m
		}
	}
	return nil
}

// IsOwnerUser reports whether the user owns this channel.
func (ch *Channel) IsOwnerUser(u *state.User) bool {
	return ch.Owner != "" && ch.Owner == u.NormName
}

// IsSecondAdmin reports secondary-admin status by normalized name.
func (ch *Channel) IsSecondAdmin(normName string) bool {
	return ch.secondAdmins[normName]
}

// Blacklist marks a user as blocked from joining.
func (ch *Channel) Blacklist(normName string) {
	ch.blacklist[normName] = true
}

func (ch *Channel) Unblacklist(normName string) {
	delete(ch.blacklist, normName)
}

// admit runs the join admission checks in order and returns the denial
// notice, or "" when the joiner may enter.
func (ch *Channel) admit(m *Member) string {
	if ch.blacklist[m.User.NormName] {
		return "+orangered(You blocked from this channel!)"
	}
	second := ch.secondAdmins[m.User.NormName]
	if ch.UserLimit != -1 && len(ch.members) >= ch.UserLimit && !second {
		return "+orangered(Maximum users connected!)"
	}
	if ch.WhitelistOn && !ch.whitelist[m.User.NormName] && !second {
		return "+orangered(You cannot join this channel!)"
	}
	return ""
}

// userList renders the member list for /userlist.
func (ch *Channel) userList() string {
	if len(ch.members) == 0 {
		return "+orangered(No users connected)"
	}
	lines := []string{fmt.Sprintf("Users (%d):", len(ch.members))}
	for _, m := range ch.members {
		lines = append(lines, fmt.Sprintf("%s (%s)", m.User.Name, m.User.Host))
	}
	return strings.Join(lines, "\n")
}

// canWrite applies the required-write-right check. The server identity
// never reaches this; admins are exempt.
func (ch *Channel) canWrite(m *Member) bool {
	if ch.WriteRight == "" {
		return true
	}
	if ch.IsOwnerUser(m.User) || ch.secondAdmins[m.User.NormName] {
		return true
	}
	return m.hasRight(ch.Name, ch.WriteRight)
}

func (ch *Channel) setPacket() wire.ChannelEvent    { return wire.NewChannelSet(ch.Name) }
func (ch *Channel) removePacket() wire.ChannelEvent { return wire.NewChannelRemove(ch.Name) }
