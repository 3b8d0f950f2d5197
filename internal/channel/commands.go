package channel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ivymerfe/tinychat/pkg/names"
)

// Caller is whoever issued a channel command: a member, or the server
// operator console when Member is nil.
type Caller struct {
	Member *Member
}

func (c Caller) IsServer() bool { return c.Member == nil }

// role is the minimum standing a command requires relative to the
// channel it runs in.
type role int

const (
	roleAny role = iota
	roleSecondAdmin
	roleOwner
)

type cmdSpec struct {
	minRole    role
	globalOnly bool
	minArgs    int
	run        func(e *Engine, ch *Channel, caller Caller, args []string)
}

// channelCommands is the single authorization table for channel-scoped
// commands, keyed by verb. Keeping role requirements here instead of
// inside each handler prevents the checks from drifting apart.
var channelCommands = map[string]cmdSpec{
	"/giveadmin": {minRole: roleOwner, minArgs: 1, run: (*Engine).cmdGiveAdmin},
	"/takeadmin": {minRole: roleOwner, minArgs: 1, run: (*Engine).cmdTakeAdmin},

	"/whitelist": {minRole: roleSecondAdmin, minArgs: 1, run: (*Engine).cmdWhitelist},
	"/userlimit": {minRole: roleSecondAdmin, minArgs: 1, run: (*Engine).cmdUserLimit},
	"/right":     {minRole: roleSecondAdmin, minArgs: 2, run: (*Engine).cmdRight},
	"/clearlog":  {minRole: roleSecondAdmin, run: (*Engine).cmdClearLog},
	"/senduser":  {minRole: roleSecondAdmin, globalOnly: true, minArgs: 2, run: (*Engine).cmdSendUser},

	"/userlist": {minRole: roleAny, run: (*Engine).cmdUserList},
	"/channel":  {minRole: roleAny, minArgs: 1, run: (*Engine).cmdChannel},
}

// callerRole computes the caller's standing in ch. The operator console
// holds owner standing on server-owned channels and may always delete,
// which /channel delete checks separately.
func callerRole(ch *Channel, caller Caller) role {
	if caller.IsServer() {
		if ch.Owner == "" {
			return roleOwner
		}
		return roleAny
	}
	if ch.IsOwnerUser(caller.Member.User) {
		return roleOwner
	}
	if ch.IsSecondAdmin(caller.Member.User.NormName) {
		return roleSecondAdmin
	}
	return roleAny
}

// Command parses and runs one channel command line. Unknown verbs and
// insufficient standing are ignored without a response.
func (e *Engine) Command(caller Caller, channelName, line string) {
	ch := e.Find(channelName)
	if ch == nil {
		return
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	spec, ok := channelCommands[fields[0]]
	if !ok {
		return
	}
	args := fields[1:]
	if len(args) < spec.minArgs {
		return
	}
	if spec.globalOnly && !ch.IsGlobal() {
		return
	}
	if callerRole(ch, caller) < spec.minRole {
		return
	}
	spec.run(e, ch, caller, args)
}

// reply answers the caller only.
func (e *Engine) reply(caller Caller, text string) {
	if caller.IsServer() {
		e.console.Write(text)
		return
	}
	e.sendServerMsg(caller.Member, text)
}

// --- owner commands ---

func (e *Engine) cmdGiveAdmin(ch *Channel, caller Caller, args []string) {
	target := ch.findMember(names.Normalize(args[0]))
	if target == nil {
		return
	}
	ch.secondAdmins[target.User.NormName] = true
	e.broadcastServerMsg(ch, fmt.Sprintf("+green(%s is now an admin of this channel)", target.User.Name), true)
}

func (e *Engine) cmdTakeAdmin(ch *Channel, caller Caller, args []string) {
	target := ch.findMember(names.Normalize(args[0]))
	if target == nil || !ch.secondAdmins[target.User.NormName] {
		return
	}
	delete(ch.secondAdmins, target.User.NormName)
	e.broadcastServerMsg(ch, fmt.Sprintf("+orangered(%s is no longer an admin)", target.User.Name), true)
}

// --- admin commands ---

func (e *Engine) cmdWhitelist(ch *Channel, caller Caller, args []string) {
	switch args[0] {
	case "on":
		ch.WhitelistOn = true
		e.broadcastServerMsg(ch, "+green(Whitelist enabled)", true)
	case "off":
		ch.WhitelistOn = false
		ch.whitelist = make(map[string]bool)
		e.broadcastServerMsg(ch, "+green(Whitelist disabled)", true)
	case "add":
		if len(args) < 2 {
			return
		}
		target := ch.findMember(names.Normalize(args[1]))
		if target == nil {
			return
		}
		ch.whitelist[target.User.NormName] = true
		e.broadcastServerMsg(ch, fmt.Sprintf("+green(%s added to whitelist)", target.User.Name), true)
	}
}

func (e *Engine) cmdUserLimit(ch *Channel, caller Caller, args []string) {
	limit, err := strconv.Atoi(args[0])
	if err != nil || limit < -1 {
		return
	}
	ch.UserLimit = limit
	if limit == -1 {
		e.broadcastServerMsg(ch, "+green(Userlimit removed)", true)
	} else {
		e.broadcastServerMsg(ch, fmt.Sprintf("+green(Userlimit set to %d)", limit), true)
	}
}

func (e *Engine) cmdRight(ch *Channel, caller Caller, args []string) {
	switch args[0] {
	case "add":
		if len(args) < 3 {
			return
		}
		target := ch.findMember(names.Normalize(args[1]))
		if target == nil {
			return
		}
		right := args[2]
		if !target.hasRight(ch.Name, right) {
			target.Rights[ch.Name] = append(target.Rights[ch.Name], right)
		}
		e.broadcastServerMsg(ch, fmt.Sprintf("+green(+right:%s for %s)", right, args[1]), true)
	case "remove":
		if len(args) < 3 {
			return
		}
		target := ch.findMember(names.Normalize(args[1]))
		if target == nil {
			return
		}
		right := args[2]
		if !target.hasRight(ch.Name, right) {
			e.reply(caller, fmt.Sprintf("+orangered(%s doesnt have this right!)", args[1]))
			return
		}
		granted := target.Rights[ch.Name]
		for i, r := range granted {
			if r == right {
				target.Rights[ch.Name] = append(granted[:i], granted[i+1:]...)
				break
			}
		}
		e.broadcastServerMsg(ch, fmt.Sprintf("+orangered(-right:%s for %s)", right, args[1]), true)
	case "write":
		if len(args) < 2 {
			return
		}
		if args[1] == "*" {
			ch.WriteRight = ""
			e.broadcastServerMsg(ch, "+green(Now all users can write to this channel!)", true)
		} else {
			ch.WriteRight = args[1]
			e.broadcastServerMsg(ch, fmt.Sprintf("+green(Only users with right:%s can write to this channel)", args[1]), true)
		}
	}
}

func (e *Engine) cmdClearLog(ch *Channel, caller Caller, args []string) {
	ch.Log = nil
	e.broadcastServerMsg(ch, "+green(Message log cleared)", true)
}

// cmdSendUser transfers a user into another channel; global only.
func (e *Engine) cmdSendUser(ch *Channel, caller Caller, args []string) {
	target := e.members[names.Normalize(args[0])]
	dest := e.Find(args[1])
	if target == nil || dest == nil {
		return
	}
	e.sendServerMsg(target, fmt.Sprintf("+green(Sending to channel -> %s)", dest.Name))
	e.reply(caller, fmt.Sprintf("%s +green(-> %s)", target.User.Name, dest.Name))
	e.Transfer(target, dest)
}

// --- open commands ---

func (e *Engine) cmdUserList(ch *Channel, caller Caller, args []string) {
	e.reply(caller, ch.userList())
}

func (e *Engine) cmdChannel(ch *Channel, caller Caller, args []string) {
	switch args[0] {
	case "list":
		e.reply(caller, e.Table())
	case "join":
		if len(args) < 2 {
			return
		}
		e.channelJoin(caller, args[1])
	case "create":
		if len(args) < 2 {
			return
		}
		e.channelCreate(caller, args[1])
	case "delete":
		// Restricted to the channel's owner or the server operator.
		if !caller.IsServer() && !ch.IsOwnerUser(caller.Member.User) {
			return
		}
		e.Destroy(ch)
	}
}

func (e *Engine) channelJoin(caller Caller, name string) {
	target := e.Find(name)
	if target == nil {
		return
	}
	if caller.IsServer() {
		e.viewed = target
		e.console.Write(fmt.Sprintf("+green(Successfully connected to channel %s)", name))
		return
	}
	e.Transfer(caller.Member, target)
}

func (e *Engine) channelCreate(caller Caller, name string) {
	owner := ""
	if !caller.IsServer() {
		owner = caller.Member.User.NormName
	}
	created := e.Create(owner, name)
	if created == nil {
		e.reply(caller, "+orangered(Channel already exists!)")
		return
	}
	if caller.IsServer() {
		e.viewed = created
		e.console.Write(fmt.Sprintf("+green(Created channel %s)", name))
		return
	}
	e.reply(caller, fmt.Sprintf("+green(Created channel %s)", name))
	e.Transfer(caller.Member, created)
}
