package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ivymerfe/tinychat/internal/channel"
)

const helpText = `
/clear - clear the screen
/login (name) - authenticate
/servers - list discovered servers
/connect (index or ip) - connect to a server
/disconnect - leave the server
/userlist - users on the current channel
/channel list|join|create - channel operations
`

// handleInput routes one typed line. A leading "!" redirects the line
// to the global channel; a leading "/" makes it a command. Everything
// else is a chat line into the active channel.
func (c *Client) handleInput(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	target := c.channel
	if strings.HasPrefix(line, "!") {
		target = channel.GlobalName
		line = line[1:]
	}
	if !strings.HasPrefix(line, "/") {
		c.sendMessage(line, target)
		return
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/clear":
		c.ui.Clear()
	case "/help":
		c.ui.Write(helpText)
	case "/login":
		if len(fields) < 2 {
			c.ui.Write("+orangered(Usage: /login name)")
			return
		}
		c.login(fields[1])
	case "/servers":
		c.displayServers()
	case "/connect":
		if len(fields) < 2 {
			c.ui.Write("+orangered(Usage: /connect index-or-ip)")
			return
		}
		c.connect(fields[1])
	case "/disconnect":
		c.sock.Disconnect()
	default:
		// Server-side commands travel as ordinary message text.
		c.sendMessage(line, target)
	}
}

func (c *Client) login(username string) {
	if c.server != "" {
		c.auth(username)
		return
	}
	c.username = username
	c.ui.Write(fmt.Sprintf("+green(Your future username:) %s", username))
}

func (c *Client) displayServers() {
	servers := c.monitor.Servers()
	if len(servers) == 0 {
		c.ui.Write("+orangered(No servers available)")
		return
	}
	c.ui.Write("+green(Servers:)")
	for _, line := range formatServers(servers) {
		c.ui.Write(line)
	}
}

// connect accepts either an index into the discovered list or a raw IP.
func (c *Client) connect(arg string) {
	if idx, err := strconv.Atoi(arg); err == nil {
		servers := c.monitor.Servers()
		if idx < 1 || idx > len(servers) {
			c.ui.Write("+orangered(Incorrect server index)")
			return
		}
		c.dial(servers[idx-1].Addr)
		return
	}
	if !checkIP(arg) {
		c.ui.Write("+orangered(Invalid ip address)")
		return
	}
	c.dial(arg)
}

// dial runs the blocking connect off the dispatcher; the outcome comes
// back as an EventConnected.
func (c *Client) dial(host string) {
	go c.sock.Connect(hostPort(host))
}
