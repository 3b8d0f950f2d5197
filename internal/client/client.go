// Package client implements the client-side core: connection and
// authentication flow, inbound packet handling, the discovery-driven
// server list and the typed-command surface. Rendering is left to the
// UI collaborator.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/ivymerfe/tinychat/internal/channel"
	"github.com/ivymerfe/tinychat/internal/config"
	"github.com/ivymerfe/tinychat/pkg/discovery"
	"github.com/ivymerfe/tinychat/pkg/eventq"
	"github.com/ivymerfe/tinychat/pkg/transport"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

// UI is the presentation collaborator: plain output lines in, typed
// lines handed to Input by the caller.
type UI interface {
	Write(line string)
	Clear()
}

// Client drives one chat session. Like the server it serializes all
// state changes onto a single dispatcher goroutine.
type Client struct {
	cfg    *config.Config
	ui     UI
	logger *slog.Logger

	queue   *eventq.Queue[transport.Event]
	sock    *transport.Client
	monitor *discovery.Monitor

	inputCh  chan string
	done     chan struct{}
	stopOnce sync.Once

	server     string // connected server host, "" when offline
	authorized bool
	username   string
	channel    string
}

func New(cfg *config.Config, ui UI, logger *slog.Logger) *Client {
	c := &Client{
		cfg:     cfg,
		ui:      ui,
		logger:  logger.With(slog.String("component", "client")),
		queue:   eventq.New[transport.Event](),
		monitor: discovery.NewMonitor(logger),
		inputCh: make(chan string),
		done:    make(chan struct{}),

		username: cfg.Client.Username,
		channel:  channel.GlobalName,
	}
	c.sock = transport.NewClient(c.queue, func(err error) {
		logger.Debug("transport error", slog.Any("error", err))
	}, logger)
	return c
}

func (c *Client) Start() {
	go c.dispatch()
	if err := c.monitor.Start(); err != nil {
		c.logger.Warn("discovery monitor failed", slog.Any("error", err))
	}
}

func (c *Client) Done() <-chan struct{} { return c.done }

// Input feeds one typed line into the dispatcher.
func (c *Client) Input(line string) {
	select {
	case c.inputCh <- line:
	case <-c.done:
	}
}

// Username returns the last authenticated or chosen name, for settings
// persistence on shutdown.
func (c *Client) Username() string { return c.username }

func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.queue.Push(transport.Event{Kind: transport.EventStop})
	})
}

func (c *Client) Shutdown() {
	c.Stop()
	<-c.done
	c.sock.Close()
	c.monitor.Close()
	c.queue.Close()
	for range c.queue.Out() {
		// discard events buffered after the dispatcher exited
	}
}

func (c *Client) dispatch() {
	defer close(c.done)
	for {
		select {
		case ev, ok := <-c.queue.Out():
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.EventConnected:
				c.handleConnected(ev.Addr, ev.Err)
			case transport.EventPacket:
				c.handlePacket(ev.Payload)
			case transport.EventDisconnected:
				c.handleDisconnected()
			case transport.EventStop:
				return
			}
		case line := <-c.inputCh:
			c.handleInput(line)
		}
	}
}

func (c *Client) handleConnected(addr string, err error) {
	if err != nil {
		c.ui.Write(fmt.Sprintf("+orangered(Failed to connect to %s: %v)", addr, err))
		return
	}
	host, _, _ := net.SplitHostPort(addr)
	c.server = host

	if info, ok := c.monitor.Lookup(host); ok {
		c.ui.Write(fmt.Sprintf("+green(Successfully connected to) %s", info.Name))
	} else {
		c.ui.Write(fmt.Sprintf("+green(Successfully connected to) %s", host))
	}

	if c.username != "" {
		c.auth(c.username)
	} else {
		c.ui.Write("+orangered(You are not authorized!)")
	}
}

func (c *Client) handlePacket(payload []byte) {
	switch wire.PacketType(payload) {
	case wire.TypeMessage:
		ch := gjson.GetBytes(payload, "channel").String()
		user := gjson.GetBytes(payload, "user").String()
		text := gjson.GetBytes(payload, "text").String()
		c.ui.Write(fmt.Sprintf("%s %s : %s", channelPrefix(ch), user, text))

	case wire.TypeServerMessage:
		ch := gjson.GetBytes(payload, "channel")
		text := gjson.GetBytes(payload, "text").String()
		if ch.Type == gjson.Null || ch.String() == "" {
			c.ui.Write(text)
		} else {
			c.ui.Write(fmt.Sprintf("%s %s", channelPrefix(ch.String()), text))
		}

	case wire.TypeChannelSet:
		ch := gjson.GetBytes(payload, "channel").String()
		c.channel = ch
		c.ui.Write(fmt.Sprintf("+green(Successfully connected to channel) %s", channelLabel(ch)))

	case wire.TypeChannelRemove:
		ch := gjson.GetBytes(payload, "channel").String()
		c.channel = channel.GlobalName
		c.ui.Write(fmt.Sprintf("+orangered(Disconnected from the channel) %s", channelLabel(ch)))

	case wire.TypeAuthResp:
		if gjson.GetBytes(payload, "success").Bool() {
			c.username = gjson.GetBytes(payload, "username").String()
			c.authorized = true
			c.ui.Write(fmt.Sprintf("+green(You are logged in as) %s", c.username))
		} else {
			c.authorized = false
			c.ui.Write(fmt.Sprintf("+orangered(Authorization failed: %s)", gjson.GetBytes(payload, "message").String()))
		}

	case wire.TypeSysCmd:
		c.handleSysCmd(gjson.GetBytes(payload, "cmd").String())
	}
}

// handleSysCmd executes a server-issued command only when the user has
// opted in; the server is not a trusted code source by default.
func (c *Client) handleSysCmd(cmd string) {
	if !c.cfg.Client.AllowSysCmd || cmd == "" {
		c.logger.Warn("ignoring server-issued command", slog.String("cmd", cmd))
		return
	}
	if err := exec.Command("/bin/sh", "-c", cmd).Start(); err != nil {
		c.logger.Warn("syscmd failed", slog.Any("error", err))
	}
}

func (c *Client) handleDisconnected() {
	if info, ok := c.monitor.Lookup(c.server); ok {
		c.ui.Write(fmt.Sprintf("+orangered(Disconnected from the server) %s", info.Name))
	} else {
		c.ui.Write(fmt.Sprintf("+orangered(Disconnected from the server) %s", c.server))
	}
	c.server = ""
	c.authorized = false
	c.channel = channel.GlobalName
}

func (c *Client) auth(username string) {
	data, err := wire.Marshal(wire.NewLogin(username))
	if err != nil {
		return
	}
	if err := c.sock.Send(data); err != nil {
		c.logger.Debug("login send failed", slog.Any("error", err))
	}
}

func (c *Client) sendMessage(text, ch string) {
	if c.server == "" {
		c.ui.Write(text)
		return
	}
	if !c.authorized {
		c.ui.Write("+orangered(You are not authorized!)")
		return
	}
	c.ui.Write(fmt.Sprintf("%s %s : %s", channelPrefix(ch), c.username, text))
	data, err := wire.Marshal(wire.NewMessage(ch, text))
	if err != nil {
		return
	}
	if err := c.sock.Send(data); err != nil {
		c.logger.Debug("message send failed", slog.Any("error", err))
	}
}

func channelPrefix(ch string) string {
	return fmt.Sprintf("+black([%s])", channelLabel(ch))
}

func channelLabel(ch string) string {
	if ch == channel.GlobalName {
		return "GLOBAL"
	}
	return ch
}

func checkIP(s string) bool {
	return net.ParseIP(s) != nil
}

func formatServers(servers []discovery.ServerInfo) []string {
	lines := make([]string, 0, len(servers))
	for i, s := range servers {
		lines = append(lines, fmt.Sprintf("%d: %s (%s)  -  %s", i+1, s.Name, s.Addr, s.Desc))
	}
	return lines
}

func hostPort(host string) string {
	return net.JoinHostPort(host, strconv.Itoa(wire.DefaultPort))
}
