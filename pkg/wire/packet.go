package wire

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Packet type discriminators carried in the "type" field.
const (
	TypeLogin         = "login"
	TypeAuthResp      = "authresp"
	TypeMessage       = "message"
	TypeDirectMessage = "direct_message"
	TypeServerMessage = "server_message"
	TypeChannelSet    = "channel_set"
	TypeChannelRemove = "channel_remove"
	TypeSysCmd        = "syscmd"
	TypeServerInfo    = "server_info"
)

// PacketType extracts the discriminator without decoding the whole
// payload. Returns "" for anything that is not a JSON object with a
// string "type" field.
func PacketType(data []byte) string {
	return gjson.GetBytes(data, "type").String()
}

// Login is the client authentication request.
type Login struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// AuthResp acknowledges a Login; Username is set on success, Message
// carries the denial reason on failure.
type AuthResp struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Message is a routed chat line. User is filled in by the server on the
// way out and absent on the way in.
type Message struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Channel string `json:"channel"`
	User    string `json:"user,omitempty"`
}

// ServerMessage is an out-of-band notice. Channel is null for
// server-wide notices.
type ServerMessage struct {
	Type    string  `json:"type"`
	Text    string  `json:"text"`
	Channel *string `json:"channel"`
}

// ChannelEvent switches the client's active channel (channel_set) or
// removes a channel from its view (channel_remove).
type ChannelEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// SysCmd is a server-issued remote command. Execution on the client is
// opt-in; see the client settings.
type SysCmd struct {
	Type string `json:"type"`
	Cmd  string `json:"cmd"`
}

// ServerInfo is the discovery broadcast payload.
type ServerInfo struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Desc string `json:"desc"`
}

func NewLogin(username string) Login {
	return Login{Type: TypeLogin, Username: username}
}

func NewAuthOK(username string) AuthResp {
	return AuthResp{Type: TypeAuthResp, Success: true, Username: username}
}

func NewAuthDenied(reason string) AuthResp {
	return AuthResp{Type: TypeAuthResp, Success: false, Message: reason}
}

func NewMessage(channel, text string) Message {
	return Message{Type: TypeMessage, Text: text, Channel: channel}
}

func NewUserMessage(channel, user, text string) Message {
	return Message{Type: TypeMessage, Text: text, Channel: channel, User: user}
}

// NewServerMessage builds a channel-scoped notice; NewServerNotice a
// server-wide one (channel null).
func NewServerMessage(channel, text string) ServerMessage {
	return ServerMessage{Type: TypeServerMessage, Text: text, Channel: &channel}
}

func NewServerNotice(text string) ServerMessage {
	return ServerMessage{Type: TypeServerMessage, Text: text, Channel: nil}
}

func NewChannelSet(channel string) ChannelEvent {
	return ChannelEvent{Type: TypeChannelSet, Channel: channel}
}

func NewChannelRemove(channel string) ChannelEvent {
	return ChannelEvent{Type: TypeChannelRemove, Channel: channel}
}

func NewSysCmd(cmd string) SysCmd {
	return SysCmd{Type: TypeSysCmd, Cmd: cmd}
}

func NewServerInfo(name, desc string) ServerInfo {
	return ServerInfo{Type: TypeServerInfo, Name: name, Desc: desc}
}

// Marshal encodes a packet payload. Packets are small JSON objects, so
// an encode failure means a programming error upstream.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
