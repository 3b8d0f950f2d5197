package server_test

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ivymerfe/tinychat/internal/config"
	"github.com/ivymerfe/tinychat/internal/server"
	"github.com/ivymerfe/tinychat/pkg/logging"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

type testConsole struct {
	mu    sync.Mutex
	lines []string
}

func (c *testConsole) Write(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *testConsole) Clear() {}

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := &config.Config{
		Listen:    "127.0.0.1:0",
		Broadcast: "127.0.0.1",
		Server:    config.ServerConfig{Name: "testsrv", Desc: "test", Visible: false},
	}
	srv := server.New(cfg, &testConsole{}, logging.Discard())
	srv.Start()
	require.NotEmpty(t, srv.Addr(), "listener failed to bind")
	t.Cleanup(srv.Shutdown)
	return srv
}

// testClient speaks the real wire protocol over a raw socket. Tests
// that need a second identity dial from a different loopback address,
// since the server keys identity by host.
type testClient struct {
	t   *testing.T
	raw net.Conn
	dec wire.Decoder
	buf [][]byte
}

func dial(t *testing.T, srv *server.Server, localIP string) *testClient {
	t.Helper()
	d := net.Dialer{Timeout: 2 * time.Second}
	if localIP != "" {
		d.LocalAddr = &net.TCPAddr{IP: net.ParseIP(localIP)}
	}
	raw, err := d.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return &testClient{t: t, raw: raw}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	data, err := wire.Marshal(v)
	require.NoError(c.t, err)
	frame, err := wire.Encode(data)
	require.NoError(c.t, err)
	_, err = c.raw.Write(frame)
	require.NoError(c.t, err)
}

func (c *testClient) recv() []byte {
	c.t.Helper()
	buf := make([]byte, wire.MaxFrame)
	for len(c.buf) == 0 {
		require.NoError(c.t, c.raw.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, err := c.raw.Read(buf)
		require.NoError(c.t, err, "waiting for a packet")
		payloads, derr := c.dec.Push(buf[:n])
		require.NoError(c.t, derr)
		c.buf = append(c.buf, payloads...)
	}
	p := c.buf[0]
	c.buf = c.buf[1:]
	return p
}

// recvType skips unrelated packets until one of the wanted type arrives.
func (c *testClient) recvType(typ string) []byte {
	c.t.Helper()
	for i := 0; i < 32; i++ {
		p := c.recv()
		if wire.PacketType(p) == typ {
			return p
		}
	}
	c.t.Fatalf("no %q packet within 32 reads", typ)
	return nil
}

// expectClosed drains until the server closes the socket.
func (c *testClient) expectClosed() {
	c.t.Helper()
	buf := make([]byte, wire.MaxFrame)
	require.NoError(c.t, c.raw.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, err := c.raw.Read(buf); err != nil {
			return
		}
	}
}

func (c *testClient) login(name string) {
	c.t.Helper()
	c.send(wire.NewLogin(name))
	resp := c.recvType(wire.TypeAuthResp)
	require.True(c.t, gjson.GetBytes(resp, "success").Bool(), "login %q denied: %s", name, resp)
	// Consume the join handshake (channel assignment plus the join
	// broadcast) so tests start from an empty read buffer.
	c.recvType(wire.TypeChannelSet)
	joined := c.recvType(wire.TypeServerMessage)
	require.Contains(c.t, gjson.GetBytes(joined, "text").String(), "joined")
}

// --- authentication ---

func TestLoginFlow(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")

	alice.send(wire.NewLogin("alice"))
	resp := alice.recvType(wire.TypeAuthResp)
	assert.True(t, gjson.GetBytes(resp, "success").Bool())
	assert.Equal(t, "alice", gjson.GetBytes(resp, "username").String())

	set := alice.recvType(wire.TypeChannelSet)
	assert.Equal(t, "__global__", gjson.GetBytes(set, "channel").String())

	joined := alice.recvType(wire.TypeServerMessage)
	assert.Contains(t, gjson.GetBytes(joined, "text").String(), "joined")
	assert.Equal(t, "__global__", gjson.GetBytes(joined, "channel").String())
}

func TestLoginRejectsBadNames(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv, "")

	for _, bad := range []struct{ name, reason string }{
		{"ab", "Bad username"},
		{strings.Repeat("a", 20), "Bad username"},
		{"Server", "Hahah, funny"},
		{"!!!", "Bad username"}, // filters down to nothing
	} {
		c.send(wire.NewLogin(bad.name))
		resp := c.recvType(wire.TypeAuthResp)
		assert.False(t, gjson.GetBytes(resp, "success").Bool(), "name %q accepted", bad.name)
		assert.Equal(t, bad.reason, gjson.GetBytes(resp, "message").String())
	}

	// A denial leaves the connection pending; a valid retry succeeds.
	c.login("alice")
}

func TestLoginNameCollision(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")

	bob := dial(t, srv, "127.0.0.2")
	bob.send(wire.NewLogin("alice"))
	resp := bob.recvType(wire.TypeAuthResp)
	assert.False(t, gjson.GetBytes(resp, "success").Bool())
	assert.Equal(t, "This user already registered", gjson.GetBytes(resp, "message").String())

	bob.login("bob")
}

func TestSameHostLoginReplacesConnection(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv, "")
	first.login("alice")

	// A second socket from the same host takes over the identity.
	second := dial(t, srv, "")
	second.login("alice")

	note := first.recvType(wire.TypeServerMessage)
	assert.Contains(t, gjson.GetBytes(note, "text").String(), "another location")
	first.expectClosed()

	// Routing targets the replacement socket only.
	bob := dial(t, srv, "127.0.0.2")
	bob.login("bob")
	bob.send(wire.NewMessage("__global__", "hi"))
	msg := second.recvType(wire.TypeMessage)
	assert.Equal(t, "bob", gjson.GetBytes(msg, "user").String())
	assert.Equal(t, "hi", gjson.GetBytes(msg, "text").String())
}

func TestReloginRenames(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")

	// Repeating the held name is a silent no-op, so the next auth
	// response observed must belong to the rename that follows it.
	alice.send(wire.NewLogin("alice"))
	alice.send(wire.NewLogin("alice2"))
	resp := alice.recvType(wire.TypeAuthResp)
	assert.True(t, gjson.GetBytes(resp, "success").Bool())
	assert.Equal(t, "alice2", gjson.GetBytes(resp, "username").String())

	note := alice.recvType(wire.TypeServerMessage)
	assert.Contains(t, gjson.GetBytes(note, "text").String(), "changed his name to alice2")
}

// --- routing ---

func TestMessageRouting(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")
	bob := dial(t, srv, "127.0.0.2")
	bob.login("bob")

	bob.send(wire.NewMessage("__global__", "hello"))
	msg := alice.recvType(wire.TypeMessage)
	assert.Equal(t, "bob", gjson.GetBytes(msg, "user").String())
	assert.Equal(t, "hello", gjson.GetBytes(msg, "text").String())
	assert.Equal(t, "__global__", gjson.GetBytes(msg, "channel").String())
}

func TestChannelCreateAndJoin(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")
	bob := dial(t, srv, "127.0.0.2")
	bob.login("bob")

	// Channel commands travel as ordinary message text.
	alice.send(wire.NewMessage("__global__", "/channel create room"))
	set := alice.recvType(wire.TypeChannelSet)
	assert.Equal(t, "room", gjson.GetBytes(set, "channel").String())

	bob.send(wire.NewMessage("__global__", "/channel join room"))
	set = bob.recvType(wire.TypeChannelSet)
	assert.Equal(t, "room", gjson.GetBytes(set, "channel").String())

	bob.send(wire.NewMessage("room", "private hello"))
	msg := alice.recvType(wire.TypeMessage)
	assert.Equal(t, "room", gjson.GetBytes(msg, "channel").String())
	assert.Equal(t, "private hello", gjson.GetBytes(msg, "text").String())
}

func TestConsoleChatReachesClients(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")

	srv.Input("hello all")
	msg := alice.recvType(wire.TypeMessage)
	assert.Equal(t, "+yellow(Server)", gjson.GetBytes(msg, "user").String())
	assert.Equal(t, "hello all", gjson.GetBytes(msg, "text").String())
}

// --- moderation ---

func TestMutedSenderDenied(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")

	srv.Input("/mute alice nochatter")
	note := alice.recvType(wire.TypeServerMessage)
	assert.Contains(t, gjson.GetBytes(note, "text").String(), "Muted alice")

	alice.send(wire.NewMessage("__global__", "hi"))
	denied := alice.recvType(wire.TypeServerMessage)
	assert.Contains(t, gjson.GetBytes(denied, "text").String(), "You are muted!")
	assert.Contains(t, gjson.GetBytes(denied, "text").String(), "Reason: nochatter")

	srv.Input("/unmute alice")
	note = alice.recvType(wire.TypeServerMessage)
	assert.Contains(t, gjson.GetBytes(note, "text").String(), "Unmuted alice")
}

func TestKickCommand(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")
	bob := dial(t, srv, "127.0.0.2")
	bob.login("bob")

	// Alice sees bob's join broadcast before any moderation output.
	joined := alice.recvType(wire.TypeServerMessage)
	require.Contains(t, gjson.GetBytes(joined, "text").String(), "bob +green(joined)")

	srv.Input(`/kick bob "spam and flooding"`)
	note := alice.recvType(wire.TypeServerMessage)
	text := gjson.GetBytes(note, "text").String()
	assert.Contains(t, text, "Kicked bob")
	assert.Contains(t, text, "Reason: spam and flooding")

	bob.expectClosed()
}

// --- lifecycle ---

func TestShutdownIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")

	// Closing the transport produces disconnect events after the
	// dispatcher has already exited; Shutdown must absorb them, and a
	// repeat call (the cleanup hook adds a third) must be harmless.
	srv.Shutdown()
	srv.Shutdown()
}

func TestBanBlocksReconnect(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "")
	alice.login("alice")

	srv.Input("/ban alice spam")
	alice.expectClosed()

	again := dial(t, srv, "")
	note := again.recvType(wire.TypeServerMessage)
	text := gjson.GetBytes(note, "text").String()
	assert.Contains(t, text, "You are banned!")
	assert.Contains(t, text, "Reason: spam")
	again.expectClosed()
}
