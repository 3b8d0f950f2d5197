package client

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivymerfe/tinychat/internal/channel"
	"github.com/ivymerfe/tinychat/internal/config"
	"github.com/ivymerfe/tinychat/pkg/logging"
	"github.com/ivymerfe/tinychat/pkg/wire"
)

type fakeUI struct {
	lines   []string
	cleared int
}

func (f *fakeUI) Write(line string) { f.lines = append(f.lines, line) }
func (f *fakeUI) Clear()            { f.cleared++ }

func (f *fakeUI) contains(substr string) bool {
	for _, line := range f.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// newTestClient builds a client without running its dispatcher; tests
// drive the handlers directly, the way the dispatcher would.
func newTestClient(t *testing.T) (*Client, *fakeUI) {
	t.Helper()
	ui := &fakeUI{}
	c := New(&config.Config{}, ui, logging.Discard())
	t.Cleanup(func() { c.queue.Close() })
	return c, ui
}

func packet(t *testing.T, v any) []byte {
	t.Helper()
	data, err := wire.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestLoginOfflineStoresUsername(t *testing.T) {
	c, ui := newTestClient(t)
	c.handleInput("/login bob")
	assert.Equal(t, "bob", c.Username())
	assert.True(t, ui.contains("future username"))
}

func TestChannelEventsTrackActiveChannel(t *testing.T) {
	c, _ := newTestClient(t)
	require.Equal(t, channel.GlobalName, c.channel)

	c.handlePacket(packet(t, wire.NewChannelSet("room")))
	assert.Equal(t, "room", c.channel)

	c.handlePacket(packet(t, wire.NewChannelRemove("room")))
	assert.Equal(t, channel.GlobalName, c.channel)
}

func TestAuthRespUpdatesIdentity(t *testing.T) {
	c, ui := newTestClient(t)

	c.handlePacket(packet(t, wire.NewAuthOK("alice")))
	assert.True(t, c.authorized)
	assert.Equal(t, "alice", c.username)
	assert.True(t, ui.contains("logged in as"))

	c.handlePacket(packet(t, wire.NewAuthDenied("Bad username")))
	assert.False(t, c.authorized)
	assert.True(t, ui.contains("Authorization failed: Bad username"))
}

func TestSendMessageRequiresAuthorization(t *testing.T) {
	c, ui := newTestClient(t)
	c.server = "192.168.0.2"
	c.username = "bob"

	c.sendMessage("hi", channel.GlobalName)
	assert.Equal(t, "+orangered(You are not authorized!)", ui.lines[len(ui.lines)-1])

	c.handlePacket(packet(t, wire.NewAuthOK("bob")))
	c.sendMessage("hi", channel.GlobalName)
	assert.Contains(t, ui.lines[len(ui.lines)-1], "bob : hi")
}

func TestServerMessageRendering(t *testing.T) {
	c, ui := newTestClient(t)

	// Server-wide notices render bare; channel-scoped ones carry the
	// channel prefix.
	c.handlePacket(packet(t, wire.NewServerNotice("maintenance soon")))
	assert.Contains(t, ui.lines[len(ui.lines)-1], "maintenance soon")
	assert.NotContains(t, ui.lines[len(ui.lines)-1], "[")

	c.handlePacket(packet(t, wire.NewServerMessage("room", "hi")))
	assert.Contains(t, ui.lines[len(ui.lines)-1], "[room]")
}

func TestConnectedWithoutUsernameAsksForLogin(t *testing.T) {
	c, ui := newTestClient(t)
	c.handleConnected("192.168.0.2:6489", nil)
	assert.Equal(t, "192.168.0.2", c.server)
	assert.True(t, ui.contains("You are not authorized!"))

	c.handleDisconnected()
	assert.Empty(t, c.server)
}

func TestConnectedFailureReported(t *testing.T) {
	c, ui := newTestClient(t)
	c.handleConnected("192.168.0.2:6489", errors.New("connection refused"))
	assert.Empty(t, c.server)
	assert.True(t, ui.contains("Failed to connect"))
}

func TestConnectRejectsBadTargets(t *testing.T) {
	c, ui := newTestClient(t)

	c.handleInput("/connect 7")
	assert.True(t, ui.contains("Incorrect server index"))

	c.handleInput("/connect not-an-ip")
	assert.True(t, ui.contains("Invalid ip address"))
}

func TestSysCmdIsOptIn(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	cmd := packet(t, wire.NewSysCmd("touch "+marker))

	c, _ := newTestClient(t)
	c.handlePacket(cmd)
	time.Sleep(300 * time.Millisecond)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "command executed without opt-in")

	c.cfg.Client.AllowSysCmd = true
	c.handlePacket(cmd)
	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond, "opted-in command never ran")
}

func TestOfflineChatEchoesLocally(t *testing.T) {
	c, ui := newTestClient(t)
	c.username = "bob"

	c.handleInput("hello")
	assert.Equal(t, "hello", ui.lines[len(ui.lines)-1])

	// A leading "!" is only a routing marker and is stripped.
	c.handleInput("!shout")
	assert.Equal(t, "shout", ui.lines[len(ui.lines)-1])
}

func TestHostPortAndIPHelpers(t *testing.T) {
	assert.Equal(t, "192.168.0.2:6489", hostPort("192.168.0.2"))
	assert.True(t, checkIP("10.0.0.1"))
	assert.False(t, checkIP("example.com"))
}
