package state_test

import (
	"net"
	"testing"
	"time"

	"github.com/ivymerfe/tinychat/pkg/eventq"
	"github.com/ivymerfe/tinychat/pkg/logging"
	"github.com/ivymerfe/tinychat/pkg/state"
	"github.com/ivymerfe/tinychat/pkg/transport"
)

// --- Test Suite Setup ---

func newUserNamed(host, name string) *state.User {
	u := state.NewUser(host)
	u.SetName(name, name)
	return u
}

// loopback provides real transport connections for registry tests.
type loopback struct {
	srv   *transport.Server
	queue *eventq.Queue[transport.Event]
}

func newLoopback(t *testing.T) *loopback {
	t.Helper()
	queue := eventq.New[transport.Event]()
	srv := transport.NewServer("127.0.0.1:0", queue, nil, logging.Discard())
	srv.Open()
	if ev := nextEvent(t, queue); ev.Kind != transport.EventServerStart || ev.Err != nil {
		t.Fatalf("server failed to start: %+v", ev)
	}
	t.Cleanup(func() {
		srv.Close()
		queue.Close()
	})
	return &loopback{srv: srv, queue: queue}
}

// accept dials the loopback server and returns the accepted connection.
func (l *loopback) accept(t *testing.T) *transport.Conn {
	t.Helper()
	raw, err := net.Dial("tcp", l.srv.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	for {
		ev := nextEvent(t, l.queue)
		if ev.Kind == transport.EventConnRequest {
			return ev.Conn
		}
	}
}

func nextEvent(t *testing.T, q *eventq.Queue[transport.Event]) transport.Event {
	t.Helper()
	select {
	case ev := <-q.Out():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transport event")
		return transport.Event{}
	}
}

// --- Tag and Rights Tests ---

func TestTagAttachDetach(t *testing.T) {
	u := newUserNamed("10.0.0.1", "alice")
	if !u.HasTag(state.TagDefault) {
		t.Fatal("new user is missing the default tag")
	}

	u.AddTag(state.TagMuted)
	u.AddTag(state.TagMuted) // idempotent
	if len(u.Tags) != 2 {
		t.Errorf("expected 2 tags after duplicate attach, got %d", len(u.Tags))
	}

	u.RemoveTag(state.TagMuted)
	if u.HasTag(state.TagMuted) {
		t.Error("muted tag still present after removal")
	}
}

func TestTagReason(t *testing.T) {
	u := newUserNamed("10.0.0.1", "alice")
	u.TagInfo["banned"] = "spam"
	u.AddTag(state.TagBanned)
	if got := u.TagReason("banned"); got != "spam" {
		t.Errorf("expected reason 'spam', got %q", got)
	}
}

func TestCheckRightDefault(t *testing.T) {
	u := newUserNamed("10.0.0.1", "alice")
	if !u.CheckRight(state.RightSend, true) {
		t.Error("default user cannot send")
	}
	if !u.CheckRight(state.RightServerAccess, true) {
		t.Error("default user has no server access")
	}
}

func TestCheckRightMutedOverridesDefault(t *testing.T) {
	u := newUserNamed("10.0.0.1", "alice")
	u.AddTag(state.TagMuted)
	if u.CheckRight(state.RightSend, true) {
		t.Error("muted user can still send")
	}
	if !u.CheckRight(state.RightSend, false) {
		t.Error("send right did not resolve to denied")
	}
	// Rights the muted tag does not mention are untouched.
	if !u.CheckRight(state.RightRead, true) {
		t.Error("muted user lost the read right")
	}
}

func TestCheckRightUndefinedAtHigherLevelIsIgnored(t *testing.T) {
	// The admin tag outranks muted but does not define the send right,
	// so it must not lift the mute.
	u := newUserNamed("10.0.0.1", "alice")
	u.AddTag(state.TagMuted)
	u.AddTag(state.TagAdmin)
	if u.CheckRight(state.RightSend, true) {
		t.Error("admin tag lifted a mute despite not defining the send right")
	}
	if !u.CheckRight(state.RightAdminCommands, true) {
		t.Error("admin tag did not grant admin commands")
	}
}

func TestCheckRightHighestDefiningLevelWins(t *testing.T) {
	shouter := &state.Tag{
		Name:   "shouter",
		Level:  4,
		Rights: map[string]bool{state.RightSend: true},
	}
	u := newUserNamed("10.0.0.1", "alice")
	u.AddTag(state.TagMuted)
	u.AddTag(shouter)
	if !u.CheckRight(state.RightSend, true) {
		t.Error("higher-level grant did not override the mute")
	}
}

func TestCheckRightBannedBlocksAccess(t *testing.T) {
	u := newUserNamed("10.0.0.1", "alice")
	u.AddTag(state.TagBanned)
	if u.CheckRight(state.RightServerAccess, true) {
		t.Error("banned user still has server access")
	}
}

// --- Registry Tests ---

func TestHostStripsPort(t *testing.T) {
	if got := state.Host("192.168.0.7:51234"); got != "192.168.0.7" {
		t.Errorf("expected host only, got %q", got)
	}
	if got := state.Host("192.168.0.7"); got != "192.168.0.7" {
		t.Errorf("portless address mangled: %q", got)
	}
}

func TestRegistryUserIndex(t *testing.T) {
	r := state.NewRegistry()
	u := newUserNamed("10.0.0.1", "alice")
	r.AddUser(u)

	if r.FindUserByHost("10.0.0.1") != u {
		t.Error("FindUserByHost missed a registered user")
	}
	if r.FindUserByName("alice") != u {
		t.Error("FindUserByName missed a registered user")
	}

	r.RenameUser(u, "alicia", "alicia")
	if r.FindUserByName("alice") != nil {
		t.Error("old name still resolves after rename")
	}
	if r.FindUserByName("alicia") != u {
		t.Error("new name does not resolve after rename")
	}

	r.RemoveUser(u)
	if r.FindUserByHost("10.0.0.1") != nil || r.FindUserByName("alicia") != nil {
		t.Error("user still indexed after removal")
	}
}

func TestRegistryConnectionLifecycle(t *testing.T) {
	l := newLoopback(t)
	r := state.NewRegistry()

	tc := l.accept(t)
	conn := r.AddPending(tc)
	if r.FindPending(tc.Addr()) != conn {
		t.Fatal("pending connection not found by address")
	}
	if r.FindConn(tc.Addr()) != nil {
		t.Fatal("pending connection leaked into the established pool")
	}

	u := newUserNamed(state.Host(tc.Addr()), "alice")
	r.AddUser(u)
	r.Promote(conn, u)
	if r.FindPending(tc.Addr()) != nil {
		t.Error("connection still pending after promotion")
	}
	if r.FindConn(tc.Addr()) != conn {
		t.Error("promoted connection not in the established pool")
	}
	if r.FindConnByName("alice") != conn {
		t.Error("FindConnByName missed the promoted connection")
	}
	if r.FindConnByHost(conn.Host) != conn {
		t.Error("FindConnByHost missed the promoted connection")
	}

	if got := r.Remove(tc.Addr()); got != conn {
		t.Error("Remove did not return the established connection")
	}
	if r.FindConn(tc.Addr()) != nil {
		t.Error("connection still established after removal")
	}
}

func TestRegistryRemovePendingReturnsNil(t *testing.T) {
	l := newLoopback(t)
	r := state.NewRegistry()

	tc := l.accept(t)
	r.AddPending(tc)
	if got := r.Remove(tc.Addr()); got != nil {
		t.Error("removing a pending connection must not report an established one")
	}
	if len(r.Pending()) != 0 {
		t.Error("pending pool not empty after removal")
	}
}
