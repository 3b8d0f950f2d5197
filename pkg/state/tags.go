package state

// Right names resolved through tag precedence.
const (
	RightServerAccess  = "serverAccess"
	RightSend          = "sendMessagesAllowed"
	RightRead          = "readMessagesAllowed"
	RightAdminCommands = "adminCommandsAccess"
)

// Tag is a named permission bundle. Level is the precedence: when two
// tags disagree on a right, the highest level that defines that right
// wins. Tags never inherit from each other.
type Tag struct {
	Name   string
	Level  int
	Rights map[string]bool
}

// Built-in tags. Attached and detached only by moderation commands.
var (
	TagDefault = &Tag{
		Name:  "default",
		Level: 1,
		Rights: map[string]bool{
			RightServerAccess: true,
			RightSend:         true,
			RightRead:         true,
		},
	}
	TagMuted = &Tag{
		Name:   "muted",
		Level:  2,
		Rights: map[string]bool{RightSend: false},
	}
	TagAdmin = &Tag{
		Name:   "admin",
		Level:  3,
		Rights: map[string]bool{RightAdminCommands: true},
	}
	TagBanned = &Tag{
		Name:   "banned",
		Level:  5,
		Rights: map[string]bool{RightServerAccess: false},
	}
)
