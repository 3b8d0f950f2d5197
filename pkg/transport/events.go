package transport

// EventKind discriminates the typed events the I/O loops publish onto
// the dispatcher queue.
type EventKind int

const (
	// EventServerStart reports the outcome of bind/listen. Err is set
	// on failure, which halts startup.
	EventServerStart EventKind = iota

	// EventConnRequest is a freshly accepted, unauthenticated socket.
	EventConnRequest

	// EventPacket is one complete framed payload from a live socket.
	EventPacket

	// EventDisconnected is a confirmed remote closure or read failure.
	// A local, deliberate disconnect never produces it.
	EventDisconnected

	// EventConnected reports the outcome of a client dial.
	EventConnected

	// EventStop is the shutdown sentinel injected by the owner; the
	// dispatcher loop ends after handling it.
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventServerStart:
		return "server_start"
	case EventConnRequest:
		return "connection_request"
	case EventPacket:
		return "packet"
	case EventDisconnected:
		return "disconnected"
	case EventConnected:
		return "connected"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Event is one network occurrence. Exactly one consumer drains these,
// strictly in publish order; that serialization is what keeps all
// application state lock-free.
type Event struct {
	Kind    EventKind
	Conn    *Conn  // originating connection, server side only
	Addr    string // remote host:port
	Payload []byte // packet payload, EventPacket only
	Err     error  // EventServerStart / EventConnected outcome
}
