package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/ivymerfe/tinychat/pkg/wire"
)

const (
	// sweepInterval is the aging tick for known servers.
	sweepInterval = 1 * time.Second

	// maxAge evicts a server not refreshed for this many ticks.
	maxAge = 5
)

// ServerInfo is one discovered server.
type ServerInfo struct {
	Addr string // announcing host
	Name string
	Desc string
}

type entry struct {
	info ServerInfo
	age  int
}

// Monitor listens for presence announcements and maintains the list of
// reachable servers. An entry's age resets on every announcement and
// grows by one each sweep; entries reaching maxAge are evicted, so a
// server that went away disappears within ~5 seconds.
type Monitor struct {
	mu      sync.Mutex
	servers map[string]*entry

	conn     net.PacketConn
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		servers: make(map[string]*entry),
		stop:    make(chan struct{}),
		logger:  logger.With(slog.String("component", "discovery_monitor")),
	}
}

func (m *Monitor) Start() error {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", wire.DiscoveryPort))
	if err != nil {
		return fmt.Errorf("discovery: listen: %w", err)
	}
	m.conn = conn

	m.wg.Add(2)
	go m.readLoop()
	go m.sweepLoop()
	return nil
}

func (m *Monitor) readLoop() {
	defer m.wg.Done()
	buf := make([]byte, wire.MaxDatagram)
	for {
		n, addr, err := m.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			continue
		}
		var dec wire.Decoder
		payloads, derr := dec.Push(buf[:n])
		if derr != nil {
			m.logger.Debug("malformed discovery datagram", slog.String("from", host))
			continue
		}
		for _, p := range payloads {
			m.handleAnnouncement(host, p)
		}
	}
}

func (m *Monitor) handleAnnouncement(host string, payload []byte) {
	if wire.PacketType(payload) != wire.TypeServerInfo {
		return
	}
	var info wire.ServerInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return
	}
	m.mu.Lock()
	m.servers[host] = &entry{info: ServerInfo{Addr: host, Name: info.Name, Desc: info.Desc}}
	m.mu.Unlock()
}

func (m *Monitor) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for host, e := range m.servers {
		e.age++
		if e.age >= maxAge {
			delete(m.servers, host)
		}
	}
}

// Servers returns the current list, ordered by address for stable
// display indices.
func (m *Monitor) Servers() []ServerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerInfo, 0, len(m.servers))
	for _, e := range m.servers {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Lookup resolves a host to its announcement, when one is live.
func (m *Monitor) Lookup(host string) (ServerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.servers[host]
	if !ok {
		return ServerInfo{}, false
	}
	return e.info, true
}

func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.conn != nil {
		m.conn.Close()
	}
	m.wg.Wait()
}
