// Package discovery implements the LAN presence protocol: servers
// advertise themselves over UDP broadcast, clients keep an
// eventually-consistent, self-expiring registry of reachable servers.
// There is no acknowledgment and no registration in either direction.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ivymerfe/tinychat/pkg/wire"
)

// BroadcastInterval is the presence announcement period.
const BroadcastInterval = 4 * time.Second

// Broadcaster periodically announces the server's name and description
// to the subnet broadcast address. Announcements pause while the server
// is set invisible.
type Broadcaster struct {
	dst  *net.UDPAddr
	conn *net.UDPConn

	mu      sync.Mutex
	name    string
	desc    string
	visible bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewBroadcaster targets broadcastIP (e.g. "255.255.255.255" or the
// subnet broadcast address) on the well-known discovery port.
func NewBroadcaster(broadcastIP, name, desc string, visible bool, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		dst:     &net.UDPAddr{IP: net.ParseIP(broadcastIP), Port: wire.DiscoveryPort},
		name:    name,
		desc:    desc,
		visible: visible,
		stop:    make(chan struct{}),
		logger:  logger.With(slog.String("component", "discovery_broadcaster")),
	}
}

func (b *Broadcaster) Start() error {
	if b.dst.IP == nil {
		return fmt.Errorf("discovery: invalid broadcast address")
	}
	conn, err := net.DialUDP("udp4", nil, b.dst)
	if err != nil {
		return fmt.Errorf("discovery: open broadcast socket: %w", err)
	}
	b.conn = conn

	b.wg.Add(1)
	go b.run()
	return nil
}

func (b *Broadcaster) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(BroadcastInterval)
	defer ticker.Stop()

	b.announce()
	for {
		select {
		case <-ticker.C:
			b.announce()
		case <-b.stop:
			return
		}
	}
}

func (b *Broadcaster) announce() {
	b.mu.Lock()
	visible := b.visible
	info := wire.NewServerInfo(b.name, b.desc)
	b.mu.Unlock()

	if !visible {
		return
	}
	payload, err := wire.Marshal(info)
	if err != nil {
		return
	}
	datagram, err := wire.EncodeDatagram(payload)
	if err != nil {
		b.logger.Warn("server info exceeds datagram budget", slog.Any("error", err))
		return
	}
	if _, err := b.conn.Write(datagram); err != nil {
		b.logger.Debug("broadcast failed", slog.Any("error", err))
	}
}

// SetInfo updates the advertised name and description; the next
// announcement carries them.
func (b *Broadcaster) SetInfo(name, desc string) {
	b.mu.Lock()
	b.name = name
	b.desc = desc
	b.mu.Unlock()
}

// SetVisible toggles announcements on or off.
func (b *Broadcaster) SetVisible(visible bool) {
	b.mu.Lock()
	b.visible = visible
	b.mu.Unlock()
}

func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
	if b.conn != nil {
		b.conn.Close()
	}
}
