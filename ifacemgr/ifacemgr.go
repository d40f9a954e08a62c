// Package ifacemgr owns the per-interface RIP socket: joining the
// 224.0.0.9 multicast group, sending datagrams with TTL 1, and
// surfacing received datagrams along with their source endpoint.
package ifacemgr

import (
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/katrip/ripd/ripdutil"
)

// RIPMulticastGroup is the RFC 2453 §4 "all RIP routers" group.
var RIPMulticastGroup = net.IPv4(224, 0, 0, 9)

// maxDatagramLen bounds a single receive buffer (25 entries * 20
// bytes + 4-byte header).
const maxDatagramLen = 4 + 20*25

// Datagram is one received RIP packet plus where it came from.
type Datagram struct {
	Payload   []byte
	Source    net.IP
	Interface string
}

// Link is a bound multicast socket on a single interface.
type Link struct {
	Name string
	conn *ipv4.PacketConn
	raw  net.PacketConn

	mu     sync.Mutex
	closed bool
}

// Bind opens a UDP socket on port, joins the RIP multicast group on
// ifi, sets the multicast TTL to 1, and disables loopback so this
// core never re-receives its own sends. Returns a ripdutil Error with
// KindInterfaceBindFailure on any failure, so the caller can log and
// skip the interface rather than aborting startup.
func Bind(name string, ifi *net.Interface, port int) (*Link, error) {
	conn, err := net.ListenPacket("udp4", portAddr(port))
	if err != nil {
		return nil, ripdutil.New(ripdutil.KindInterfaceBindFailure, "listen udp4 failed for "+name, err)
	}
	p := ipv4.NewPacketConn(conn)

	group := &net.UDPAddr{IP: RIPMulticastGroup}
	if err := p.JoinGroup(ifi, group); err != nil {
		conn.Close()
		return nil, ripdutil.New(ripdutil.KindInterfaceBindFailure, "join multicast group failed for "+name, err)
	}
	if err := p.SetMulticastInterface(ifi); err != nil {
		conn.Close()
		return nil, ripdutil.New(ripdutil.KindInterfaceBindFailure, "set multicast interface failed for "+name, err)
	}
	if err := p.SetMulticastTTL(1); err != nil {
		conn.Close()
		return nil, ripdutil.New(ripdutil.KindInterfaceBindFailure, "set multicast ttl failed for "+name, err)
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, ripdutil.New(ripdutil.KindInterfaceBindFailure, "disable multicast loopback failed for "+name, err)
	}

	return &Link{Name: name, conn: p, raw: conn}, nil
}

func portAddr(port int) string {
	return (&net.UDPAddr{Port: port}).String()
}

// Send transmits payload to dst on this link's port. Responses go to
// the RIP multicast group unless the request came from a known
// unicast neighbor, in which case the caller targets that address
// directly.
func (l *Link) Send(payload []byte, dst net.IP, port int) error {
	addr := &net.UDPAddr{IP: dst, Port: port}
	_, err := l.raw.WriteTo(payload, addr)
	if err != nil {
		return ripdutil.New(ripdutil.KindTransientSendError, "send on "+l.Name+" failed", err)
	}
	return nil
}

// Receive blocks until a datagram arrives and returns it along with
// its source address. Returns an error once the link is closed.
func (l *Link) Receive() (Datagram, error) {
	buf := make([]byte, maxDatagramLen)
	n, _, src, err := l.conn.ReadFrom(buf)
	if err != nil {
		return Datagram{}, ripdutil.New(ripdutil.KindTransientSendError, "recv on "+l.Name+" failed", err)
	}
	udpSrc, _ := src.(*net.UDPAddr)
	var srcIP net.IP
	if udpSrc != nil {
		srcIP = udpSrc.IP
	}
	return Datagram{Payload: buf[:n], Source: srcIP, Interface: l.Name}, nil
}

// Close releases the socket. Safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.raw.Close()
}

// Manager owns the set of currently bound Links, keyed by interface
// name, and applies the add/remove steps of a config reconfiguration.
type Manager struct {
	mu    sync.Mutex
	links map[string]*Link
	port  int
}

// NewManager creates an empty Manager listening on port for every
// future Bind call.
func NewManager(port int) *Manager {
	return &Manager{links: make(map[string]*Link), port: port}
}

// AddInterface binds and registers a new Link for name. If a bind
// failure occurs, the interface is skipped and the error returned so
// the caller can log it and continue with the rest.
func (m *Manager) AddInterface(name string) (*Link, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, ripdutil.New(ripdutil.KindInterfaceBindFailure, "interface "+name+" not found", err)
	}
	link, err := Bind(name, ifi, m.port)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.links[name] = link
	m.mu.Unlock()
	return link, nil
}

// RemoveInterface closes and unregisters the Link for name, canceling
// its tasks and leaving the multicast group.
func (m *Manager) RemoveInterface(name string) {
	m.mu.Lock()
	link, ok := m.links[name]
	delete(m.links, name)
	m.mu.Unlock()
	if ok {
		link.Close()
	}
}

// Get returns the Link bound to name, if any.
func (m *Manager) Get(name string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[name]
	return l, ok
}

// All returns every currently bound Link.
func (m *Manager) All() []*Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

// CloseAll tears down every bound Link, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*Link)
	m.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
}
