// Package wire implements the RIPv2 datagram codec (RFC 2453 §4).
//
// 4.  Protocol Extensions
//
//    RIP-2 datagrams are UDP packets of length 4 + 20*N bytes, where N
//    is the number of routing entries carried, 1 <= N <= 25. The header
//    carries a command, a version, and a reserved field; each entry
//    carries an address family, a route tag, a destination, a subnet
//    mask, a next hop, and a metric.
package wire

import (
	"bytes"
	"net"

	"github.com/katrip/ripd/ripdutil"
)

// Command identifies whether a datagram is asking for routes or
// advertising them.
type Command uint8

const (
	// CommandRequest asks a peer for some or all of its routes.
	CommandRequest Command = 1
	// CommandResponse carries a set of route entries.
	CommandResponse Command = 2
)

// Version is the only RIP version this codec accepts.
const Version uint8 = 2

// AddressFamilyIPv4 is the only address family this codec accepts,
// except in the single-entry "request all routes" sentinel.
const AddressFamilyIPv4 uint16 = 2

const (
	headerLength   = 4
	entryLength    = 20
	maxEntries     = 25
	maxMetric      = 16
	minEntryCount  = 1
	maxDatagramLen = headerLength + entryLength*maxEntries
)

// Entry is one routing entry inside a Datagram (20 bytes on the wire).
type Entry struct {
	AddressFamily uint16
	RouteTag      uint16
	IPAddress     net.IP
	SubnetMask    net.IPMask
	NextHop       net.IP
	Metric        uint32
}

// Datagram is a decoded RIPv2 packet: a header plus 1..25 entries.
type Datagram struct {
	Command Command
	Entries []Entry
}

// IsRequestAll reports whether d is the canonical "send me the whole
// table" request: a single Request entry with AF=0, mask=0, metric=16.
func IsRequestAll(d *Datagram) bool {
	if d.Command != CommandRequest || len(d.Entries) != 1 {
		return false
	}
	e := d.Entries[0]
	ones, bits := e.SubnetMask.Size()
	return e.AddressFamily == 0 && ones == 0 && bits == 32 && e.Metric == maxMetric
}

// NewRequestAll builds the canonical request-all datagram.
func NewRequestAll() *Datagram {
	return &Datagram{
		Command: CommandRequest,
		Entries: []Entry{{
			AddressFamily: 0,
			IPAddress:     net.IPv4zero,
			SubnetMask:    net.IPMask(net.IPv4zero.To4()),
			NextHop:       net.IPv4zero,
			Metric:        maxMetric,
		}},
	}
}

// Encode writes d to its wire representation. Encode never fragments:
// it returns an error if d carries more than 25 entries — callers that
// need to advertise more routes must split at the entry boundary
// themselves.
func Encode(d *Datagram) ([]byte, error) {
	if len(d.Entries) == 0 {
		return nil, ripdutil.New(ripdutil.KindInputInvalid, "datagram must carry at least one entry", nil)
	}
	if len(d.Entries) > maxEntries {
		return nil, ripdutil.Newf(ripdutil.KindInputInvalid, nil,
			"datagram carries %d entries, more than the wire limit of %d; fragment at the entry boundary", len(d.Entries), maxEntries)
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerLength+entryLength*len(d.Entries)))
	buf.WriteByte(byte(d.Command))
	buf.WriteByte(Version)
	ripdutil.WriteUint16(buf, 0) // reserved

	for _, e := range d.Entries {
		ripdutil.WriteUint16(buf, e.AddressFamily)
		ripdutil.WriteUint16(buf, e.RouteTag)
		buf.Write(to4(e.IPAddress))
		buf.Write(maskBytes(e.SubnetMask))
		buf.Write(to4(e.NextHop))
		ripdutil.WriteUint32(buf, e.Metric)
	}
	return buf.Bytes(), nil
}

// Decode parses a RIPv2 datagram off the wire, validating header
// framing and per-entry contents. It returns a *ripdutil.Error with
// Kind KindWireMalformed for header or framing problems and
// KindWireSemantic for per-entry violations.
func Decode(b []byte) (*Datagram, error) {
	if len(b) < headerLength {
		return nil, ripdutil.Newf(ripdutil.KindWireMalformed, nil, "datagram too short: %d bytes", len(b))
	}

	buf := bytes.NewBuffer(b)
	command := Command(ripdutil.ReadByte(buf))
	version := ripdutil.ReadByte(buf)
	reserved := ripdutil.ReadUint16(buf)

	if version != Version {
		return nil, ripdutil.Newf(ripdutil.KindWireMalformed, nil, "unsupported version %d", version)
	}
	if reserved != 0 {
		return nil, ripdutil.Newf(ripdutil.KindWireMalformed, nil, "reserved field must be zero, got %d", reserved)
	}
	if command != CommandRequest && command != CommandResponse {
		return nil, ripdutil.Newf(ripdutil.KindWireMalformed, nil, "unsupported command %d", command)
	}

	remaining := len(b) - headerLength
	if remaining%entryLength != 0 {
		return nil, ripdutil.Newf(ripdutil.KindWireMalformed, nil, "entries section length %d is not a multiple of %d", remaining, entryLength)
	}
	count := remaining / entryLength
	if count < minEntryCount || count > maxEntries {
		return nil, ripdutil.Newf(ripdutil.KindWireMalformed, nil, "entry count %d out of range [%d,%d]", count, minEntryCount, maxEntries)
	}

	d := &Datagram{Command: command, Entries: make([]Entry, 0, count)}
	for i := 0; i < count; i++ {
		e, err := decodeEntry(buf, command == CommandRequest && count == 1)
		if err != nil {
			return nil, err
		}
		d.Entries = append(d.Entries, *e)
	}
	return d, nil
}

// decodeEntry parses one 20-byte entry. allowRequestAllSentinel is set
// only when decoding the sole entry of a single-entry Request datagram:
// a request whose single entry has AF=0, mask=0, metric=16 is the
// canonical "send me the whole table" request.
func decodeEntry(buf *bytes.Buffer, allowRequestAllSentinel bool) (*Entry, error) {
	af := ripdutil.ReadUint16(buf)
	tag := ripdutil.ReadUint16(buf)
	ip := net.IP(ripdutil.ReadBytes(4, buf))
	mask := net.IPMask(ripdutil.ReadBytes(4, buf))
	nextHop := net.IP(ripdutil.ReadBytes(4, buf))
	metric := ripdutil.ReadUint32(buf)

	requestAllSentinel := allowRequestAllSentinel && af == 0 && ones(mask) == 0 && metric == maxMetric
	if af != AddressFamilyIPv4 && !requestAllSentinel {
		return nil, ripdutil.Newf(ripdutil.KindWireSemantic, nil, "unsupported address family %d", af)
	}
	if !requestAllSentinel {
		o, bits := mask.Size()
		if bits != 32 {
			return nil, ripdutil.Newf(ripdutil.KindWireSemantic, nil, "non-contiguous subnet mask %v", mask)
		}
		_ = o
	}
	if metric < 1 || metric > maxMetric {
		return nil, ripdutil.Newf(ripdutil.KindWireSemantic, nil, "metric %d out of range [1,%d]", metric, maxMetric)
	}
	if !requestAllSentinel {
		masked := ip.Mask(mask)
		if !masked.Equal(ip) {
			return nil, ripdutil.Newf(ripdutil.KindWireSemantic, nil, "destination %s has bits set outside mask %v", ip, mask)
		}
	}

	return &Entry{
		AddressFamily: af,
		RouteTag:      tag,
		IPAddress:     ip,
		SubnetMask:    mask,
		NextHop:       nextHop,
		Metric:        metric,
	}, nil
}

func ones(mask net.IPMask) int {
	o, _ := mask.Size()
	return o
}

func to4(ip net.IP) []byte {
	if ip == nil {
		return make([]byte, 4)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return make([]byte, 4)
}

func maskBytes(m net.IPMask) []byte {
	if len(m) == 4 {
		return m
	}
	b := make([]byte, 4)
	copy(b, m)
	return b
}
