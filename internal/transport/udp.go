// Package transport provides the UDP/TCP socket abstraction the scheduler
// multiplexes over. The host-level socket primitives themselves are treated
// as an external collaborator per spec §1 ("the lower-level socket/thread/
// mutex primitives... assumed as a small host-abstraction layer"); this
// package is that small abstraction, built directly on net.UDPConn.
//
// Grounded on other_examples' gomcp UDP transport (magic-byte framing,
// goroutine-fed receive loop, net.ListenUDP) — generalized here to a plain
// channel of inbound Packets so the scheduler (internal/sched) can select
// over multiple subnets' sockets the idiomatic Go way instead of raw
// fd-level multiplexing.
package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
)

// Packet is one received datagram (or TCP-delivered frame), tagged with its
// source address. DstIP is the field the PD session's §4.3 search rule reads
// the destination from, but neither UDPTransport nor TCPTransport fills it
// in: it is 0 on every Packet they deliver.
type Packet struct {
	SrcIP uint32
	DstIP uint32
	Data  []byte
}

// Transport sends and receives raw frames on one UDP port for one subnet
// interface.
type Transport interface {
	// Send transmits frame to dstIP on this transport's port.
	Send(dstIP uint32, frame []byte) error
	// Packets is fed by a background goroutine for as long as the
	// Transport is open; the scheduler selects on it directly.
	Packets() <-chan Packet
	Close() error
}

// UDPTransport is the default Transport, one net.UDPConn per subnet/port.
type UDPTransport struct {
	conn    *net.UDPConn
	port    int
	packets chan Packet

	closeOnce sync.Once
}

// ListenUDP opens a UDP socket bound to hostIP:port and starts the receive
// goroutine. hostIP of 0 binds to all interfaces.
func ListenUDP(hostIP uint32, port int) (*UDPTransport, error) {
	addr := &net.UDPAddr{IP: ipToNetIP(hostIP), Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp %s: %w", addr, err)
	}
	t := &UDPTransport{
		conn:    conn,
		port:    port,
		packets: make(chan Packet, 256),
	}
	go t.receiveLoop()
	return t, nil
}

func (t *UDPTransport) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			close(t.packets)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.packets <- Packet{SrcIP: ipToUint32(addr.IP), Data: data}
	}
}

func (t *UDPTransport) Send(dstIP uint32, frame []byte) error {
	addr := &net.UDPAddr{IP: ipToNetIP(dstIP), Port: t.port}
	_, err := t.conn.WriteToUDP(frame, addr)
	return err
}

func (t *UDPTransport) Packets() <-chan Packet { return t.packets }

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() { err = t.conn.Close() })
	return err
}

func ipToNetIP(ip uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, ip)
	return b
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}

// ParseIP4 converts a dotted-quad string to the uint32 host order this
// package (and the configuration records of spec §6.1) use throughout.
func ParseIP4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("transport: invalid IPv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("transport: %q is not an IPv4 address", s)
	}
	return binary.BigEndian.Uint32(ip4), nil
}
