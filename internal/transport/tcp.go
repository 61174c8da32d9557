package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/saelay/trdp-ladder/internal/frame"
)

// peerIdleTimeout closes a pooled outbound TCP connection that has carried
// no traffic for this long (spec §4.5/§6.2: MD over TCP is connection
// oriented, but a Ladder caller's peer set is small and changes rarely — an
// idle per-peer connection is a leak, not a cache hit, once the caller has
// moved on).
const peerIdleTimeout = 30 * time.Second

const peerReapInterval = 10 * time.Second

// TCPTransport is the connection-oriented sibling of UDPTransport for MD
// traffic configured with config.FlagTCP (spec §4.5, §6.2: "MD uses 20550
// over both UDP and TCP"). It accepts inbound connections on one listening
// port and keeps one pooled outbound net.Conn per destination IP, dialed
// lazily and closed after peerIdleTimeout of inactivity.
//
// Frame boundaries are recovered from the frame header itself: TRDP's
// header carries DatasetLength (spec §6.2), so a reader needs no separate
// length-prefix framing — read frame.HeaderSize bytes, decode, then read
// exactly DatasetLength+8 (payload plus the two trailing FCS words) more.
type TCPTransport struct {
	ln      net.Listener
	port    int
	packets chan Packet

	mu    sync.Mutex
	peers map[uint32]*tcpPeer

	closeOnce sync.Once
	done      chan struct{}
}

type tcpPeer struct {
	mu       sync.Mutex
	conn     net.Conn
	lastUsed time.Time
}

// ListenTCP opens a TCP listener bound to hostIP:port, starts the accept
// loop and the idle-peer reaper, and returns a ready-to-use TCPTransport.
func ListenTCP(hostIP uint32, port int) (*TCPTransport, error) {
	addr := &net.TCPAddr{IP: ipToNetIP(hostIP), Port: port}
	ln, err := net.ListenTCP("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %s: %w", addr, err)
	}
	t := &TCPTransport{
		ln:      ln,
		port:    port,
		packets: make(chan Packet, 256),
		peers:   make(map[uint32]*tcpPeer),
		done:    make(chan struct{}),
	}
	go t.acceptLoop()
	go t.reapIdlePeers()
	return t, nil
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			close(t.packets)
			return
		}
		go t.readFrames(conn)
	}
}

// readFrames reads length-delimited frames off one inbound connection until
// it errors or is closed, emitting each as a Packet the same shape UDP
// would have produced.
func (t *TCPTransport) readFrames(conn net.Conn) {
	defer conn.Close()
	srcIP := remoteIP(conn)
	header := make([]byte, frame.HeaderSize)
	for {
		if _, err := readFull(conn, header); err != nil {
			return
		}
		h, err := frame.DecodeHeader(header)
		if err != nil {
			return
		}
		rest := make([]byte, int(h.DatasetLength)+8)
		if _, err := readFull(conn, rest); err != nil {
			return
		}
		data := make([]byte, 0, len(header)+len(rest))
		data = append(data, header...)
		data = append(data, rest...)
		t.packets <- Packet{SrcIP: srcIP, Data: data}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Send writes frame to dstIP over a pooled connection, dialing a new one if
// none is cached or the cached one is dead.
func (t *TCPTransport) Send(dstIP uint32, data []byte) error {
	peer := t.peerFor(dstIP)
	peer.mu.Lock()
	defer peer.mu.Unlock()

	if peer.conn == nil {
		conn, err := net.DialTimeout("tcp4", fmt.Sprintf("%s:%d", ipToNetIP(dstIP), t.port), 5*time.Second)
		if err != nil {
			return fmt.Errorf("transport: dial tcp %s:%d: %w", ipToNetIP(dstIP), t.port, err)
		}
		peer.conn = conn
		go t.readFrames(conn)
	}

	if _, err := peer.conn.Write(data); err != nil {
		peer.conn.Close()
		peer.conn = nil
		return fmt.Errorf("transport: write tcp %s:%d: %w", ipToNetIP(dstIP), t.port, err)
	}
	peer.lastUsed = time.Now()
	return nil
}

func (t *TCPTransport) peerFor(dstIP uint32) *tcpPeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[dstIP]
	if !ok {
		p = &tcpPeer{lastUsed: time.Now()}
		t.peers[dstIP] = p
	}
	return p
}

// reapIdlePeers closes and drops any pooled outbound connection that has
// carried no traffic for peerIdleTimeout, so a caller that stops talking to
// a peer doesn't hold that socket open forever.
func (t *TCPTransport) reapIdlePeers() {
	ticker := time.NewTicker(peerReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			for dstIP, p := range t.peers {
				p.mu.Lock()
				idle := p.conn != nil && time.Since(p.lastUsed) > peerIdleTimeout
				if idle {
					p.conn.Close()
					p.conn = nil
				}
				empty := p.conn == nil
				p.mu.Unlock()
				if empty {
					delete(t.peers, dstIP)
				}
			}
			t.mu.Unlock()
		}
	}
}

func (t *TCPTransport) Packets() <-chan Packet { return t.packets }

func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.ln.Close()
		t.mu.Lock()
		for _, p := range t.peers {
			p.mu.Lock()
			if p.conn != nil {
				p.conn.Close()
			}
			p.mu.Unlock()
		}
		t.mu.Unlock()
	})
	return err
}

func remoteIP(conn net.Conn) uint32 {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}
