package transport

import (
	"net"
	"testing"
	"time"
)

// TestParseIP4_RoundTripsDottedQuad verifies the dotted-quad parser produces
// the big-endian uint32 that ipToNetIP would turn back into the same string.
func TestParseIP4_RoundTripsDottedQuad(t *testing.T) {
	got, err := ParseIP4("127.0.0.1")
	if err != nil {
		t.Fatalf("ParseIP4: %v", err)
	}
	want := uint32(127)<<24 | uint32(1)
	if got != want {
		t.Fatalf("ParseIP4(127.0.0.1) = %#x, want %#x", got, want)
	}
}

// TestParseIP4_RejectsGarbage verifies a malformed address is reported as an
// error rather than silently resolving to 0.
func TestParseIP4_RejectsGarbage(t *testing.T) {
	if _, err := ParseIP4("not-an-ip"); err == nil {
		t.Fatalf("expected an error for a malformed address")
	}
}

// TestUDPTransport_SendReceiveLoopback verifies two loopback-bound
// UDPTransports can exchange a datagram and that the receiving side reports
// the correct source address on the resulting Packet.
func TestUDPTransport_SendReceiveLoopback(t *testing.T) {
	localhost, err := ParseIP4("127.0.0.1")
	if err != nil {
		t.Fatalf("ParseIP4: %v", err)
	}

	a, err := ListenUDP(localhost, 0)
	if err != nil {
		t.Fatalf("ListenUDP a: %v", err)
	}
	defer a.Close()

	b, err := ListenUDP(localhost, 0)
	if err != nil {
		t.Fatalf("ListenUDP b: %v", err)
	}
	defer b.Close()

	bPort := b.conn.LocalAddr().(*net.UDPAddr).Port
	a.port = bPort

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := a.Send(localhost, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case pkt := <-b.Packets():
		if pkt.SrcIP != localhost {
			t.Fatalf("expected SrcIP %#x, got %#x", localhost, pkt.SrcIP)
		}
		if len(pkt.Data) != len(payload) {
			t.Fatalf("expected %d bytes, got %d", len(payload), len(pkt.Data))
		}
		for i := range payload {
			if pkt.Data[i] != payload[i] {
				t.Fatalf("payload mismatch at byte %d: got %#x want %#x", i, pkt.Data[i], payload[i])
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

// TestUDPTransport_CloseTerminatesReceiveLoop verifies Close causes the
// receive goroutine to exit by closing the Packets channel.
func TestUDPTransport_CloseTerminatesReceiveLoop(t *testing.T) {
	localhost, _ := ParseIP4("127.0.0.1")
	tr, err := ListenUDP(localhost, 0)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-tr.Packets():
		if ok {
			t.Fatal("expected Packets channel to be closed, got a value instead")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Packets channel to close")
	}
}
