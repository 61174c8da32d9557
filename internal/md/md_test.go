package md

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/saelay/trdp-ladder/internal/frame"
	"github.com/saelay/trdp-ladder/internal/registry"
	"github.com/saelay/trdp-ladder/internal/transport"
)

type sentFrame struct {
	dstIP uint32
	data  []byte
}

type fakeTransport struct {
	sent chan sentFrame
	pkts chan transport.Packet
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan sentFrame, 16), pkts: make(chan transport.Packet, 16)}
}

func (f *fakeTransport) Send(dstIP uint32, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.sent <- sentFrame{dstIP: dstIP, data: buf}
	return nil
}

func (f *fakeTransport) Packets() <-chan transport.Packet { return f.pkts }
func (f *fakeTransport) Close() error                     { return nil }

// TestRequest_OpensCallerSessionAndSendsMr verifies Request stamps the
// returned session id into the Mr frame's SessionID field and tracks a
// CallerSession awaiting replies.
func TestRequest_OpensCallerSessionAndSendsMr(t *testing.T) {
	reg := registry.New()
	tx := newFakeTransport()
	mgr := NewManager(reg, nil, tx, nil)

	caller := &registry.CallerTelegram{ComID: 5, DstIP: 0xC0A80001, NumRepliers: 1, ReplyTimeout: time.Second}
	id, err := mgr.Request(registry.NoHandle, caller, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	got := <-tx.sent
	hdr, _, err := frame.Parse(got.data)
	if err != nil {
		t.Fatalf("frame.Parse: %v", err)
	}
	if hdr.MsgType != frame.MsgMr {
		t.Fatalf("MsgType = %v, want Mr", hdr.MsgType)
	}
	var sid [16]byte
	copy(sid[:], id[:])
	if hdr.SessionID != sid {
		t.Fatal("expected frame SessionID to match the returned session id")
	}

	if _, ok := mgr.CallerSession(id); !ok {
		t.Fatal("expected a tracked CallerSession after Request")
	}
}

// TestDeliver_ReplyMarksCallerSessionDoneAtExpectedCount verifies an inbound
// Mp frame correlated by session id increments RepliesReceived and removes
// the session once ExpectedRepliers is reached.
func TestDeliver_ReplyMarksCallerSessionDoneAtExpectedCount(t *testing.T) {
	reg := registry.New()
	tx := newFakeTransport()
	mgr := NewManager(reg, nil, tx, nil)

	caller := &registry.CallerTelegram{ComID: 5, DstIP: 1, NumRepliers: 1, ReplyTimeout: time.Second}
	id, err := mgr.Request(registry.NoHandle, caller, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	<-tx.sent // drain the Mr send

	var sid [16]byte
	copy(sid[:], id[:])
	replyHdr := frame.Header{MsgType: frame.MsgMp, ComID: 5, SessionID: sid}
	raw := frame.Build(replyHdr, nil)

	if err := mgr.Deliver(transport.Packet{Data: raw, SrcIP: 0x01020304}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if _, ok := mgr.CallerSession(id); ok {
		t.Fatal("expected CallerSession to be removed once ExpectedRepliers is reached")
	}
}

// TestReply_SendsMqAndAwaitsConfirm verifies Reply with expectsConfirm=true
// keeps the ReplierSession alive (pending Confirm) and sends an Mq frame
// rather than Mp; a subsequent Confirm then clears it, and a repeated
// Confirm for the same id fails.
func TestReply_SendsMqAndAwaitsConfirm(t *testing.T) {
	reg := registry.New()
	tx := newFakeTransport()
	mgr := NewManager(reg, nil, tx, nil)

	// Open a ReplierSession the way an inbound Mr normally would, via the
	// unexported map this test shares a package with.
	id := uuid.New()
	mgr.repliers[id] = &ReplierSession{ID: id, ComID: 3, ConfirmDeadline: time.Now().Add(time.Second), State: StateWaitConfirm}
	replier := &registry.ReplierTelegram{ComID: 3}

	if err := mgr.Reply(id, replier, nil, true); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	got := <-tx.sent
	hdr, _, err := frame.Parse(got.data)
	if err != nil {
		t.Fatalf("frame.Parse: %v", err)
	}
	if hdr.MsgType != frame.MsgMq {
		t.Fatalf("MsgType = %v, want Mq", hdr.MsgType)
	}

	var sid [16]byte
	copy(sid[:], id[:])
	confirmHdr := frame.Header{MsgType: frame.MsgMc, ComID: replier.ComID, SessionID: sid}
	raw := frame.Build(confirmHdr, nil)
	if err := mgr.Deliver(transport.Packet{Data: raw}); err != nil {
		t.Fatalf("Deliver confirm: %v", err)
	}

	// A second confirm for the same (now-removed) session must fail.
	if err := mgr.Deliver(transport.Packet{Data: raw}); err == nil {
		t.Fatal("expected an error delivering a duplicate confirm")
	}
}

// TestCheckTimeouts_RemovesExpiredCallerSession verifies a CallerSession past
// its ReplyDeadline is discarded by CheckTimeouts.
func TestCheckTimeouts_RemovesExpiredCallerSession(t *testing.T) {
	reg := registry.New()
	tx := newFakeTransport()
	mgr := NewManager(reg, nil, tx, nil)

	caller := &registry.CallerTelegram{ComID: 1, NumRepliers: 1, ReplyTimeout: time.Millisecond}
	id, err := mgr.Request(registry.NoHandle, caller, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	<-tx.sent

	mgr.CheckTimeouts(time.Now().Add(time.Second))

	if _, ok := mgr.CallerSession(id); ok {
		t.Fatal("expected CallerSession to be removed after its reply deadline elapsed")
	}
}
