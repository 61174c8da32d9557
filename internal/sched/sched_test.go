package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saelay/trdp-ladder/internal/md"
	"github.com/saelay/trdp-ladder/internal/pd"
	"github.com/saelay/trdp-ladder/internal/registry"
	"github.com/saelay/trdp-ladder/internal/store"
	"github.com/saelay/trdp-ladder/internal/transport"
)

// TestClampWait_ClampsToCeilingAndFloor verifies wait intervals are floored
// at 1ms for an overdue deadline and ceilinged at maxWait for a distant one
// (spec §4.6 step 2: the wait is never open-ended).
func TestClampWait_ClampsToCeilingAndFloor(t *testing.T) {
	now := time.Now()

	if got := clampWait(now.Add(-time.Second), now); got != time.Millisecond {
		t.Errorf("overdue deadline: clampWait = %v, want %v", got, time.Millisecond)
	}
	if got := clampWait(now.Add(time.Hour), now); got != maxWait {
		t.Errorf("distant deadline: clampWait = %v, want %v", got, maxWait)
	}
	mid := 10 * time.Millisecond
	if got := clampWait(now.Add(mid), now); got != mid {
		t.Errorf("mid-range deadline: clampWait = %v, want %v", got, mid)
	}
}

type fakeTransport struct {
	pkts chan transport.Packet
}

func (f *fakeTransport) Send(dstIP uint32, data []byte) error { return nil }
func (f *fakeTransport) Packets() <-chan transport.Packet     { return f.pkts }
func (f *fakeTransport) Close() error                         { return nil }

// TestScheduler_RunStopsOnContextCancellation verifies Run returns promptly
// once its context is cancelled.
func TestScheduler_RunStopsOnContextCancellation(t *testing.T) {
	ts := store.New()
	reg := registry.New()
	pdTx := &fakeTransport{pkts: make(chan transport.Packet)}
	mdTx := &fakeTransport{pkts: make(chan transport.Packet)}

	sn := &Subnet{
		ID:   store.Subnet1,
		PDTx: pdTx,
		MDTx: mdTx,
		PD:   pd.NewSession(store.Subnet1, reg, ts, nil, pdTx, nil),
		MD:   md.NewManager(reg, nil, mdTx, nil),
	}

	s := New(ts, []*Subnet{sn}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Run returned %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

// TestScheduler_ReportsLinkDownOnSocketClose verifies that closing a
// subnet's PD transport (Packets channel closes) makes Run return once no
// live subnet is left, and the Traffic Store observes that subnet as
// link-down.
func TestScheduler_ReportsLinkDownOnSocketClose(t *testing.T) {
	ts := store.New()
	reg := registry.New()
	pdTx := &fakeTransport{pkts: make(chan transport.Packet)}
	mdTx := &fakeTransport{pkts: make(chan transport.Packet)}

	sn := &Subnet{
		ID:   store.Subnet1,
		PDTx: pdTx,
		MDTx: mdTx,
		PD:   pd.NewSession(store.Subnet1, reg, ts, nil, pdTx, nil),
		MD:   md.NewManager(reg, nil, mdTx, nil),
	}

	s := New(ts, []*Subnet{sn}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	close(pdTx.pkts)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil after a clean socket close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the PD transport closed")
	}

	if ts.AuthorizedWriter() == store.Subnet1 {
		t.Fatal("expected subnet1 not to be reported as link-up after its socket closed")
	}
}
