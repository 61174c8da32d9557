// Package sched implements the single cooperative scheduler of spec §4.6: a
// loop that waits on both subnets' inbound traffic plus the nearest cyclic
// deadline, dispatches whatever woke it, and repeats.
//
// Grounded on tau_ldLadder.c's dual-handle main loop (build a descriptor set
// for both TRDP handles, compute the minimum wait bounded by cycle times and
// timeouts, block in select, then call tlc_process for whichever handle(s)
// are ready) — translated to the idiomatic Go equivalent of that same
// "wait on N sources with a deadline" shape, but as ONE loop goroutine: spec
// §4.6 calls for a single scheduler thread multiplexing both subnets over
// one blocking wait, not a goroutine per subnet, and §5 requires inbound
// callbacks to be serialized (at most one in flight at a time) — both of
// which only hold if there is exactly one loop. reflect.Select merges a
// dynamic number of channels (two subnets' worth of PD/MD packet channels,
// shrinking as subnets die) into that one blocking wait; no example repo in
// the retrieval pack does this, but the standard library's fixed-arity
// select statement cannot express a channel set whose size changes at
// runtime, so reflect.Select is the only way to keep this a single loop
// instead of reintroducing a goroutine per subnet (see DESIGN.md).
package sched

import (
	"context"
	"log"
	"reflect"
	"time"

	"github.com/saelay/trdp-ladder/internal/store"
	"github.com/saelay/trdp-ladder/internal/transport"
)

// maxWait bounds every wait (spec §4.6 step 2: "the wait is never
// open-ended; a ceiling near 100ms keeps link-failure detection and
// newly-published cyclic telegrams responsive").
const maxWait = 100 * time.Millisecond

// pdReceiver and mdReceiver narrow *pd.Session and *md.Manager to the
// methods the scheduler drives, so sched_test.go's fakes stay simple.
type pdReceiver interface {
	Tick(now time.Time) time.Time
	CheckTimeouts(now time.Time)
	Deliver(pkt transport.Packet, dstIP uint32) error
}

type mdReceiver interface {
	CheckTimeouts(now time.Time)
	Deliver(pkt transport.Packet) error
}

// Subnet bundles one subnet's PD/MD sessions and transports together so the
// scheduler can treat the ladder's two subnets symmetrically. Subnets must
// be supplied to New in "Subnet1 then Subnet2" order (spec §5 ordering
// guarantee, SUPPLEMENTED FEATURES §1) — the scheduler never reorders them.
type Subnet struct {
	ID   store.WriteSubnet
	PDTx transport.Transport
	MDTx transport.Transport
	// MDTxTCP is the optional TCP sibling of MDTx (spec §6.2: "MD uses
	// 20550 over both UDP and TCP"); nil when the subnet's interface has
	// no TCP-flagged MD telegrams.
	MDTxTCP transport.Transport
	PD      pdReceiver
	MD      mdReceiver
	LinkUp  bool
	dead    bool
}

// mdChannels returns every transport this subnet's MD manager reads from —
// UDP always, plus TCP when configured — so the scheduler merges both into
// the same wait and drain pass without MDTxTCP needing special-cased
// handling everywhere it's used.
func (sn *Subnet) mdChannels() []transport.Transport {
	if sn.MDTxTCP == nil {
		return []transport.Transport{sn.MDTx}
	}
	return []transport.Transport{sn.MDTx, sn.MDTxTCP}
}

// Scheduler multiplexes an arbitrary number of subnets (2, for the Ladder
// topology, but the loop itself does not assume exactly two) from a single
// goroutine.
type Scheduler struct {
	subnets []*Subnet
	ts      *store.TrafficStore
	log     *log.Logger
}

// New builds a Scheduler over the given subnets.
func New(ts *store.TrafficStore, subnets []*Subnet, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{subnets: subnets, ts: ts, log: logger}
}

// caseKind identifies what a reflect.Select case represents.
type caseKind int

const (
	kindCtx caseKind = iota
	kindTimer
	kindPD
	kindMD
)

type caseMeta struct {
	kind   caseKind
	subnet *Subnet
}

// Run drives every subnet from this one goroutine until ctx is cancelled or
// every subnet's transport has closed. It blocks once per iteration on a
// merged wait across every live subnet's PD/MD packet channels plus the
// nearest cyclic deadline (spec §4.6 steps 1-2), then dispatches in fixed
// subnet order (step 3), then checks for write-subnet failover (step 4).
// Inbound dispatch never runs concurrently with itself: this loop is the
// only caller of Deliver/Tick/CheckTimeouts (spec §5 "at most one callback
// in flight at a time").
func (s *Scheduler) Run(ctx context.Context) error {
	for _, sn := range s.subnets {
		sn.LinkUp = true
	}
	s.reportLinkStatus()
	prevWriter := s.ts.AuthorizedWriter()

	now := time.Now()
	nextPD := s.tickAll(now)

	for {
		if s.allDead() {
			return nil
		}

		timer := time.NewTimer(clampWait(nextPD, now))
		cases, metas := s.buildCases(ctx, timer)

		chosen, recv, recvOK := reflect.Select(cases)
		timer.Stop()

		switch metas[chosen].kind {
		case kindCtx:
			for _, sn := range s.subnets {
				sn.LinkUp = false
			}
			s.reportLinkStatus()
			return ctx.Err()

		case kindTimer:
			// no packet woke us; fall through to the drain/dispatch pass,
			// which will find nothing ready and move straight to Tick.

		case kindPD:
			sn := metas[chosen].subnet
			if !recvOK {
				s.markDead(sn)
			} else {
				pkt := recv.Interface().(transport.Packet)
				if err := sn.PD.Deliver(pkt, pkt.DstIP); err != nil {
					s.log.Printf("sched: subnet %v pd deliver: %v", sn.ID, err)
				}
			}

		case kindMD:
			sn := metas[chosen].subnet
			if !recvOK {
				s.markDead(sn)
			} else {
				pkt := recv.Interface().(transport.Packet)
				if err := sn.MD.Deliver(pkt); err != nil {
					s.log.Printf("sched: subnet %v md deliver: %v", sn.ID, err)
				}
			}
		}

		// Fixed subnet-order drain: mop up whatever else is already ready
		// without blocking, so a burst on one subnet never starves the
		// other and both subnets' backlogs are dispatched every iteration
		// (spec §4.6 step 3: "subnet 1 then subnet 2, every iteration").
		for _, sn := range s.subnets {
			s.drainSubnet(sn)
		}

		if s.allDead() {
			return nil
		}

		now = time.Now()
		nextPD = s.tickAll(now)
		s.checkFailover(&prevWriter)
	}
}

// buildCases assembles the reflect.Select case list for this iteration's
// wait: ctx.Done, the cyclic-deadline timer, and every live subnet's PD and
// MD packet channels. A dead subnet contributes no case, so its closed
// channel never shows up as spuriously "ready" again.
func (s *Scheduler) buildCases(ctx context.Context, timer *time.Timer) ([]reflect.SelectCase, []caseMeta) {
	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)},
	}
	metas := []caseMeta{{kind: kindCtx}, {kind: kindTimer}}

	for _, sn := range s.subnets {
		if sn.dead {
			continue
		}
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sn.PDTx.Packets())})
		metas = append(metas, caseMeta{kind: kindPD, subnet: sn})
		for _, mdTx := range sn.mdChannels() {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(mdTx.Packets())})
			metas = append(metas, caseMeta{kind: kindMD, subnet: sn})
		}
	}
	return cases, metas
}

// drainSubnet non-blockingly dispatches every packet already queued on sn's
// PD channel and each of its MD channels (UDP, and TCP if configured), in
// that order, until none has one ready.
func (s *Scheduler) drainSubnet(sn *Subnet) {
	if sn.dead {
		return
	}
	for {
		select {
		case pkt, ok := <-sn.PDTx.Packets():
			if !ok {
				s.markDead(sn)
				return
			}
			if err := sn.PD.Deliver(pkt, pkt.DstIP); err != nil {
				s.log.Printf("sched: subnet %v pd deliver: %v", sn.ID, err)
			}
			continue
		default:
		}

		drainedMD := false
		for _, mdTx := range sn.mdChannels() {
			select {
			case pkt, ok := <-mdTx.Packets():
				if !ok {
					s.markDead(sn)
					return
				}
				if err := sn.MD.Deliver(pkt); err != nil {
					s.log.Printf("sched: subnet %v md deliver: %v", sn.ID, err)
				}
				drainedMD = true
			default:
			}
		}
		if !drainedMD {
			return
		}
	}
}

// markDead retires a subnet whose PD or MD transport has closed (either is
// enough — a subnet with only one working direction left is not usable) and
// reports the link-down state immediately so AuthorizedWriter resolution
// and failover logging see it on the very next check.
func (s *Scheduler) markDead(sn *Subnet) {
	if sn.dead {
		return
	}
	sn.dead = true
	sn.LinkUp = false
	s.reportLinkStatus()
}

func (s *Scheduler) allDead() bool {
	for _, sn := range s.subnets {
		if !sn.dead {
			return false
		}
	}
	return true
}

// tickAll ticks and checks timeouts for every live subnet in fixed order,
// returning the earliest next PD deadline across all of them (or now+maxWait
// if every subnet is idle or dead).
func (s *Scheduler) tickAll(now time.Time) time.Time {
	next := now.Add(maxWait)
	for _, sn := range s.subnets {
		if sn.dead {
			continue
		}
		if n := sn.PD.Tick(now); n.Before(next) {
			next = n
		}
		sn.PD.CheckTimeouts(now)
		sn.MD.CheckTimeouts(now)
	}
	return next
}

func (s *Scheduler) reportLinkStatus() {
	var up1, up2 bool
	for _, sn := range s.subnets {
		switch sn.ID {
		case store.Subnet1:
			up1 = sn.LinkUp
		case store.Subnet2:
			up2 = sn.LinkUp
		}
	}
	s.ts.SetLinkStatus(up1, up2)
}

// checkFailover compares the write subnet AuthorizedWriter resolved last
// iteration against its current value, and logs the exact transition event
// spec §4.6 step 4 and S2 require when the previously-authorized subnet's
// link has dropped out from under it — verbatim from tau_ldLadder.c, so an
// operator watching the log sees the same line the original TAUL emits.
func (s *Scheduler) checkFailover(prevWriter *store.WriteSubnet) {
	cur := s.ts.AuthorizedWriter()
	if cur == *prevWriter {
		return
	}
	prevUp := false
	for _, sn := range s.subnets {
		if sn.ID == *prevWriter {
			prevUp = sn.LinkUp
		}
	}
	if !prevUp {
		switch *prevWriter {
		case store.Subnet1:
			s.log.Println("Subnet1 Link Down. Change Receive Subnet")
		case store.Subnet2:
			s.log.Println("Subnet2 Link Down. Change Receive Subnet")
		}
	}
	*prevWriter = cur
}

func clampWait(deadline, now time.Time) time.Duration {
	wait := deadline.Sub(now)
	if wait <= 0 {
		return time.Millisecond
	}
	if wait > maxWait {
		return maxWait
	}
	return wait
}
