// Package pd implements the Process Data session (spec §4.1/§4.4): cyclic
// send of publisher telegrams, receipt and Traffic Store write-back of
// subscriber telegrams, pull-request/pull-reply handling, and the
// timeout-to-behavior policy.
//
// Grounded on fixclient/tradestore.go's subscription bookkeeping
// (LastUpdate/TotalUpdates fields, lock discipline, log.Printf-at-call-site
// error reporting) and fixclient/requests.go's cyclic send pattern
// (sendMarketDataRequestWithOptions building then transmitting a frame,
// rolling back local state if the send fails).
package pd

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/saelay/trdp-ladder/internal/audit"
	"github.com/saelay/trdp-ladder/internal/config"
	"github.com/saelay/trdp-ladder/internal/dataset"
	"github.com/saelay/trdp-ladder/internal/errs"
	"github.com/saelay/trdp-ladder/internal/frame"
	"github.com/saelay/trdp-ladder/internal/registry"
	"github.com/saelay/trdp-ladder/internal/store"
	"github.com/saelay/trdp-ladder/internal/transport"
	"github.com/saelay/trdp-ladder/internal/wire"
)

// PdReceiver is the application hook for inbound PD timeout transitions
// (spec §9 Design Notes: "the PD/MD callback fields become two narrow
// interfaces"). Timeout fires once per silence, the instant CheckTimeouts
// observes a subscriber past its deadline (spec §8.1 P5).
type PdReceiver interface {
	Timeout(userRef registry.Handle, comID uint32, resultCode errs.ResultCode)
}

// defaultSendBurst is the burst size of the limiter NewSession installs. That
// limiter's rate is rate.Inf, under which the burst is not enforced, so a
// Tick that finds many overdue publishers sends all of them; a cap applies
// only after SetSendRate.
const defaultSendBurst = 32

// Session runs one subnet's PD traffic: it owns no goroutine of its own —
// the scheduler (internal/sched) drives Tick and Deliver — matching spec
// §4.6's single-threaded multiplexing requirement.
type Session struct {
	subnet    store.WriteSubnet
	reg       *registry.Registry
	ts        *store.TrafficStore
	cache     *dataset.Cache
	tx        transport.Transport
	topoCount uint32
	seq       uint32
	limiter   *rate.Limiter
	recv      PdReceiver
	audit     *audit.Log

	log *log.Logger
}

// SetReceiver registers the application's PdReceiver. Until called, timeouts
// are logged but not otherwise surfaced — the same default behavior as
// before this hook existed.
func (s *Session) SetReceiver(r PdReceiver) { s.recv = r }

// SetAuditLog attaches an optional persistence sink; every subscriber
// arrival and timeout is then recorded there in addition to its existing
// Traffic Store/callback effects (SPEC_FULL.md "Persistence of PD/MD
// activity").
func (s *Session) SetAuditLog(l *audit.Log) { s.audit = l }

// NewSession builds a PD session bound to one subnet's transport. The
// session paces its own cyclic emission with a token bucket sized by
// SetSendRate; until that is called the bucket's rate is rate.Inf, so
// cyclic emission is unthrottled.
func NewSession(subnet store.WriteSubnet, reg *registry.Registry, ts *store.TrafficStore, cache *dataset.Cache, tx transport.Transport, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		subnet:  subnet,
		reg:     reg,
		ts:      ts,
		cache:   cache,
		tx:      tx,
		limiter: rate.NewLimiter(rate.Inf, defaultSendBurst),
		log:     logger,
	}
}

// SetSendRate caps cyclic PD emission to eventsPerSec with a burst of up to
// burst back-to-back sends, implementing the QoS-class pacing a
// ComParConfig entry calls for (spec §6.1 ComParConfig.qos). A denied send
// is skipped for that cycle: Tick still advances the telegram's
// NextCycleDeadline by one cycle, so the next attempt happens on schedule
// with the latest payload, collapsing any backlog per spec §5's
// lossy-PD-send back-pressure rule.
func (s *Session) SetSendRate(eventsPerSec float64, burst int) {
	s.limiter = rate.NewLimiter(rate.Limit(eventsPerSec), burst)
}

// SetTopoCount updates the topography counter stamped on every outbound
// frame (spec §6.2); 0 means "topography free", any other value enforces
// matching it on delivery.
func (s *Session) SetTopoCount(tc uint32) { s.topoCount = tc }

// Tick is called by the scheduler once per wakeup: every publisher and
// pull-requester whose deadline has passed is sent, and its deadline is
// advanced by one cycle. It returns the nearest future deadline across all
// of this session's cyclic telegrams, so the scheduler can size its next
// wait (spec §4.6 step 2).
func (s *Session) Tick(now time.Time) time.Time {
	next := now.Add(100 * time.Millisecond)

	s.reg.EachPublisher(func(_ registry.Handle, t *registry.PublishTelegram) {
		if now.Before(t.NextCycleDeadline) {
			if t.NextCycleDeadline.Before(next) {
				next = t.NextCycleDeadline
			}
			return
		}
		if s.limiter.AllowN(now, 1) {
			if err := s.sendPD(t); err != nil {
				s.log.Printf("pd: comId %d cyclic send failed: %v", t.ComID, err)
			}
		}
		t.NextCycleDeadline = now.Add(t.Cycle)
		if t.NextCycleDeadline.Before(next) {
			next = t.NextCycleDeadline
		}
	})

	s.reg.EachPullRequest(func(_ registry.Handle, t *registry.PullRequestTelegram) {
		if now.Before(t.NextRequestDeadline) {
			if t.NextRequestDeadline.Before(next) {
				next = t.NextRequestDeadline
			}
			return
		}
		if err := s.sendPullRequest(t); err != nil {
			s.log.Printf("pd: comId %d pull request failed: %v", t.RequestComID, err)
		}
		t.NextRequestDeadline = now.Add(t.Cycle)
		if t.NextRequestDeadline.Before(next) {
			next = t.NextRequestDeadline
		}
	})

	return next
}

// sendPD builds and transmits one cyclic publisher frame, reading its
// current payload straight out of the Traffic Store under lock.
func (s *Session) sendPD(t *registry.PublishTelegram) error {
	payload, err := s.readPayload(t.Schema, t.Offset, t.PayloadHostSize, t.PayloadWireSize, t.Flags)
	if err != nil {
		return err
	}
	s.seq++
	h := frame.Header{
		SequenceNumber: s.seq,
		MsgType:        frame.MsgPd,
		ComID:          t.ComID,
		TopoCount:      s.topoCount,
	}
	return s.tx.Send(t.DstIP, frame.Build(h, payload))
}

// sendPullRequest sends a Pr frame asking the remote publisher for an
// immediate PD reply, stamping the reply address so the remote knows where
// to Pp back to (spec §3.1 Pull).
func (s *Session) sendPullRequest(t *registry.PullRequestTelegram) error {
	s.seq++
	h := frame.Header{
		SequenceNumber: s.seq,
		MsgType:        frame.MsgPr,
		ComID:          t.RequestComID,
		TopoCount:      s.topoCount,
		ReplyComID:     t.ReplyComID,
		ReplyIPAddress: t.ReplyIP,
	}
	return s.tx.Send(t.DstIP, frame.Build(h, nil))
}

func (s *Session) readPayload(schema *dataset.Schema, offset, hostSize, wireSize uint32, flags config.TelegramFlags) ([]byte, error) {
	if flags&config.FlagMarshall == 0 {
		buf := make([]byte, hostSize)
		s.ts.Lock()
		s.ts.Read(offset, buf)
		s.ts.Unlock()
		return buf, nil
	}
	host := make([]byte, hostSize)
	s.ts.Lock()
	s.ts.Read(offset, host)
	s.ts.Unlock()
	rec, err := hostBytesToRecord(schema, host)
	if err != nil {
		return nil, err
	}
	wireBuf := make([]byte, wireSize)
	n, err := wire.Marshal(nil, schema, rec, wireBuf)
	if err != nil {
		return nil, err
	}
	return wireBuf[:n], nil
}

// Deliver processes one inbound frame received on this session's subnet. It
// applies the §4.3 search rule, enforces the authorized-writer rule for the
// Traffic Store (spec §4.1/§4.6 step 4), and updates subscriber bookkeeping.
func (s *Session) Deliver(pkt transport.Packet, dstIP uint32) error {
	h, payload, err := frame.Parse(pkt.Data)
	if err != nil {
		return fmt.Errorf("pd: malformed frame from %#x: %w", pkt.SrcIP, err)
	}
	if s.topoCount != 0 && h.TopoCount != s.topoCount {
		return fmt.Errorf("pd: comId %d topoCount %d does not match %d", h.ComID, h.TopoCount, s.topoCount)
	}

	switch h.MsgType {
	case frame.MsgPd, frame.MsgPp:
		return s.deliverPD(h, payload, pkt.SrcIP, dstIP)
	case frame.MsgPr:
		return s.deliverPullRequest(h, pkt.SrcIP)
	default:
		return fmt.Errorf("pd: unexpected message type %s on PD session", h.MsgType)
	}
}

func (s *Session) deliverPD(h frame.Header, payload []byte, srcIP, dstIP uint32) error {
	handle, t, ok := s.reg.MatchPD(h.ComID, srcIP, dstIP)
	if !ok {
		return fmt.Errorf("pd: no subscriber for comId %d src %#x dst %#x", h.ComID, srcIP, dstIP)
	}
	if s.ts.AuthorizedWriter() != s.subnet && s.ts.AuthorizedWriter() != store.SubnetAuto {
		// This subnet is not the current write authority; the frame is
		// still accepted for timeout bookkeeping but must not touch the
		// Traffic Store (spec §4.6 step 4 failover rule).
		s.reg.UpdateSubscriber(handle, func(sub *registry.SubscribeTelegram) {
			sub.LastRxTime = time.Now()
			sub.TimedOut = false
		})
		return nil
	}

	var host []byte
	if t.Flags&config.FlagMarshall != 0 {
		rec, err := wire.Unmarshal(nil, t.Schema, payload)
		if err != nil {
			return fmt.Errorf("pd: comId %d: %w", h.ComID, err)
		}
		host, err = recordToHostBytes(t.Schema, rec, t.PayloadHostSize)
		if err != nil {
			return fmt.Errorf("pd: comId %d: %w", h.ComID, err)
		}
	} else {
		host = payload
	}

	s.ts.Lock()
	s.ts.Write(t.OffsetInStore, host)
	s.ts.Unlock()

	s.reg.UpdateSubscriber(handle, func(sub *registry.SubscribeTelegram) {
		sub.LastRxTime = time.Now()
		sub.TimedOut = false
	})
	if s.audit != nil {
		if err := s.audit.RecordPDEvent(h.ComID, srcIP, dstIP, false); err != nil {
			s.log.Printf("pd: comId %d audit record failed: %v", h.ComID, err)
		}
	}
	return nil
}

func (s *Session) deliverPullRequest(h frame.Header, srcIP uint32) error {
	var matched *registry.PublishTelegram
	s.reg.EachPublisher(func(_ registry.Handle, t *registry.PublishTelegram) {
		if matched == nil && t.ComID == h.ComID {
			matched = t
		}
	})
	if matched == nil {
		return fmt.Errorf("pd: pull request for unknown comId %d", h.ComID)
	}
	payload, err := s.readPayload(matched.Schema, matched.Offset, matched.PayloadHostSize, matched.PayloadWireSize, matched.Flags)
	if err != nil {
		return err
	}
	s.seq++
	reply := frame.Header{
		SequenceNumber: s.seq,
		MsgType:        frame.MsgPp,
		ComID:          h.ReplyComID,
		TopoCount:      s.topoCount,
	}
	dst := h.ReplyIPAddress
	if dst == 0 {
		dst = srcIP
	}
	return s.tx.Send(dst, frame.Build(reply, payload))
}

// timedOutSubscriber is what CheckTimeouts carries out of its registry scan
// for a callback invocation after the registry's lock is released.
type timedOutSubscriber struct {
	userRef registry.Handle
	comID   uint32
	timeout time.Duration
	srcIP   uint32
	dstIP   uint32
}

// CheckTimeouts scans every subscriber and applies the §4.4 ToBehavior
// policy to any whose silence has exceeded Timeout; it is driven by the
// scheduler on the same cadence as Tick. Newly-timed-out subscribers are
// collected during the scan and reported through PdReceiver only after
// EachSubscriber's read lock has been released, so a receiver that calls
// back into the registry (e.g. Unsubscribe) cannot deadlock against it.
func (s *Session) CheckTimeouts(now time.Time) {
	var timedOut []timedOutSubscriber

	s.reg.EachSubscriber(func(_ registry.Handle, t *registry.SubscribeTelegram) {
		if t.TimedOut || t.Timeout == 0 {
			return
		}
		if now.Sub(t.LastRxTime) < t.Timeout {
			return
		}
		switch t.ToBehavior {
		case registry.ToBehaviorZero:
			s.ts.Lock()
			s.ts.Zero(t.OffsetInStore, t.PayloadHostSize)
			s.ts.Unlock()
		case registry.ToBehaviorKeep:
			// leave the last-known value in place
		}
		t.TimedOut = true
		timedOut = append(timedOut, timedOutSubscriber{
			userRef: t.UserRef, comID: t.ComID, timeout: t.Timeout,
			srcIP: t.SrcIPFilter1, dstIP: t.DstIP,
		})
	})

	for _, to := range timedOut {
		s.log.Printf("pd: comId %d timed out after %s", to.comID, to.timeout)
		if s.recv != nil {
			s.recv.Timeout(to.userRef, to.comID, errs.TimeoutErr)
		}
		if s.audit != nil {
			if err := s.audit.RecordPDEvent(to.comID, to.srcIP, to.dstIP, true); err != nil {
				s.log.Printf("pd: comId %d audit record failed: %v", to.comID, err)
			}
		}
	}
}

// hostBytesToRecord/recordToHostBytes bridge the Traffic Store's buffer and
// the wire package's *Record representation. A telegram with FlagMarshall
// set keeps its Traffic Store slot in the same packed big-endian layout
// Marshal/Unmarshal produce for the wire, so the two directions reuse those
// same functions; telegrams without FlagMarshall never call these two
// functions and copy their raw application buffer straight through instead.
func hostBytesToRecord(schema *dataset.Schema, host []byte) (*wire.Record, error) {
	return wire.Unmarshal(nil, schema, host)
}

func recordToHostBytes(schema *dataset.Schema, rec *wire.Record, hostSize uint32) ([]byte, error) {
	buf := make([]byte, hostSize)
	n, err := wire.Marshal(nil, schema, rec, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
