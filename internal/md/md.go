// Package md implements the Message Data session (spec §4.5): the
// Notify/Request/Reply/ReplyQuery/Confirm state machines, session
// correlation by 128-bit UUID, reply fan-out counting against a caller's
// expected replier count, and confirm-timeout bookkeeping.
//
// Grounded on fixclient/fixapp.go's FromApp dispatch-by-message-type
// pattern (single entry point, switch on the wire type tag, delegate to a
// per-type handler) and its session map shape in tradestore.go
// (subscriptions map[string]*Subscription guarded by one mutex, LastUpdate
// bookkeeping) — generalized here from a symbol-keyed map to a
// uuid.UUID-keyed one holding MD session state instead of market-data
// subscriptions.
package md

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saelay/trdp-ladder/internal/audit"
	"github.com/saelay/trdp-ladder/internal/config"
	"github.com/saelay/trdp-ladder/internal/dataset"
	"github.com/saelay/trdp-ladder/internal/errs"
	"github.com/saelay/trdp-ladder/internal/frame"
	"github.com/saelay/trdp-ladder/internal/registry"
	"github.com/saelay/trdp-ladder/internal/transport"
	"github.com/saelay/trdp-ladder/internal/wire"
)

// Info is the spec §6.3 mdInfo tuple delivered alongside every MD callback:
// which comId/session/wire message the event belongs to, and the
// resultCode the application must honor before consuming payload (spec §7
// Propagation).
type Info struct {
	ComID      uint32
	SessionID  uuid.UUID
	MsgType    frame.MsgType
	ResultCode errs.ResultCode
}

// MdReceiver is the application hook invoked on every inbound MD event
// (spec §9 Design Notes: "the PD/MD callback fields become two narrow
// interfaces"). RecvConf delivers Mn/Mr arrivals, and replier-side confirm
// timeouts, to the replier identified by replierRef. CallConf delivers
// Mp/Mq arrivals, and caller-side reply timeouts, to the caller identified
// by callerRef.
type MdReceiver interface {
	RecvConf(replierRef registry.Handle, info Info, payload []byte)
	CallConf(callerRef registry.Handle, info Info, payload []byte)
}

// State is a session's position in its Mr/Mq/Mc or Mr/Mp state machine
// (spec §4.5).
type State uint8

const (
	StateWaitReply State = iota
	StateWaitConfirm
	StateDone
	StateTimedOut
)

// CallerSession tracks one outstanding Mr transaction from the requesting
// side: how many of NumRepliers have answered, and the deadline for the
// next expected event.
type CallerSession struct {
	ID               uuid.UUID
	ComID            uint32
	Schema           *dataset.Schema
	RepliesReceived  uint32
	ExpectedRepliers uint32
	ReplyDeadline    time.Time
	ConfirmTimeout   time.Duration
	DstIP            uint32
	State            State
	LastReplierIP    uint32
	CallerRef        registry.Handle
	Flags            config.TelegramFlags
}

// ReplierSession tracks one outstanding Mp/Mq transaction from the
// answering side, pending a Confirm.
type ReplierSession struct {
	ID              uuid.UUID
	ComID           uint32
	ConfirmDeadline time.Time
	CallerIP        uint32
	State           State
	ReplierRef      registry.Handle
	Flags           config.TelegramFlags
}

// Manager runs the MD session layer for one subnet's transport. Like
// internal/pd.Session, it owns no goroutine of its own — the scheduler
// drives Deliver and CheckTimeouts.
type Manager struct {
	reg   *registry.Registry
	cache *dataset.Cache
	tx    transport.Transport // UDP, always present
	tcpTx transport.Transport // optional, selected by config.FlagTCP (spec §4.5, §6.2)
	seq   uint32

	mu        sync.Mutex
	callers   map[uuid.UUID]*CallerSession
	repliers  map[uuid.UUID]*ReplierSession

	recv  MdReceiver
	audit *audit.Log

	log *log.Logger
}

// NewManager builds an MD session manager bound to one subnet's transport.
func NewManager(reg *registry.Registry, cache *dataset.Cache, tx transport.Transport, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		reg:      reg,
		cache:    cache,
		tx:       tx,
		callers:  make(map[uuid.UUID]*CallerSession),
		repliers: make(map[uuid.UUID]*ReplierSession),
		log:      logger,
	}
}

// SetReceiver registers the application's MdReceiver. Until called, timeouts
// are only logged and inbound MD events are not surfaced at all.
func (m *Manager) SetReceiver(r MdReceiver) { m.recv = r }

// SetAuditLog attaches an optional persistence sink; every session outcome
// is then recorded there in addition to its existing callback effects
// (SPEC_FULL.md "Persistence of PD/MD activity").
func (m *Manager) SetAuditLog(l *audit.Log) { m.audit = l }

// SetTCPTransport attaches the TCP sibling transport. Telegrams whose Flags
// carry config.FlagTCP send over it instead of the UDP transport every
// other telegram uses (spec §6.2: "MD uses 20550 over both UDP and TCP").
func (m *Manager) SetTCPTransport(tx transport.Transport) { m.tcpTx = tx }

// txFor picks the UDP or TCP transport for one telegram's Flags, falling
// back to UDP if FlagTCP is set but no TCP transport was ever attached.
func (m *Manager) txFor(flags config.TelegramFlags) transport.Transport {
	if flags&config.FlagTCP != 0 && m.tcpTx != nil {
		return m.tcpTx
	}
	return m.tx
}

// Notify sends a one-shot Mn frame with no session tracking (spec §4.5:
// Notify never expects a reply).
func (m *Manager) Notify(caller *registry.CallerTelegram, rec *wire.Record) error {
	payload, err := m.marshal(caller.Schema, rec)
	if err != nil {
		return errs.Wrap(errs.MarshallingErr, "md.Notify", err)
	}
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()
	h := frame.Header{SequenceNumber: seq, MsgType: frame.MsgMn, ComID: caller.ComID}
	return m.txFor(caller.Flags).Send(caller.DstIP, frame.Build(h, payload))
}

// Request sends an Mr frame and opens a CallerSession awaiting up to
// NumRepliers Mp/Mq frames correlated by the returned session id. callerRef
// is the registry handle the application registered this caller endpoint
// under, carried through to every CallConf invocation for this session so
// the application can find its way back to Reply()-shaped state.
func (m *Manager) Request(callerRef registry.Handle, caller *registry.CallerTelegram, rec *wire.Record) (uuid.UUID, error) {
	payload, err := m.marshal(caller.Schema, rec)
	if err != nil {
		return uuid.Nil, errs.Wrap(errs.MarshallingErr, "md.Request", err)
	}
	id := uuid.New()

	sess := &CallerSession{
		ID:               id,
		ComID:            caller.ComID,
		Schema:           caller.Schema,
		ExpectedRepliers: caller.NumRepliers,
		ReplyDeadline:    time.Now().Add(caller.ReplyTimeout),
		ConfirmTimeout:   caller.ConfirmTimeout,
		DstIP:            caller.DstIP,
		State:            StateWaitReply,
		CallerRef:        callerRef,
		Flags:            caller.Flags,
	}

	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.callers[id] = sess
	m.mu.Unlock()

	var sid [16]byte
	copy(sid[:], id[:])
	h := frame.Header{SequenceNumber: seq, MsgType: frame.MsgMr, ComID: caller.ComID, SessionID: sid}
	if err := m.txFor(caller.Flags).Send(caller.DstIP, frame.Build(h, payload)); err != nil {
		m.mu.Lock()
		delete(m.callers, id)
		m.mu.Unlock()
		return uuid.Nil, errs.Wrap(errs.SockErr, "md.Request", err)
	}
	return id, nil
}

// CallerSession returns the tracked session for id, if any is still live.
func (m *Manager) CallerSession(id uuid.UUID) (CallerSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.callers[id]
	if !ok {
		return CallerSession{}, false
	}
	return *s, true
}

// Deliver processes one inbound MD frame.
func (m *Manager) Deliver(pkt transport.Packet) error {
	h, payload, err := frame.Parse(pkt.Data)
	if err != nil {
		return errs.Wrap(errs.MarshallingErr, "md.Deliver", err)
	}

	switch h.MsgType {
	case frame.MsgMn:
		return m.deliverRequestLike(h, payload, pkt.SrcIP, false)
	case frame.MsgMr:
		return m.deliverRequestLike(h, payload, pkt.SrcIP, true)
	case frame.MsgMp, frame.MsgMq:
		return m.deliverReply(h, payload, pkt.SrcIP, h.MsgType == frame.MsgMq)
	case frame.MsgMc:
		return m.deliverConfirm(h)
	default:
		return fmt.Errorf("md: unexpected message type %s", h.MsgType)
	}
}

// deliverRequestLike handles an inbound Mn or Mr: route to the matching
// replier/listener (spec §4.3 search rule, generalized to MD's
// comId+mcastGroup+destUri key), and for Mr, open a ReplierSession awaiting
// the local Reply() call that will produce the eventual Mp/Mq/Mc exchange.
func (m *Manager) deliverRequestLike(h frame.Header, payload []byte, srcIP uint32, expectsReply bool) error {
	replierRef, t, ok := m.reg.MatchMDListener(h.ComID, 0, "")
	if !ok {
		return fmt.Errorf("md: no listener for comId %d", h.ComID)
	}
	if _, err := m.unmarshal(t.Schema, payload); err != nil {
		return errs.Wrap(errs.MarshallingErr, "md.deliverRequestLike", err)
	}

	var id uuid.UUID
	copy(id[:], h.SessionID[:])

	if expectsReply {
		m.mu.Lock()
		m.repliers[id] = &ReplierSession{
			ID:              id,
			ComID:           h.ComID,
			ConfirmDeadline: time.Now().Add(t.ConfirmTimeout),
			CallerIP:        srcIP,
			State:           StateWaitConfirm,
			ReplierRef:      replierRef,
			Flags:           t.Flags,
		}
		m.mu.Unlock()
	}

	if m.recv != nil {
		info := Info{ComID: h.ComID, SessionID: id, MsgType: h.MsgType, ResultCode: errs.NoErr}
		m.recv.RecvConf(replierRef, info, payload)
	}
	if m.audit != nil {
		result := "Mn"
		if expectsReply {
			result = "Mr"
		}
		if err := m.audit.RecordMDSession(id.String(), h.ComID, result, "received"); err != nil {
			m.log.Printf("md: comId %d audit record failed: %v", h.ComID, err)
		}
	}
	return nil
}

// Reply sends an Mp (final) or Mq (expects Confirm) frame correlated to an
// inbound Mr by session id.
func (m *Manager) Reply(id uuid.UUID, replier *registry.ReplierTelegram, rec *wire.Record, expectsConfirm bool) error {
	payload, err := m.marshal(replier.Schema, rec)
	if err != nil {
		return errs.Wrap(errs.MarshallingErr, "md.Reply", err)
	}
	m.mu.Lock()
	sess, ok := m.repliers[id]
	if !ok {
		m.mu.Unlock()
		return errs.New(errs.NoSessionErr, "md.Reply")
	}
	m.seq++
	seq := m.seq
	dstIP := sess.CallerIP
	flags := sess.Flags
	if !expectsConfirm {
		delete(m.repliers, id)
	}
	m.mu.Unlock()

	msgType := frame.MsgMp
	if expectsConfirm {
		msgType = frame.MsgMq
	}
	var sid [16]byte
	copy(sid[:], id[:])
	h := frame.Header{SequenceNumber: seq, MsgType: msgType, ComID: replier.ComID, SessionID: sid}
	return m.txFor(flags).Send(dstIP, frame.Build(h, payload))
}

func (m *Manager) deliverReply(h frame.Header, payload []byte, srcIP uint32, expectsConfirm bool) error {
	var id uuid.UUID
	copy(id[:], h.SessionID[:])

	m.mu.Lock()
	sess, ok := m.callers[id]
	if !ok {
		m.mu.Unlock()
		return errs.New(errs.NoSessionErr, "md.deliverReply")
	}
	if _, err := m.unmarshal(sess.Schema, payload); err != nil {
		m.mu.Unlock()
		return errs.Wrap(errs.MarshallingErr, "md.deliverReply", err)
	}
	sess.RepliesReceived++
	sess.LastReplierIP = srcIP
	done := sess.ExpectedRepliers != 0 && sess.RepliesReceived >= sess.ExpectedRepliers
	if done {
		sess.State = StateDone
		delete(m.callers, id)
	}
	callerRef := sess.CallerRef
	flags := sess.Flags
	m.mu.Unlock()

	if m.recv != nil {
		info := Info{ComID: h.ComID, SessionID: id, MsgType: h.MsgType, ResultCode: errs.NoErr}
		m.recv.CallConf(callerRef, info, payload)
	}
	if m.audit != nil {
		result := "Mp"
		if expectsConfirm {
			result = "Mq"
		}
		if err := m.audit.RecordMDSession(id.String(), h.ComID, result, "received"); err != nil {
			m.log.Printf("md: comId %d audit record failed: %v", h.ComID, err)
		}
	}

	if !expectsConfirm {
		return nil
	}
	return m.sendConfirm(id, h.ComID, srcIP, flags)
}

func (m *Manager) sendConfirm(id uuid.UUID, comID, dstIP uint32, flags config.TelegramFlags) error {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()
	var sid [16]byte
	copy(sid[:], id[:])
	h := frame.Header{SequenceNumber: seq, MsgType: frame.MsgMc, ComID: comID, SessionID: sid}
	return m.txFor(flags).Send(dstIP, frame.Build(h, nil))
}

func (m *Manager) deliverConfirm(h frame.Header) error {
	var id uuid.UUID
	copy(id[:], h.SessionID[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repliers[id]; !ok {
		return errs.New(errs.NoSessionErr, "md.deliverConfirm")
	}
	delete(m.repliers, id)
	return nil
}

type timedOutCaller struct {
	id        uuid.UUID
	comID     uint32
	callerRef registry.Handle
}

type timedOutReplier struct {
	id         uuid.UUID
	comID      uint32
	replierRef registry.Handle
}

// CheckTimeouts applies ReplyTimeoutErr to callers past their reply
// deadline and ConfirmTimeoutErr to repliers past their confirm deadline
// (spec §4.5), logging and discarding the stale session either way. Timeout
// callbacks fire after the session map lock is released, so an application
// callback that re-enters Request/Reply on the same Manager cannot deadlock
// against this method's own lock (mirrors internal/pd.Session.CheckTimeouts).
func (m *Manager) CheckTimeouts(now time.Time) {
	var callerTimeouts []timedOutCaller
	var replierTimeouts []timedOutReplier

	m.mu.Lock()
	for id, sess := range m.callers {
		if sess.State == StateWaitReply && now.After(sess.ReplyDeadline) {
			callerTimeouts = append(callerTimeouts, timedOutCaller{id: id, comID: sess.ComID, callerRef: sess.CallerRef})
			delete(m.callers, id)
		}
	}
	for id, sess := range m.repliers {
		if sess.State == StateWaitConfirm && now.After(sess.ConfirmDeadline) {
			replierTimeouts = append(replierTimeouts, timedOutReplier{id: id, comID: sess.ComID, replierRef: sess.ReplierRef})
			delete(m.repliers, id)
		}
	}
	m.mu.Unlock()

	for _, to := range callerTimeouts {
		m.log.Printf("md: session %s comId %d reply timeout", to.id, to.comID)
		if m.recv != nil {
			info := Info{ComID: to.comID, SessionID: to.id, MsgType: frame.MsgMr, ResultCode: errs.ReplyTimeoutErr}
			m.recv.CallConf(to.callerRef, info, nil)
		}
		if m.audit != nil {
			if err := m.audit.RecordMDSession(to.id.String(), to.comID, "Mr", "reply_timeout"); err != nil {
				m.log.Printf("md: comId %d audit record failed: %v", to.comID, err)
			}
		}
	}
	for _, to := range replierTimeouts {
		m.log.Printf("md: session %s comId %d confirm timeout", to.id, to.comID)
		if m.recv != nil {
			info := Info{ComID: to.comID, SessionID: to.id, MsgType: frame.MsgMq, ResultCode: errs.ConfirmTimeoutErr}
			m.recv.RecvConf(to.replierRef, info, nil)
		}
		if m.audit != nil {
			if err := m.audit.RecordMDSession(to.id.String(), to.comID, "Mq", "confirm_timeout"); err != nil {
				m.log.Printf("md: comId %d audit record failed: %v", to.comID, err)
			}
		}
	}
}

func (m *Manager) marshal(schema *dataset.Schema, rec *wire.Record) ([]byte, error) {
	if schema == nil {
		return nil, nil
	}
	bound, err := wire.MaxSize(schema)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, bound)
	n, err := wire.Marshal(m.cache, schema, rec, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (m *Manager) unmarshal(schema *dataset.Schema, payload []byte) (*wire.Record, error) {
	if schema == nil {
		return nil, nil
	}
	return wire.Unmarshal(m.cache, schema, payload)
}
