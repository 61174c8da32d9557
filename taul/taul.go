// Package taul is the thin façade of spec §4.7: it turns application calls
// into registry mutations (PD) or immediate socket sends (MD), validates
// parameters, and otherwise never touches I/O itself — the scheduler
// (internal/sched) is the only goroutine that ever blocks on a socket.
//
// Grounded on fixclient.FixApp's public surface (NewFixApp/OnLogon-style
// lifecycle, Config struct, public methods that validate then delegate to
// TradeStore/builder) — generalized from one FIX session's lifecycle to the
// Ladder runtime's Init/Terminate plus the five PD and five MD operations of
// spec §6.3.
package taul

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/saelay/trdp-ladder/internal/audit"
	"github.com/saelay/trdp-ladder/internal/config"
	"github.com/saelay/trdp-ladder/internal/dataset"
	"github.com/saelay/trdp-ladder/internal/errs"
	"github.com/saelay/trdp-ladder/internal/frame"
	"github.com/saelay/trdp-ladder/internal/md"
	"github.com/saelay/trdp-ladder/internal/pd"
	"github.com/saelay/trdp-ladder/internal/registry"
	"github.com/saelay/trdp-ladder/internal/sched"
	"github.com/saelay/trdp-ladder/internal/store"
	"github.com/saelay/trdp-ladder/internal/transport"
	"github.com/saelay/trdp-ladder/internal/wire"
)

// DebugCategory mirrors the DebugCb callback tuple's category (spec §6.3).
type DebugCategory uint8

const (
	CategoryError DebugCategory = iota
	CategoryWarn
	CategoryInfo
	CategoryDbg
)

// DebugCb receives every diagnostic line the runtime would otherwise send
// to its default logger.
type DebugCb func(category DebugCategory, timestamp time.Time, file string, line int, msg string)

// RecvConfCb is invoked for every inbound Mn/Mr delivered to a local
// replier, and once more with ConfirmTimeoutErr if the Mc never arrives
// (spec §6.3).
type RecvConfCb func(replierRef registry.Handle, sessionID uuid.UUID, comID uint32, resultCode errs.ResultCode, payload []byte)

// CallConfCb is invoked for every inbound Mp/Mq delivered to a local
// caller, and once more with ReplyTimeoutErr if the session times out
// instead (spec §6.3).
type CallConfCb func(callerRef registry.Handle, sessionID uuid.UUID, comID uint32, resultCode errs.ResultCode, payload []byte)

// PdTimeoutCb is invoked the instant a subscriber's silence passes its
// configured timeout (spec §6.3, §8.1 P5).
type PdTimeoutCb func(userRef registry.Handle, comID uint32, resultCode errs.ResultCode)

// mdReceiverAdapter lets Session satisfy internal/md.MdReceiver by
// forwarding to whatever RecvConfCb/CallConfCb the application last set,
// looked up at call time so SetMdCallbacks can be called after Init.
type mdReceiverAdapter struct{ s *Session }

func (a mdReceiverAdapter) RecvConf(replierRef registry.Handle, info md.Info, payload []byte) {
	if cb := a.s.recvConfCb; cb != nil {
		cb(replierRef, info.SessionID, info.ComID, info.ResultCode, payload)
	}
}

func (a mdReceiverAdapter) CallConf(callerRef registry.Handle, info md.Info, payload []byte) {
	if cb := a.s.callConfCb; cb != nil {
		cb(callerRef, info.SessionID, info.ComID, info.ResultCode, payload)
	}
}

// pdReceiverAdapter lets Session satisfy internal/pd.PdReceiver the same way.
type pdReceiverAdapter struct{ s *Session }

func (a pdReceiverAdapter) Timeout(userRef registry.Handle, comID uint32, resultCode errs.ResultCode) {
	if cb := a.s.pdTimeoutCb; cb != nil {
		cb(userRef, comID, resultCode)
	}
}

// subnetRuntime bundles one InterfaceConfig's live transports and sessions.
type subnetRuntime struct {
	id   store.WriteSubnet
	pdTx *transport.UDPTransport
	mdTx *transport.UDPTransport
	// mdTxTCP is the TCP sibling of mdTx, opened only for interfaces whose
	// exchange list names at least one MD telegram with config.FlagTCP set
	// (spec §6.2: "MD uses 20550 over both UDP and TCP"). Nil otherwise.
	mdTxTCP *transport.TCPTransport
	pd      *pd.Session
	md      *md.Manager
}

// Session is one initialized Ladder runtime instance (spec §4.7: "TAUL
// façade"). The zero value is not usable; construct with Init.
type Session struct {
	cfg     *config.LdConfig
	store   *store.TrafficStore
	reg     *registry.Registry
	cache   *dataset.Cache
	comIDDs map[uint32]uint32 // comId -> datasetId, from ComIdDatasetMap

	subnets []*subnetRuntime
	sched   *sched.Scheduler

	cancel  context.CancelFunc
	runDone chan error

	offsetMu sync.Mutex
	nextFree uint32

	recvConfCb  RecvConfCb
	callConfCb  CallConfCb
	pdTimeoutCb PdTimeoutCb

	audit *audit.Log

	log *log.Logger
}

// Init parses ldConfig, builds the dataset cache, opens one UDP transport
// pair per InterfaceConfig, instantiates every ExchgPar entry against the
// registry, and starts the scheduler. A configuration error here is fatal
// and nothing partially configured is kept (spec §7 Fatal conditions).
func Init(ldConfig *config.LdConfig, debugCb DebugCb) (*Session, error) {
	cache, err := dataset.NewCache(ldConfig.Datasets)
	if err != nil {
		return nil, errs.Wrap(errs.ParamErr, "taul.Init", err)
	}

	comIDDs := make(map[uint32]uint32, len(ldConfig.ComIdMap))
	for _, m := range ldConfig.ComIdMap {
		comIDDs[m.ComID] = m.DatasetID
	}

	s := &Session{
		cfg:     ldConfig,
		store:   store.New(),
		reg:     registry.New(),
		cache:   cache,
		comIDDs: comIDDs,
		log:     newDebugLogger(debugCb),
	}

	if ldConfig.AuditDBPath != "" {
		auditLog, err := audit.Open(ldConfig.AuditDBPath)
		if err != nil {
			return nil, errs.Wrap(errs.ParamErr, "taul.Init", err)
		}
		s.audit = auditLog
	}

	for _, ifc := range ldConfig.Interfaces {
		subnetID := networkIDToWriteSubnet(ifc.NetworkID)
		pdTx, err := transport.ListenUDP(ifc.HostIP, frame.PDPort)
		if err != nil {
			if cerr := s.closeTransports(); cerr != nil {
				s.log.Printf("taul: cleanup after failed Init: %v", cerr)
			}
			s.closeAudit()
			return nil, errs.Wrap(errs.SockErr, "taul.Init", err)
		}
		mdTx, err := transport.ListenUDP(ifc.HostIP, frame.MDPort)
		if err != nil {
			pdTx.Close()
			if cerr := s.closeTransports(); cerr != nil {
				s.log.Printf("taul: cleanup after failed Init: %v", cerr)
			}
			s.closeAudit()
			return nil, errs.Wrap(errs.SockErr, "taul.Init", err)
		}
		sr := &subnetRuntime{
			id:   subnetID,
			pdTx: pdTx,
			mdTx: mdTx,
			pd:   pd.NewSession(subnetID, s.reg, s.store, s.cache, pdTx, s.log),
			md:   md.NewManager(s.reg, s.cache, mdTx, s.log),
		}
		if interfaceWantsMDTCP(ldConfig, ifc.Name) {
			mdTxTCP, err := transport.ListenTCP(ifc.HostIP, frame.MDPort)
			if err != nil {
				pdTx.Close()
				mdTx.Close()
				if cerr := s.closeTransports(); cerr != nil {
					s.log.Printf("taul: cleanup after failed Init: %v", cerr)
				}
				s.closeAudit()
				return nil, errs.Wrap(errs.SockErr, "taul.Init", err)
			}
			sr.mdTxTCP = mdTxTCP
			sr.md.SetTCPTransport(mdTxTCP)
		}
		sr.pd.SetReceiver(pdReceiverAdapter{s: s})
		sr.md.SetReceiver(mdReceiverAdapter{s: s})
		if s.audit != nil {
			sr.pd.SetAuditLog(s.audit)
			sr.md.SetAuditLog(s.audit)
		}
		s.subnets = append(s.subnets, sr)
	}

	if err := s.instantiateExchange(); err != nil {
		if cerr := s.closeTransports(); cerr != nil {
			s.log.Printf("taul: cleanup after failed Init: %v", cerr)
		}
		s.closeAudit()
		return nil, err
	}

	schedSubnets := make([]*sched.Subnet, len(s.subnets))
	for i, sr := range s.subnets {
		schedSub := &sched.Subnet{ID: sr.id, PDTx: sr.pdTx, MDTx: sr.mdTx, PD: sr.pd, MD: sr.md}
		if sr.mdTxTCP != nil {
			schedSub.MDTxTCP = sr.mdTxTCP
		}
		schedSubnets[i] = schedSub
	}
	s.sched = sched.New(s.store, schedSubnets, s.log)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runDone = make(chan error, 1)
	go func() { s.runDone <- s.sched.Run(ctx) }()

	return s, nil
}

// instantiateExchange walks ldConfig.Exchange, registering a publisher,
// subscriber, pull-requester, caller, or replier per entry (spec §6.1:
// "distinguished by presence of pPdPar vs pMdPar and source/destination
// cardinality" — concretely, PdPar.Kind / ExchgPar.IsCaller here).
func (s *Session) instantiateExchange() error {
	for _, ex := range s.cfg.Exchange {
		switch {
		case ex.PdPar != nil:
			if err := s.instantiatePD(ex.PdPar); err != nil {
				return err
			}
		case ex.MdPar != nil && ex.IsCaller:
			s.registerCaller(ex.MdPar)
		case ex.MdPar != nil:
			s.registerReplier(ex.MdPar)
		}
	}
	return nil
}

func (s *Session) instantiatePD(p *config.PdParameters) error {
	switch p.Kind {
	case config.PdPublisher:
		_, err := s.registerPublisher(p)
		return err
	case config.PdSubscriber:
		_, err := s.registerSubscriber(p)
		return err
	case config.PdPullRequest:
		s.registerPullRequest(p)
		return nil
	default:
		return errs.New(errs.ParamErr, "taul.instantiatePD")
	}
}

func (s *Session) resolveSchema(datasetID uint32) (*dataset.Schema, error) {
	if datasetID == 0 {
		return nil, nil
	}
	schema, ok := s.cache.Lookup(datasetID)
	if !ok {
		return nil, errs.New(errs.UnknownDatasetErr, "taul.resolveSchema")
	}
	return schema, nil
}

// allocOffset bump-allocates hostSize bytes in the Traffic Store. The
// Ladder's telegram set is static after Init, so a bump allocator with no
// free-list is sufficient — the store is never repacked at runtime.
func (s *Session) allocOffset(hostSize uint32) (uint32, error) {
	s.offsetMu.Lock()
	defer s.offsetMu.Unlock()
	if err := store.CheckBounds(s.nextFree, hostSize); err != nil {
		return 0, errs.Wrap(errs.MemErr, "taul.allocOffset", err)
	}
	off := s.nextFree
	s.nextFree += hostSize
	return off, nil
}

func (s *Session) registerPublisher(p *config.PdParameters) (registry.Handle, error) {
	schema, err := s.resolveSchema(p.DatasetID)
	if err != nil {
		return registry.NoHandle, err
	}
	hostSize, wireSize, err := payloadSizes(schema, p.Flags)
	if err != nil {
		return registry.NoHandle, err
	}
	offset := p.OffsetInStore
	if offset == 0 {
		offset, err = s.allocOffset(hostSize)
		if err != nil {
			return registry.NoHandle, err
		}
	}
	h, err := s.reg.Publish(&registry.PublishTelegram{
		ComID:           p.ComID,
		SrcIP:           p.SrcIP,
		DstIP:           p.DstIP,
		Cycle:           time.Duration(p.CycleMicros) * time.Microsecond,
		RedundancyGroup: p.RedundancyGroup,
		Flags:           p.Flags,
		Schema:          schema,
		PayloadHostSize: hostSize,
		PayloadWireSize: wireSize,
		Offset:          offset,
	})
	if err != nil {
		return registry.NoHandle, errs.Wrap(errs.ParamErr, "taul.Publish", err)
	}
	return h, nil
}

func (s *Session) registerSubscriber(p *config.PdParameters) (registry.Handle, error) {
	schema, err := s.resolveSchema(p.DatasetID)
	if err != nil {
		return registry.NoHandle, err
	}
	hostSize, _, err := payloadSizes(schema, p.Flags)
	if err != nil {
		return registry.NoHandle, err
	}
	offset := p.OffsetInStore
	if offset == 0 {
		offset, err = s.allocOffset(hostSize)
		if err != nil {
			return registry.NoHandle, err
		}
	}
	toBehavior := registry.ToBehaviorZero
	if p.ToBehaviorKeep {
		toBehavior = registry.ToBehaviorKeep
	}
	h, err := s.reg.Subscribe(&registry.SubscribeTelegram{
		ComID:           p.ComID,
		SrcIPFilter1:    p.SrcIP,
		SrcIPFilter2:    p.SrcIPFilter2,
		DstIP:           p.DstIP,
		Timeout:         time.Duration(p.TimeoutMicros) * time.Microsecond,
		ToBehavior:      toBehavior,
		OffsetInStore:   offset,
		Schema:          schema,
		PayloadHostSize: hostSize,
		Flags:           p.Flags,
	})
	if err != nil {
		return registry.NoHandle, errs.Wrap(errs.ParamErr, "taul.Subscribe", err)
	}
	return h, nil
}

func (s *Session) registerPullRequest(p *config.PdParameters) registry.Handle {
	return s.reg.PDRequest(&registry.PullRequestTelegram{
		RequestComID:    p.ComID,
		ReplyComID:      p.ReplyComID,
		SrcIP:           p.SrcIP,
		DstIP:           p.DstIP,
		ReplyIP:         p.ReplyIP,
		Cycle:           time.Duration(p.CycleMicros) * time.Microsecond,
		Flags:           p.Flags,
		RepublishOffset: p.RepublishOffset,
	})
}

func (s *Session) registerCaller(p *config.MdParameters) registry.Handle {
	schema, _ := s.resolveSchema(p.DatasetID)
	return s.reg.RegisterCaller(&registry.CallerTelegram{
		ComID:          p.ComID,
		SrcURI:         p.SrcURI,
		DstURI:         p.DstURI,
		DstIP:          p.DstIP,
		Schema:         schema,
		ReplyTimeout:   time.Duration(p.ReplyTimeout) * time.Microsecond,
		ConfirmTimeout: time.Duration(p.ConfirmTimeout) * time.Microsecond,
		ConnectTimeout: time.Duration(p.ConnectTimeout) * time.Microsecond,
		Flags:          p.Flags,
		NumRepliers:    p.NumRepliers,
	})
}

func (s *Session) registerReplier(p *config.MdParameters) registry.Handle {
	schema, _ := s.resolveSchema(p.DatasetID)
	return s.reg.RegisterReplier(&registry.ReplierTelegram{
		ComID:          p.ComID,
		SrcURI:         p.SrcURI,
		DstURI:         p.DstURI,
		Schema:         schema,
		ReplyTimeout:   time.Duration(p.ReplyTimeout) * time.Microsecond,
		ConfirmTimeout: time.Duration(p.ConfirmTimeout) * time.Microsecond,
	})
}

func payloadSizes(schema *dataset.Schema, flags config.TelegramFlags) (hostSize, wireSize uint32, err error) {
	if schema == nil || flags&config.FlagMarshall == 0 {
		return 0, 0, nil
	}
	bound, err := wire.MaxSize(schema)
	if err != nil {
		return 0, 0, errs.Wrap(errs.MarshallingErr, "taul.payloadSizes", err)
	}
	return uint32(bound), uint32(bound), nil
}

func networkIDToWriteSubnet(id config.NetworkID) store.WriteSubnet {
	switch id {
	case config.Subnet1:
		return store.Subnet1
	case config.Subnet2:
		return store.Subnet2
	default:
		return store.SubnetAuto
	}
}

// interfaceWantsMDTCP reports whether ifcName's exchange list names at least
// one MD telegram with config.FlagTCP set, so Init only pays for a TCP
// listener on interfaces that actually use it.
func interfaceWantsMDTCP(ldConfig *config.LdConfig, ifcName string) bool {
	for _, ex := range ldConfig.Exchange {
		if ex.InterfaceName != ifcName || ex.MdPar == nil {
			continue
		}
		if ex.MdPar.Flags&config.FlagTCP != 0 {
			return true
		}
	}
	return false
}

func newDebugLogger(cb DebugCb) *log.Logger {
	if cb == nil {
		return log.Default()
	}
	return log.New(callbackWriter{cb: cb}, "", 0)
}

// callbackWriter adapts a DebugCb into an io.Writer so the rest of the
// runtime can keep writing through a plain *log.Logger regardless of
// whether the application supplied a callback (spec §6.3 DebugCb tuple).
type callbackWriter struct{ cb DebugCb }

func (w callbackWriter) Write(p []byte) (int, error) {
	w.cb(CategoryInfo, time.Now(), "", 0, string(p))
	return len(p), nil
}

// closeAudit closes the audit log, if one was opened, logging any error.
func (s *Session) closeAudit() {
	if s.audit == nil {
		return
	}
	if err := s.audit.Close(); err != nil {
		s.log.Printf("taul: audit close: %v", err)
	}
}

// closeTransports closes every subnet's sockets concurrently — with the
// scheduler now a single goroutine reading both subnets (internal/sched),
// Terminate must not wait on one subnet's Close before starting the next,
// or a slow/blocked socket on subnet 1 would delay subnet 2's shutdown.
// errgroup supervises the fan-out the way estuary-flow's proxy runtime
// supervises its worker set, surfacing the first Close error if any.
func (s *Session) closeTransports() error {
	var g errgroup.Group
	for _, sr := range s.subnets {
		sr := sr
		g.Go(func() error {
			pdErr := sr.pdTx.Close()
			mdErr := sr.mdTx.Close()
			var tcpErr error
			if sr.mdTxTCP != nil {
				tcpErr = sr.mdTxTCP.Close()
			}
			if pdErr != nil {
				return pdErr
			}
			if mdErr != nil {
				return mdErr
			}
			return tcpErr
		})
	}
	return g.Wait()
}

// Terminate stops the scheduler and releases every socket. It blocks until
// the scheduler loop has observably exited.
func (s *Session) Terminate() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.closeTransports()
	if s.runDone != nil {
		<-s.runDone
	}
	s.closeAudit()
	return err
}

// LockStore/UnlockStore expose the Traffic Store's single mutex directly to
// the application (spec §6.3).
func (s *Session) LockStore()   { s.store.Lock() }
func (s *Session) UnlockStore() { s.store.Unlock() }

// SetWriteSubnet/GetWriteSubnet control which subnet's inbound PD may
// update the Traffic Store (spec §6.3, §4.1). GetWriteSubnet returns the
// selection last set (SubnetAuto by default), not its link-status resolution.
func (s *Session) SetWriteSubnet(id store.WriteSubnet) { s.store.SetWriteSubnet(id) }
func (s *Session) GetWriteSubnet() store.WriteSubnet   { return s.store.GetWriteSubnet() }

// SetMdCallbacks registers the application's recvConf/callConf hooks (spec
// §6.3). Both subnets' MD managers were already wired to forward through
// Session at Init, so this may be called any time after Init, including
// from within a callback.
func (s *Session) SetMdCallbacks(recvConf RecvConfCb, callConf CallConfCb) {
	s.recvConfCb = recvConf
	s.callConfCb = callConf
}

// SetPdTimeoutCb registers the application's subscriber-timeout hook (spec
// §6.3, §8.1 P5).
func (s *Session) SetPdTimeoutCb(cb PdTimeoutCb) { s.pdTimeoutCb = cb }

// Publish registers a new cyclic publisher at runtime, beyond what Init
// configured from ExchgPar (spec §6.3 publish).
func (s *Session) Publish(p *config.PdParameters) (registry.Handle, error) {
	if p == nil || p.ComID == 0 {
		return registry.NoHandle, errs.New(errs.ParamErr, "taul.Publish")
	}
	return s.registerPublisher(p)
}

// Unpublish removes a publisher (spec §6.3 unpublish; §8.1 P4 idempotence).
func (s *Session) Unpublish(h registry.Handle) error {
	if !s.reg.Unpublish(h) {
		return errs.New(errs.NoPubErr, "taul.Unpublish")
	}
	return nil
}

// Subscribe registers a new subscription at runtime (spec §6.3 subscribe).
func (s *Session) Subscribe(p *config.PdParameters) (registry.Handle, error) {
	if p == nil || p.ComID == 0 {
		return registry.NoHandle, errs.New(errs.ParamErr, "taul.Subscribe")
	}
	return s.registerSubscriber(p)
}

// Unsubscribe removes a subscription (spec §6.3 unsubscribe; §8.1 P4).
func (s *Session) Unsubscribe(h registry.Handle) error {
	if !s.reg.Unsubscribe(h) {
		return errs.New(errs.NoSubErr, "taul.Unsubscribe")
	}
	return nil
}

// PDRequest registers a new pull-request telegram (spec §6.3 pdRequest).
func (s *Session) PDRequest(p *config.PdParameters) (registry.Handle, error) {
	if p == nil || p.ComID == 0 {
		return registry.NoHandle, errs.New(errs.ParamErr, "taul.PDRequest")
	}
	return s.registerPullRequest(p), nil
}

// Notify sends a one-shot Mn frame with no session tracking (spec §6.3
// notify).
func (s *Session) Notify(callerRef registry.Handle, rec *wire.Record) error {
	caller, ok := s.reg.Caller(callerRef)
	if !ok {
		return errs.New(errs.NoSessionErr, "taul.Notify")
	}
	sr := s.subnetFor(caller.DstIP)
	if err := sr.md.Notify(caller, rec); err != nil {
		return errs.Wrap(errs.SockErr, "taul.Notify", err)
	}
	return nil
}

// Request sends an Mr frame and opens a session awaiting up to
// caller.NumRepliers replies (spec §6.3 request).
func (s *Session) Request(callerRef registry.Handle, rec *wire.Record) (uuid.UUID, error) {
	caller, ok := s.reg.Caller(callerRef)
	if !ok {
		return uuid.Nil, errs.New(errs.NoSessionErr, "taul.Request")
	}
	sr := s.subnetFor(caller.DstIP)
	id, err := sr.md.Request(callerRef, caller, rec)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Reply sends an Mp (final) or Mq (expects Confirm) frame for sessionRef,
// previously surfaced to the application via RecvConfCb (spec §6.3 reply).
func (s *Session) Reply(replierRef registry.Handle, sessionRef uuid.UUID, rec *wire.Record, expectsConfirm bool) error {
	replier, ok := s.reg.Replier(replierRef)
	if !ok {
		return errs.New(errs.NoSessionErr, "taul.Reply")
	}
	var lastErr error
	for _, sr := range s.subnets {
		if err := sr.md.Reply(sessionRef, replier, rec, expectsConfirm); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return errs.Wrap(errs.SockErr, "taul.Reply", lastErr)
	}
	return errs.New(errs.NoSessionErr, "taul.Reply")
}

// AddListener registers a local replier endpoint. Per spec §7 "Listener
// add: failure on subnet 2 after success on subnet 1 rolls back subnet 1's
// listener" — here the registry itself is subnet-agnostic (one replier
// entry serves every subnet's MD manager via MatchMDListener), so there is
// a single registration to roll back, not one per subnet.
func (s *Session) AddListener(p *config.MdParameters) (registry.Handle, error) {
	if p == nil || p.ComID == 0 {
		return registry.NoHandle, errs.New(errs.ParamErr, "taul.AddListener")
	}
	return s.registerReplier(p), nil
}

// RemoveListener unregisters a replier endpoint (spec §6.3 removeListener).
func (s *Session) RemoveListener(h registry.Handle) error {
	if !s.reg.RemoveReplier(h) {
		return errs.New(errs.NoSessionErr, "taul.RemoveListener")
	}
	return nil
}

func (s *Session) subnetFor(dstIP uint32) *subnetRuntime {
	// MD calls through the façade go out on the first configured subnet
	// only, whether or not its link is up; callers that care about a
	// specific wire can bypass the façade and use internal/md directly.
	if len(s.subnets) == 0 {
		return &subnetRuntime{}
	}
	return s.subnets[0]
}
