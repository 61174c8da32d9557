package registry

import (
	"fmt"
	"time"

	"github.com/saelay/trdp-ladder/internal/config"
	"github.com/saelay/trdp-ladder/internal/dataset"
	"github.com/saelay/trdp-ladder/internal/store"
)

// ToBehavior is the subscriber timeout policy of spec §3.1.
type ToBehavior uint8

const (
	ToBehaviorZero ToBehavior = iota
	ToBehaviorKeep
)

// BroadcastSentinel is the IPv4 broadcast address. Per spec §9 Open
// Questions, this implementation normalizes it to "no filter" everywhere a
// srcIP/dstIP filter is evaluated, the same as IP 0 — a single, documented
// policy rather than the source's inconsistent mix of treatments.
const BroadcastSentinel uint32 = 0xFFFFFFFF

// PublishTelegram is an outbound cyclic PD telegram (spec §3.1).
type PublishTelegram struct {
	ComID           uint32
	SrcIP           uint32
	DstIP           uint32
	Cycle           time.Duration
	RedundancyGroup uint32
	Flags           config.TelegramFlags
	Schema          *dataset.Schema
	PayloadHostSize uint32
	PayloadWireSize uint32
	Offset          uint32 // where the payload lives in the Traffic Store

	NextCycleDeadline time.Time
}

// SubscribeTelegram is an inbound PD subscription (spec §3.1).
type SubscribeTelegram struct {
	ComID         uint32
	SrcIPFilter1  uint32
	SrcIPFilter2  uint32
	DstIP         uint32
	Timeout       time.Duration
	ToBehavior    ToBehavior
	OffsetInStore uint32
	Schema        *dataset.Schema
	PayloadHostSize uint32
	Flags         config.TelegramFlags

	LastRxTime   time.Time
	TimedOut     bool // true once the §4.4 TIMEOUT has fired for the current silence
	UserRef      Handle
}

// PullRequestTelegram cyclically pulls a publisher (spec §3.1).
type PullRequestTelegram struct {
	RequestComID    uint32
	ReplyComID      uint32
	SrcIP           uint32
	DstIP           uint32
	ReplyIP         uint32
	Cycle           time.Duration
	Flags           config.TelegramFlags
	RepublishOffset *uint32 // SPEC_FULL §3 item 5

	NextRequestDeadline time.Time
}

// CallerTelegram is a local MD caller endpoint (spec §3.1).
type CallerTelegram struct {
	ComID          uint32
	SrcURI         string
	DstURI         string
	DstIP          uint32
	Schema         *dataset.Schema
	ReplyTimeout   time.Duration
	ConfirmTimeout time.Duration
	ConnectTimeout time.Duration
	Flags          config.TelegramFlags
	NumRepliers    uint32

	LastSessionID [16]byte
}

// ReplierTelegram is a local MD replier endpoint (spec §3.1).
type ReplierTelegram struct {
	ComID          uint32
	SrcURI         string
	DstURI         string
	McastGroup     uint32
	Schema         *dataset.Schema
	ReplyTimeout   time.Duration
	ConfirmTimeout time.Duration
	Flags          config.TelegramFlags

	ListenerHandle Handle
	UserRef        Handle
}

func normalizeFilter(ip uint32) uint32 {
	if ip == BroadcastSentinel {
		return 0
	}
	return ip
}

func ipMatches(filter, actual uint32) bool {
	f := normalizeFilter(filter)
	return f == 0 || f == actual
}

// Registry owns every telegram record and its embedded payload buffer, plus
// listener routing tables, under per-list mutexes (spec §4.3).
type Registry struct {
	publishers    *slotList[*PublishTelegram]
	subscribers   *slotList[*SubscribeTelegram]
	pullRequests  *slotList[*PullRequestTelegram]
	callers       *slotList[*CallerTelegram]
	repliers      *slotList[*ReplierTelegram]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		publishers:   newSlotList[*PublishTelegram](),
		subscribers:  newSlotList[*SubscribeTelegram](),
		pullRequests: newSlotList[*PullRequestTelegram](),
		callers:      newSlotList[*CallerTelegram](),
		repliers:     newSlotList[*ReplierTelegram](),
	}
}

// Publish registers a new outbound PD telegram, validating the payload fits
// the Traffic Store at Offset (spec §4.1 Failure: bounds enforced by the
// registry at publish time).
func (r *Registry) Publish(t *PublishTelegram) (Handle, error) {
	if err := store.CheckBounds(t.Offset, t.PayloadHostSize); err != nil {
		return NoHandle, err
	}
	if t.Flags&config.FlagMarshall != 0 && t.Schema == nil {
		return NoHandle, fmt.Errorf("registry: publish comId %d: MARSHALL flag set but no dataset schema resolved", t.ComID)
	}
	t.NextCycleDeadline = time.Now().Add(t.Cycle)
	return r.publishers.add(t), nil
}

// Unpublish removes a publisher, clearing its buffer reference (spec §3.1:
// "buffer cleared on unpublish"). Idempotent failure: a second call returns
// false (spec §8.1 P4 pattern, mirrored for every list).
func (r *Registry) Unpublish(h Handle) bool {
	return r.publishers.remove(h)
}

// Subscribe registers a new inbound PD subscription.
func (r *Registry) Subscribe(t *SubscribeTelegram) (Handle, error) {
	if err := store.CheckBounds(t.OffsetInStore, t.PayloadHostSize); err != nil {
		return NoHandle, err
	}
	if t.Flags&config.FlagMarshall != 0 && t.Schema == nil {
		return NoHandle, fmt.Errorf("registry: subscribe comId %d: MARSHALL flag set but no dataset schema resolved", t.ComID)
	}
	t.LastRxTime = time.Now()
	return r.subscribers.add(t), nil
}

// Unsubscribe removes a subscription (spec §8.1 P4: idempotence contract).
func (r *Registry) Unsubscribe(h Handle) bool {
	return r.subscribers.remove(h)
}

// PDRequest registers a new pull-request telegram.
func (r *Registry) PDRequest(t *PullRequestTelegram) Handle {
	t.NextRequestDeadline = time.Now().Add(t.Cycle)
	return r.pullRequests.add(t)
}

// RemovePDRequest removes a pull-request telegram.
func (r *Registry) RemovePDRequest(h Handle) bool {
	return r.pullRequests.remove(h)
}

// RegisterCaller registers a local MD caller endpoint.
func (r *Registry) RegisterCaller(t *CallerTelegram) Handle {
	return r.callers.add(t)
}

// RegisterReplier registers a local MD replier endpoint (= AddListener for
// the replier side, spec §4.3/§4.5 Listener routing).
func (r *Registry) RegisterReplier(t *ReplierTelegram) Handle {
	return r.repliers.add(t)
}

// RemoveCaller / RemoveReplier unregister the corresponding endpoint.
func (r *Registry) RemoveCaller(h Handle) bool  { return r.callers.remove(h) }
func (r *Registry) RemoveReplier(h Handle) bool { return r.repliers.remove(h) }

// Publisher/Subscriber/PullRequest/Caller/Replier return the telegram stored
// under a live handle, or (nil, false) for a removed or unknown handle.
func (r *Registry) Publisher(h Handle) (*PublishTelegram, bool)   { return r.publishers.get(h) }
func (r *Registry) Subscriber(h Handle) (*SubscribeTelegram, bool) { return r.subscribers.get(h) }
func (r *Registry) PullRequest(h Handle) (*PullRequestTelegram, bool) {
	return r.pullRequests.get(h)
}
func (r *Registry) Caller(h Handle) (*CallerTelegram, bool)   { return r.callers.get(h) }
func (r *Registry) Replier(h Handle) (*ReplierTelegram, bool) { return r.repliers.get(h) }

// UpdatePublisher/UpdateSubscriber/UpdatePullRequest/UpdateCaller mutate an
// entry in place (e.g. advancing NextCycleDeadline, LastRxTime).
func (r *Registry) UpdatePublisher(h Handle, fn func(*PublishTelegram)) bool {
	return r.publishers.update(h, func(t *PublishTelegram) *PublishTelegram { fn(t); return t })
}
func (r *Registry) UpdateSubscriber(h Handle, fn func(*SubscribeTelegram)) bool {
	return r.subscribers.update(h, func(t *SubscribeTelegram) *SubscribeTelegram { fn(t); return t })
}
func (r *Registry) UpdatePullRequest(h Handle, fn func(*PullRequestTelegram)) bool {
	return r.pullRequests.update(h, func(t *PullRequestTelegram) *PullRequestTelegram { fn(t); return t })
}
func (r *Registry) UpdateCaller(h Handle, fn func(*CallerTelegram)) bool {
	return r.callers.update(h, func(t *CallerTelegram) *CallerTelegram { fn(t); return t })
}

// EachPublisher/EachSubscriber/EachPullRequest visit live entries in
// insertion order (spec §4.6 ordering guarantee / §8.1 P7).
func (r *Registry) EachPublisher(fn func(Handle, *PublishTelegram)) { r.publishers.each(fn) }
func (r *Registry) EachSubscriber(fn func(Handle, *SubscribeTelegram)) { r.subscribers.each(fn) }
func (r *Registry) EachPullRequest(fn func(Handle, *PullRequestTelegram)) { r.pullRequests.each(fn) }
func (r *Registry) EachReplier(fn func(Handle, *ReplierTelegram)) { r.repliers.each(fn) }

// MatchPD implements the §4.3 search rule for a received PD frame: the
// matching subscriber is the unique entry whose comId equals, and whose
// srcIPFilter is either 0/broadcast (wildcard) or matches, and whose dstIP
// is either 0/broadcast or matches. Earliest registered entry wins on
// ambiguity.
func (r *Registry) MatchPD(comID, srcIP, dstIP uint32) (Handle, *SubscribeTelegram, bool) {
	var (
		found   Handle
		telegram *SubscribeTelegram
		ok      bool
	)
	r.subscribers.each(func(h Handle, t *SubscribeTelegram) {
		if ok || t.ComID != comID {
			return
		}
		if !ipMatches(t.SrcIPFilter1, srcIP) && !ipMatches(t.SrcIPFilter2, srcIP) {
			return
		}
		if !ipMatches(t.DstIP, dstIP) {
			return
		}
		found, telegram, ok = h, t, true
	})
	return found, telegram, ok
}

// MatchMDListener implements the §4.5 listener-routing rule: a listener is
// keyed by (comId, joinedMulticastGroup-or-0, destUriUserPart). The frame is
// dropped with NoReceiver if no entry agrees.
func (r *Registry) MatchMDListener(comID, mcastGroup uint32, dstURI string) (Handle, *ReplierTelegram, bool) {
	var (
		found    Handle
		telegram *ReplierTelegram
		ok       bool
	)
	r.repliers.each(func(h Handle, t *ReplierTelegram) {
		if ok || t.ComID != comID {
			return
		}
		if t.McastGroup != 0 && t.McastGroup != mcastGroup {
			return
		}
		if t.DstURI != "" && t.DstURI != dstURI {
			return
		}
		found, telegram, ok = h, t, true
	})
	return found, telegram, ok
}
