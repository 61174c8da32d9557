package registry

import "testing"

// TestSlotList_RemovedHandleFailsGet verifies that a handle returned by add
// reliably fails get after the corresponding remove, since the generation
// counter is bumped rather than the slot being silently reused (spec §8.1 P4).
func TestSlotList_RemovedHandleFailsGet(t *testing.T) {
	l := newSlotList[string]()
	h := l.add("a")

	if ok := l.remove(h); !ok {
		t.Fatal("expected first remove to succeed")
	}
	if ok := l.remove(h); ok {
		t.Fatal("expected second remove of the same handle to fail")
	}
	if _, ok := l.get(h); ok {
		t.Fatal("expected get to fail for a removed handle")
	}
}

// TestSlotList_ReusedSlotGetsFreshGeneration verifies that after a slot is
// vacated, a new add does not hand back a handle indistinguishable from the
// stale one — a held reference to the old entry must not resolve to the new.
func TestSlotList_ReusedSlotGetsFreshGeneration(t *testing.T) {
	l := newSlotList[int]()
	first := l.add(1)
	l.remove(first)
	second := l.add(2)

	if first == second {
		t.Fatal("expected distinct handles across remove+add, got identical handle")
	}
	if _, ok := l.get(first); ok {
		t.Fatal("expected stale handle to fail get even if its slot index was reused")
	}
	v, ok := l.get(second)
	if !ok || v != 2 {
		t.Fatalf("expected get(second) = (2, true), got (%v, %v)", v, ok)
	}
}

// TestSlotList_EachVisitsInsertionOrder verifies each() walks live entries in
// the order they were added, skipping removed ones (spec §4.6 ordering
// guarantee / §8.1 P7).
func TestSlotList_EachVisitsInsertionOrder(t *testing.T) {
	l := newSlotList[string]()
	l.add("first")
	second := l.add("second")
	l.add("third")
	l.remove(second)

	var got []string
	l.each(func(h Handle, v string) { got = append(got, v) })

	if len(got) != 2 || got[0] != "first" || got[1] != "third" {
		t.Fatalf("unexpected iteration order: %v", got)
	}
}

// TestRegistry_PublishRejectsOutOfBoundsOffset verifies Publish surfaces the
// Traffic Store bounds check as an error at registration time rather than
// deferring it to the first send.
func TestRegistry_PublishRejectsOutOfBoundsOffset(t *testing.T) {
	r := New()
	_, err := r.Publish(&PublishTelegram{ComID: 1, Offset: 1 << 20, PayloadHostSize: 4})
	if err == nil {
		t.Fatal("expected an error for an out-of-bounds offset")
	}
}

// TestRegistry_MatchPD_WildcardSrcIPMatchesAny verifies a subscriber with an
// unset (wildcard) srcIPFilter matches a PD frame from any source.
func TestRegistry_MatchPD_WildcardSrcIPMatchesAny(t *testing.T) {
	r := New()
	if _, err := r.Subscribe(&SubscribeTelegram{ComID: 42, PayloadHostSize: 4}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	_, _, ok := r.MatchPD(42, 0xC0A80001, 0)
	if !ok {
		t.Fatal("expected a wildcard-filtered subscriber to match any source")
	}
}

// TestRegistry_MatchPD_BroadcastSentinelNormalizesToWildcard verifies the
// 255.255.255.255 sentinel is treated identically to an unset filter (spec
// §9 Open Question decision).
func TestRegistry_MatchPD_BroadcastSentinelNormalizesToWildcard(t *testing.T) {
	r := New()
	if _, err := r.Subscribe(&SubscribeTelegram{ComID: 42, SrcIPFilter1: BroadcastSentinel, PayloadHostSize: 4}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	_, _, ok := r.MatchPD(42, 0x01020304, 0)
	if !ok {
		t.Fatal("expected broadcast sentinel filter to match any source")
	}
}

// TestRegistry_MatchPD_ComIDMismatchDoesNotMatch verifies a subscriber for a
// different comId is never selected, even with wildcard IP filters.
func TestRegistry_MatchPD_ComIDMismatchDoesNotMatch(t *testing.T) {
	r := New()
	if _, err := r.Subscribe(&SubscribeTelegram{ComID: 1, PayloadHostSize: 4}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, _, ok := r.MatchPD(2, 0, 0); ok {
		t.Fatal("expected no match for a different comId")
	}
}

// TestRegistry_UnpublishIsIdempotent verifies that unpublishing an
// already-removed handle reports false rather than panicking (spec §8.1 P4).
func TestRegistry_UnpublishIsIdempotent(t *testing.T) {
	r := New()
	h, err := r.Publish(&PublishTelegram{ComID: 1, PayloadHostSize: 4})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if !r.Unpublish(h) {
		t.Fatal("expected first Unpublish to succeed")
	}
	if r.Unpublish(h) {
		t.Fatal("expected second Unpublish to report false")
	}
}
