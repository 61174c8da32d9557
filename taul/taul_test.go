package taul

import (
	"testing"
	"time"

	"github.com/saelay/trdp-ladder/internal/config"
	"github.com/saelay/trdp-ladder/internal/dataset"
	"github.com/saelay/trdp-ladder/internal/errs"
	"github.com/saelay/trdp-ladder/internal/registry"
	"github.com/saelay/trdp-ladder/internal/store"
	"github.com/saelay/trdp-ladder/internal/transport"
)

// TestPublish_RejectsNilParameters verifies Publish validates its input
// before ever touching the registry (spec §6.3 publish parameter checks).
func TestPublish_RejectsNilParameters(t *testing.T) {
	s := &Session{}
	if _, err := s.Publish(nil); errs.CodeOf(err) != errs.ParamErr {
		t.Fatalf("Publish(nil): code = %v, want ParamErr", errs.CodeOf(err))
	}
}

// TestPublish_RejectsZeroComID verifies a PdParameters with a zero ComID is
// rejected without a live registry.
func TestPublish_RejectsZeroComID(t *testing.T) {
	s := &Session{}
	if _, err := s.Publish(&config.PdParameters{}); errs.CodeOf(err) != errs.ParamErr {
		t.Fatalf("Publish(ComID=0): code = %v, want ParamErr", errs.CodeOf(err))
	}
}

// TestSubscribe_RejectsNilParameters mirrors TestPublish_RejectsNilParameters
// for the subscribe call.
func TestSubscribe_RejectsNilParameters(t *testing.T) {
	s := &Session{}
	if _, err := s.Subscribe(nil); errs.CodeOf(err) != errs.ParamErr {
		t.Fatalf("Subscribe(nil): code = %v, want ParamErr", errs.CodeOf(err))
	}
}

// TestPDRequest_RejectsZeroComID mirrors the same validation for pdRequest.
func TestPDRequest_RejectsZeroComID(t *testing.T) {
	s := &Session{}
	if _, err := s.PDRequest(&config.PdParameters{}); errs.CodeOf(err) != errs.ParamErr {
		t.Fatalf("PDRequest(ComID=0): code = %v, want ParamErr", errs.CodeOf(err))
	}
}

// TestAddListener_RejectsNilParameters mirrors the same validation for
// addListener.
func TestAddListener_RejectsNilParameters(t *testing.T) {
	s := &Session{}
	if _, err := s.AddListener(nil); errs.CodeOf(err) != errs.ParamErr {
		t.Fatalf("AddListener(nil): code = %v, want ParamErr", errs.CodeOf(err))
	}
}

// newTestSession builds a Session with a live registry/store but no
// transports or scheduler, enough to exercise the registration and
// removal paths without opening a single socket.
func newTestSession(t *testing.T) *Session {
	t.Helper()
	cache, err := dataset.NewCache(nil)
	if err != nil {
		t.Fatalf("dataset.NewCache: %v", err)
	}
	return &Session{
		cfg:   &config.LdConfig{},
		store: store.New(),
		reg:   registry.New(),
		cache: cache,
		log:   newDebugLogger(nil),
	}
}

// TestUnpublish_UnknownHandleReportsNoPubErr verifies Unpublish surfaces
// NoPubErr for a handle the registry never issued (spec §8.1 P4).
func TestUnpublish_UnknownHandleReportsNoPubErr(t *testing.T) {
	s := newTestSession(t)
	if err := s.Unpublish(registry.NoHandle); errs.CodeOf(err) != errs.NoPubErr {
		t.Fatalf("Unpublish: code = %v, want NoPubErr", errs.CodeOf(err))
	}
}

// TestUnsubscribe_UnknownHandleReportsNoSubErr mirrors the above for
// Unsubscribe.
func TestUnsubscribe_UnknownHandleReportsNoSubErr(t *testing.T) {
	s := newTestSession(t)
	if err := s.Unsubscribe(registry.NoHandle); errs.CodeOf(err) != errs.NoSubErr {
		t.Fatalf("Unsubscribe: code = %v, want NoSubErr", errs.CodeOf(err))
	}
}

// TestRemoveListener_UnknownHandleReportsNoSessionErr mirrors the above for
// RemoveListener.
func TestRemoveListener_UnknownHandleReportsNoSessionErr(t *testing.T) {
	s := newTestSession(t)
	if err := s.RemoveListener(registry.NoHandle); errs.CodeOf(err) != errs.NoSessionErr {
		t.Fatalf("RemoveListener: code = %v, want NoSessionErr", errs.CodeOf(err))
	}
}

// TestPublishUnpublish_RoundTripsThroughRegistry exercises Publish end to
// end against a live registry (no transports involved) and confirms
// Unpublish then removes it.
func TestPublishUnpublish_RoundTripsThroughRegistry(t *testing.T) {
	s := newTestSession(t)

	h, err := s.Publish(&config.PdParameters{Kind: config.PdPublisher, ComID: 100, CycleMicros: 10_000})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := s.Unpublish(h); err != nil {
		t.Fatalf("Unpublish: %v", err)
	}
	if err := s.Unpublish(h); errs.CodeOf(err) != errs.NoPubErr {
		t.Fatalf("second Unpublish: code = %v, want NoPubErr", errs.CodeOf(err))
	}
}

// TestNotify_UnknownCallerRefReportsNoSessionErr verifies Notify validates
// its caller handle before attempting any send.
func TestNotify_UnknownCallerRefReportsNoSessionErr(t *testing.T) {
	s := newTestSession(t)
	if err := s.Notify(registry.NoHandle, nil); errs.CodeOf(err) != errs.NoSessionErr {
		t.Fatalf("Notify: code = %v, want NoSessionErr", errs.CodeOf(err))
	}
}

// TestInit_OpensSocketsAndTerminatesCleanly is the one end-to-end test that
// actually calls Init: it binds the fixed PD/MD ports on two distinct
// loopback addresses (127.0.0.1 / 127.0.0.3) so the two subnets never
// collide, runs the scheduler briefly, and verifies Terminate shuts it all
// down without error. Only one such test exists in this package — Init
// always binds frame.PDPort/frame.MDPort rather than an ephemeral port, so
// a second concurrent Init on the same addresses would fail to bind.
func TestInit_OpensSocketsAndTerminatesCleanly(t *testing.T) {
	host1, err := transport.ParseIP4("127.0.0.1")
	if err != nil {
		t.Fatalf("ParseIP4: %v", err)
	}
	host2, err := transport.ParseIP4("127.0.0.3")
	if err != nil {
		t.Fatalf("ParseIP4: %v", err)
	}

	dsCfg := config.DatasetConfig{
		DatasetID: 1,
		Elements:  []config.DatasetElementConfig{{Type: config.TypeUINT32, Count: 1}},
	}
	cfg := &config.LdConfig{
		Interfaces: []config.InterfaceConfig{
			{Name: "eth0", NetworkID: config.Subnet1, HostIP: host1},
			{Name: "eth1", NetworkID: config.Subnet2, HostIP: host2},
		},
		Datasets: []config.DatasetConfig{dsCfg},
		ComIdMap: []config.ComIdDatasetMap{{ComID: 42, DatasetID: 1}},
		Exchange: []config.ExchgPar{
			{
				InterfaceName: "eth0",
				PdPar: &config.PdParameters{
					Kind: config.PdPublisher, ComID: 42, DatasetID: 1,
					SrcIP: host1, DstIP: host1, CycleMicros: 1_000_000,
					Flags: config.FlagMarshall,
				},
			},
		},
	}

	session, err := Init(cfg, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got := session.GetWriteSubnet(); got != store.SubnetAuto {
		t.Errorf("GetWriteSubnet before any link report = %v, want SubnetAuto", got)
	}

	time.Sleep(10 * time.Millisecond)

	if err := session.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
}
