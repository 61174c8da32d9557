package store

import "testing"

// TestTrafficStore_WriteThenReadRoundTrips verifies a byte sequence written
// at an offset is read back identically under the store's single mutex.
func TestTrafficStore_WriteThenReadRoundTrips(t *testing.T) {
	s := New()
	s.Lock()
	s.Write(100, []byte{1, 2, 3, 4})
	dst := make([]byte, 4)
	s.Read(100, dst)
	s.Unlock()

	want := []byte{1, 2, 3, 4}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, dst[i], want[i])
		}
	}
}

// TestTrafficStore_ZeroClearsRegion verifies Zero wipes the requested region
// (spec §4.4 ToBehavior=ZERO) without touching bytes outside it.
func TestTrafficStore_ZeroClearsRegion(t *testing.T) {
	s := New()
	s.Lock()
	s.Write(0, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	s.Zero(1, 4)
	dst := make([]byte, 6)
	s.Read(0, dst)
	s.Unlock()

	want := []byte{0xFF, 0, 0, 0, 0, 0xFF}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, dst[i], want[i])
		}
	}
}

// TestCheckBounds_RejectsOffsetBeyondSize verifies an offset+size exceeding
// the fixed Traffic Store size is reported at registration time rather than
// only discovered on the first out-of-range write.
func TestCheckBounds_RejectsOffsetBeyondSize(t *testing.T) {
	if err := CheckBounds(Size-3, 4); err == nil {
		t.Fatal("expected an error for an offset+size exceeding Size")
	}
	if err := CheckBounds(Size-4, 4); err != nil {
		t.Fatalf("expected no error for an offset+size exactly at Size, got %v", err)
	}
}

// TestAuthorizedWriter_AutoResolvesToFirstLinkUpSubnet verifies SubnetAuto
// resolves to whichever subnet last reported link-up, preferring Subnet1
// when both are up (spec §4.1/§4.6 failover).
func TestAuthorizedWriter_AutoResolvesToFirstLinkUpSubnet(t *testing.T) {
	s := New()
	s.SetLinkStatus(false, true)
	if got := s.AuthorizedWriter(); got != Subnet2 {
		t.Fatalf("expected Subnet2 when only subnet2 is up, got %v", got)
	}

	s.SetLinkStatus(true, true)
	if got := s.AuthorizedWriter(); got != Subnet1 {
		t.Fatalf("expected Subnet1 preferred when both are up, got %v", got)
	}

	s.SetLinkStatus(false, false)
	if got := s.AuthorizedWriter(); got != SubnetAuto {
		t.Fatalf("expected SubnetAuto when no subnet is up, got %v", got)
	}
}

// TestAuthorizedWriter_ExplicitSelectionOverridesAuto verifies that once a
// specific write subnet is forced, link status changes don't override it.
func TestAuthorizedWriter_ExplicitSelectionOverridesAuto(t *testing.T) {
	s := New()
	s.SetWriteSubnet(Subnet2)
	s.SetLinkStatus(true, false)

	if got := s.AuthorizedWriter(); got != Subnet2 {
		t.Fatalf("expected forced Subnet2 regardless of link status, got %v", got)
	}
}

// TestWriteSubnet_StringRendersKnownValues verifies the String method's
// human-readable names used in logs (cmd/taulctl's status command).
func TestWriteSubnet_StringRendersKnownValues(t *testing.T) {
	if got := Subnet1.String(); got != "subnet1" {
		t.Errorf("Subnet1.String() = %q, want %q", got, "subnet1")
	}
	if got := SubnetAuto.String(); got != "auto" {
		t.Errorf("SubnetAuto.String() = %q, want %q", got, "auto")
	}
}
