// Package store implements the Traffic Store of spec §3.1/§4.1: a fixed-size
// mutex-protected byte region holding the latest PD payloads at
// caller-defined offsets.
//
// Grounded on fixclient/tradestore.go's sync.RWMutex-guarded buffer: a
// single lock discipline around a pre-allocated, never-resized backing
// array, with explicit Lock/Unlock exposed to callers rather than hidden
// behind per-operation locking (spec §4.1: "no interior locking").
package store

import (
	"fmt"
	"sync"
)

// Size is the fixed Traffic Store size (spec §3.1: 64 KiB).
const Size = 64 * 1024

// WriteSubnet selects which subnet's inbound PD may update the store.
type WriteSubnet uint8

const (
	SubnetAuto WriteSubnet = iota
	Subnet1
	Subnet2
)

func (w WriteSubnet) String() string {
	switch w {
	case Subnet1:
		return "subnet1"
	case Subnet2:
		return "subnet2"
	default:
		return "auto"
	}
}

// TrafficStore is a contiguous byte region of fixed size, gated by a single
// mutex. Callers must hold the mutex (via Lock/Unlock) around any Read/Write
// pair that must observe a consistent snapshot; Read and Write themselves
// take no lock of their own (spec §4.1 invariant: "no interior locking").
type TrafficStore struct {
	mu   sync.Mutex
	buf  [Size]byte

	writeSubnetMu sync.Mutex
	writeSubnet   WriteSubnet
	subnet1Up     bool
	subnet2Up     bool
}

// New creates a Traffic Store zero-filled, as at init (spec §3.1 lifecycle).
func New() *TrafficStore {
	return &TrafficStore{writeSubnet: SubnetAuto}
}

// Lock acquires the store's single mutex. All reads and writes of the store
// must occur between matched Lock/Unlock calls by the same goroutine.
func (s *TrafficStore) Lock() { s.mu.Lock() }

// Unlock releases the store's single mutex.
func (s *TrafficStore) Unlock() { s.mu.Unlock() }

// Write copies bytes into the store at offset. The caller must hold Lock and
// must have validated offset+len(bytes) <= Size beforehand (spec §4.1: bounds
// are enforced by the caller from the schema's payload size; misuse here is
// a programming bug, not a runtime error).
func (s *TrafficStore) Write(offset uint32, bytes []byte) {
	copy(s.buf[offset:], bytes)
}

// Read copies len(dst) bytes from the store at offset into dst. The caller
// must hold Lock.
func (s *TrafficStore) Read(offset uint32, dst []byte) {
	copy(dst, s.buf[offset:])
}

// Zero clears size bytes at offset (spec §4.4 ToBehavior=ZERO). The caller
// must hold Lock.
func (s *TrafficStore) Zero(offset uint32, size uint32) {
	zeroed := s.buf[offset : offset+size]
	for i := range zeroed {
		zeroed[i] = 0
	}
}

// CheckBounds validates offset+size against Size, returning an error the
// registry should surface at publish/subscribe time rather than at every
// read/write (spec §4.1 Failure).
func CheckBounds(offset, size uint32) error {
	if uint64(offset)+uint64(size) > Size {
		return fmt.Errorf("store: offset %d size %d exceeds traffic store size %d", offset, size, Size)
	}
	return nil
}

// SetWriteSubnet selects which subnet's inbound PD may update the store.
// SubnetAuto resolves to the first subnet reporting link-up (spec §4.1).
func (s *TrafficStore) SetWriteSubnet(id WriteSubnet) {
	s.writeSubnetMu.Lock()
	defer s.writeSubnetMu.Unlock()
	s.writeSubnet = id
}

// GetWriteSubnet returns the currently selected write subnet.
func (s *TrafficStore) GetWriteSubnet() WriteSubnet {
	s.writeSubnetMu.Lock()
	defer s.writeSubnetMu.Unlock()
	return s.writeSubnet
}

// SetLinkStatus records a subnet's link state; used by AuthorizedWriter to
// resolve SubnetAuto and by the scheduler to decide on failover (spec §4.6
// step 4).
func (s *TrafficStore) SetLinkStatus(subnet1Up, subnet2Up bool) {
	s.writeSubnetMu.Lock()
	defer s.writeSubnetMu.Unlock()
	s.subnet1Up = subnet1Up
	s.subnet2Up = subnet2Up
}

// AuthorizedWriter resolves which concrete subnet (Subnet1 or Subnet2) is
// currently allowed to write inbound PD into the store, applying AUTO
// resolution against the last-reported link status.
func (s *TrafficStore) AuthorizedWriter() WriteSubnet {
	s.writeSubnetMu.Lock()
	defer s.writeSubnetMu.Unlock()
	switch s.writeSubnet {
	case Subnet1, Subnet2:
		return s.writeSubnet
	default: // SubnetAuto
		if s.subnet1Up {
			return Subnet1
		}
		if s.subnet2Up {
			return Subnet2
		}
		return SubnetAuto
	}
}
