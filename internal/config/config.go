// Package config holds the plain data records produced by the (external)
// configuration loader described in spec §6.1. The XML parser that builds
// these records is out of scope for this module; the core only consumes
// them.
package config

// PreallocBlockSizes are the fixed pool block sizes used by MemoryConfig,
// in the order the loader presents them.
var PreallocBlockSizes = [15]uint32{
	32, 72, 128, 256, 512, 1024, 1480, 2048, 4096, 11520, 16384, 32768, 65536, 131072,
}

// MemoryConfig describes the fixed-block memory pool the host reserves for
// the runtime.
type MemoryConfig struct {
	PoolSize            uint32
	PreallocBlockCounts [15]uint32
}

// Verbosity flags for DebugConfig.
type Verbosity uint8

const (
	VerbosityError Verbosity = 1 << iota
	VerbosityWarn
	VerbosityInfo
	VerbosityDbg
)

// DebugConfig configures the debug logging sink (the sink itself is an
// external collaborator, reached via DebugCb).
type DebugConfig struct {
	Verbosity   Verbosity
	MaxFileBytes uint32
	FilePath    string
}

// NetworkID identifies which physical subnet an interface belongs to.
type NetworkID uint8

const (
	Subnet1 NetworkID = 1
	Subnet2 NetworkID = 2
)

// InterfaceConfig describes one subnet's network interface.
type InterfaceConfig struct {
	Name      string
	NetworkID NetworkID
	HostIP    uint32
	LeaderIP  uint32
}

// ComParConfig is a reusable communication parameter set.
type ComParConfig struct {
	ID  uint32
	QoS uint8 // 0..7
	TTL uint8 // 1..255
}

// DatasetConfig is the configuration-loader's raw form of a dataset schema,
// consumed by internal/dataset to build a dataset.Schema.
type DatasetConfig struct {
	DatasetID uint32
	Elements  []DatasetElementConfig
}

// DatasetElementConfig is one (type, count) pair, or a nested dataset
// reference when Type == TypeDataset.
type DatasetElementConfig struct {
	Type       PrimitiveType
	Count      uint32 // 0 = variable length, driven by preceding element
	DatasetRef uint32 // valid when Type == TypeDataset
}

// PrimitiveType enumerates the wire primitives of §4.2 plus the
// nested-dataset-reference pseudo-type.
type PrimitiveType uint8

const (
	TypeBOOL8 PrimitiveType = iota + 1
	TypeCHAR8
	TypeUTF16
	TypeINT8
	TypeINT16
	TypeINT32
	TypeINT64
	TypeUINT8
	TypeUINT16
	TypeUINT32
	TypeUINT64
	TypeREAL32
	TypeREAL64
	TypeTIMEDATE32
	TypeTIMEDATE48
	TypeTIMEDATE64
	TypeDataset // reference to another DatasetSchema by datasetId
)

// ComIdDatasetMap maps a comId to the datasetId it carries.
type ComIdDatasetMap struct {
	ComID     uint32
	DatasetID uint32
}

// TelegramFlags are per-telegram behavior bits.
type TelegramFlags uint16

const (
	FlagMarshall TelegramFlags = 1 << iota
	FlagTCP
)

// PdKind distinguishes the three telegram roles a PdParameters block can
// configure. The loader sets this directly rather than leaving the core to
// infer it from field cardinality.
type PdKind uint8

const (
	PdPublisher PdKind = iota
	PdSubscriber
	PdPullRequest
)

// PdParameters configures a cyclic PD exchange (publisher, subscriber, or
// pull-requester), taken from an ExchgPar's pPdPar.
type PdParameters struct {
	Kind            PdKind
	ComID           uint32
	DatasetID       uint32
	SrcIP           uint32
	SrcIPFilter2    uint32
	DstIP           uint32
	CycleMicros     uint32
	TimeoutMicros   uint32
	ToBehaviorKeep  bool // false = ZERO, true = KEEP
	RedundancyGroup uint32
	OffsetInStore   uint32
	Flags           TelegramFlags
	ReplyComID      uint32 // for pull requests
	ReplyIP         uint32
	RepublishOffset *uint32 // optional: §3 supplemented feature 5
}

// MdParameters configures an MD endpoint (caller or replier), taken from an
// ExchgPar's pMdPar.
type MdParameters struct {
	ComID          uint32
	DatasetID      uint32
	SrcURI         string
	DstURI         string
	DstIP          uint32
	ReplyTimeout   uint32
	ConfirmTimeout uint32
	ConnectTimeout uint32
	Flags          TelegramFlags
	NumRepliers    uint32 // expectedReplies; 0 = unknown
}

// ExchgPar is one interface's set of telegrams to instantiate. Exactly one
// of PdPar/MdPar is populated per entry, matching the loader's convention of
// distinguishing publisher/subscriber/caller/replier by which parameter
// block is present.
type ExchgPar struct {
	InterfaceName string
	PdPar         *PdParameters
	MdPar         *MdParameters
	IsCaller      bool // only meaningful when MdPar != nil
}

// LdConfig is the fully parsed configuration handed to taul.Init.
type LdConfig struct {
	Memory     MemoryConfig
	Debug      DebugConfig
	Interfaces []InterfaceConfig
	ComPars    []ComParConfig
	Datasets   []DatasetConfig
	ComIdMap   []ComIdDatasetMap
	Exchange   []ExchgPar

	// AuditDBPath, if non-empty, opens a SQLite-backed internal/audit.Log at
	// this path and wires it into every subnet's PD session and MD manager
	// so session/timeout history survives process restarts. Empty disables
	// auditing entirely (the default; audit persistence is supplementary,
	// not required by any invariant).
	AuditDBPath string
}
