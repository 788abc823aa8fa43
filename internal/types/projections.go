package types

import "time"

// AggregateElement is one AGGREGATE message's contribution to a (key, owner)
// projection (spec §3).
type AggregateElement struct {
	ItemHash         string
	Key              string
	Owner            string
	Content          map[string]any
	CreationDatetime time.Time
}

// Aggregate is the merged (key, owner) projection of its AggregateElements
// (spec §3, §4.7, §8).
type Aggregate struct {
	Key              string
	Owner            string
	Content          map[string]any
	CreationDatetime time.Time
	LastRevisionHash string
	Dirty            bool
}

// Post is a single POST row, possibly part of an amend chain (spec §3, §4.7).
type Post struct {
	ItemHash         string
	Owner            string
	Type             string
	Ref              string
	Amends           string
	Channel          string
	Content          map[string]any
	CreationDatetime time.Time
	LatestAmend      string
}

// VolumePersistence distinguishes immutable, ephemeral, and persistent
// machine volumes (spec §3).
type VolumePersistence string

const (
	VolumeImmutable  VolumePersistence = "immutable"
	VolumeEphemeral  VolumePersistence = "ephemeral"
	VolumePersistent VolumePersistence = "persistent"
)

// MachineVolume is one volume attached to a VM/Instance/Program (spec §3).
type MachineVolume struct {
	Mount       string
	Persistence VolumePersistence
	Ref         string
	UseLatest   bool
	SizeMiB     uint64
	ParentRef   string
}

// PaymentType distinguishes how a resource's cost is settled (spec §3, §4.9).
type PaymentType string

const (
	PaymentHold       PaymentType = "hold"
	PaymentSuperfluid PaymentType = "superfluid"
	PaymentCredit     PaymentType = "credit"
)

// CPUArchitecture enumerates supported VM CPU architectures (spec §3).
type CPUArchitecture string

const (
	CPUArchX86_64 CPUArchitecture = "x86_64"
	CPUArchARM64  CPUArchitecture = "arm64"
)

// ExecutionEnvironment holds the sandboxing flags shared by instances and
// programs (spec §3).
type ExecutionEnvironment struct {
	Reproducible bool
	Internet     bool
	AlephAPI     bool
	SharedCache  bool
}

// VM is the common execution-metadata row shared by Instance and Program
// (spec §3, "A joined-table hierarchy keyed by item_hash").
type VM struct {
	ItemHash       string
	Owner          string
	VCPUs          uint64
	MemoryMiB      uint64
	Seconds        uint64
	Environment    ExecutionEnvironment
	CPUArch        CPUArchitecture
	Created        time.Time
	Replaces       string
	AuthorizedKeys []string
	PaymentType    PaymentType
	Volumes        []MachineVolume
}

// RootfsVolume is an Instance's root filesystem volume (spec §3).
type RootfsVolume struct {
	ParentRef   string
	SizeMiB     uint64
	Persistence VolumePersistence
}

// Instance is the INSTANCE-specific sub-row (spec §3).
type Instance struct {
	VM
	Rootfs RootfsVolume
}

// ProgramType distinguishes the program execution model (spec §3).
type ProgramType string

const (
	ProgramTypeCode ProgramType = "code"
)

// Program is the PROGRAM-specific sub-row (spec §3).
type Program struct {
	VM
	CodeVolume    MachineVolume
	RuntimeVolume MachineVolume
	DataVolume    *MachineVolume
	ProgramType   ProgramType
	HTTPTrigger   bool
	Persistent    bool
}

// VmVersion points at the most recent amend in a VM's amend chain (spec §3).
type VmVersion struct {
	VMHash         string
	Owner          string
	CurrentVersion string
	LastUpdated    time.Time
}

// Balance is a chain-scraped account balance (spec §3).
type Balance struct {
	Address    string
	Chain      Chain
	Dapp       string
	Balance    Decimal
	EthHeight  uint64
	LastUpdate time.Time
}
