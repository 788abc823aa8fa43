package types

import "time"

// ProductPriceType enumerates the billable resource flavors priced by the
// cost engine (spec §4.9, GLOSSARY).
type ProductPriceType string

const (
	PriceStorage                  ProductPriceType = "STORAGE"
	PriceProgram                  ProductPriceType = "PROGRAM"
	PriceProgramPersistent        ProductPriceType = "PROGRAM_PERSISTENT"
	PriceInstance                 ProductPriceType = "INSTANCE"
	PriceInstanceConfidential     ProductPriceType = "INSTANCE_CONFIDENTIAL"
	PriceInstanceGPUStandard      ProductPriceType = "INSTANCE_GPU_STANDARD"
	PriceInstanceGPUPremium       ProductPriceType = "INSTANCE_GPU_PREMIUM"
	PriceWeb3Hosting              ProductPriceType = "WEB3_HOSTING"
)

// CostType enumerates the AccountCosts row components (spec §4.9).
type CostType string

const (
	CostExecution                    CostType = "EXECUTION"
	CostStorage                      CostType = "STORAGE"
	CostVolumeImmutable              CostType = "EXECUTION_VOLUME_INMUTABLE"
	CostVolumePersistent             CostType = "EXECUTION_VOLUME_PERSISTENT"
	CostInstanceVolumeRootfs         CostType = "EXECUTION_INSTANCE_VOLUME_ROOTFS"
	CostProgramVolumeCode            CostType = "EXECUTION_PROGRAM_VOLUME_CODE"
	CostProgramVolumeRuntime         CostType = "EXECUTION_PROGRAM_VOLUME_RUNTIME"
	CostProgramVolumeData            CostType = "EXECUTION_PROGRAM_VOLUME_DATA"
	CostVolumeDiscount               CostType = "EXECUTION_VOLUME_DISCOUNT"
)

// AccountCosts is one billable line item produced for a message (spec §3).
type AccountCosts struct {
	ID          int64
	Owner       string
	ItemHash    string
	Type        CostType
	Name        string
	Ref         string
	PaymentType PaymentType
	CostHold    Decimal
	CostStream  Decimal
	CostCredit  Decimal
}

// CreditHistory is one ledger row: a positive credit distribution/transfer,
// or a negative expense/transfer-debit (spec §3, §4.9).
type CreditHistory struct {
	CreditRef         string
	CreditIndex       int
	Address           string
	Amount            int64
	Price             *Decimal
	BonusAmount       *int64
	TxHash            string
	Token             string
	Chain             Chain
	Provider          string
	Origin            string
	OriginRef         string
	PaymentMethod     string
	ExpirationDate    *time.Time
	MessageTimestamp  time.Time
	LastUpdate        time.Time
}

// CreditBalance is the materialized cache of the FIFO evaluation (spec §3,
// §4.9).
type CreditBalance struct {
	Address    string
	Balance    int64
	LastUpdate time.Time
}

// ComputeUnit is the atomic billable bundle of (vCPU, memory, disk) for one
// product type (GLOSSARY, spec §4.9).
type ComputeUnit struct {
	VCPUs     uint64
	MemoryMiB uint64
	DiskMiB   uint64
}

// ResourcePrice is a holding (one-shot) vs. pay-as-you-go (per-second) price
// pair, as used for compute_unit and storage pricing (spec §4.9).
type ResourcePrice struct {
	Holding Decimal
	PAYG    Decimal
}

// PricingModel is one ProductPriceType's fully merged pricing entry at a
// point in the pricing timeline (spec §4.9).
type PricingModel struct {
	ComputeUnit    ComputeUnit
	Price          struct {
		ComputeUnit ResourcePrice
		Storage     ResourcePrice
	}
}
