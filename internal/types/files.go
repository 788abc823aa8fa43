package types

import "time"

// StoredFileType distinguishes a flat file from an IPFS directory listing.
type StoredFileType string

const (
	StoredFileTypeFile      StoredFileType = "FILE"
	StoredFileTypeDirectory StoredFileType = "DIRECTORY"
)

// StoredFile is the catalog of content present (or expected) in the local
// blob store (spec §3).
type StoredFile struct {
	Hash string
	Size int64
	Type StoredFileType
}

// FilePinType discriminates the tagged-union FilePin row (spec §3, §9).
type FilePinType string

const (
	FilePinTypeContent     FilePinType = "CONTENT"
	FilePinTypeMessage     FilePinType = "MESSAGE"
	FilePinTypeTx          FilePinType = "TX"
	FilePinTypeGracePeriod FilePinType = "GRACE_PERIOD"
)

// FilePin is a durable (or time-bounded) reason to keep a StoredFile. Only the
// fields relevant to Type are populated; see spec §3.
type FilePin struct {
	ID        int64
	FileHash  string
	Created   time.Time
	Type      FilePinType

	Owner    string // CONTENT, MESSAGE
	ItemHash string // CONTENT, MESSAGE
	Ref      string // MESSAGE

	TxHash string // TX

	DeleteBy time.Time // GRACE_PERIOD
}

// FileTag resolves `use_latest` volume references to the latest known hash
// for an owner-defined tag (spec §3, §4.7 STORE, §4.8).
type FileTag struct {
	Tag         string
	Owner       string
	FileHash    string
	LastUpdated time.Time
}
