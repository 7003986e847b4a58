package domain

import "time"

// RecordType classifies the uploaded document.
type RecordType string

const (
	RecordTypeTestAnalysis   RecordType = "test-analysis"
	RecordTypeDoctorAnalysis RecordType = "doctor-analysis"
)

func (t RecordType) Valid() bool {
	switch t {
	case RecordTypeTestAnalysis, RecordTypeDoctorAnalysis:
		return true
	}
	return false
}

// AnchorStatus is the ledger-anchoring state of a record. A record starts
// pending and moves to exactly one terminal state; terminal states never
// transition again.
type AnchorStatus string

const (
	AnchorStatusPending   AnchorStatus = "pending"
	AnchorStatusConfirmed AnchorStatus = "confirmed"
	AnchorStatusFailed    AnchorStatus = "failed"
)

// MedicalRecord is an uploaded medical document plus its anchoring state.
// The surrounding application owns identity and file fields; the anchoring
// service only mutates BlockchainHash, BlockchainStatus, Verified and appends
// failure context to DoctorNotes.
type MedicalRecord struct {
	ID               string
	PatientID        string
	DoctorID         string
	AppointmentID    string
	RecordType       RecordType
	OriginalFileName string
	FileURL          string
	StorageObjectID  string
	Description      string
	FileSize         int64
	BlockchainHash   string
	BlockchainStatus AnchorStatus
	Verified         bool
	DoctorNotes      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
