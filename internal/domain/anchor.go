package domain

import "time"

// AnchorResult is the outcome of a successful notarization submission.
type AnchorResult struct {
	TxHash       string
	BlockNumber  uint64
	GasUsed      uint64
	GasPrice     string
	TxFee        string
	Fingerprint  string
	ExplorerLink string
	Status       AnchorStatus
}

// AnchorTransaction is the persisted ledger transaction behind a confirmed
// record. Rows are created once per anchoring and never deleted.
type AnchorTransaction struct {
	TxHash       string
	RecordID     string
	BlockNumber  uint64
	GasUsed      uint64
	GasPrice     string
	TxFee        string
	ConfirmedAt  time.Time
	ExplorerLink string
}

// VerificationResult is the outcome of re-checking a transaction against the
// ledger. A reverted transaction yields Verified=false with a Reason; it is a
// normal result, not an error.
type VerificationResult struct {
	Verified         bool
	BlockNumber      uint64
	Confirmations    uint64
	ExplorerLink     string
	FingerprintMatch *bool
	Reason           string
}

// TxDetails is the raw transaction/receipt shape for diagnostic display.
type TxDetails struct {
	TxHash      string
	From        string
	To          string
	Value       string
	Nonce       uint64
	GasLimit    uint64
	GasPrice    string
	GasUsed     uint64
	Fee         string
	BlockNumber uint64
	Status      string
	Input       string
}
