// Package application implements the record-anchoring core: canonical
// fingerprinting, the shared chain client and signing identity, transaction
// submission with bounded confirmation waits, ledger re-verification, and the
// pipeline that moves a medical record from pending to a terminal status.
//
// Trust model: a fingerprint is notarized by embedding it in the data field
// of a zero-value transaction the service signer sends to itself. Verification
// therefore proves that the signer's account broadcast a transaction carrying
// the fingerprint at a given block; it does not prove schema conformance or
// uniqueness, which would require a dedicated contract.
package application
