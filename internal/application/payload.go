package application

import (
	"encoding/json"
	"strings"

	"medanchor/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// AnchorPayload is the structured notarization envelope embedded in the data
// field of a zero-value self-directed transaction. Keeping it as compact JSON
// makes the payload decodable on any public explorer without contract ABIs.
type AnchorPayload struct {
	Version     int    `json:"v"`
	RecordType  string `json:"type"`
	Patient     string `json:"patient"`
	Fingerprint string `json:"fingerprint"`
}

const anchorPayloadVersion = 1

func EncodeAnchorPayload(recordType, patientAddress, fingerprint string) ([]byte, error) {
	if recordType == "" {
		return nil, domain.NewError(domain.ErrValidation, "record type is required")
	}
	if !common.IsHexAddress(patientAddress) {
		return nil, domain.Errorf(domain.ErrValidation, "invalid patient address: %s", patientAddress)
	}
	if !txHashPattern.MatchString(fingerprint) {
		return nil, domain.Errorf(domain.ErrValidation, "invalid fingerprint: %s", fingerprint)
	}
	return json.Marshal(AnchorPayload{
		Version:     anchorPayloadVersion,
		RecordType:  recordType,
		Patient:     strings.ToLower(patientAddress),
		Fingerprint: strings.ToLower(fingerprint),
	})
}

func DecodeAnchorPayload(data []byte) (AnchorPayload, error) {
	var payload AnchorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return AnchorPayload{}, domain.WrapError(domain.ErrValidation, "payload is not an anchor envelope", err)
	}
	if payload.Version != anchorPayloadVersion {
		return AnchorPayload{}, domain.Errorf(domain.ErrValidation, "unsupported payload version %d", payload.Version)
	}
	if !txHashPattern.MatchString(payload.Fingerprint) {
		return AnchorPayload{}, domain.NewError(domain.ErrValidation, "payload fingerprint is malformed")
	}
	return payload, nil
}
