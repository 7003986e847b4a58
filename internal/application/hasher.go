package application

import (
	"encoding/hex"
	"encoding/json"

	"medanchor/internal/domain"

	"github.com/ethereum/go-ethereum/crypto"
)

// RecordMetadata is the canonical field set that goes into a record
// fingerprint. Serialization order is the declared field order below, never
// caller insertion order, so logically identical metadata always hashes to
// the same digest.
type RecordMetadata struct {
	RecordType      string `json:"recordType"`
	Description     string `json:"description"`
	FileName        string `json:"fileName"`
	FileURL         string `json:"fileUrl"`
	StorageObjectID string `json:"storageObjectId"`
	UploadedAt      string `json:"uploadedAt"`
}

// Fingerprint returns the Keccak-256 digest of the canonical metadata
// serialization as a 0x-prefixed lowercase hex string. Pure; the only failure
// mode is a missing required field.
func Fingerprint(meta RecordMetadata) (string, error) {
	if err := validateMetadata(meta); err != nil {
		return "", err
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", domain.WrapError(domain.ErrValidation, "metadata is not serializable", err)
	}
	digest := crypto.Keccak256(payload)
	return "0x" + hex.EncodeToString(digest), nil
}

func validateMetadata(meta RecordMetadata) error {
	required := []struct {
		name  string
		value string
	}{
		{"recordType", meta.RecordType},
		{"fileName", meta.FileName},
		{"fileUrl", meta.FileURL},
		{"storageObjectId", meta.StorageObjectID},
		{"uploadedAt", meta.UploadedAt},
	}
	for _, field := range required {
		if field.value == "" {
			return domain.Errorf(domain.ErrValidation, "metadata field %s is required", field.name)
		}
	}
	return nil
}
