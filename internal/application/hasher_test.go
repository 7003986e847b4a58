package application

import (
	"regexp"
	"testing"

	"medanchor/internal/domain"
)

var fingerprintPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func testMetadata() RecordMetadata {
	return RecordMetadata{
		RecordType:      "test-analysis",
		Description:     "blood panel",
		FileName:        "panel.pdf",
		FileURL:         "https://files.example.com/panel.pdf",
		StorageObjectID: "obj-123",
		UploadedAt:      "2025-03-14T09:30:00Z",
	}
}

func TestFingerprint_Format(t *testing.T) {
	digest, err := Fingerprint(testMetadata())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if !fingerprintPattern.MatchString(digest) {
		t.Errorf("fingerprint %q is not 0x-prefixed lowercase 64-hex", digest)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	first, err := Fingerprint(testMetadata())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	second, err := Fingerprint(testMetadata())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if first != second {
		t.Errorf("identical metadata hashed differently: %s vs %s", first, second)
	}
}

func TestFingerprint_SensitiveToEveryField(t *testing.T) {
	base, err := Fingerprint(testMetadata())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	variants := map[string]func(*RecordMetadata){
		"recordType":      func(m *RecordMetadata) { m.RecordType = "doctor-analysis" },
		"description":     func(m *RecordMetadata) { m.Description = "urine panel" },
		"fileName":        func(m *RecordMetadata) { m.FileName = "panel2.pdf" },
		"fileUrl":         func(m *RecordMetadata) { m.FileURL = "https://files.example.com/panel2.pdf" },
		"storageObjectId": func(m *RecordMetadata) { m.StorageObjectID = "obj-124" },
		"uploadedAt":      func(m *RecordMetadata) { m.UploadedAt = "2025-03-14T09:30:01Z" },
	}
	for field, mutate := range variants {
		meta := testMetadata()
		mutate(&meta)
		digest, err := Fingerprint(meta)
		if err != nil {
			t.Fatalf("fingerprint with changed %s: %v", field, err)
		}
		if digest == base {
			t.Errorf("changing %s did not change the fingerprint", field)
		}
	}
}

func TestFingerprint_EmptyDescriptionAllowed(t *testing.T) {
	meta := testMetadata()
	meta.Description = ""
	if _, err := Fingerprint(meta); err != nil {
		t.Errorf("empty description should be allowed, got %v", err)
	}
}

func TestFingerprint_MissingRequiredField(t *testing.T) {
	variants := map[string]func(*RecordMetadata){
		"recordType":      func(m *RecordMetadata) { m.RecordType = "" },
		"fileName":        func(m *RecordMetadata) { m.FileName = "" },
		"fileUrl":         func(m *RecordMetadata) { m.FileURL = "" },
		"storageObjectId": func(m *RecordMetadata) { m.StorageObjectID = "" },
		"uploadedAt":      func(m *RecordMetadata) { m.UploadedAt = "" },
	}
	for field, mutate := range variants {
		meta := testMetadata()
		mutate(&meta)
		_, err := Fingerprint(meta)
		if !domain.IsValidation(err) {
			t.Errorf("missing %s: expected validation error, got %v", field, err)
		}
	}
}
