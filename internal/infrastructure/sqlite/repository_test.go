package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medanchor/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

func seedRecord(t *testing.T, repo *Repository, id string) *domain.MedicalRecord {
	t.Helper()
	record := &domain.MedicalRecord{
		ID:               id,
		PatientID:        "patient-1",
		DoctorID:         "doctor-1",
		RecordType:       domain.RecordTypeTestAnalysis,
		OriginalFileName: "panel.pdf",
		FileURL:          "https://files.example.com/panel.pdf",
		StorageObjectID:  "obj-123",
		Description:      "blood panel",
		FileSize:         2048,
	}
	if err := repo.CreateRecord(context.Background(), record); err != nil {
		t.Fatalf("create record: %v", err)
	}
	return record
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	seedRecord(t, repo, "rec-1")

	stored, ok, err := repo.GetRecord(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !ok {
		t.Fatal("record not found")
	}
	if stored.BlockchainStatus != domain.AnchorStatusPending {
		t.Errorf("new record must be pending, got %s", stored.BlockchainStatus)
	}
	if stored.PatientID != "patient-1" || stored.FileSize != 2048 {
		t.Errorf("fields not round-tripped: %+v", stored)
	}
	if stored.Verified {
		t.Error("new record must not be verified")
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t)
	_, ok, err := repo.GetRecord(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if ok {
		t.Error("expected not found")
	}
}

func TestRepository_MarkConfirmed(t *testing.T) {
	repo := newTestRepo(t)
	seedRecord(t, repo, "rec-1")
	fingerprint := "0x" + strings.Repeat("ab", 32)

	if err := repo.MarkConfirmed(context.Background(), "rec-1", fingerprint, "0xtx"); err != nil {
		t.Fatalf("mark confirmed: %v", err)
	}
	stored, _, _ := repo.GetRecord(context.Background(), "rec-1")
	if stored.BlockchainStatus != domain.AnchorStatusConfirmed {
		t.Errorf("expected confirmed, got %s", stored.BlockchainStatus)
	}
	if stored.BlockchainHash != fingerprint {
		t.Errorf("fingerprint not stored: %q", stored.BlockchainHash)
	}
}

func TestRepository_TerminalStatesAreImmutable(t *testing.T) {
	repo := newTestRepo(t)
	seedRecord(t, repo, "rec-1")
	fingerprint := "0x" + strings.Repeat("ab", 32)

	if err := repo.MarkConfirmed(context.Background(), "rec-1", fingerprint, "0xtx"); err != nil {
		t.Fatalf("mark confirmed: %v", err)
	}
	if err := repo.MarkFailed(context.Background(), "rec-1", "late failure"); err == nil {
		t.Error("confirmed record must not transition to failed")
	}
	if err := repo.MarkConfirmed(context.Background(), "rec-1", fingerprint, "0xtx2"); err == nil {
		t.Error("confirmed record must not confirm twice")
	}
}

func TestRepository_MarkFailedRecordsReason(t *testing.T) {
	repo := newTestRepo(t)
	record := seedRecord(t, repo, "rec-1")

	if err := repo.MarkFailed(context.Background(), "rec-1", "node rejected transaction"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	stored, _, _ := repo.GetRecord(context.Background(), "rec-1")
	if stored.BlockchainStatus != domain.AnchorStatusFailed {
		t.Errorf("expected failed, got %s", stored.BlockchainStatus)
	}
	if !strings.Contains(stored.DoctorNotes, "anchoring failed: node rejected transaction") {
		t.Errorf("reason not recorded: %q", stored.DoctorNotes)
	}
	if stored.FileURL != record.FileURL {
		t.Error("file reference must survive a failed anchoring")
	}
}

func TestRepository_SetVerified(t *testing.T) {
	repo := newTestRepo(t)
	seedRecord(t, repo, "rec-1")

	if err := repo.SetVerified(context.Background(), "rec-1", true); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	stored, _, _ := repo.GetRecord(context.Background(), "rec-1")
	if !stored.Verified {
		t.Error("verified flag not persisted")
	}
}

func TestRepository_ListPatientRecords(t *testing.T) {
	repo := newTestRepo(t)
	seedRecord(t, repo, "rec-1")
	seedRecord(t, repo, "rec-2")
	seedRecord(t, repo, "rec-3")
	record := &domain.MedicalRecord{
		ID:               "rec-4",
		PatientID:        "patient-2",
		DoctorID:         "doctor-1",
		RecordType:       domain.RecordTypeDoctorAnalysis,
		OriginalFileName: "notes.pdf",
		FileURL:          "https://files.example.com/notes.pdf",
		StorageObjectID:  "obj-999",
	}
	if err := repo.CreateRecord(context.Background(), record); err != nil {
		t.Fatalf("create record: %v", err)
	}

	records, err := repo.ListPatientRecords(context.Background(), "patient-1", 10)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records for patient-1, got %d", len(records))
	}
	records, err = repo.ListPatientRecords(context.Background(), "patient-2", 10)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record for patient-2, got %d", len(records))
	}
}

func TestRepository_AnchorTransactionIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	anchor := domain.AnchorTransaction{
		TxHash:       "0x" + strings.Repeat("11", 32),
		RecordID:     "rec-1",
		BlockNumber:  990,
		GasUsed:      21_800,
		GasPrice:     "2000000000",
		TxFee:        "43600000000000",
		ConfirmedAt:  time.Date(2025, 3, 14, 9, 35, 0, 0, time.UTC),
		ExplorerLink: "https://sepolia.etherscan.io/tx/0x11",
	}

	if err := repo.StoreAnchorTransaction(context.Background(), anchor); err != nil {
		t.Fatalf("store anchor: %v", err)
	}
	if err := repo.StoreAnchorTransaction(context.Background(), anchor); err != nil {
		t.Fatalf("second store must be a no-op, got %v", err)
	}

	stored, ok, err := repo.GetAnchorTransaction(context.Background(), anchor.TxHash)
	if err != nil || !ok {
		t.Fatalf("get anchor: found=%v err=%v", ok, err)
	}
	if stored.RecordID != "rec-1" || stored.BlockNumber != 990 {
		t.Errorf("anchor not round-tripped: %+v", stored)
	}
	if stored.GasPrice != "2000000000" || stored.TxFee != "43600000000000" {
		t.Errorf("amounts not round-tripped: %+v", stored)
	}
}
