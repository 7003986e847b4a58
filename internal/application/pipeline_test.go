package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"medanchor/internal/domain"
	"medanchor/internal/streaming"
)

type mockStore struct {
	mu       sync.Mutex
	records  map[string]*domain.MedicalRecord
	anchors  map[string]domain.AnchorTransaction
	verified map[string]bool
}

func newMockStore() *mockStore {
	return &mockStore{
		records:  make(map[string]*domain.MedicalRecord),
		anchors:  make(map[string]domain.AnchorTransaction),
		verified: make(map[string]bool),
	}
}

func (m *mockStore) CreateRecord(ctx context.Context, record *domain.MedicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

func (m *mockStore) GetRecord(ctx context.Context, id string) (*domain.MedicalRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	clone := *record
	return &clone, true, nil
}

func (m *mockStore) ListPatientRecords(ctx context.Context, patientID string, limit int) ([]domain.MedicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []domain.MedicalRecord
	for _, record := range m.records {
		if record.PatientID == patientID {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (m *mockStore) MarkConfirmed(ctx context.Context, id, fingerprint, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok || record.BlockchainStatus != domain.AnchorStatusPending {
		return fmt.Errorf("record %s is not pending", id)
	}
	record.BlockchainStatus = domain.AnchorStatusConfirmed
	record.BlockchainHash = fingerprint
	return nil
}

func (m *mockStore) MarkFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok || record.BlockchainStatus != domain.AnchorStatusPending {
		return fmt.Errorf("record %s is not pending", id)
	}
	record.BlockchainStatus = domain.AnchorStatusFailed
	if record.DoctorNotes == "" {
		record.DoctorNotes = "anchoring failed: " + reason
	} else {
		record.DoctorNotes += "\nanchoring failed: " + reason
	}
	return nil
}

func (m *mockStore) SetVerified(ctx context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified[id] = verified
	return nil
}

func (m *mockStore) StoreAnchorTransaction(ctx context.Context, anchor domain.AnchorTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.anchors[anchor.TxHash]; !ok {
		m.anchors[anchor.TxHash] = anchor
	}
	return nil
}

func (m *mockStore) GetAnchorTransaction(ctx context.Context, txHash string) (*domain.AnchorTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	anchor, ok := m.anchors[txHash]
	if !ok {
		return nil, false, nil
	}
	return &anchor, true, nil
}

func (m *mockStore) Ping(ctx context.Context) error { return nil }

type mockEvents struct {
	mu       sync.Mutex
	anchored []streaming.Message
	failed   []streaming.Message
}

func (m *mockEvents) PublishAnchored(ctx context.Context, msg streaming.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchored = append(m.anchored, msg)
	return nil
}

func (m *mockEvents) PublishAnchorFailed(ctx context.Context, msg streaming.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, msg)
	return nil
}

type mockObserver struct {
	mu           sync.Mutex
	confirmed    int
	failed       int
	verified     int
	verification int
}

func (m *mockObserver) OnAnchorConfirmed(recordID, txHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed++
}

func (m *mockObserver) OnAnchorFailed(recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *mockObserver) OnVerification(verified bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification++
	if verified {
		m.verified++
	}
}

func pendingRecord(id string) *domain.MedicalRecord {
	return &domain.MedicalRecord{
		ID:               id,
		PatientID:        "patient-1",
		DoctorID:         "doctor-1",
		RecordType:       domain.RecordTypeTestAnalysis,
		OriginalFileName: "panel.pdf",
		FileURL:          "https://files.example.com/panel.pdf",
		StorageObjectID:  "obj-123",
		Description:      "blood panel",
		BlockchainStatus: domain.AnchorStatusPending,
		CreatedAt:        time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func newTestPipeline(t *testing.T, rpc ChainRPC, store RecordStore, events EventPublisher, observer PipelineObserver) *Pipeline {
	t.Helper()
	submitter := newTestSubmitter(t, rpc)
	verifier, err := NewVerificationService(submitter.client, "https://sepolia.etherscan.io")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	pipeline, err := NewPipeline(submitter, verifier, store, events, observer)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return pipeline
}

func TestAnchorRecord_PendingToConfirmed(t *testing.T) {
	store := newMockStore()
	events := &mockEvents{}
	observer := &mockObserver{}
	pipeline := newTestPipeline(t, newMockChainRPC(), store, events, observer)

	record := pendingRecord("rec-1")
	_ = store.CreateRecord(context.Background(), record)

	result, err := pipeline.AnchorRecord(context.Background(), "rec-1", testPatient)
	if err != nil {
		t.Fatalf("anchor record: %v", err)
	}

	stored, _, _ := store.GetRecord(context.Background(), "rec-1")
	if stored.BlockchainStatus != domain.AnchorStatusConfirmed {
		t.Errorf("expected confirmed status, got %s", stored.BlockchainStatus)
	}
	if stored.BlockchainHash != result.Fingerprint {
		t.Errorf("fingerprint not persisted: %q vs %q", stored.BlockchainHash, result.Fingerprint)
	}
	anchor, ok, _ := store.GetAnchorTransaction(context.Background(), result.TxHash)
	if !ok {
		t.Fatal("anchor transaction not persisted")
	}
	if anchor.RecordID != "rec-1" {
		t.Errorf("anchor linked to wrong record %q", anchor.RecordID)
	}
	if len(events.anchored) != 1 {
		t.Fatalf("expected 1 anchored event, got %d", len(events.anchored))
	}
	if events.anchored[0].TxHash != result.TxHash || events.anchored[0].RecordID != "rec-1" {
		t.Errorf("anchored event carries wrong identifiers: %+v", events.anchored[0])
	}
	if observer.confirmed != 1 {
		t.Errorf("expected 1 confirmation observation, got %d", observer.confirmed)
	}
}

func TestAnchorRecord_TerminalFailureMarksFailed(t *testing.T) {
	store := newMockStore()
	events := &mockEvents{}
	observer := &mockObserver{}
	pipeline := newTestPipeline(t, newMockChainRPC(), store, events, observer)

	record := pendingRecord("rec-2")
	_ = store.CreateRecord(context.Background(), record)

	_, err := pipeline.AnchorRecord(context.Background(), "rec-2", "not-an-address")
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	stored, _, _ := store.GetRecord(context.Background(), "rec-2")
	if stored.BlockchainStatus != domain.AnchorStatusFailed {
		t.Errorf("expected failed status, got %s", stored.BlockchainStatus)
	}
	if stored.FileURL != record.FileURL {
		t.Error("file reference must survive a failed anchoring")
	}
	if !strings.Contains(stored.DoctorNotes, "anchoring failed:") {
		t.Errorf("failure reason not recorded: %q", stored.DoctorNotes)
	}
	if len(events.failed) != 1 {
		t.Fatalf("expected 1 failure event, got %d", len(events.failed))
	}
	if events.failed[0].Reason == "" {
		t.Error("failure event carries no reason")
	}
	if observer.failed != 1 {
		t.Errorf("expected 1 failure observation, got %d", observer.failed)
	}
}

func TestAnchorRecord_NetworkFailureLeavesPending(t *testing.T) {
	rpc := newMockChainRPC()
	rpc.sendErr = errors.New("connection refused")
	store := newMockStore()
	events := &mockEvents{}
	pipeline := newTestPipeline(t, rpc, store, events, nil)

	_ = store.CreateRecord(context.Background(), pendingRecord("rec-3"))

	_, err := pipeline.AnchorRecord(context.Background(), "rec-3", testPatient)
	if !domain.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}

	stored, _, _ := store.GetRecord(context.Background(), "rec-3")
	if stored.BlockchainStatus != domain.AnchorStatusPending {
		t.Errorf("record must stay pending after a network failure, got %s", stored.BlockchainStatus)
	}
	if len(events.failed) != 0 {
		t.Errorf("no failure event expected, got %d", len(events.failed))
	}
}

func TestAnchorRecord_UnknownRecord(t *testing.T) {
	pipeline := newTestPipeline(t, newMockChainRPC(), newMockStore(), nil, nil)
	_, err := pipeline.AnchorRecord(context.Background(), "missing", testPatient)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestAnchorRecord_AlreadyTerminal(t *testing.T) {
	store := newMockStore()
	pipeline := newTestPipeline(t, newMockChainRPC(), store, nil, nil)

	record := pendingRecord("rec-4")
	record.BlockchainStatus = domain.AnchorStatusConfirmed
	_ = store.CreateRecord(context.Background(), record)

	_, err := pipeline.AnchorRecord(context.Background(), "rec-4", testPatient)
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandleUploaded_IgnoresOtherTypes(t *testing.T) {
	store := newMockStore()
	pipeline := newTestPipeline(t, newMockChainRPC(), store, nil, nil)

	err := pipeline.HandleUploaded(context.Background(), streaming.Message{
		Type:     streaming.MessageTypeRecordAnchored,
		RecordID: "rec-5",
	})
	if err != nil {
		t.Fatalf("non-upload message must be ignored, got %v", err)
	}
}

func TestHandleUploaded_RedeliversOnNetworkError(t *testing.T) {
	rpc := newMockChainRPC()
	rpc.sendErr = errors.New("connection refused")
	store := newMockStore()
	pipeline := newTestPipeline(t, rpc, store, nil, nil)
	_ = store.CreateRecord(context.Background(), pendingRecord("rec-6"))

	err := pipeline.HandleUploaded(context.Background(), streaming.Message{
		Type:           streaming.MessageTypeRecordUploaded,
		RecordID:       "rec-6",
		PatientAddress: testPatient,
	})
	if !domain.IsNetwork(err) {
		t.Fatalf("network failure must propagate for redelivery, got %v", err)
	}
}

func TestHandleUploaded_RedeliversOnUnknownRecord(t *testing.T) {
	pipeline := newTestPipeline(t, newMockChainRPC(), newMockStore(), nil, nil)

	err := pipeline.HandleUploaded(context.Background(), streaming.Message{
		Type:           streaming.MessageTypeRecordUploaded,
		RecordID:       "rec-7",
		PatientAddress: testPatient,
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("unknown record must propagate for redelivery, got %v", err)
	}
}

func TestHandleUploaded_AbsorbsTerminalFailure(t *testing.T) {
	store := newMockStore()
	pipeline := newTestPipeline(t, newMockChainRPC(), store, nil, nil)
	_ = store.CreateRecord(context.Background(), pendingRecord("rec-8"))

	err := pipeline.HandleUploaded(context.Background(), streaming.Message{
		Type:           streaming.MessageTypeRecordUploaded,
		RecordID:       "rec-8",
		PatientAddress: "not-an-address",
	})
	if err != nil {
		t.Fatalf("terminal failure must be absorbed after marking failed, got %v", err)
	}
	stored, _, _ := store.GetRecord(context.Background(), "rec-8")
	if stored.BlockchainStatus != domain.AnchorStatusFailed {
		t.Errorf("expected failed status, got %s", stored.BlockchainStatus)
	}
}

func TestVerifyAnchor_PersistsVerifiedFlag(t *testing.T) {
	rpc := newMockChainRPC()
	rpc.tx = anchoredTransaction(t, testFingerprint)
	rpc.txFound = true
	store := newMockStore()
	observer := &mockObserver{}
	pipeline := newTestPipeline(t, rpc, store, nil, observer)

	_ = store.StoreAnchorTransaction(context.Background(), domain.AnchorTransaction{
		TxHash:   testTxHash,
		RecordID: "rec-9",
	})

	result, err := pipeline.VerifyAnchor(context.Background(), testTxHash, testFingerprint)
	if err != nil {
		t.Fatalf("verify anchor: %v", err)
	}
	if !result.Verified {
		t.Fatal("expected verified result")
	}
	if !store.verified["rec-9"] {
		t.Error("verified flag not persisted")
	}
	if observer.verification != 1 || observer.verified != 1 {
		t.Errorf("unexpected observer counts: %+v", observer)
	}
}

func TestVerifyAnchor_UnknownAnchorSkipsPersistence(t *testing.T) {
	rpc := newMockChainRPC()
	rpc.tx = anchoredTransaction(t, testFingerprint)
	rpc.txFound = true
	store := newMockStore()
	pipeline := newTestPipeline(t, rpc, store, nil, nil)

	result, err := pipeline.VerifyAnchor(context.Background(), testTxHash, "")
	if err != nil {
		t.Fatalf("verify anchor: %v", err)
	}
	if !result.Verified {
		t.Fatal("expected verified result")
	}
	if len(store.verified) != 0 {
		t.Error("no verified flag should be written for unknown anchors")
	}
}
