package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medanchor/internal/domain"
	"medanchor/internal/streaming"
)

// RecordStore persists medical records and their anchor transactions. The
// Mark* methods enforce the status state machine: they only apply to records
// still in the pending state.
type RecordStore interface {
	CreateRecord(ctx context.Context, record *domain.MedicalRecord) error
	GetRecord(ctx context.Context, id string) (*domain.MedicalRecord, bool, error)
	ListPatientRecords(ctx context.Context, patientID string, limit int) ([]domain.MedicalRecord, error)
	MarkConfirmed(ctx context.Context, id, fingerprint, txHash string) error
	MarkFailed(ctx context.Context, id, reason string) error
	SetVerified(ctx context.Context, id string, verified bool) error
	StoreAnchorTransaction(ctx context.Context, anchor domain.AnchorTransaction) error
	GetAnchorTransaction(ctx context.Context, txHash string) (*domain.AnchorTransaction, bool, error)
	Ping(ctx context.Context) error
}

// EventPublisher emits anchoring outcomes for downstream consumers.
type EventPublisher interface {
	PublishAnchored(ctx context.Context, msg streaming.Message) error
	PublishAnchorFailed(ctx context.Context, msg streaming.Message) error
}

type PipelineObserver interface {
	OnAnchorConfirmed(recordID, txHash string)
	OnAnchorFailed(recordID string)
	OnVerification(verified bool)
}

// Pipeline drives a record from upload to a terminal anchoring status and
// re-verification. It owns the persistence side effects around the submitter
// and verifier, which stay free of storage concerns.
type Pipeline struct {
	submitter *TransactionSubmitter
	verifier  *VerificationService
	store     RecordStore
	events    EventPublisher
	observer  PipelineObserver
}

func NewPipeline(submitter *TransactionSubmitter, verifier *VerificationService, store RecordStore, events EventPublisher, observer PipelineObserver) (*Pipeline, error) {
	if submitter == nil || verifier == nil || store == nil {
		return nil, errors.New("pipeline dependencies must not be nil")
	}
	return &Pipeline{submitter: submitter, verifier: verifier, store: store, events: events, observer: observer}, nil
}

// AnchorRecord anchors one pending record and persists the terminal outcome.
// A network failure leaves the record pending and is returned to the caller
// for retry; validation and transaction failures are terminal and mark the
// record failed while keeping its file reference intact.
func (p *Pipeline) AnchorRecord(ctx context.Context, recordID, patientAddress string) (*domain.AnchorResult, error) {
	record, ok, err := p.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "record %s not found", recordID)
	}
	if record.BlockchainStatus != domain.AnchorStatusPending {
		return nil, domain.Errorf(domain.ErrValidation, "record %s already %s", recordID, record.BlockchainStatus)
	}

	result, err := p.submitter.StoreRecord(ctx, patientAddress, RecordData{
		RecordType:       record.RecordType,
		Description:      record.Description,
		OriginalFileName: record.OriginalFileName,
		FileURL:          record.FileURL,
		StorageObjectID:  record.StorageObjectID,
		UploadedAt:       record.CreatedAt,
	})
	if err != nil {
		if domain.IsNetwork(err) {
			// Retryable; the record stays pending.
			return nil, err
		}
		reason := err.Error()
		if markErr := p.store.MarkFailed(ctx, record.ID, reason); markErr != nil {
			slog.Error("failed to persist anchor failure", "record_id", record.ID, "error", markErr)
		}
		p.publishFailed(ctx, record, reason)
		if p.observer != nil {
			p.observer.OnAnchorFailed(record.ID)
		}
		return nil, err
	}

	if err := p.store.MarkConfirmed(ctx, record.ID, result.Fingerprint, result.TxHash); err != nil {
		return nil, fmt.Errorf("anchor confirmed on chain but status update failed: %w", err)
	}
	if err := p.store.StoreAnchorTransaction(ctx, domain.AnchorTransaction{
		TxHash:       result.TxHash,
		RecordID:     record.ID,
		BlockNumber:  result.BlockNumber,
		GasUsed:      result.GasUsed,
		GasPrice:     result.GasPrice,
		TxFee:        result.TxFee,
		ConfirmedAt:  time.Now().UTC(),
		ExplorerLink: result.ExplorerLink,
	}); err != nil {
		slog.Error("failed to persist anchor transaction", "tx_hash", result.TxHash, "error", err)
	}
	p.publishAnchored(ctx, record, result)
	if p.observer != nil {
		p.observer.OnAnchorConfirmed(record.ID, result.TxHash)
	}
	return result, nil
}

// HandleUploaded processes one record-uploaded event. Returning an error
// signals the consumer to redeliver; terminal failures are absorbed after
// the record is marked failed.
func (p *Pipeline) HandleUploaded(ctx context.Context, msg streaming.Message) error {
	if msg.Type != streaming.MessageTypeRecordUploaded {
		return nil
	}
	_, err := p.AnchorRecord(ctx, msg.RecordID, msg.PatientAddress)
	switch {
	case err == nil:
		return nil
	case domain.IsNetwork(err):
		return err
	case domain.IsNotFound(err):
		// The upload transaction may not have committed yet.
		return err
	default:
		slog.Warn("anchoring failed terminally", "record_id", msg.RecordID, "error", err)
		return nil
	}
}

// VerifyAnchor re-verifies a transaction and, when the anchoring record is
// known, persists the verified flag. The flag is only ever set as the result
// of a successful verification, never optimistically.
func (p *Pipeline) VerifyAnchor(ctx context.Context, txHash, expectedFingerprint string) (*domain.VerificationResult, error) {
	result, err := p.verifier.Verify(ctx, txHash, expectedFingerprint)
	if err != nil {
		return nil, err
	}
	if p.observer != nil {
		p.observer.OnVerification(result.Verified)
	}

	anchor, ok, err := p.store.GetAnchorTransaction(ctx, txHash)
	if err != nil {
		slog.Error("anchor transaction lookup failed", "tx_hash", txHash, "error", err)
		return result, nil
	}
	if !ok {
		return result, nil
	}
	verified := result.Verified && (result.FingerprintMatch == nil || *result.FingerprintMatch)
	if err := p.store.SetVerified(ctx, anchor.RecordID, verified); err != nil {
		slog.Error("failed to persist verified flag", "record_id", anchor.RecordID, "error", err)
	}
	return result, nil
}

func (p *Pipeline) publishAnchored(ctx context.Context, record *domain.MedicalRecord, result *domain.AnchorResult) {
	if p.events == nil {
		return
	}
	err := p.events.PublishAnchored(ctx, streaming.Message{
		Type:        streaming.MessageTypeRecordAnchored,
		RecordID:    record.ID,
		PatientID:   record.PatientID,
		RecordType:  string(record.RecordType),
		Fingerprint: result.Fingerprint,
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
	})
	if err != nil {
		slog.Error("failed to publish anchored event", "record_id", record.ID, "error", err)
	}
}

func (p *Pipeline) publishFailed(ctx context.Context, record *domain.MedicalRecord, reason string) {
	if p.events == nil {
		return
	}
	err := p.events.PublishAnchorFailed(ctx, streaming.Message{
		Type:      streaming.MessageTypeAnchorFailed,
		RecordID:  record.ID,
		PatientID: record.PatientID,
		Reason:    reason,
	})
	if err != nil {
		slog.Error("failed to publish anchor-failed event", "record_id", record.ID, "error", err)
	}
}
