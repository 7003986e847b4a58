package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medanchor/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS medical_records (
			id CHAR(36) NOT NULL,
			patient_id CHAR(36) NOT NULL,
			doctor_id CHAR(36) NOT NULL,
			appointment_id CHAR(36) NULL,
			record_type VARCHAR(32) NOT NULL,
			original_file_name VARCHAR(255) NOT NULL,
			file_url VARCHAR(512) NOT NULL,
			storage_object_id VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			file_size BIGINT UNSIGNED NOT NULL DEFAULT 0,
			blockchain_hash VARCHAR(66) NULL,
			blockchain_status ENUM('pending','confirmed','failed') NOT NULL DEFAULT 'pending',
			verified TINYINT(1) NOT NULL DEFAULT 0,
			doctor_notes TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY records_patient_idx (patient_id),
			KEY records_doctor_idx (doctor_id),
			KEY records_status_idx (blockchain_status)
		)`,
		`CREATE TABLE IF NOT EXISTS anchor_transactions (
			tx_hash VARCHAR(66) NOT NULL,
			record_id CHAR(36) NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			gas_used BIGINT UNSIGNED NOT NULL,
			gas_price DECIMAL(65,0) NOT NULL,
			tx_fee DECIMAL(65,0) NOT NULL,
			confirmed_at TIMESTAMP NOT NULL,
			explorer_link VARCHAR(512) NOT NULL,
			PRIMARY KEY (tx_hash),
			KEY anchor_record_idx (record_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) CreateRecord(ctx context.Context, record *domain.MedicalRecord) error {
	ctx, span := startDBSpan(ctx, "mysql.CreateRecord", attribute.String("record.id", record.ID))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	appointment := sql.NullString{String: record.AppointmentID, Valid: record.AppointmentID != ""}
	_, err := r.db.ExecContext(ctx, `INSERT INTO medical_records
		(id, patient_id, doctor_id, appointment_id, record_type, original_file_name, file_url, storage_object_id, description, file_size, blockchain_status, doctor_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		record.ID, record.PatientID, record.DoctorID, appointment, string(record.RecordType),
		record.OriginalFileName, record.FileURL, record.StorageObjectID, record.Description,
		record.FileSize, record.DoctorNotes,
	)
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

func (r *Repository) GetRecord(ctx context.Context, id string) (*domain.MedicalRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT id, patient_id, doctor_id, appointment_id, record_type,
		original_file_name, file_url, storage_object_id, description, file_size,
		blockchain_hash, blockchain_status, verified, doctor_notes, created_at, updated_at
		FROM medical_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return record, true, nil
}

func (r *Repository) ListPatientRecords(ctx context.Context, patientID string, limit int) ([]domain.MedicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, patient_id, doctor_id, appointment_id, record_type,
		original_file_name, file_url, storage_object_id, description, file_size,
		blockchain_hash, blockchain_status, verified, doctor_notes, created_at, updated_at
		FROM medical_records WHERE patient_id = ? ORDER BY created_at DESC LIMIT ?`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.MedicalRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// MarkConfirmed moves a pending record to confirmed. The WHERE guard makes
// terminal states immutable even under concurrent writers.
func (r *Repository) MarkConfirmed(ctx context.Context, id, fingerprint, txHash string) error {
	ctx, span := startDBSpan(ctx, "mysql.MarkConfirmed",
		attribute.String("record.id", id),
		attribute.String("tx.hash", txHash),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `UPDATE medical_records
		SET blockchain_hash = ?, blockchain_status = 'confirmed'
		WHERE id = ? AND blockchain_status = 'pending'`, fingerprint, id)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	return requireTransition(result, id, span)
}

// MarkFailed moves a pending record to failed, appending the failure reason
// to the doctor notes for audit. The file reference is never touched.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	ctx, span := startDBSpan(ctx, "mysql.MarkFailed", attribute.String("record.id", id))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `UPDATE medical_records
		SET blockchain_status = 'failed',
			doctor_notes = CONCAT(doctor_notes, IF(doctor_notes = '', '', '\n'), ?)
		WHERE id = ? AND blockchain_status = 'pending'`,
		"anchoring failed: "+reason, id)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	return requireTransition(result, id, span)
}

func (r *Repository) SetVerified(ctx context.Context, id string, verified bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	value := 0
	if verified {
		value = 1
	}
	_, err := r.db.ExecContext(ctx, `UPDATE medical_records SET verified = ? WHERE id = ?`, value, id)
	return err
}

func (r *Repository) StoreAnchorTransaction(ctx context.Context, anchor domain.AnchorTransaction) error {
	ctx, span := startDBSpan(ctx, "mysql.StoreAnchorTransaction", attribute.String("tx.hash", anchor.TxHash))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO anchor_transactions
		(tx_hash, record_id, block_number, gas_used, gas_price, tx_fee, confirmed_at, explorer_link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		anchor.TxHash, anchor.RecordID, anchor.BlockNumber, anchor.GasUsed,
		anchor.GasPrice, anchor.TxFee, anchor.ConfirmedAt, anchor.ExplorerLink,
	)
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

func (r *Repository) GetAnchorTransaction(ctx context.Context, txHash string) (*domain.AnchorTransaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var anchor domain.AnchorTransaction
	err := r.db.QueryRowContext(ctx, `SELECT tx_hash, record_id, block_number, gas_used, gas_price, tx_fee, confirmed_at, explorer_link
		FROM anchor_transactions WHERE tx_hash = ?`, txHash).Scan(
		&anchor.TxHash, &anchor.RecordID, &anchor.BlockNumber, &anchor.GasUsed,
		&anchor.GasPrice, &anchor.TxFee, &anchor.ConfirmedAt, &anchor.ExplorerLink,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &anchor, true, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.MedicalRecord, error) {
	var record domain.MedicalRecord
	var appointment sql.NullString
	var blockchainHash sql.NullString
	var recordType string
	var status string
	var verified int
	if err := row.Scan(
		&record.ID, &record.PatientID, &record.DoctorID, &appointment, &recordType,
		&record.OriginalFileName, &record.FileURL, &record.StorageObjectID, &record.Description, &record.FileSize,
		&blockchainHash, &status, &verified, &record.DoctorNotes, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.AppointmentID = appointment.String
	record.BlockchainHash = blockchainHash.String
	record.RecordType = domain.RecordType(recordType)
	record.BlockchainStatus = domain.AnchorStatus(status)
	record.Verified = verified != 0
	return &record, nil
}

func requireTransition(result sql.Result, id string, span trace.Span) error {
	affected, err := result.RowsAffected()
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if affected == 0 {
		err := fmt.Errorf("record %s is not pending", id)
		recordSpanError(span, err)
		return err
	}
	return nil
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("medanchor/mysql")
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attrs...)
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
