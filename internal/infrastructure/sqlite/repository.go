package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medanchor/internal/domain"

	_ "modernc.org/sqlite"
)

// Repository is the embedded store used when no MySQL DSN is configured.
// It implements the same RecordStore surface as the mysql package; updated_at
// is maintained in SQL because sqlite has no ON UPDATE clause.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
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
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			doctor_id TEXT NOT NULL,
			appointment_id TEXT,
			record_type TEXT NOT NULL,
			original_file_name TEXT NOT NULL,
			file_url TEXT NOT NULL,
			storage_object_id TEXT NOT NULL,
			description TEXT NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0,
			blockchain_hash TEXT,
			blockchain_status TEXT NOT NULL DEFAULT 'pending'
				CHECK (blockchain_status IN ('pending','confirmed','failed')),
			verified INTEGER NOT NULL DEFAULT 0,
			doctor_notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS records_patient_idx ON medical_records (patient_id)`,
		`CREATE TABLE IF NOT EXISTS anchor_transactions (
			tx_hash TEXT PRIMARY KEY,
			record_id TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			gas_used INTEGER NOT NULL,
			gas_price TEXT NOT NULL,
			tx_fee TEXT NOT NULL,
			confirmed_at TIMESTAMP NOT NULL,
			explorer_link TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS anchor_record_idx ON anchor_transactions (record_id)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) CreateRecord(ctx context.Context, record *domain.MedicalRecord) error {
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

func (r *Repository) MarkConfirmed(ctx context.Context, id, fingerprint, txHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `UPDATE medical_records
		SET blockchain_hash = ?, blockchain_status = 'confirmed', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND blockchain_status = 'pending'`, fingerprint, id)
	if err != nil {
		return err
	}
	return requireTransition(result, id)
}

func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `UPDATE medical_records
		SET blockchain_status = 'failed',
			doctor_notes = CASE WHEN doctor_notes = '' THEN ? ELSE doctor_notes || char(10) || ? END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND blockchain_status = 'pending'`,
		"anchoring failed: "+reason, "anchoring failed: "+reason, id)
	if err != nil {
		return err
	}
	return requireTransition(result, id)
}

func (r *Repository) SetVerified(ctx context.Context, id string, verified bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	value := 0
	if verified {
		value = 1
	}
	_, err := r.db.ExecContext(ctx, `UPDATE medical_records
		SET verified = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, value, id)
	return err
}

func (r *Repository) StoreAnchorTransaction(ctx context.Context, anchor domain.AnchorTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO anchor_transactions
		(tx_hash, record_id, block_number, gas_used, gas_price, tx_fee, confirmed_at, explorer_link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO NOTHING`,
		anchor.TxHash, anchor.RecordID, anchor.BlockNumber, anchor.GasUsed,
		anchor.GasPrice, anchor.TxFee, anchor.ConfirmedAt, anchor.ExplorerLink,
	)
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

func requireTransition(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("record %s is not pending", id)
	}
	return nil
}
