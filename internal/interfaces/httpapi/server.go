package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medanchor/internal/application"
	"medanchor/internal/config"
	"medanchor/internal/domain"
	"medanchor/internal/streaming"

	"github.com/google/uuid"
)

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// UploadPublisher enqueues a freshly created record for asynchronous
// anchoring. Optional; without it records are anchored via the anchor
// endpoint only.
type UploadPublisher interface {
	PublishUploaded(ctx context.Context, msg streaming.Message) error
}

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

type Server struct {
	cfg       config.Config
	store     application.RecordStore
	pipeline  *application.Pipeline
	verifier  *application.VerificationService
	account   *application.AccountService
	rpc       RPCStatus
	uploads   UploadPublisher
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(cfg config.Config, store application.RecordStore, pipeline *application.Pipeline, verifier *application.VerificationService, account *application.AccountService, rpc RPCStatus, uploads UploadPublisher, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if store == nil || pipeline == nil || verifier == nil || account == nil || rpc == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		pipeline:  pipeline,
		verifier:  verifier,
		account:   account,
		rpc:       rpc,
		uploads:   uploads,
		metrics:   metrics,
		buildInfo: buildInfo,
	}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /records", s.handleCreateRecord)
	mux.HandleFunc("GET /records", s.handleListRecords)
	mux.HandleFunc("GET /records/{id}", s.handleGetRecord)
	mux.HandleFunc("POST /records/{id}/anchor", s.handleAnchorRecord)
	mux.HandleFunc("GET /verify", s.handleVerify)
	mux.HandleFunc("GET /transactions", s.handleTransaction)
	mux.HandleFunc("GET /account/balance", s.handleBalance)
	mux.HandleFunc("GET /account/funding", s.handleFunding)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	block, err := s.rpc.LatestBlockNumber(ctx)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	s.metrics.OnLatestBlock(block)
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"latest_block": block,
	})
}

type createRecordRequest struct {
	PatientID        string `json:"patient_id"`
	DoctorID         string `json:"doctor_id"`
	AppointmentID    string `json:"appointment_id"`
	RecordType       string `json:"record_type"`
	OriginalFileName string `json:"original_file_name"`
	FileURL          string `json:"file_url"`
	StorageObjectID  string `json:"storage_object_id"`
	Description      string `json:"description"`
	FileSize         int64  `json:"file_size"`
	DoctorNotes      string `json:"doctor_notes"`
	PatientAddress   string `json:"patient_address"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateCreateRequest(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	record := &domain.MedicalRecord{
		ID:               uuid.NewString(),
		PatientID:        req.PatientID,
		DoctorID:         req.DoctorID,
		AppointmentID:    req.AppointmentID,
		RecordType:       domain.RecordType(req.RecordType),
		OriginalFileName: req.OriginalFileName,
		FileURL:          req.FileURL,
		StorageObjectID:  req.StorageObjectID,
		Description:      req.Description,
		FileSize:         req.FileSize,
		BlockchainStatus: domain.AnchorStatusPending,
		DoctorNotes:      req.DoctorNotes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateRecord(r.Context(), record); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store record")
		return
	}

	enqueued := false
	if s.uploads != nil && req.PatientAddress != "" {
		err := s.uploads.PublishUploaded(r.Context(), streaming.Message{
			Type:           streaming.MessageTypeRecordUploaded,
			RecordID:       record.ID,
			PatientID:      record.PatientID,
			PatientAddress: req.PatientAddress,
			RecordType:     string(record.RecordType),
		})
		enqueued = err == nil
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"record":   recordResponse(record),
		"enqueued": enqueued,
	})
}

func validateCreateRequest(req createRecordRequest) error {
	if strings.TrimSpace(req.PatientID) == "" {
		return errors.New("patient_id is required")
	}
	if strings.TrimSpace(req.DoctorID) == "" {
		return errors.New("doctor_id is required")
	}
	if !domain.RecordType(req.RecordType).Valid() {
		return fmt.Errorf("invalid record_type: %q", req.RecordType)
	}
	if strings.TrimSpace(req.OriginalFileName) == "" {
		return errors.New("original_file_name is required")
	}
	if strings.TrimSpace(req.FileURL) == "" {
		return errors.New("file_url is required")
	}
	if strings.TrimSpace(req.StorageObjectID) == "" {
		return errors.New("storage_object_id is required")
	}
	if req.FileSize < 0 {
		return errors.New("file_size must not be negative")
	}
	return nil
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		respondError(w, http.StatusBadRequest, "patient_id is required")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.ListPatientRecords(r.Context(), patientID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	responses := make([]map[string]any, 0, len(records))
	for i := range records {
		responses = append(responses, recordResponse(&records[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": responses})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, ok, err := s.store.GetRecord(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	respondJSON(w, http.StatusOK, recordResponse(record))
}

type anchorRequest struct {
	PatientAddress string `json:"patient_address"`
}

func (s *Server) handleAnchorRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req anchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.pipeline.AnchorRecord(r.Context(), id, req.PatientAddress)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, anchorResponse(result))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	txHash := r.URL.Query().Get("tx_hash")
	if txHash == "" {
		respondError(w, http.StatusBadRequest, "tx_hash is required")
		return
	}
	fingerprint := r.URL.Query().Get("fingerprint")

	result, err := s.pipeline.VerifyAnchor(r.Context(), txHash, fingerprint)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, verifyResponse(result))
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txHash := r.URL.Query().Get("tx_hash")
	if txHash == "" {
		respondError(w, http.StatusBadRequest, "tx_hash is required")
		return
	}

	details, err := s.verifier.TransactionDetails(r.Context(), txHash)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txResponse(details))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.account.Balance(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request) {
	funding, err := s.account.Funding(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, funding)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	uptime := time.Since(snap.StartTime).Seconds()
	fmt.Fprintf(w, "medanchor_uptime_seconds %.0f\n", uptime)
	fmt.Fprintf(w, "medanchor_latest_block %d\n", snap.LatestBlock)
	fmt.Fprintf(w, "medanchor_anchors_confirmed_total %d\n", snap.AnchorsConfirmed)
	fmt.Fprintf(w, "medanchor_anchors_failed_total %d\n", snap.AnchorsFailed)
	fmt.Fprintf(w, "medanchor_verifications_total %d\n", snap.VerificationsTotal)
	fmt.Fprintf(w, "medanchor_verifications_ok_total %d\n", snap.VerificationsOK)
	fmt.Fprintf(w, "medanchor_kafka_messages_total %d\n", snap.KafkaMessages)
	fmt.Fprintf(w, "medanchor_kafka_fetch_errors_total %d\n", snap.KafkaFetchErrs)
	fmt.Fprintf(w, "medanchor_kafka_decode_errors_total %d\n", snap.KafkaDecodeErrs)
	fmt.Fprintf(w, "medanchor_kafka_handle_errors_total %d\n", snap.KafkaHandleErrs)
	fmt.Fprintf(w, "medanchor_kafka_commit_errors_total %d\n", snap.KafkaCommitErrs)
	fmt.Fprintf(w, "medanchor_kafka_max_lag_seconds %.3f\n", snap.KafkaMaxLag.Seconds())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version":    s.buildInfo.Version,
		"commit":     s.buildInfo.Commit,
		"build_time": s.buildInfo.BuildTime,
		"network":    s.cfg.NetworkName,
	})
}

func recordResponse(record *domain.MedicalRecord) map[string]any {
	return map[string]any{
		"id":                 record.ID,
		"patient_id":         record.PatientID,
		"doctor_id":          record.DoctorID,
		"appointment_id":     record.AppointmentID,
		"record_type":        string(record.RecordType),
		"original_file_name": record.OriginalFileName,
		"file_url":           record.FileURL,
		"storage_object_id":  record.StorageObjectID,
		"description":        record.Description,
		"file_size":          record.FileSize,
		"blockchain_hash":    record.BlockchainHash,
		"blockchain_status":  string(record.BlockchainStatus),
		"verified":           record.Verified,
		"doctor_notes":       record.DoctorNotes,
		"created_at":         record.CreatedAt,
		"updated_at":         record.UpdatedAt,
	}
}

func anchorResponse(result *domain.AnchorResult) map[string]any {
	return map[string]any{
		"tx_hash":       result.TxHash,
		"block_number":  result.BlockNumber,
		"gas_used":      result.GasUsed,
		"gas_price":     result.GasPrice,
		"tx_fee":        result.TxFee,
		"fingerprint":   result.Fingerprint,
		"explorer_link": result.ExplorerLink,
		"status":        string(result.Status),
	}
}

func verifyResponse(result *domain.VerificationResult) map[string]any {
	response := map[string]any{
		"verified":      result.Verified,
		"block_number":  result.BlockNumber,
		"confirmations": result.Confirmations,
		"explorer_link": result.ExplorerLink,
	}
	if result.FingerprintMatch != nil {
		response["fingerprint_match"] = *result.FingerprintMatch
	}
	if result.Reason != "" {
		response["reason"] = result.Reason
	}
	return response
}

func txResponse(details *domain.TxDetails) map[string]any {
	return map[string]any{
		"tx_hash":      details.TxHash,
		"from":         details.From,
		"to":           details.To,
		"value":        details.Value,
		"nonce":        details.Nonce,
		"gas_limit":    details.GasLimit,
		"gas_price":    details.GasPrice,
		"gas_used":     details.GasUsed,
		"fee":          details.Fee,
		"block_number": details.BlockNumber,
		"status":       details.Status,
		"input":        details.Input,
	}
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return 100, nil
}

// respondDomainError maps error kinds onto HTTP statuses: caller mistakes are
// 4xx, upstream chain trouble is 502, node rejections are 422.
func respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		status = http.StatusBadRequest
	case domain.ErrNotFound:
		status = http.StatusNotFound
	case domain.ErrNetwork:
		status = http.StatusBadGateway
	case domain.ErrTransaction:
		status = http.StatusUnprocessableEntity
	case domain.ErrConfiguration:
		status = http.StatusInternalServerError
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
