package application

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"medanchor/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// RecordData is the metadata slice of a MedicalRecord that gets anchored.
type RecordData struct {
	RecordType       domain.RecordType
	Description      string
	OriginalFileName string
	FileURL          string
	StorageObjectID  string
	UploadedAt       time.Time
}

type SubmitterConfig struct {
	// ConfirmTimeout bounds the wait for one confirmation. On expiry the
	// submission reports a retryable network error; the broadcast transaction
	// may still be mined later.
	ConfirmTimeout      time.Duration
	ReceiptPollInterval time.Duration
	ExplorerURL         string
}

// TransactionSubmitter anchors record fingerprints on the ledger. All
// submissions share one signing identity, so nonce acquisition and broadcast
// are serialized through a single mutex; only the confirmation wait runs
// outside it.
type TransactionSubmitter struct {
	client   *ChainClient
	cfg      SubmitterConfig
	submitMu sync.Mutex
}

func NewTransactionSubmitter(client *ChainClient, cfg SubmitterConfig) (*TransactionSubmitter, error) {
	if client == nil {
		return nil, domain.NewError(domain.ErrConfiguration, "chain client is required")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	return &TransactionSubmitter{client: client, cfg: cfg}, nil
}

// StoreRecord fingerprints the record metadata, notarizes it in a zero-value
// self-directed transaction, and blocks until one confirmation. No internal
// retries; retry policy belongs to the caller.
func (s *TransactionSubmitter) StoreRecord(ctx context.Context, patientAddress string, data RecordData) (*domain.AnchorResult, error) {
	if !common.IsHexAddress(patientAddress) {
		return nil, domain.Errorf(domain.ErrValidation, "invalid patient address: %q", patientAddress)
	}

	fingerprint, err := Fingerprint(RecordMetadata{
		RecordType:      string(data.RecordType),
		Description:     data.Description,
		FileName:        data.OriginalFileName,
		FileURL:         data.FileURL,
		StorageObjectID: data.StorageObjectID,
		UploadedAt:      data.UploadedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	if err := s.client.Initialize(ctx); err != nil {
		return nil, err
	}

	payload, err := EncodeAnchorPayload(string(data.RecordType), patientAddress, fingerprint)
	if err != nil {
		return nil, err
	}

	txHash, gasPrice, err := s.broadcast(ctx, payload)
	if err != nil {
		return nil, err
	}

	receipt, err := s.waitForReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status == 0 {
		return nil, domain.Errorf(domain.ErrTransaction, "transaction %s reverted on chain", txHash)
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(receipt.GasUsed))
	slog.Info("record anchored",
		"tx_hash", txHash,
		"block_number", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
	)

	return &domain.AnchorResult{
		TxHash:       txHash,
		BlockNumber:  receipt.BlockNumber,
		GasUsed:      receipt.GasUsed,
		GasPrice:     gasPrice.String(),
		TxFee:        fee.String(),
		Fingerprint:  fingerprint,
		ExplorerLink: explorerTxLink(s.cfg.ExplorerURL, txHash),
		Status:       domain.AnchorStatusConfirmed,
	}, nil
}

// broadcast acquires the next nonce, signs and sends the transaction. Held
// under submitMu so two concurrent submissions can never observe the same
// pending nonce.
func (s *TransactionSubmitter) broadcast(ctx context.Context, payload []byte) (string, *big.Int, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	rpc := s.client.RPC()
	from := s.client.SignerAddress()

	nonce, err := rpc.PendingNonce(ctx, from)
	if err != nil {
		return "", nil, domain.WrapError(domain.ErrNetwork, "nonce lookup failed", err)
	}
	gasPrice, err := rpc.GasPrice(ctx)
	if err != nil {
		return "", nil, domain.WrapError(domain.ErrNetwork, "gas price lookup failed", err)
	}
	estimate, err := rpc.EstimateGas(ctx, domain.CallRequest{
		From: from,
		To:   from,
		Data: payload,
	})
	if err != nil {
		return "", nil, classifyRPCError(err, "gas estimation failed")
	}
	gasLimit := gasWithMargin(estimate)

	raw, txHash, err := s.client.SignAnchorTx(nonce, gasLimit, gasPrice, payload)
	if err != nil {
		return "", nil, err
	}
	sent, err := rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return "", nil, classifyRPCError(err, "transaction broadcast failed")
	}
	if sent != "" {
		txHash = sent
	}
	slog.Debug("anchor transaction broadcast", "tx_hash", txHash, "nonce", nonce, "gas_limit", gasLimit)
	return txHash, gasPrice, nil
}

func (s *TransactionSubmitter) waitForReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	rpc := s.client.RPC()
	deadline := time.NewTimer(s.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, found, err := rpc.TransactionReceipt(ctx, txHash)
		if err != nil {
			// Transient fetch errors are absorbed until the deadline fires.
			slog.Debug("receipt poll failed", "tx_hash", txHash, "error", err)
		} else if found {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, domain.WrapError(domain.ErrNetwork, "confirmation wait cancelled", ctx.Err())
		case <-deadline.C:
			return nil, domain.Errorf(domain.ErrNetwork,
				"transaction %s not confirmed within %s; it may still be mined later", txHash, s.cfg.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}

// gasWithMargin returns ceil(estimate * 1.2), the fixed safety margin applied
// to every gas estimate.
func gasWithMargin(estimate uint64) uint64 {
	return (estimate*12 + 9) / 10
}

func explorerTxLink(baseURL, txHash string) string {
	if baseURL == "" {
		return ""
	}
	return baseURL + "/tx/" + txHash
}
