package application

import (
	"context"
	"math/big"
	"regexp"
	"strings"

	"medanchor/internal/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// VerificationService re-checks anchored transactions against the ledger.
// It never mutates signer state, so calls may run concurrently with each
// other and with submissions.
type VerificationService struct {
	client      *ChainClient
	explorerURL string
}

func NewVerificationService(client *ChainClient, explorerURL string) (*VerificationService, error) {
	if client == nil {
		return nil, domain.NewError(domain.ErrConfiguration, "chain client is required")
	}
	return &VerificationService{client: client, explorerURL: explorerURL}, nil
}

// Verify fetches the transaction and receipt for txHash and reports whether
// the anchoring executed successfully, with a freshly computed confirmation
// count. When expectedFingerprint is non-empty the anchored payload is decoded
// from the transaction input and compared against it.
func (v *VerificationService) Verify(ctx context.Context, txHash, expectedFingerprint string) (*domain.VerificationResult, error) {
	if !txHashPattern.MatchString(txHash) {
		return nil, domain.Errorf(domain.ErrValidation, "invalid transaction hash: %q", txHash)
	}
	if expectedFingerprint != "" && !txHashPattern.MatchString(expectedFingerprint) {
		return nil, domain.Errorf(domain.ErrValidation, "invalid fingerprint: %q", expectedFingerprint)
	}
	if err := v.client.Initialize(ctx); err != nil {
		return nil, err
	}
	rpc := v.client.RPC()

	tx, found, err := rpc.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNetwork, "transaction lookup failed", err)
	}
	if !found {
		return nil, domain.Errorf(domain.ErrNotFound, "transaction %s not found; it may not be indexed yet", txHash)
	}

	receipt, found, err := rpc.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNetwork, "receipt lookup failed", err)
	}
	if !found {
		return nil, domain.Errorf(domain.ErrNotFound, "receipt for %s not available yet", txHash)
	}

	result := &domain.VerificationResult{
		ExplorerLink: explorerTxLink(v.explorerURL, txHash),
	}
	if receipt.Status == 0 {
		result.Reason = "Transaction failed"
		return result, nil
	}

	head, err := rpc.LatestBlockNumber(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNetwork, "chain head lookup failed", err)
	}
	var confirmations uint64
	if head >= receipt.BlockNumber {
		confirmations = head - receipt.BlockNumber
	}

	result.Verified = true
	result.BlockNumber = receipt.BlockNumber
	result.Confirmations = confirmations

	if expectedFingerprint != "" {
		match := payloadMatchesFingerprint(tx.Input, expectedFingerprint)
		result.FingerprintMatch = &match
	}
	return result, nil
}

// TransactionDetails returns the raw transaction/receipt shape for diagnostic
// display. Shares hash validation and not-found handling with Verify.
func (v *VerificationService) TransactionDetails(ctx context.Context, txHash string) (*domain.TxDetails, error) {
	if !txHashPattern.MatchString(txHash) {
		return nil, domain.Errorf(domain.ErrValidation, "invalid transaction hash: %q", txHash)
	}
	if err := v.client.Initialize(ctx); err != nil {
		return nil, err
	}
	rpc := v.client.RPC()

	tx, found, err := rpc.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNetwork, "transaction lookup failed", err)
	}
	if !found {
		return nil, domain.Errorf(domain.ErrNotFound, "transaction %s not found; it may not be indexed yet", txHash)
	}

	details := &domain.TxDetails{
		TxHash:   tx.Hash,
		From:     tx.From,
		To:       tx.To,
		Value:    tx.Value,
		Nonce:    tx.Nonce,
		GasLimit: tx.Gas,
		GasPrice: tx.GasPrice,
		Input:    tx.Input,
		Status:   "pending",
	}

	receipt, found, err := rpc.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNetwork, "receipt lookup failed", err)
	}
	if !found {
		return details, nil
	}

	details.BlockNumber = receipt.BlockNumber
	details.GasUsed = receipt.GasUsed
	if receipt.Status == 1 {
		details.Status = "success"
	} else {
		details.Status = "failed"
	}
	if price, ok := new(big.Int).SetString(effectivePrice(receipt, tx), 10); ok {
		details.Fee = new(big.Int).Mul(price, new(big.Int).SetUint64(receipt.GasUsed)).String()
	}
	return details, nil
}

func effectivePrice(receipt *domain.Receipt, tx *domain.ChainTransaction) string {
	if receipt.EffectiveGasPrice != "" {
		return receipt.EffectiveGasPrice
	}
	return tx.GasPrice
}

func payloadMatchesFingerprint(input, expected string) bool {
	data, err := hexutil.Decode(input)
	if err != nil {
		return false
	}
	payload, err := DecodeAnchorPayload(data)
	if err != nil {
		return false
	}
	return payload.Fingerprint == strings.ToLower(expected)
}
