package chainrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"medanchor/internal/domain"
)

// Client is a JSON-RPC transport to an EVM-style node over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
}

func NewClient(url string) (*Client, error) {
	if url == "" {
		return nil, errors.New("rpc url is required")
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{},
	}, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var result string
	if err := c.call(ctx, "eth_chainId", []any{}, &result); err != nil {
		return nil, err
	}
	return parseHexBig(result)
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) PendingNonce(ctx context.Context, address string) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_getTransactionCount", []any{address, "pending"}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var result string
	if err := c.call(ctx, "eth_gasPrice", []any{}, &result); err != nil {
		return nil, err
	}
	return parseHexBig(result)
}

func (c *Client) EstimateGas(ctx context.Context, call domain.CallRequest) (uint64, error) {
	msg := map[string]any{
		"from": call.From,
		"to":   call.To,
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		msg["value"] = "0x" + call.Value.Text(16)
	}
	if len(call.Data) > 0 {
		msg["data"] = "0x" + hex.EncodeToString(call.Data)
	}
	var result string
	if err := c.call(ctx, "eth_estimateGas", []any{msg}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	var result string
	if err := c.call(ctx, "eth_sendRawTransaction", []any{rawTx}, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (c *Client) TransactionByHash(ctx context.Context, hash string) (*domain.ChainTransaction, bool, error) {
	var result *rpcTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []any{hash}, &result); err != nil {
		return nil, false, err
	}
	if result == nil {
		return nil, false, nil
	}

	tx := &domain.ChainTransaction{
		Hash:    result.Hash,
		From:    strings.ToLower(result.From),
		To:      strings.ToLower(result.To),
		Input:   result.Input,
		Pending: result.BlockNumber == nil,
	}
	var err error
	if tx.Nonce, err = parseHexUint(result.Nonce); err != nil {
		return nil, false, err
	}
	if tx.Gas, err = parseHexUint(result.Gas); err != nil {
		return nil, false, err
	}
	if value, err := parseHexBig(result.Value); err == nil {
		tx.Value = value.String()
	} else {
		return nil, false, err
	}
	if price, err := parseHexBig(result.GasPrice); err == nil {
		tx.GasPrice = price.String()
	} else {
		return nil, false, err
	}
	if result.BlockNumber != nil {
		if tx.BlockNumber, err = parseHexUint(*result.BlockNumber); err != nil {
			return nil, false, err
		}
	}
	return tx, true, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, bool, error) {
	var result *rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &result); err != nil {
		return nil, false, err
	}
	if result == nil {
		return nil, false, nil
	}

	receipt := &domain.Receipt{TxHash: result.TransactionHash}
	var err error
	if receipt.BlockNumber, err = parseHexUint(result.BlockNumber); err != nil {
		return nil, false, err
	}
	if receipt.Status, err = parseHexUint(result.Status); err != nil {
		return nil, false, err
	}
	if receipt.GasUsed, err = parseHexUint(result.GasUsed); err != nil {
		return nil, false, err
	}
	if result.EffectiveGasPrice != "" {
		price, err := parseHexBig(result.EffectiveGasPrice)
		if err != nil {
			return nil, false, err
		}
		receipt.EffectiveGasPrice = price.String()
	}
	return receipt, true, nil
}

func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	var result string
	if err := c.call(ctx, "eth_getBalance", []any{address, "latest"}, &result); err != nil {
		return nil, err
	}
	return parseHexBig(result)
}

type rpcTransaction struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Value       string  `json:"value"`
	Nonce       string  `json:"nonce"`
	Gas         string  `json:"gas"`
	GasPrice    string  `json:"gasPrice"`
	Input       string  `json:"input"`
	BlockNumber *string `json:"blockNumber"`
}

type rpcReceipt struct {
	TransactionHash   string `json:"transactionHash"`
	BlockNumber       string `json:"blockNumber"`
	Status            string `json:"status"`
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is an error response from the node itself, as opposed to a
// transport failure reaching it.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NodeErrorCode marks the error as node-reported for upstream classification.
func (e *RPCError) NodeErrorCode() int {
	return e.Code
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("rpc result is empty")
	}
	return json.Unmarshal(decoded.Result, result)
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func parseHexBig(value string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return nil, errors.New("empty hex value")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex value: %s", value)
	}
	return parsed, nil
}
