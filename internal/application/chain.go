package application

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"

	"medanchor/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChainRPC is the node surface the anchoring service depends on.
type ChainRPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	PendingNonce(ctx context.Context, address string) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call domain.CallRequest) (uint64, error)
	SendRawTransaction(ctx context.Context, rawTx string) (string, error)
	TransactionByHash(ctx context.Context, hash string) (*domain.ChainTransaction, bool, error)
	TransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, bool, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
}

// DialFunc opens the RPC transport for a given endpoint.
type DialFunc func(url string) (ChainRPC, error)

type ChainConfig struct {
	RPCURL        string
	PrivateKeyHex string
	// ChainID pins the replay-protection chain id; 0 means ask the node.
	ChainID uint64
}

type chainState int

const (
	chainUninitialized chainState = iota
	chainReady
	chainFailed
)

// ChainClient owns the node connection and the service's signing identity.
// It is constructed once at service start and shared by reference; the first
// Initialize call performs the setup, every later call returns immediately.
type ChainClient struct {
	cfg  ChainConfig
	dial DialFunc

	mu      sync.Mutex
	state   chainState
	initErr error
	rpc     ChainRPC
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

func NewChainClient(cfg ChainConfig, dial DialFunc) (*ChainClient, error) {
	if dial == nil {
		return nil, errors.New("dial function is required")
	}
	return &ChainClient{cfg: cfg, dial: dial}, nil
}

// Initialize sets up the transport and signing identity exactly once.
// Concurrent first callers serialize on the internal mutex and all observe a
// single setup. A configuration failure is sticky; transport failures leave
// the client uninitialized so a later call can retry.
func (c *ChainClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case chainReady:
		return nil
	case chainFailed:
		return c.initErr
	}

	if err := c.setup(ctx); err != nil {
		if domain.IsConfiguration(err) {
			c.state = chainFailed
			c.initErr = err
		}
		return err
	}
	c.state = chainReady
	return nil
}

func (c *ChainClient) setup(ctx context.Context) error {
	keyHex := strings.TrimPrefix(strings.TrimSpace(c.cfg.PrivateKeyHex), "0x")
	if keyHex == "" {
		return domain.NewError(domain.ErrConfiguration, "signer private key is not configured")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "signer private key is malformed", err)
	}

	if strings.TrimSpace(c.cfg.RPCURL) == "" {
		return domain.NewError(domain.ErrConfiguration, "rpc url is not configured")
	}
	rpc, err := c.dial(c.cfg.RPCURL)
	if err != nil {
		return domain.WrapError(domain.ErrNetwork, "rpc endpoint unreachable", err)
	}

	chainID := new(big.Int).SetUint64(c.cfg.ChainID)
	if c.cfg.ChainID == 0 {
		chainID, err = rpc.ChainID(ctx)
		if err != nil {
			return domain.WrapError(domain.ErrNetwork, "chain id lookup failed", err)
		}
	}

	c.key = key
	c.address = crypto.PubkeyToAddress(key.PublicKey)
	c.rpc = rpc
	c.chainID = chainID
	return nil
}

// RPC returns the shared transport. Valid only after a successful Initialize.
func (c *ChainClient) RPC() ChainRPC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpc
}

// SignerAddress is the checksummed address of the service's signing identity.
func (c *ChainClient) SignerAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address.Hex()
}

func (c *ChainClient) NetworkChainID() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chainID
}

// SignAnchorTx builds and signs a zero-value self-directed transaction whose
// data field carries the notarization payload. Returns the raw tx hex ready
// for broadcast and the transaction hash.
func (c *ChainClient) SignAnchorTx(nonce, gasLimit uint64, gasPrice *big.Int, data []byte) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != chainReady {
		return "", "", domain.NewError(domain.ErrConfiguration, "chain client is not initialized")
	}

	to := c.address
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", "", domain.WrapError(domain.ErrConfiguration, "transaction signing failed", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", "", domain.WrapError(domain.ErrConfiguration, "transaction encoding failed", err)
	}
	return hexutil.Encode(raw), signed.Hash().Hex(), nil
}
