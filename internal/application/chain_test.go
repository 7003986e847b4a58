package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"medanchor/internal/domain"
)

func TestChainClient_InitializeOnce(t *testing.T) {
	rpc := newMockChainRPC()
	var dials int64
	client, err := NewChainClient(ChainConfig{
		RPCURL:        "http://localhost:8545",
		PrivateKeyHex: testKeyHex,
	}, func(url string) (ChainRPC, error) {
		atomic.AddInt64(&dials, 1)
		return rpc, nil
	})
	if err != nil {
		t.Fatalf("new chain client: %v", err)
	}

	for range 3 {
		if err := client.Initialize(context.Background()); err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}
	if got := atomic.LoadInt64(&dials); got != 1 {
		t.Errorf("expected 1 dial, got %d", got)
	}
	if client.NetworkChainID().Uint64() != 11155111 {
		t.Errorf("unexpected chain id %s", client.NetworkChainID())
	}
}

func TestChainClient_ConcurrentInitializeSingleSetup(t *testing.T) {
	rpc := newMockChainRPC()
	var dials int64
	client, err := NewChainClient(ChainConfig{
		RPCURL:        "http://localhost:8545",
		PrivateKeyHex: testKeyHex,
	}, func(url string) (ChainRPC, error) {
		atomic.AddInt64(&dials, 1)
		return rpc, nil
	})
	if err != nil {
		t.Fatalf("new chain client: %v", err)
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Initialize(context.Background()); err != nil {
				t.Errorf("initialize: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&dials); got != 1 {
		t.Errorf("expected 1 dial across concurrent initializers, got %d", got)
	}
}

func TestChainClient_MissingKeyIsStickyConfigurationError(t *testing.T) {
	var dials int64
	client, err := NewChainClient(ChainConfig{
		RPCURL: "http://localhost:8545",
	}, func(url string) (ChainRPC, error) {
		atomic.AddInt64(&dials, 1)
		return newMockChainRPC(), nil
	})
	if err != nil {
		t.Fatalf("new chain client: %v", err)
	}

	first := client.Initialize(context.Background())
	if !domain.IsConfiguration(first) {
		t.Fatalf("expected configuration error, got %v", first)
	}
	second := client.Initialize(context.Background())
	if !errors.Is(second, first) && second.Error() != first.Error() {
		t.Errorf("expected the same sticky error, got %v then %v", first, second)
	}
	if atomic.LoadInt64(&dials) != 0 {
		t.Errorf("dial should never run with a missing key")
	}
}

func TestChainClient_MalformedKeyIsConfigurationError(t *testing.T) {
	client, err := NewChainClient(ChainConfig{
		RPCURL:        "http://localhost:8545",
		PrivateKeyHex: "0xzznotakey",
	}, func(url string) (ChainRPC, error) {
		return newMockChainRPC(), nil
	})
	if err != nil {
		t.Fatalf("new chain client: %v", err)
	}

	if err := client.Initialize(context.Background()); !domain.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestChainClient_DialFailureIsRetryable(t *testing.T) {
	rpc := newMockChainRPC()
	var dials int64
	client, err := NewChainClient(ChainConfig{
		RPCURL:        "http://localhost:8545",
		PrivateKeyHex: testKeyHex,
	}, func(url string) (ChainRPC, error) {
		if atomic.AddInt64(&dials, 1) == 1 {
			return nil, errors.New("connection refused")
		}
		return rpc, nil
	})
	if err != nil {
		t.Fatalf("new chain client: %v", err)
	}

	first := client.Initialize(context.Background())
	if !domain.IsNetwork(first) {
		t.Fatalf("expected network error, got %v", first)
	}
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("retry after transport failure should succeed, got %v", err)
	}
	if got := atomic.LoadInt64(&dials); got != 2 {
		t.Errorf("expected 2 dials, got %d", got)
	}
}

func TestChainClient_SignerAddressDerivedFromKey(t *testing.T) {
	client := newTestClient(t, newMockChainRPC())
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	address := client.SignerAddress()
	if !strings.HasPrefix(address, "0x") || len(address) != 42 {
		t.Errorf("unexpected signer address %q", address)
	}
}

func TestChainClient_SignBeforeInitializeFails(t *testing.T) {
	client := newTestClient(t, newMockChainRPC())
	_, _, err := client.SignAnchorTx(0, 21_000, nil, nil)
	if !domain.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
