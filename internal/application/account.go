package application

import (
	"context"
	"math/big"
	"strings"

	"medanchor/internal/domain"
)

// AccountService exposes operational diagnostics over the signer account.
// Informational only; failures here never block anchoring or verification.
type AccountService struct {
	client    *ChainClient
	network   string
	faucetURL string
}

type BalanceInfo struct {
	Address string `json:"address"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}

type FundingInstructions struct {
	Address   string `json:"address"`
	Network   string `json:"network"`
	FaucetURL string `json:"faucet_url,omitempty"`
	Note      string `json:"note"`
}

func NewAccountService(client *ChainClient, network, faucetURL string) (*AccountService, error) {
	if client == nil {
		return nil, domain.NewError(domain.ErrConfiguration, "chain client is required")
	}
	return &AccountService{client: client, network: network, faucetURL: faucetURL}, nil
}

func (a *AccountService) Balance(ctx context.Context) (*BalanceInfo, error) {
	if err := a.client.Initialize(ctx); err != nil {
		return nil, err
	}
	address := a.client.SignerAddress()
	wei, err := a.client.RPC().BalanceAt(ctx, address)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNetwork, "balance lookup failed", err)
	}
	return &BalanceInfo{
		Address: address,
		Wei:     wei.String(),
		Ether:   formatEther(wei),
	}, nil
}

func (a *AccountService) Funding(ctx context.Context) (*FundingInstructions, error) {
	if err := a.client.Initialize(ctx); err != nil {
		return nil, err
	}
	return &FundingInstructions{
		Address:   a.client.SignerAddress(),
		Network:   a.network,
		FaucetURL: a.faucetURL,
		Note:      "send funds to the service signer address; anchoring costs gas only, no value is transferred",
	}, nil
}

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func formatEther(wei *big.Int) string {
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(wei, weiPerEther, frac)
	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := strings.TrimRight(frac.Add(frac, weiPerEther).String()[1:], "0")
	return whole.String() + "." + digits
}
