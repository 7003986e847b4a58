package domain

import "math/big"

// ChainTransaction represents a transaction as reported by the ledger node.
// Pending is true until the transaction is included in a block.
type ChainTransaction struct {
	Hash        string
	From        string
	To          string
	Value       string
	Nonce       uint64
	Gas         uint64
	GasPrice    string
	Input       string
	BlockNumber uint64
	Pending     bool
}

// CallRequest describes a call or gas-estimation request against the node.
type CallRequest struct {
	From  string
	To    string
	Value *big.Int
	Data  []byte
}
