package domain

// Receipt represents a transaction receipt from the chain. Status is 1 for
// successful execution, 0 for a revert.
type Receipt struct {
	TxHash            string
	BlockNumber       uint64
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice string
}
