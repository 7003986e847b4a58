package application

import (
	"errors"

	"medanchor/internal/domain"
)

// NodeError is implemented by transport errors that carry an error response
// from the node itself (estimation revert, nonce conflict, underpriced tx),
// as opposed to the transport failing to reach the node at all.
type NodeError interface {
	error
	NodeErrorCode() int
}

// classifyRPCError maps a node-reported rejection to a transaction error and
// everything else (unreachable endpoint, timeout) to a retryable network
// error.
func classifyRPCError(err error, reason string) error {
	var nodeErr NodeError
	if errors.As(err, &nodeErr) {
		return domain.WrapError(domain.ErrTransaction, reason, err)
	}
	return domain.WrapError(domain.ErrNetwork, reason, err)
}
