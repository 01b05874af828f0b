// Package ledger define el contrato con la red del ledger (colaborador externo).
package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("ledger gateway not connected")
	ErrTxNotFound   = errors.New("ledger transaction not found")
)

type TxStatus string

const (
	TxStatusCommitted TxStatus = "COMMITTED"
	TxStatusPending   TxStatus = "PENDING"
	TxStatusInvalid   TxStatus = "INVALID"
)

type SubmitResult struct {
	TxID      string `json:"txId"`
	BlockHash string `json:"blockHash"`
}

type TxInfo struct {
	TxID        string   `json:"txId"`
	Status      TxStatus `json:"status"`
	BlockNumber uint64   `json:"blockNumber"`
}

// Gateway: connect, submit, query, disconnect.
// Cualquier error de SubmitTransaction se considera transitorio por el caller.
type Gateway interface {
	Connect(ctx context.Context) error
	SubmitTransaction(ctx context.Context, chaincode, function string, args []string) (SubmitResult, error)
	QueryTransaction(ctx context.Context, txID string) (TxInfo, error)
	Disconnect(ctx context.Context) error
}
