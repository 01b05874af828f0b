// Package memledger es un ledger in-process para modo dev y tests.
// Las tx quedan en memoria; el primer argumento (eventId) es la clave,
// así un re-submit devuelve la misma tx.
package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"herb-trace/internal/ports/ledger"
)

type record struct {
	info      ledger.TxInfo
	blockHash string
}

type Ledger struct {
	mu        sync.Mutex
	connected bool
	byTx      map[string]record
	byKey     map[string]string // eventId -> txId
	height    uint64
	lastBlock string
	submits   int
}

func New() *Ledger {
	return &Ledger{
		byTx:  make(map[string]record),
		byKey: make(map[string]string),
	}
}

var _ ledger.Gateway = (*Ledger)(nil)

func (l *Ledger) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	return nil
}

func (l *Ledger) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	return nil
}

func (l *Ledger) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Ledger) SubmitTransaction(ctx context.Context, chaincode, function string, args []string) (ledger.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return ledger.SubmitResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return ledger.SubmitResult{}, ledger.ErrNotConnected
	}
	l.submits++

	key := ""
	if len(args) > 0 {
		key = chaincode + "/" + args[0]
		if txID, ok := l.byKey[key]; ok {
			rec := l.byTx[txID]
			return ledger.SubmitResult{TxID: txID, BlockHash: rec.blockHash}, nil
		}
	}

	txID := digest(chaincode, function, strings.Join(args, "\x1f"))
	l.height++
	blockHash := digest(l.lastBlock, txID)
	l.lastBlock = blockHash

	l.byTx[txID] = record{
		info: ledger.TxInfo{
			TxID:        txID,
			Status:      ledger.TxStatusCommitted,
			BlockNumber: l.height,
		},
		blockHash: blockHash,
	}
	if key != "" {
		l.byKey[key] = txID
	}
	return ledger.SubmitResult{TxID: txID, BlockHash: blockHash}, nil
}

func (l *Ledger) QueryTransaction(ctx context.Context, txID string) (ledger.TxInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return ledger.TxInfo{}, ledger.ErrNotConnected
	}
	rec, ok := l.byTx[strings.TrimSpace(txID)]
	if !ok {
		return ledger.TxInfo{}, ledger.ErrTxNotFound
	}
	return rec.info, nil
}

// Submits cuenta las llamadas aceptadas (incluye re-submits idempotentes).
func (l *Ledger) Submits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
