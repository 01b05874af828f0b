package restgw_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herb-trace/internal/adapters/ledger/restgw"
	"herb-trace/internal/ports/ledger"
)

func newGateway(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /transactions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Chaincode string   `json:"chaincode"`
			Function  string   `json:"function"`
			Args      []string `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Args) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Args[0] == "boom" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"txId": "tx-" + body.Args[0], "blockHash": "blk-1"})
	})
	mux.HandleFunc("GET /transactions/{txID}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("txID") != "tx-ev-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"txId": "tx-ev-1", "status": "COMMITTED", "blockNumber": 7})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_SubmitAndQuery(t *testing.T) {
	ctx := context.Background()
	ts := newGateway(t, "k1")

	c, err := restgw.NewClient(restgw.Config{BaseURL: ts.URL, APIKey: "k1"})
	require.NoError(t, err)

	_, err = c.SubmitTransaction(ctx, "herbtrace", "Record", []string{"ev-1"})
	assert.ErrorIs(t, err, ledger.ErrNotConnected)

	require.NoError(t, c.Connect(ctx))

	res, err := c.SubmitTransaction(ctx, "herbtrace", "Record", []string{"ev-1", "{}", "h"})
	require.NoError(t, err)
	assert.Equal(t, "tx-ev-1", res.TxID)
	assert.Equal(t, "blk-1", res.BlockHash)

	info, err := c.QueryTransaction(ctx, "tx-ev-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxStatusCommitted, info.Status)
	assert.Equal(t, uint64(7), info.BlockNumber)

	_, err = c.QueryTransaction(ctx, "tx-missing")
	assert.ErrorIs(t, err, ledger.ErrTxNotFound)

	_, err = c.SubmitTransaction(ctx, "herbtrace", "Record", []string{"boom"})
	assert.ErrorIs(t, err, restgw.ErrGatewayUpstream)

	require.NoError(t, c.Disconnect(ctx))
	_, err = c.QueryTransaction(ctx, "tx-ev-1")
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
}

func TestClient_ConnectUnauthorized(t *testing.T) {
	ts := newGateway(t, "k1")
	c, err := restgw.NewClient(restgw.Config{BaseURL: ts.URL, APIKey: "wrong"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Connect(context.Background()), restgw.ErrGatewayUnauthorized)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := restgw.NewClient(restgw.Config{})
	assert.ErrorIs(t, err, restgw.ErrGatewayNotConfigured)
}
