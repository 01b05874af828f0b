// Package restgw habla con el gateway REST que expone la red del ledger.
package restgw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"herb-trace/internal/platform/httpclient"
	"herb-trace/internal/ports/ledger"
)

var (
	ErrGatewayNotConfigured = errors.New("ledger gateway not configured")
	ErrGatewayUnauthorized  = errors.New("ledger gateway unauthorized")
	ErrGatewayUpstream      = errors.New("ledger gateway upstream error")
)

// Config del cliente. BaseURL y APIKey vienen de LEDGER_GATEWAY_URL / LEDGER_API_KEY.
type Config struct {
	BaseURL string
	APIKey  string

	// Si está vacío, se usa "X-Api-Key".
	APIKeyHeader string

	Timeout time.Duration

	// Opcional: transport para tests.
	Transport http.RoundTripper
}

type Client struct {
	http *httpclient.Client

	mu        sync.RWMutex
	connected bool
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, ErrGatewayNotConfigured
	}
	h := strings.TrimSpace(cfg.APIKeyHeader)
	if h == "" {
		h = "X-Api-Key"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	hc, err := httpclient.NewWithBaseURL(base, timeout)
	if err != nil {
		return nil, err
	}
	if cfg.Transport != nil {
		hc.HTTP.Transport = cfg.Transport
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		hc.DefaultHeaders = map[string]string{h: key}
	}
	return &Client{http: hc}, nil
}

var _ ledger.Gateway = (*Client)(nil)

type submitRequest struct {
	Chaincode string   `json:"chaincode"`
	Function  string   `json:"function"`
	Args      []string `json:"args"`
}

// Connect verifica que el gateway responda antes de aceptar submits.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.http.DoJSON(ctx, http.MethodGet, "/health", nil, nil, nil); err != nil {
		return mapErr("connect", err)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.http.HTTP.CloseIdleConnections()
	return nil
}

func (c *Client) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) SubmitTransaction(ctx context.Context, chaincode, function string, args []string) (ledger.SubmitResult, error) {
	if !c.isConnected() {
		return ledger.SubmitResult{}, ledger.ErrNotConnected
	}

	var out ledger.SubmitResult
	err := c.http.DoJSON(ctx, http.MethodPost, "/transactions", nil, submitRequest{
		Chaincode: chaincode,
		Function:  function,
		Args:      args,
	}, &out)
	if err != nil {
		return ledger.SubmitResult{}, mapErr("submit", err)
	}
	out.TxID = strings.TrimSpace(out.TxID)
	if out.TxID == "" {
		return ledger.SubmitResult{}, fmt.Errorf("%w: empty txId", ErrGatewayUpstream)
	}
	return out, nil
}

func (c *Client) QueryTransaction(ctx context.Context, txID string) (ledger.TxInfo, error) {
	if !c.isConnected() {
		return ledger.TxInfo{}, ledger.ErrNotConnected
	}
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return ledger.TxInfo{}, ledger.ErrTxNotFound
	}

	var out ledger.TxInfo
	if err := c.http.DoJSON(ctx, http.MethodGet, "/transactions/"+url.PathEscape(txID), nil, nil, &out); err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return ledger.TxInfo{}, ledger.ErrTxNotFound
		}
		return ledger.TxInfo{}, mapErr("query", err)
	}
	return out, nil
}

func mapErr(op string, err error) error {
	var he *httpclient.HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, ErrGatewayUnauthorized)
		default:
			return fmt.Errorf("%s: %w: status=%d", op, ErrGatewayUpstream, he.StatusCode)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
