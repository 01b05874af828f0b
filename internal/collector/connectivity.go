package collector

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Connectivity responde si hay red en este momento.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// StaticConnectivity se controla a mano (tests, flag --offline).
type StaticConnectivity struct {
	online atomic.Bool
}

func NewStaticConnectivity(online bool) *StaticConnectivity {
	c := &StaticConnectivity{}
	c.online.Store(online)
	return c
}

func (c *StaticConnectivity) Set(online bool) { c.online.Store(online) }

func (c *StaticConnectivity) Online(context.Context) bool { return c.online.Load() }

// ProbeConnectivity hace GET a un endpoint liviano (p.ej. /health) del servidor.
type ProbeConnectivity struct {
	URL    string
	Client *http.Client
}

func NewProbeConnectivity(url string, timeout time.Duration) *ProbeConnectivity {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ProbeConnectivity{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (p *ProbeConnectivity) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
