package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAgentAPI is the agent's local control API.
const DefaultAgentAPI = "http://127.0.0.1:4040"

// AgentTunnel is a tunnel as reported by the agent's control API.
type AgentTunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Addr      string `json:"addr"`
	Config    struct {
		Addr string `json:"addr"`
	} `json:"config"`
}

// LocalAddr returns the forwarded address, which v3 agents only report
// inside config.
func (t AgentTunnel) LocalAddr() string {
	if t.Addr != "" {
		return t.Addr
	}
	return t.Config.Addr
}

// Port extracts the local port from the forwarded address, or 0.
func (t AgentTunnel) Port() int {
	addr := t.LocalAddr()
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	addr = strings.TrimSuffix(addr, "/")
	if _, port, err := net.SplitHostPort(addr); err == nil {
		n, _ := strconv.Atoi(port)
		return n
	}
	// A bare port number.
	n, _ := strconv.Atoi(addr)
	return n
}

// Targets reports whether the tunnel forwards to port.
func (t AgentTunnel) Targets(port int) bool {
	addr := t.LocalAddr()
	return addr == fmt.Sprintf("localhost:%d", port) || t.Port() == port
}

type agentTunnelList struct {
	Tunnels []AgentTunnel `json:"tunnels"`
}

// AgentClient talks to a running agent's control API.
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAgentClient creates a client for the control API at baseURL.
func NewAgentClient(baseURL string) *AgentClient {
	if baseURL == "" {
		baseURL = DefaultAgentAPI
	}
	return &AgentClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Running reports whether the agent answers on its control API.
func (c *AgentClient) Running(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/api/")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Tunnels lists the agent's active tunnels.
func (c *AgentClient) Tunnels(ctx context.Context) ([]AgentTunnel, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/tunnels")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list agentTunnelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode tunnel list: %w", err)
	}
	return list.Tunnels, nil
}

// Find returns the tunnel forwarding to port, preferring https.
func (c *AgentClient) Find(ctx context.Context, port int) (*AgentTunnel, error) {
	tunnels, err := c.Tunnels(ctx)
	if err != nil {
		return nil, err
	}
	var found *AgentTunnel
	for i := range tunnels {
		t := tunnels[i]
		if !t.Targets(port) || t.PublicURL == "" {
			continue
		}
		if strings.HasPrefix(t.PublicURL, "https://") {
			return &t, nil
		}
		if found == nil {
			found = &t
		}
	}
	return found, nil
}

// CloseTunnel stops a named tunnel. The agent itself keeps running.
func (c *AgentClient) CloseTunnel(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/tunnels/"+url.PathEscape(name))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent API returned status %d closing %s", resp.StatusCode, name)
	}
	return nil
}

func (c *AgentClient) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent API unreachable: %w", err)
	}
	return resp, nil
}
