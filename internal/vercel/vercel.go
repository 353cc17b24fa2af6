// Package vercel provisions the companion deployment: it ensures the
// project exists, upserts its environment and triggers a production
// deployment from a GitHub ref.
package vercel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Vercel REST API.
const DefaultBaseURL = "https://api.vercel.com"

// DefaultTargets are the environments env vars are written to.
var DefaultTargets = []string{"production", "preview"}

var (
	ErrUnauthorized = errors.New("authentication failed")
	ErrNotFound     = errors.New("not found")
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("vercel API error %d: %s", e.StatusCode, msg)
}

// Is maps status codes onto ErrUnauthorized and ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// EnvVar is a project environment variable.
type EnvVar struct {
	Key    string   `json:"key"`
	Value  string   `json:"value"`
	Target []string `json:"target"`
	Type   string   `json:"type"`
}

// NewEnvVar returns an encrypted variable for the default targets.
func NewEnvVar(key, value string) EnvVar {
	return EnvVar{Key: key, Value: value, Target: DefaultTargets, Type: "encrypted"}
}

// DeployRequest describes a deployment from GitHub.
type DeployRequest struct {
	ProjectName string
	// Repository is "owner/name".
	Repository string
	Branch     string
	Env        []EnvVar
}

// Deployment is the created deployment.
type Deployment struct {
	DeploymentID string `json:"deploymentId"`
	URL          string `json:"url"`
}

// Client calls the Vercel API with a bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// NewClient creates a client authenticated with token.
func NewClient(ctx context.Context, token string, opts ...Option) *Client {
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	hc.Timeout = 30 * time.Second

	c := &Client{baseURL: DefaultBaseURL, httpClient: hc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeployFromGitHub ensures the project, upserts req.Env and creates a
// production deployment of req.Branch.
func (c *Client) DeployFromGitHub(ctx context.Context, req DeployRequest) (*Deployment, error) {
	owner, repo, ok := strings.Cut(req.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repository %q", req.Repository)
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	if err := c.EnsureProject(ctx, req.ProjectName, req.Repository); err != nil {
		return nil, err
	}
	if err := c.UpdateProjectEnv(ctx, req.ProjectName, req.Env); err != nil {
		return nil, err
	}

	body := map[string]any{
		"name":    req.ProjectName,
		"project": req.ProjectName,
		"target":  "production",
		"gitSource": map[string]string{
			"type": "github",
			"org":  owner,
			"repo": repo,
			"ref":  branch,
		},
	}
	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v13/deployments", body, &out); err != nil {
		return nil, err
	}

	u := out.URL
	if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return &Deployment{DeploymentID: out.ID, URL: u}, nil
}

// EnsureProject creates the project linked to repository when it does
// not exist.
func (c *Client) EnsureProject(ctx context.Context, name, repository string) error {
	err := c.do(ctx, http.MethodGet, "/v9/projects/"+url.PathEscape(name), nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	body := map[string]any{
		"name":      name,
		"framework": "nextjs",
		"gitRepository": map[string]string{
			"type": "github",
			"repo": repository,
		},
	}
	return c.do(ctx, http.MethodPost, "/v10/projects", body, nil)
}

// UpdateProjectEnv upserts vars on project; existing keys are replaced.
func (c *Client) UpdateProjectEnv(ctx context.Context, project string, vars []EnvVar) error {
	if len(vars) == 0 {
		return nil
	}
	for i := range vars {
		if len(vars[i].Target) == 0 {
			vars[i].Target = DefaultTargets
		}
		if vars[i].Type == "" {
			vars[i].Type = "encrypted"
		}
	}
	return c.do(ctx, http.MethodPost, "/v10/projects/"+url.PathEscape(project)+"/env?upsert=true", vars, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vercel request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
