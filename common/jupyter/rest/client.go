package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
)

const (
	kernelsPath = "api/kernels"

	// maxErrorBody bounds how much of an error response is kept in a StatusError.
	maxErrorBody = 4096
)

var (
	ErrInvalidBaseURL = errors.New("invalid notebook server URL")
	ErrEmptyKernelId  = errors.New("kernel id must not be empty")
)

// Kernel is a kernel model returned by the notebook server's REST API.
type Kernel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	LastActivity   string `json:"last_activity,omitempty"`
	ExecutionState string `json:"execution_state,omitempty"`
	Connections    int    `json:"connections"`
}

func (k *Kernel) String() string {
	return fmt.Sprintf("Kernel[ID=%s, Name=%s, State=%s, Connections=%d]", k.ID, k.Name, k.ExecutionState, k.Connections)
}

// KernelAPI is the kernel control surface of a notebook server.
type KernelAPI interface {
	// ListKernels returns the kernels that are running on the server.
	ListKernels(ctx context.Context) ([]*Kernel, error)

	// StartKernel starts a new kernel. An empty name starts the server's default kernel.
	StartKernel(ctx context.Context, name string) (*Kernel, error)

	// GetKernel returns the model of a running kernel.
	GetKernel(ctx context.Context, kernelId string) (*Kernel, error)

	// DeleteKernel shuts a kernel down.
	DeleteKernel(ctx context.Context, kernelId string) error

	// InterruptKernel interrupts the kernel's current execution.
	InterruptKernel(ctx context.Context, kernelId string) error

	// RestartKernel restarts a kernel and returns its model.
	RestartKernel(ctx context.Context, kernelId string) (*Kernel, error)
}

// StatusError is returned when the server answers with an unexpected HTTP status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// IsNotFound returns true if err is a StatusError for a 404 response.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Client talks to the /api/kernels endpoints of a notebook server.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client

	log logger.Logger
}

// NewClient creates a Client for the notebook server at baseURL (e.g., "http://localhost:8888").
// A non-empty token is sent as "Authorization: token <token>".
func NewClient(baseURL string, token string) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidBaseURL, "%s: %v", baseURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.Wrapf(ErrInvalidBaseURL, "%s: scheme must be http or https", baseURL)
	}

	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	client := &Client{
		baseURL:    parsed,
		token:      token,
		httpClient: cleanhttp.DefaultPooledClient(),
	}
	config.InitLogger(&client.log, client)

	return client, nil
}

// BaseURL returns the server URL the client was created with, with a trailing slash.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// ChannelsURL returns the websocket URL of the kernel's channels endpoint for the given session.
func (c *Client) ChannelsURL(kernelId string, sessionId string) string {
	return ChannelsURL(c.baseURL, kernelId, sessionId)
}

func (c *Client) ListKernels(ctx context.Context) ([]*Kernel, error) {
	var kernels []*Kernel
	if err := c.do(ctx, http.MethodGet, &url.URL{Path: kernelsPath}, nil, http.StatusOK, &kernels); err != nil {
		return nil, errors.Wrap(err, "failed to list kernels")
	}

	return kernels, nil
}

func (c *Client) StartKernel(ctx context.Context, name string) (*Kernel, error) {
	body := map[string]string{}
	if name != "" {
		body["name"] = name
	}

	var kernel Kernel
	if err := c.do(ctx, http.MethodPost, &url.URL{Path: kernelsPath}, body, http.StatusCreated, &kernel); err != nil {
		return nil, errors.Wrapf(err, "failed to start kernel \"%s\"", name)
	}

	c.log.Debug("Started kernel: %v", &kernel)
	return &kernel, nil
}

func (c *Client) GetKernel(ctx context.Context, kernelId string) (*Kernel, error) {
	if kernelId == "" {
		return nil, ErrEmptyKernelId
	}

	var kernel Kernel
	if err := c.do(ctx, http.MethodGet, kernelRef(kernelId, ""), nil, http.StatusOK, &kernel); err != nil {
		return nil, errors.Wrapf(err, "failed to get kernel %s", kernelId)
	}

	return &kernel, nil
}

func (c *Client) DeleteKernel(ctx context.Context, kernelId string) error {
	if kernelId == "" {
		return ErrEmptyKernelId
	}

	if err := c.do(ctx, http.MethodDelete, kernelRef(kernelId, ""), nil, http.StatusNoContent, nil); err != nil {
		return errors.Wrapf(err, "failed to delete kernel %s", kernelId)
	}

	return nil
}

func (c *Client) InterruptKernel(ctx context.Context, kernelId string) error {
	if kernelId == "" {
		return ErrEmptyKernelId
	}

	if err := c.do(ctx, http.MethodPost, kernelRef(kernelId, "/interrupt"), nil, http.StatusNoContent, nil); err != nil {
		return errors.Wrapf(err, "failed to interrupt kernel %s", kernelId)
	}

	return nil
}

func (c *Client) RestartKernel(ctx context.Context, kernelId string) (*Kernel, error) {
	if kernelId == "" {
		return nil, ErrEmptyKernelId
	}

	var kernel Kernel
	if err := c.do(ctx, http.MethodPost, kernelRef(kernelId, "/restart"), nil, http.StatusOK, &kernel); err != nil {
		return nil, errors.Wrapf(err, "failed to restart kernel %s", kernelId)
	}

	return &kernel, nil
}

func (c *Client) do(ctx context.Context, method string, ref *url.URL, body interface{}, expectedStatus int, out interface{}) error {
	target := c.baseURL.ResolveReference(ref)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	c.log.Debug("%s %s", method, target.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			URL:        target.String(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}

	return nil
}

// kernelRef returns the reference to a kernel resource relative to the server's base URL. The kernel id
// is escaped as a single path segment.
func kernelRef(kernelId string, suffix string) *url.URL {
	return &url.URL{
		Path:    kernelsPath + "/" + kernelId + suffix,
		RawPath: kernelsPath + "/" + url.PathEscape(kernelId) + suffix,
	}
}

// ChannelsURL builds "<ws(s)://host/base>/api/kernels/<kernelId>/channels?session_id=<sessionId>" from the
// server's http(s) URL.
func ChannelsURL(baseURL *url.URL, kernelId string, sessionId string) string {
	u := *baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	ref := kernelRef(kernelId, "/channels")
	escaped := u.EscapedPath()
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		escaped += "/"
	}
	u.Path += ref.Path
	u.RawPath = escaped + ref.RawPath

	query := url.Values{}
	query.Set(jupyter.SessionIdQueryParameter, sessionId)
	u.RawQuery = query.Encode()

	return u.String()
}
