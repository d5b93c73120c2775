package budget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to a remote budgeting server over its HTTP sync API.
// It is a thin call-sequence adapter: every method maps to one endpoint and
// all error classification goes through classifyResponse/Classify.
type HTTPClient struct {
	http    *http.Client
	baseURL string
	dataDir string
	token   string
}

// NewHTTPClient creates an unconnected client. The same instance must not
// be shared between runs; use a ClientFactory.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		http: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Connect(ctx context.Context, url, password, dataDir string) error {
	c.baseURL = url
	c.dataDir = dataDir

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	err := c.post(ctx, "/account/login", map[string]string{"password": password}, &resp)
	if err != nil {
		return err
	}
	if resp.Data.Token == "" {
		return NewError(KindAuth, "invalid-password", "login succeeded but no session token returned")
	}
	c.token = resp.Data.Token
	return nil
}

func (c *HTTPClient) DownloadBudget(ctx context.Context, syncID string, filePassword *string) error {
	body := map[string]string{"syncId": syncID}
	if filePassword != nil {
		body["password"] = *filePassword
	}
	return c.post(ctx, "/sync/download", body, nil)
}

func (c *HTTPClient) ListAccounts(ctx context.Context) ([]Account, error) {
	var resp struct {
		Data []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Closed bool   `json:"closed"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/sync/accounts", &resp); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(resp.Data))
	for _, a := range resp.Data {
		accounts = append(accounts, Account{ID: a.ID, Name: a.Name, Closed: a.Closed})
	}
	return accounts, nil
}

func (c *HTTPClient) SyncAccount(ctx context.Context, accountID string) error {
	return c.post(ctx, "/sync/account", map[string]string{"accountId": accountID}, nil)
}

func (c *HTTPClient) Reconcile(ctx context.Context) error {
	return c.post(ctx, "/sync/reconcile", nil, nil)
}

func (c *HTTPClient) Disconnect(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	err := c.post(ctx, "/account/logout", nil, nil)
	c.token = ""
	return err
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Session-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport errors classify by inspection (DNS, reset, timeout).
		return Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(KindUnknown, "bad-response", fmt.Sprintf("decode %s response: %v", req.URL.Path, err))
		}
	}
	return nil
}

// classifyResponse maps an HTTP error status to the normalized error shape.
func classifyResponse(resp *http.Response) *Error {
	var body struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	// Body decode is best effort; the status code alone is enough to classify.
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	message := body.Message
	if message == "" {
		message = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(KindRateLimit, body.Reason, message)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(KindAuth, body.Reason, message)
	case body.Reason == "decrypt-failure" || body.Reason == "invalid-file-password":
		return NewError(KindDecryption, body.Reason, message)
	case resp.StatusCode >= 500:
		return NewError(KindNetwork, body.Reason, message)
	default:
		return NewError(KindUnknown, body.Reason, message)
	}
}
