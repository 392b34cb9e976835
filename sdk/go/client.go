package facelinesdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Faceline HTTP API client. It is safe for concurrent
// use; configure the fields before the first request.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	timeout := 10 * time.Second
	return &Client{
		BaseURL:    baseURL,
		Timeout:    timeout,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// RegisterResponse is the registration endpoint result.
type RegisterResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	UserID        string  `json:"user_id,omitempty"`
	LivenessScore float64 `json:"liveness_score,omitempty"`
}

// AuthenticateResponse is the authentication endpoint result.
type AuthenticateResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	Name          string  `json:"name,omitempty"`
	PunchType     string  `json:"punch_type,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	LivenessScore float64 `json:"liveness_score,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
}

// UserSummary is one roster entry.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UsersResponse is the roster query result.
type UsersResponse struct {
	Success bool          `json:"success"`
	Users   []UserSummary `json:"users"`
}

// HistoryEntry is one attendance row.
type HistoryEntry struct {
	Name       string  `json:"name"`
	PunchType  string  `json:"punch_type"`
	Timestamp  string  `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

// HistoryResponse is the history query result.
type HistoryResponse struct {
	Success bool           `json:"success"`
	History []HistoryEntry `json:"history"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register submits an encoded still image for enrollment.
func (c *Client) Register(ctx context.Context, name string, image []byte) (RegisterResponse, error) {
	body := map[string]any{
		"name":  name,
		"image": EncodeImage(image),
	}
	var resp RegisterResponse
	err := c.do(ctx, http.MethodPost, "v1/register", body, &resp)
	return resp, err
}

// Authenticate submits an encoded still image for recognition.
func (c *Client) Authenticate(ctx context.Context, image []byte) (AuthenticateResponse, error) {
	body := map[string]any{
		"image": EncodeImage(image),
	}
	var resp AuthenticateResponse
	err := c.do(ctx, http.MethodPost, "v1/authenticate", body, &resp)
	return resp, err
}

// History returns attendance entries for the trailing day window.
func (c *Client) History(ctx context.Context, days int) (HistoryResponse, error) {
	endpoint := "v1/history"
	if days > 0 {
		endpoint = fmt.Sprintf("%s?days=%d", endpoint, days)
	}
	var resp HistoryResponse
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Users returns the registered roster.
func (c *Client) Users(ctx context.Context) (UsersResponse, error) {
	var resp UsersResponse
	err := c.do(ctx, http.MethodGet, "v1/users", nil, &resp)
	return resp, err
}

// EncodeImage wraps raw JPEG bytes in the data-URL form the API accepts.
func EncodeImage(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	// Never write back to c here; callers share one client across goroutines.
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
