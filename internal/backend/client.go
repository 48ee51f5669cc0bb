package backend

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
)

// maxBodyBytes caps any backend response body, images included.
const maxBodyBytes = 4 << 20

// TokenSource supplies the backend bearer token.
type TokenSource interface {
	Token() (string, error)
}

// Client calls the school attendance REST API for the admin features the
// station exposes besides scanning.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
}

// New creates a client with configurable timeout.
func New(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// User is the account behind the backend token.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Class is a kelas with its rombel.
type Class struct {
	ID        json.Number `json:"id"`
	Name      string      `json:"nama_kelas"`
	Selection struct {
		Name string `json:"nama_rombel"`
	} `json:"selection"`
}

// DisplayName renders "Kelas <nama> <rombel>".
func (c Class) DisplayName() string {
	return strings.TrimSpace(fmt.Sprintf("Kelas %s %s", c.Name, c.Selection.Name))
}

// QRCode points at a generated QR image on the backend.
type QRCode struct {
	Path string `json:"qr_path"`
}

// APIError is a non-2xx or failure-flagged response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend error %d: %s", e.StatusCode, e.Message)
	}
	return "backend error: " + e.Message
}

type envelope struct {
	Status  json.RawMessage `json:"status"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	User    json.RawMessage `json:"user"`
}

// VerifyToken checks the backend credential and returns its user.
func (c *Client) VerifyToken(ctx context.Context) (User, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/api/auth/verify", nil, &env); err != nil {
		return User{}, err
	}
	var u User
	if len(env.User) == 0 {
		return User{}, errors.New("verify response missing user")
	}
	if err := json.Unmarshal(env.User, &u); err != nil {
		return User{}, fmt.Errorf("failed to decode user: %w", err)
	}
	return u, nil
}

// ListClasses returns every class.
func (c *Client) ListClasses(ctx context.Context) ([]Class, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/api/classes", nil, &env); err != nil {
		return nil, err
	}
	var out []Class
	if err := decodeData(env, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateClassQR asks the backend to (re)generate QR codes for a class.
func (c *Client) GenerateClassQR(ctx context.Context, classID string) (string, error) {
	var env envelope
	if err := c.do(ctx, http.MethodPost, "/api/qrcodes/generate/class/"+url.PathEscape(classID), map[string]string{}, &env); err != nil {
		return "", err
	}
	return env.Message, nil
}

// ClassQRCodes lists the QR images of a class.
func (c *Client) ClassQRCodes(ctx context.Context, classID string) ([]QRCode, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/api/qrcodes/class/"+url.PathEscape(classID), nil, &env); err != nil {
		return nil, err
	}
	var out []QRCode
	if err := decodeData(env, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Fetch downloads a backend-relative file such as a qr_path.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxBodyBytes)
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	token, err := c.Tokens.Token()
	if err != nil {
		return nil, err
	}
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(payload)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, env *envelope) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var e envelope
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(raw, env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if failed(env.Status) || (env.Success != nil && !*env.Success) {
		return &APIError{Message: env.Message}
	}
	return nil
}

func decodeData(env envelope, out any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

func failed(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return !b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToLower(s) {
		case "error", "failed", "fail":
			return true
		}
	}
	return false
}
