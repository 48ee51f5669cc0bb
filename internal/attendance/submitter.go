package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scanstation/internal/metrics"
)

const (
	// FailureMessage is what the operator sees for any failed submission.
	FailureMessage = "Absensi gagal dicatat, silakan scan ulang"
	successMessage = "Absensi berhasil dicatat"
)

// TokenSource supplies the backend bearer token.
type TokenSource interface {
	Token() (string, error)
}

// Submitter records scan events on the attendance backend.
type Submitter struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
}

// NewSubmitter creates a submitter with the given request timeout.
func NewSubmitter(baseURL string, tokens TokenSource, timeout time.Duration) *Submitter {
	return &Submitter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the scan URL for a direction.
func (s *Submitter) Endpoint(d Direction) string {
	return s.BaseURL + "/api/attendance/scan/" + string(d)
}

// Submit issues exactly one request; failures are not retried.
func (s *Submitter) Submit(ctx context.Context, code Code, d Direction) Result {
	start := time.Now()
	res := Result{Direction: d, Code: code}

	msg, err := s.post(ctx, code, d)
	metrics.SubmitLatency.WithLabelValues(string(d)).Observe(time.Since(start).Seconds())
	res.At = time.Now().UTC()
	if err != nil {
		metrics.Submissions.WithLabelValues(string(d), "failure").Inc()
		res.Err = err
		res.Message = FailureMessage
		return res
	}
	metrics.Submissions.WithLabelValues(string(d), "success").Inc()
	res.OK = true
	res.Message = msg
	return res
}

func (s *Submitter) post(ctx context.Context, code Code, d Direction) (string, error) {
	if !d.Valid() {
		return "", &SubmissionError{Direction: d, Err: ErrInvalidDirection}
	}
	token, err := s.Tokens.Token()
	if err != nil {
		return "", &SubmissionError{Direction: d, Err: err}
	}

	body, _ := json.Marshal(map[string]string{"unique_code": string(code)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint(d), bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Direction: d, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", &SubmissionError{Direction: d, Err: fmt.Errorf("backend request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubmissionError{Direction: d, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out struct {
		Status  json.RawMessage `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", &SubmissionError{Direction: d, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	if statusFailed(out.Status) {
		reason := out.Message
		if reason == "" {
			reason = string(out.Data)
		}
		return "", &SubmissionError{Direction: d, Body: reason}
	}

	var data string
	if err := json.Unmarshal(out.Data, &data); err == nil && data != "" {
		return data, nil
	}
	if out.Message != "" {
		return out.Message, nil
	}
	return successMessage, nil
}

// statusFailed reads the backend's loose status flag: false, "error", "failed".
func statusFailed(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return !b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(s) {
		case "error", "failed", "fail", "false":
			return true
		}
	}
	return false
}
