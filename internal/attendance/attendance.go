package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Direction selects the scan endpoint: masuk (check-in) or pulang (check-out).
type Direction string

const (
	CheckIn  Direction = "masuk"
	CheckOut Direction = "pulang"
)

// ErrInvalidDirection is returned by ParseDirection.
var ErrInvalidDirection = errors.New("direction must be masuk or pulang")

// ParseDirection accepts the backend names and their English aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "masuk", "check-in", "checkin", "in":
		return CheckIn, nil
	case "pulang", "check-out", "checkout", "out":
		return CheckOut, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

func (d Direction) Valid() bool {
	return d == CheckIn || d == CheckOut
}

// Code is the unique per-student token read from a QR code.
type Code string

// Result is the outcome of one submission. It is shown to the operator and dropped.
type Result struct {
	Direction Direction `json:"direction"`
	Code      Code      `json:"code"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	Err       error     `json:"-"`
}

// SubmissionError covers transport failures, non-2xx responses and
// responses that flag failure in their body.
type SubmissionError struct {
	Direction  Direction
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("attendance %s: %v", e.Direction, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("attendance %s: status %d: %s", e.Direction, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("attendance %s rejected: %s", e.Direction, e.Body)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }
