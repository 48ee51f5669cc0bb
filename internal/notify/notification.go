package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scanstation/internal/attendance"
	"scanstation/internal/camera"
)

// Kind is the notification category shown to the operator.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindFailure     Kind = "failure"
	KindCameraError Kind = "camera_error"
)

// Notification is one operator-facing message.
type Notification struct {
	ID        string               `json:"id"`
	SessionID string               `json:"session_id"`
	Kind      Kind                 `json:"kind"`
	Direction attendance.Direction `json:"direction,omitempty"`
	Code      attendance.Code      `json:"code,omitempty"`
	DeviceID  string               `json:"device_id,omitempty"`
	Message   string               `json:"message"`
	At        time.Time            `json:"at"`
}

// Notifier delivers notifications to the operator.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// FromResult turns a submission outcome into a notification.
func FromResult(sessionID string, res attendance.Result) Notification {
	kind := KindSuccess
	if !res.OK {
		kind = KindFailure
	}
	return Notification{
		SessionID: sessionID,
		Kind:      kind,
		Direction: res.Direction,
		Code:      res.Code,
		Message:   res.Message,
		At:        res.At,
	}
}

// FromCameraError describes a camera failure with a retry hint.
func FromCameraError(sessionID string, err error) Notification {
	n := Notification{
		SessionID: sessionID,
		Kind:      KindCameraError,
		Message:   "Kamera tidak dapat diakses. Periksa izin kamera lalu coba lagi.",
		At:        time.Now().UTC(),
	}
	var ae *camera.AccessError
	if errors.As(err, &ae) {
		n.DeviceID = ae.DeviceID
		switch ae.Reason {
		case camera.ReasonDeviceBusy:
			n.Message = "Kamera sedang dipakai aplikasi lain. Tutup aplikasi tersebut lalu coba lagi."
		case camera.ReasonNotFound:
			n.Message = "Kamera tidak ditemukan. Pilih kamera lain lalu coba lagi."
		}
	}
	return n
}

// Line renders n for a log-style display.
func Line(n Notification) string {
	switch n.Kind {
	case KindSuccess:
		return fmt.Sprintf("[OK] %s %s: %s", n.Direction, n.Code, n.Message)
	case KindFailure:
		return fmt.Sprintf("[GAGAL] %s %s: %s", n.Direction, n.Code, n.Message)
	case KindCameraError:
		return fmt.Sprintf("[KAMERA] %s: %s", n.DeviceID, n.Message)
	}
	return fmt.Sprintf("[%s] %s", n.Kind, n.Message)
}
