package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// SnapshotDevice is an IP camera that serves still images over HTTP.
type SnapshotDevice struct {
	Device
	URL string
}

// ParseSnapshotDevices reads "id|label|facing|url" entries separated by commas.
func ParseSnapshotDevices(list string) ([]SnapshotDevice, error) {
	var out []SnapshotDevice
	for _, entry := range splitEntries(list) {
		parts := strings.SplitN(entry, "|", 4)
		if len(parts) != 4 || parts[0] == "" || parts[3] == "" {
			return nil, fmt.Errorf("invalid snapshot camera %q: want id|label|facing|url", entry)
		}
		if _, err := url.Parse(parts[3]); err != nil {
			return nil, fmt.Errorf("invalid snapshot url for %s: %w", parts[0], err)
		}
		out = append(out, SnapshotDevice{
			Device: Device{ID: parts[0], Label: parts[1], Kind: KindVideoInput, Facing: ParseFacing(parts[2])},
			URL:    parts[3],
		})
	}
	return out, nil
}

func splitEntries(list string) []string {
	var out []string
	for _, e := range strings.Split(list, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// SnapshotSource pulls frames from HTTP snapshot endpoints.
type SnapshotSource struct {
	devices []SnapshotDevice
	HTTP    *http.Client
}

// NewSnapshotSource creates a source with a per-request timeout.
func NewSnapshotSource(devices []SnapshotDevice, timeout time.Duration) *SnapshotSource {
	return &SnapshotSource{
		devices: devices,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// List returns the configured devices in configuration order.
func (s *SnapshotSource) List(ctx context.Context) ([]Device, error) {
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Device)
	}
	return out, nil
}

// Open probes the device once; a failed probe is an AccessError.
func (s *SnapshotSource) Open(ctx context.Context, deviceID string, c Constraints) (Stream, error) {
	var dev *SnapshotDevice
	for i := range s.devices {
		if s.devices[i].ID == deviceID {
			dev = &s.devices[i]
			break
		}
	}
	if dev == nil {
		return nil, &AccessError{DeviceID: deviceID, Reason: ReasonNotFound}
	}
	target, err := snapshotURL(dev.URL, c)
	if err != nil {
		return nil, &AccessError{DeviceID: deviceID, Reason: ReasonNotFound, Err: err}
	}
	st := &snapshotStream{deviceID: deviceID, url: target, http: s.HTTP}
	if _, err := st.fetch(ctx); err != nil {
		return nil, err
	}
	st.ready.Store(true)
	return st, nil
}

func snapshotURL(raw string, c Constraints) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if c.Width > 0 {
		q.Set("width", strconv.Itoa(c.Width))
	}
	if c.Height > 0 {
		q.Set("height", strconv.Itoa(c.Height))
	}
	if c.Facing != "" {
		q.Set("facing", string(c.Facing))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type snapshotStream struct {
	deviceID string
	url      string
	http     *http.Client
	ready    atomic.Bool
	closed   atomic.Bool
}

func (s *snapshotStream) Ready() bool {
	return s.ready.Load() && !s.closed.Load()
}

func (s *snapshotStream) Frame(ctx context.Context) (Frame, error) {
	if s.closed.Load() {
		return Frame{}, &AccessError{DeviceID: s.deviceID, Reason: ReasonUnavailable, Err: errors.New("stream closed")}
	}
	return s.fetch(ctx)
}

func (s *snapshotStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *snapshotStream) fetch(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, &AccessError{DeviceID: s.deviceID, Reason: ReasonNotFound, Err: err}
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return Frame{}, &AccessError{DeviceID: s.deviceID, Reason: ReasonUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Frame{}, &AccessError{
			DeviceID: s.deviceID,
			Reason:   reasonForStatus(resp.StatusCode),
			Err:      fmt.Errorf("snapshot %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxEncodedFrame+1))
	if err != nil {
		return Frame{}, &AccessError{DeviceID: s.deviceID, Reason: ReasonUnavailable, Err: fmt.Errorf("read snapshot: %w", err)}
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		return Frame{}, &AccessError{DeviceID: s.deviceID, Reason: ReasonUnavailable, Err: fmt.Errorf("snapshot: %w", err)}
	}
	return frame, nil
}

func reasonForStatus(code int) Reason {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ReasonPermissionDenied
	case http.StatusConflict, http.StatusLocked:
		return ReasonDeviceBusy
	case http.StatusNotFound, http.StatusGone:
		return ReasonNotFound
	default:
		return ReasonUnavailable
	}
}
