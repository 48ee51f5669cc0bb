package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DateLayout is the backend's date format for attendance days.
const DateLayout = "2006-01-02"

// Attendance statuses accepted by the backend.
const (
	StatusPresent = "Hadir"
	StatusExcused = "Izin"
	StatusSick    = "Sakit"
	StatusAbsent  = "Alpha"
)

// ValidStatus reports whether s is one of the backend's attendance statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPresent, StatusExcused, StatusSick, StatusAbsent:
		return true
	}
	return false
}

// Presence is one student's record for a day. Times are empty until scanned.
type Presence struct {
	Status   string `json:"kehadiran"`
	CheckIn  string `json:"jam_masuk"`
	CheckOut string `json:"jam_pulang"`
	Note     string `json:"keterangan"`
}

// StudentAttendance pairs a student with their record for the requested day.
type StudentAttendance struct {
	StudentID  json.Number `json:"id"`
	Name       string      `json:"nama_siswa"`
	Attendance Presence    `json:"attendance"`
}

// AttendanceUpdate corrects one student's record for a day.
type AttendanceUpdate struct {
	StudentID json.Number `json:"students_id"`
	Date      string      `json:"tanggal"`
	Status    string      `json:"kehadiran"`
	Note      string      `json:"keterangan"`
}

// ClassAttendance lists a class's attendance on date (DateLayout).
func (c *Client) ClassAttendance(ctx context.Context, classID, date string) ([]StudentAttendance, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	path := "/api/attendance/class/" + url.PathEscape(classID) + "?" + url.Values{"date": {date}}.Encode()
	var env envelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	var out struct {
		Attendance []StudentAttendance `json:"attendance"`
	}
	if err := decodeData(env, &out); err != nil {
		return nil, err
	}
	return out.Attendance, nil
}

// UpdateAttendance overwrites a student's status and note for a day.
func (c *Client) UpdateAttendance(ctx context.Context, u AttendanceUpdate) (string, error) {
	if u.StudentID == "" {
		return "", errors.New("student id required")
	}
	if !ValidStatus(u.Status) {
		return "", fmt.Errorf("invalid attendance status %q", u.Status)
	}
	if _, err := time.Parse(DateLayout, u.Date); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", u.Date, err)
	}
	var env envelope
	if err := c.do(ctx, http.MethodPut, "/api/attendance/update-by-date", u, &env); err != nil {
		return "", err
	}
	return env.Message, nil
}

// DailyTally counts today's records by status.
type DailyTally struct {
	Present int `json:"hadir"`
	Sick    int `json:"sakit"`
	Excused int `json:"izin"`
	Absent  int `json:"alfa"`
}

// DayCount is one point of the weekly attendance chart.
type DayCount struct {
	Date    string `json:"tanggal"`
	Present int    `json:"hadir"`
}

type headcount struct {
	Count int `json:"jumlah"`
}

// Dashboard is the school-wide summary.
type Dashboard struct {
	Date     string `json:"tanggal"`
	Students struct {
		Count  int        `json:"jumlah"`
		Today  DailyTally `json:"absensi_hari_ini"`
		Weekly []DayCount `json:"grafik_mingguan"`
	} `json:"siswa"`
	Teachers headcount `json:"guru"`
	Classes  headcount `json:"kelas"`
	Staff    headcount `json:"petugas"`
}

// Dashboard fetches today's summary.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/api/dashboard", nil, &env); err != nil {
		return Dashboard{}, err
	}
	var out Dashboard
	if err := decodeData(env, &out); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}
