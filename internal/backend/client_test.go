package backend

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"token invalid"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user":{"username":"admin","role":"admin"}}`))
	})
	mux.HandleFunc("/api/classes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":[{"id":7,"nama_kelas":"X","selection":{"nama_rombel":"IPA 1"}}]}`))
	})
	mux.HandleFunc("/api/qrcodes/generate/class/7", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"QR berhasil dibuat"}`))
	})
	mux.HandleFunc("/api/qrcodes/generate/class/8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false,"message":"kelas kosong"}`))
	})
	mux.HandleFunc("/api/qrcodes/class/7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":[{"qr_path":"/uploads/qr/STU-001.png"},{"qr_path":"/uploads/qr/missing.png"},{"qr_path":"/uploads/other/STU-001.png"}]}`))
	})
	mux.HandleFunc("/uploads/qr/STU-001.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("png-1"))
	})
	mux.HandleFunc("/uploads/other/STU-001.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("png-2"))
	})
	mux.HandleFunc("/uploads/huge.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{0}, maxBodyBytes+1))
	})
	mux.HandleFunc("/api/attendance/class/7", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("date") != "2024-03-01" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"attendance":[{"id":11,"nama_siswa":"Budi","attendance":{"kehadiran":"Hadir","jam_masuk":"07:01","jam_pulang":null,"keterangan":null}}]}}`))
	})
	mux.HandleFunc("/api/attendance/update-by-date", func(w http.ResponseWriter, r *http.Request) {
		var u AttendanceUpdate
		if r.Method != http.MethodPut || json.NewDecoder(r.Body).Decode(&u) != nil || u.StudentID != "11" || u.Status != StatusSick {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"data tidak valid"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","message":"Data berhasil diperbarui"}`))
	})
	mux.HandleFunc("/api/dashboard", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"tanggal":"2024-03-01","siswa":{"jumlah":30,"absensi_hari_ini":{"hadir":27,"sakit":1,"izin":1,"alfa":1},"grafik_mingguan":[{"tanggal":"2024-02-29","hadir":28}]},"guru":{"jumlah":4},"kelas":{"jumlah":2},"petugas":{"jumlah":1}}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyToken(t *testing.T) {
	srv := newBackend(t)
	u, err := New(srv.URL, staticToken("tok"), time.Second).VerifyToken(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if u.Username != "admin" || u.Role != "admin" {
		t.Fatalf("unexpected user %+v", u)
	}

	_, err = New(srv.URL, staticToken("bad"), time.Second).VerifyToken(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "token invalid" {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func TestClassesAndGenerate(t *testing.T) {
	srv := newBackend(t)
	c := New(srv.URL, staticToken("tok"), time.Second)

	classes, err := c.ListClasses(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(classes) != 1 || classes[0].ID.String() != "7" || classes[0].DisplayName() != "Kelas X IPA 1" {
		t.Fatalf("unexpected classes %+v", classes)
	}

	msg, err := c.GenerateClassQR(context.Background(), "7")
	if err != nil || msg != "QR berhasil dibuat" {
		t.Fatalf("unexpected generate result %q %v", msg, err)
	}
	if _, err := c.GenerateClassQR(context.Background(), "8"); err == nil {
		t.Fatalf("expected failure-flagged response to error")
	}
}

func TestBundleClassQRSkipsFailures(t *testing.T) {
	srv := newBackend(t)
	var buf bytes.Buffer
	res, err := New(srv.URL, staticToken("tok"), time.Second).BundleClassQR(context.Background(), "7", &buf)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if res.Files != 2 || len(res.Skipped) != 1 || res.Skipped[0] != "/uploads/qr/missing.png" {
		t.Fatalf("unexpected result %+v", res)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	want := map[string]string{
		"QR_Kelas_7/STU-001.png":   "png-1",
		"QR_Kelas_7/STU-001_1.png": "png-2",
	}
	if len(zr.File) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(zr.File))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if want[f.Name] != string(data) {
			t.Fatalf("unexpected content for %s: %q", f.Name, data)
		}
	}
	if BundleName("7") != "QR_Kelas_7.zip" {
		t.Fatalf("unexpected bundle name %s", BundleName("7"))
	}
}

func TestFileName(t *testing.T) {
	cases := map[string]string{
		"/uploads/qr/a.png": "a.png",
		"/":                 "qr.png",
		"":                  "qr.png",
	}
	for in, want := range cases {
		if got := fileName(in); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}
}

func TestFetchCapsBody(t *testing.T) {
	srv := newBackend(t)
	c := New(srv.URL, staticToken("tok"), 5*time.Second)
	if data, err := c.Fetch(context.Background(), "/uploads/qr/STU-001.png"); err != nil || string(data) != "png-1" {
		t.Fatalf("unexpected fetch %q %v", data, err)
	}
	if _, err := c.Fetch(context.Background(), "/uploads/huge.png"); err == nil {
		t.Fatalf("expected oversized body to be refused")
	}
}

func TestClassIDIsPathEscaped(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(`{"status":"success","data":[]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, staticToken("tok"), time.Second).ClassQRCodes(context.Background(), "7?admin=1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotPath != "/api/qrcodes/class/7?admin=1" || gotQuery != "" {
		t.Fatalf("class id leaked into the query: path %q query %q", gotPath, gotQuery)
	}
}

func TestClassAttendanceAndUpdate(t *testing.T) {
	srv := newBackend(t)
	c := New(srv.URL, staticToken("tok"), time.Second)

	rows, err := c.ClassAttendance(context.Background(), "7", "2024-03-01")
	if err != nil {
		t.Fatalf("attendance: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "Budi" || rows[0].Attendance.Status != StatusPresent || rows[0].Attendance.CheckIn != "07:01" || rows[0].Attendance.CheckOut != "" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if _, err := c.ClassAttendance(context.Background(), "7", "01/03/2024"); err == nil {
		t.Fatalf("expected invalid date error")
	}

	msg, err := c.UpdateAttendance(context.Background(), AttendanceUpdate{StudentID: "11", Date: "2024-03-01", Status: StatusSick, Note: "demam"})
	if err != nil || msg != "Data berhasil diperbarui" {
		t.Fatalf("unexpected update result %q %v", msg, err)
	}
	if _, err := c.UpdateAttendance(context.Background(), AttendanceUpdate{StudentID: "11", Date: "2024-03-01", Status: "Libur"}); err == nil {
		t.Fatalf("expected invalid status error")
	}
	_, err = c.UpdateAttendance(context.Background(), AttendanceUpdate{StudentID: "12", Date: "2024-03-01", Status: StatusSick})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "data tidak valid" {
		t.Fatalf("expected backend rejection, got %v", err)
	}
}

func TestDashboard(t *testing.T) {
	srv := newBackend(t)
	d, err := New(srv.URL, staticToken("tok"), time.Second).Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Students.Count != 30 || d.Students.Today.Present != 27 || len(d.Students.Weekly) != 1 || d.Classes.Count != 2 {
		t.Fatalf("unexpected dashboard %+v", d)
	}
}
