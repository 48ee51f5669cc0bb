package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scanstation/internal/attendance"
	"scanstation/internal/auth"
	"scanstation/internal/backend"
	"scanstation/internal/camera"
	"scanstation/internal/httpmiddleware"
	"scanstation/internal/notify"
	"scanstation/internal/qr"
	"scanstation/internal/scan"
	"scanstation/internal/store"
)

// Deps wires the operator API to the scan engine.
type Deps struct {
	Session *scan.Session
	Push    *camera.PushSource
	Feed    *notify.Feed
	Backend *backend.Client
	Tokens  *auth.TokenStore
	Redis   *store.Redis

	SigningKey      string
	Issuer          string
	RateLimitPerMin int
}

type server struct {
	Deps
}

// NewRouter builds the gin engine for the operator API.
func NewRouter(d Deps) *gin.Engine {
	s := &server{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	v1 := r.Group("/v1",
		auth.OperatorAuth(d.SigningKey, d.Issuer),
		httpmiddleware.NewTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin).GinMiddleware(),
	)

	v1.GET("/cameras", s.listCameras)
	v1.PUT("/cameras/selected", s.selectCamera)
	v1.POST("/cameras/:id/frames", s.pushFrame)

	v1.GET("/scan", s.scanStatus)
	v1.PUT("/scan/direction", s.setDirection)
	v1.POST("/scan/start", s.startScan)
	v1.POST("/scan/retry", s.retryScan)
	v1.DELETE("/scan", s.stopScan)

	v1.GET("/notifications", s.notifications)
	v1.GET("/notifications/stream", s.notificationStream)

	v1.PUT("/token", s.setToken)
	v1.GET("/me", s.me)
	v1.GET("/dashboard", s.dashboard)
	v1.GET("/classes", s.listClasses)
	v1.GET("/classes/:id/attendance", s.classAttendance)
	v1.PUT("/attendance", s.updateAttendance)
	v1.POST("/classes/:id/qr", s.generateClassQR)
	v1.GET("/classes/:id/qr.zip", s.downloadClassQR)
	v1.GET("/qr/preview", s.previewQR)

	return r
}

func (s *server) health(c *gin.Context) {
	redisHealthy := s.Redis.Healthy(c.Request.Context())
	st := s.Session.Status()
	if !redisHealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": false, "scan_state": st.State})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "redis": true, "scan_state": st.State})
}

func (s *server) listCameras(c *gin.Context) {
	devs, err := s.Session.ListCameras(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	st := s.Session.Status()
	c.JSON(http.StatusOK, gin.H{"cameras": devs, "selected_camera": st.Selected, "no_camera": st.NoCamera})
}

func (s *server) selectCamera(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Session.SelectCamera(req.DeviceID); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Session.Status())
}

func (s *server) pushFrame(c *gin.Context) {
	if s.Push == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame push not enabled"})
		return
	}
	deviceID := c.Param("id")
	if err := s.Push.Accepting(deviceID); err != nil {
		pushError(c, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, camera.MaxEncodedFrame+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read frame failed"})
		return
	}
	frame, err := camera.DecodeFrame(data)
	switch {
	case errors.Is(err, camera.ErrFrameTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame must be a jpeg or png image"})
		return
	}
	if err := s.Push.Push(deviceID, frame); err != nil {
		pushError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func pushError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, camera.ErrUnknownDevice):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, camera.ErrNoStream):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *server) scanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Session.Status())
}

type directionRequest struct {
	Direction string `json:"direction" binding:"omitempty,oneof=masuk pulang"`
}

func (s *server) setDirection(c *gin.Context) {
	var req directionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Direction == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be masuk or pulang"})
		return
	}
	if err := s.Session.SetDirection(attendance.Direction(req.Direction)); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Session.Status())
}

func (s *server) startScan(c *gin.Context) {
	var req directionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be masuk or pulang"})
		return
	}
	if req.Direction != "" {
		if err := s.Session.SetDirection(attendance.Direction(req.Direction)); err != nil {
			sessionError(c, err)
			return
		}
	}
	if err := s.Session.Start(c.Request.Context()); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.Session.Status())
}

func (s *server) retryScan(c *gin.Context) {
	if err := s.Session.Retry(c.Request.Context()); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.Session.Status())
}

func (s *server) stopScan(c *gin.Context) {
	if err := s.Session.Close(); err != nil {
		log.Printf("release camera: %v", err)
	}
	c.JSON(http.StatusOK, s.Session.Status())
}

func (s *server) notifications(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": s.Feed.Recent(limit)})
}

// notificationStream sends every notification published after the client
// connects. Each client gets its own subscription.
func (s *server) notificationStream(c *gin.Context) {
	ch := s.Feed.Subscribe(c.Request.Context())
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		n, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(string(n.Kind), n)
		return true
	})
}

func (s *server) setToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Tokens.Set(req.Token)
	set, exp := s.Tokens.Status()
	c.JSON(http.StatusOK, gin.H{"token_set": set, "expires_at": exp})
}

func (s *server) me(c *gin.Context) {
	u, err := s.Backend.VerifyToken(c.Request.Context())
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (s *server) listClasses(c *gin.Context) {
	classes, err := s.Backend.ListClasses(c.Request.Context())
	if err != nil {
		backendError(c, err)
		return
	}
	out := make([]gin.H, 0, len(classes))
	for _, cl := range classes {
		out = append(out, gin.H{"id": cl.ID, "name": cl.DisplayName()})
	}
	c.JSON(http.StatusOK, gin.H{"classes": out})
}

func (s *server) dashboard(c *gin.Context) {
	d, err := s.Backend.Dashboard(c.Request.Context())
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *server) classAttendance(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().Format(backend.DateLayout))
	if _, err := time.Parse(backend.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	rows, err := s.Backend.ClassAttendance(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "attendance": rows})
}

type attendanceUpdateRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Date      string `json:"date" binding:"required"`
	Status    string `json:"status" binding:"required,oneof=Hadir Izin Sakit Alpha"`
	Note      string `json:"note"`
}

func (s *server) updateAttendance(c *gin.Context) {
	var req attendanceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := time.Parse(backend.DateLayout, req.Date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	msg, err := s.Backend.UpdateAttendance(c.Request.Context(), backend.AttendanceUpdate{
		StudentID: json.Number(req.StudentID),
		Date:      req.Date,
		Status:    req.Status,
		Note:      req.Note,
	})
	if err != nil {
		backendError(c, err)
		return
	}
	if claims, ok := auth.FromContext(c); ok {
		log.Printf("attendance of student %s on %s set to %s by %s", req.StudentID, req.Date, req.Status, claims.Subject)
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *server) generateClassQR(c *gin.Context) {
	msg, err := s.Backend.GenerateClassQR(c.Request.Context(), c.Param("id"))
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *server) downloadClassQR(c *gin.Context) {
	classID := c.Param("id")
	var buf bytes.Buffer
	res, err := s.Backend.BundleClassQR(c.Request.Context(), classID, &buf)
	if err != nil {
		backendError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, backend.BundleName(classID)))
	c.Header("X-Skipped-Files", strconv.Itoa(len(res.Skipped)))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func (s *server) previewQR(c *gin.Context) {
	size, _ := strconv.Atoi(c.Query("size"))
	png, err := qr.Render(c.Query("code"), size)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func sessionError(c *gin.Context, err error) {
	var ae *camera.AccessError
	switch {
	case errors.As(err, &ae):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "reason": ae.Reason})
	case errors.Is(err, scan.ErrUnknownCamera):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scan.ErrSessionActive), errors.Is(err, scan.ErrNoCamera), errors.Is(err, scan.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrInvalidDirection):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func backendError(c *gin.Context, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, auth.ErrNoToken):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
	default:
		log.Printf("backend call failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
