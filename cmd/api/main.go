package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"scanstation/internal/attendance"
	"scanstation/internal/auth"
	"scanstation/internal/backend"
	"scanstation/internal/camera"
	"scanstation/internal/config"
	"scanstation/internal/httpapi"
	"scanstation/internal/notify"
	"scanstation/internal/qr"
	"scanstation/internal/scan"
	"scanstation/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("scan station failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	token, err := auth.LoadToken(cfg.APIToken, cfg.APITokenFile)
	if err != nil {
		return err
	}
	tokens := auth.NewTokenStore(token)
	if set, exp := tokens.Status(); !set {
		log.Println("backend token not set; PUT /v1/token before scanning")
	} else if exp != nil {
		log.Printf("backend token expires at %s", exp.Format(time.RFC3339))
	}

	snapshotDevices, err := camera.ParseSnapshotDevices(cfg.SnapshotCameras)
	if err != nil {
		return err
	}
	pushDevices, err := camera.ParsePushDevices(cfg.PushCameras)
	if err != nil {
		return err
	}
	push := camera.NewPushSource(pushDevices...)
	var snapshots camera.Source
	if len(snapshotDevices) > 0 {
		snapshots = camera.NewSnapshotSource(snapshotDevices, cfg.CameraTimeout)
	}
	source := camera.NewMultiSource(snapshots, push)
	log.Printf("cameras: %d snapshot, %d push", len(snapshotDevices), len(pushDevices))

	displayCtx, stopDisplay := context.WithCancel(context.Background())
	defer stopDisplay()

	var redisClient *store.Redis
	var q notify.Queue
	if cfg.NotifyBackend == "redis" {
		// cmd/worker drains the redis queue.
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = notify.NewRedisQueue(redisClient.Client, cfg.NotifyQueueKey, 0)
	} else {
		mem := notify.NewInMemory(cfg.NotifyFeedSize)
		messages, err := mem.Consume(displayCtx)
		if err != nil {
			return err
		}
		go func() {
			for n := range messages {
				log.Println(notify.Line(n))
			}
		}()
		q = mem
	}
	feed := notify.NewFeed(cfg.NotifyFeedSize)
	notifier := notify.NewFanout(feed, notify.QueueNotifier{Queue: q})

	direction, err := attendance.ParseDirection(cfg.Direction)
	if err != nil {
		log.Printf("invalid SCAN_DIRECTION, using %s: %v", attendance.CheckIn, err)
		direction = attendance.CheckIn
	}
	submitter := attendance.NewSubmitter(cfg.APIURL, tokens, cfg.SubmitTimeout)
	session := scan.New(source, qr.NewZXing(), submitter, notifier, scan.Config{
		Constraints: camera.Constraints{
			Width:  cfg.CameraWidth,
			Height: cfg.CameraHeight,
			Facing: camera.ParseFacing(cfg.CameraFacing),
		},
		Interval:  cfg.ScanInterval,
		Direction: direction,
	})

	api := backend.New(cfg.APIURL, tokens, cfg.SubmitTimeout)
	if set, _ := tokens.Status(); set {
		verifyCtx, cancel := context.WithTimeout(context.Background(), cfg.SubmitTimeout)
		if u, err := api.VerifyToken(verifyCtx); err != nil {
			log.Printf("warning: backend token not verified: %v", err)
		} else {
			log.Printf("backend token belongs to %s (%s)", u.Username, u.Role)
		}
		cancel()
	}

	if _, err := session.ListCameras(context.Background()); err != nil {
		log.Printf("warning: camera enumeration failed: %v", err)
	}

	r := httpapi.NewRouter(httpapi.Deps{
		Session:         session,
		Push:            push,
		Feed:            feed,
		Backend:         api,
		Tokens:          tokens,
		Redis:           redisClient,
		SigningKey:      cfg.OperatorSigningKey,
		Issuer:          cfg.OperatorIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // notification stream is long-lived
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting scan station on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down scan station...")

	// Stop sampling and release the camera before draining requests.
	if err := session.Close(); err != nil {
		log.Printf("release camera: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
