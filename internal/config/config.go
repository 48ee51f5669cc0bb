package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	APIURL       string
	APIToken     string
	APITokenFile string

	SnapshotCameras string
	PushCameras     string
	CameraWidth     int
	CameraHeight    int
	CameraFacing    string
	CameraTimeout   time.Duration

	ScanInterval  time.Duration
	SubmitTimeout time.Duration
	Direction     string

	NotifyBackend  string
	NotifyQueueKey string
	NotifyFeedSize int
	RedisAddr      string

	OperatorIssuer     string
	OperatorSigningKey string
	OperatorTokenTTL   time.Duration
	RateLimitPerMin    int
}

// Load returns application config populated from environment variables with sensible defaults.
// A .env file in the working directory is read first when present; real env vars win.
func Load() App {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("ignoring .env: %v", err)
	}
	return App{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8081"),

		APIURL:       strings.TrimRight(getEnv("API_URL", "http://localhost:3000"), "/"),
		APIToken:     getEnv("API_TOKEN", ""),
		APITokenFile: getEnv("API_TOKEN_FILE", ""),

		SnapshotCameras: getEnv("CAMERA_DEVICES", ""),
		PushCameras:     getEnv("CAMERA_PUSH_DEVICES", "kiosk|Kiosk webcam|user"),
		CameraWidth:     intEnv("CAMERA_WIDTH", 640),
		CameraHeight:    intEnv("CAMERA_HEIGHT", 480),
		CameraFacing:    getEnv("CAMERA_FACING", "user"),
		CameraTimeout:   durationEnv("CAMERA_TIMEOUT", 5*time.Second),

		ScanInterval:  durationEnv("SCAN_INTERVAL", 500*time.Millisecond),
		SubmitTimeout: durationEnv("SUBMIT_TIMEOUT", 10*time.Second),
		Direction:     getEnv("SCAN_DIRECTION", "masuk"),

		NotifyBackend:  getEnv("NOTIFY_BACKEND", "memory"),
		NotifyQueueKey: getEnv("NOTIFY_QUEUE_KEY", "scanstation:notifications"),
		NotifyFeedSize: intEnv("NOTIFY_FEED_SIZE", 50),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),

		OperatorIssuer:     getEnv("OPERATOR_ISSUER", "scan-station"),
		OperatorSigningKey: getEnv("OPERATOR_SIGNING_KEY", "dev-signing-secret-change"),
		OperatorTokenTTL:   durationEnv("OPERATOR_TOKEN_TTL", 12*time.Hour),
		RateLimitPerMin:    intEnv("RATE_LIMIT_PER_MIN", 240),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			log.Printf("invalid duration for %s: %q, using fallback %s", key, val, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
