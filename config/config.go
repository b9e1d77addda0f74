package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

const (
	defaultMatchThreshold     = 0.45
	defaultEmbeddingDimension = 128
	defaultCaptureSettleMs    = 3000
	defaultGalleryHNSWCutoff  = 2000
	defaultDashboardRefresh   = 30
	defaultMaxDecideRetries   = 3
)

type Config struct {
	// database path (sqlite)
	DatabasePath string

	// address the HTTP server binds to
	ListenAddr string

	// matcher settings
	MatchThreshold     float64 // strict upper bound on Euclidean distance
	EmbeddingDimension int     // 128 for face-api descriptors, 5 in demo mode
	GalleryHNSWCutoff  int     // gallery sizes above this use the HNSW index

	// capture settings
	CaptureSettleTime time.Duration // wait after the stream is ready before capturing

	// presence-decision policy per population
	VisitorRequireConfirmation bool
	StaffRequireConfirmation   bool
	MaxDecideRetries           int

	// dashboard aggregate refresh cadence
	DashboardRefreshInterval time.Duration

	// optional sidecar embedding-extractor service
	ExtractorURL string

	// kiosk token signing key
	JWTKey []byte
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %g. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func LoadConfig() (Config, error) {
	cfg := Config{
		DatabasePath: getEnvOrDefault("DATABASE_PATH", "kiosk.db"),
		ListenAddr:   getEnvOrDefault("LISTEN_ADDR", ":8080"),

		MatchThreshold:     getEnvFloatOrDefault("MATCH_THRESHOLD", defaultMatchThreshold),
		EmbeddingDimension: getEnvIntOrDefault("EMBEDDING_DIMENSION", defaultEmbeddingDimension),
		GalleryHNSWCutoff:  getEnvIntOrDefault("GALLERY_HNSW_CUTOFF", defaultGalleryHNSWCutoff),

		CaptureSettleTime: time.Duration(getEnvIntOrDefault("CAPTURE_SETTLE_MS", defaultCaptureSettleMs)) * time.Millisecond,

		VisitorRequireConfirmation: getEnvBoolOrDefault("VISITOR_REQUIRE_CONFIRMATION", true),
		StaffRequireConfirmation:   getEnvBoolOrDefault("STAFF_REQUIRE_CONFIRMATION", false),
		MaxDecideRetries:           getEnvIntOrDefault("MAX_DECIDE_RETRIES", defaultMaxDecideRetries),

		DashboardRefreshInterval: time.Duration(getEnvIntOrDefault("DASHBOARD_REFRESH_SECONDS", defaultDashboardRefresh)) * time.Second,

		ExtractorURL: getEnvOrDefault("EXTRACTOR_URL", ""),
	}

	key := os.Getenv("JWT_KEY")
	if key == "" {
		return Config{}, fmt.Errorf("JWT_KEY environment variable is required")
	}
	cfg.JWTKey = []byte(key)

	return cfg, nil
}
