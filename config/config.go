package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the playback daemon configuration.
// Values come from environment variables (optionally via a .env file)
// with simple defaults suitable for local development.
type Config struct {
	// Catalog provider
	ProviderBaseURL string // Base URL of the remote catalog/streaming API
	ProviderTimeout time.Duration
	SessionToken    string // JWT session token for the provider, may be empty
	DefaultQuality  string // Quality label requested from the provider, e.g. "standard", "lossless"

	// Local library
	LibraryDir   string // Directory scanned for local audio files
	LibraryWatch bool   // Watch LibraryDir for changes

	// Audio output
	SampleRate int // Output sample rate in Hz
	BufferSize int // Speaker buffer size in samples

	// Control API
	ListenAddr string

	// Redis配置（队列快照缓存）
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MySQL配置（播放历史）
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MinIO配置（音频对象缓存）
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Logging
	LogLevel  string
	LogOutput string

	Crossfade CrossfadeConfig
	Gapless   GaplessConfig
	Retry     RetryConfig
	Breaker   BreakerConfig
}

// CrossfadeConfig controls the overlapping fade between two tracks.
type CrossfadeConfig struct {
	Enabled          bool
	Duration         time.Duration // Total crossfade length
	Curve            string        // linear, exponential, logarithmic, s-curve
	FadeInDuration   time.Duration // Incoming ramp length; 0 or > Duration means Duration
	FadeOutDuration  time.Duration // Outgoing ramp length; 0 or > Duration means Duration
	OverlapThreshold time.Duration // Remaining time at which a crossfade may begin
}

// GaplessConfig controls the near-seamless handoff at a track boundary.
type GaplessConfig struct {
	Enabled           bool
	PreloadDuration   time.Duration // How long after track start the next track is preloaded
	BufferSize        int
	SeamlessThreshold time.Duration // How early the next source starts before the current one ends
}

// RetryConfig bounds the streaming client's retry loop.
type RetryConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RetryableStatuses []int    // HTTP statuses worth retrying
	RetryableMessages []string // Error-text substrings worth retrying
}

// BreakerConfig controls the streaming client's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MonitoringPeriod time.Duration
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration in milliseconds.
func getEnvDuration(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}

// getEnvInts parses a comma separated list of integers.
func getEnvInts(key string, fallback []int) []int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		if intVal, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, intVal)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "http://localhost:3000"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT_MS", 30000),
		SessionToken:    os.Getenv("PROVIDER_SESSION_TOKEN"),
		DefaultQuality:  getEnv("DEFAULT_QUALITY", "standard"),

		LibraryDir:   getEnv("LIBRARY_DIR", ""),
		LibraryWatch: getEnvBool("LIBRARY_WATCH", true),

		SampleRate: getEnvInt("SAMPLE_RATE", 44100),
		BufferSize: getEnvInt("BUFFER_SIZE", 4096),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "coralplay"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "coralplay"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogOutput: getEnv("LOG_OUTPUT", ""),

		Crossfade: CrossfadeConfig{
			Enabled:          getEnvBool("CROSSFADE_ENABLED", true),
			Duration:         getEnvDuration("CROSSFADE_DURATION_MS", 5000),
			Curve:            getEnv("CROSSFADE_CURVE", "s-curve"),
			FadeInDuration:   getEnvDuration("CROSSFADE_FADE_IN_MS", 5000),
			FadeOutDuration:  getEnvDuration("CROSSFADE_FADE_OUT_MS", 5000),
			OverlapThreshold: getEnvDuration("CROSSFADE_OVERLAP_MS", 8000),
		},
		Gapless: GaplessConfig{
			Enabled:           getEnvBool("GAPLESS_ENABLED", true),
			PreloadDuration:   getEnvDuration("GAPLESS_PRELOAD_MS", 1000),
			BufferSize:        getEnvInt("GAPLESS_BUFFER_SIZE", 4096),
			SeamlessThreshold: getEnvDuration("GAPLESS_SEAMLESS_MS", 200),
		},
		Retry: RetryConfig{
			MaxRetries:        getEnvInt("RETRY_MAX", 3),
			BaseDelay:         getEnvDuration("RETRY_BASE_DELAY_MS", 500),
			MaxDelay:          getEnvDuration("RETRY_MAX_DELAY_MS", 10000),
			BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
			RetryableStatuses: getEnvInts("RETRY_STATUSES", []int{408, 429, 500, 502, 503, 504}),
			RetryableMessages: []string{"Network error", "Timeout", "Service unavailable", "connection refused", "connection reset"},
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_MS", 30000),
			MonitoringPeriod: getEnvDuration("BREAKER_MONITORING_MS", 60000),
		},
	}
}
