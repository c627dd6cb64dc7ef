package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MaxVideosLimit is the upper bound of the video count control.
const MaxVideosLimit = 20

type Config struct {
	// Search API
	SerpAPIKey         string
	SerpAPIBaseURL     string
	DurationFilter     string
	Device             string
	Pagination         bool
	PollInitialBackoff time.Duration
	PollMaxBackoff     time.Duration
	PollMaxAttempts    int
	PollTimeout        time.Duration
	SearchRateLimit    int
	MaxVideos          int

	// Local work area
	WorkDir string
	DBPath  string

	// External tools
	YtDlpPath         string
	DownloadTimeout   time.Duration
	WhisperPath       string
	WhisperModel      string
	TranscribeTimeout time.Duration
	Workers           int

	// HTTP server
	ServerPort        string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RateLimit         int
	RateLimitInterval time.Duration

	// Logging
	LogDir    string
	LogLevel  string
	LogFormat string

	Spaces SpacesConfig
	AMQP   AMQPConfig
}

type SpacesConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
}

// Enabled reports whether CSV exports should also be uploaded.
func (s SpacesConfig) Enabled() bool {
	return s.Bucket != ""
}

type AMQPConfig struct {
	URL   string
	Queue string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to read .env file")
	}

	cfg := &Config{
		SerpAPIKey:         GetEnv("SERPAPI_API_KEY", ""),
		SerpAPIBaseURL:     GetEnv("SERPAPI_BASE_URL", "https://serpapi.com"),
		DurationFilter:     GetEnv("SEARCH_DURATION_FILTER", "EgIYAw%253D%253D"),
		Device:             GetEnv("SEARCH_DEVICE", "desktop"),
		Pagination:         getEnvAsBool("SEARCH_PAGINATION", false),
		PollInitialBackoff: getEnvAsDuration("POLL_INITIAL_BACKOFF", 1*time.Second),
		PollMaxBackoff:     getEnvAsDuration("POLL_MAX_BACKOFF", 15*time.Second),
		PollMaxAttempts:    getEnvAsInt("POLL_MAX_ATTEMPTS", 30),
		PollTimeout:        getEnvAsDuration("POLL_TIMEOUT", 3*time.Minute),
		SearchRateLimit:    getEnvAsInt("SEARCH_RATE_LIMIT", 5),
		MaxVideos:          getEnvAsInt("MAX_VIDEOS", MaxVideosLimit),

		WorkDir: GetEnv("WORK_DIR", "./videos"),
		DBPath:  GetEnv("DB_PATH", "file:mentions?mode=memory&cache=shared"),

		YtDlpPath:         GetEnv("YTDLP_PATH", "yt-dlp"),
		DownloadTimeout:   getEnvAsDuration("DOWNLOAD_TIMEOUT", 10*time.Minute),
		WhisperPath:       GetEnv("WHISPER_PATH", "whisper"),
		WhisperModel:      GetEnv("WHISPER_MODEL", "base"),
		TranscribeTimeout: getEnvAsDuration("TRANSCRIBE_TIMEOUT", 60*time.Minute),
		Workers:           getEnvAsInt("WORKERS", 2),

		ServerPort:        GetEnv("SERVER_PORT", "8080"),
		ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 90*time.Minute),
		IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		RateLimit:         getEnvAsInt("RATE_LIMIT", 5),
		RateLimitInterval: getEnvAsDuration("RATE_LIMIT_INTERVAL", 1*time.Second),

		LogDir:    GetEnv("LOG_DIR", "./logs"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "text"),

		Spaces: SpacesConfig{
			AccessKey: GetEnv("SPACES_ACCESS_KEY", ""),
			SecretKey: GetEnv("SPACES_SECRET_KEY", ""),
			Region:    GetEnv("SPACES_REGION", "us-east-1"),
			Endpoint:  GetEnv("SPACES_ENDPOINT", ""),
			Bucket:    GetEnv("SPACES_BUCKET", ""),
		},
		AMQP: AMQPConfig{
			URL:   GetEnv("AMQP_URL", ""),
			Queue: GetEnv("AMQP_QUEUE", "mentions.found"),
		},
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid duration, using default")
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid boolean, using default")
	}
	return defaultValue
}

func ValidateConfig(cfg *Config) error {
	if cfg.SerpAPIKey == "" {
		return errors.New("SERPAPI_API_KEY is required")
	}
	if cfg.SerpAPIBaseURL == "" {
		return errors.New("search API base URL is required")
	}
	if cfg.ServerPort == "" {
		return errors.New("server port is required")
	}
	if cfg.WorkDir == "" {
		return errors.New("work directory is required")
	}
	if cfg.DBPath == "" {
		return errors.New("database path is required")
	}
	if cfg.MaxVideos < 1 || cfg.MaxVideos > MaxVideosLimit {
		return errors.Errorf("max videos must be between 1 and %d", MaxVideosLimit)
	}
	if cfg.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if cfg.PollMaxAttempts < 1 {
		return errors.New("poll max attempts must be at least 1")
	}
	if cfg.PollInitialBackoff <= 0 || cfg.PollMaxBackoff < cfg.PollInitialBackoff {
		return errors.New("poll backoff must be positive and max must not be below initial")
	}
	if cfg.PollTimeout <= 0 {
		return errors.New("poll timeout must be greater than 0")
	}
	if cfg.SearchRateLimit < 1 {
		return errors.New("search rate limit must be at least 1")
	}
	if cfg.TranscribeTimeout <= 0 {
		return errors.New("transcribe timeout must be greater than 0")
	}
	if cfg.DownloadTimeout <= 0 {
		return errors.New("download timeout must be greater than 0")
	}
	if cfg.ReadTimeout <= 0 {
		return errors.New("read timeout must be greater than 0")
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if cfg.IdleTimeout <= 0 {
		return errors.New("idle timeout must be greater than 0")
	}
	if cfg.RateLimit < 1 || cfg.RateLimitInterval <= 0 {
		return errors.New("rate limit and interval must be positive")
	}
	if cfg.Spaces.Enabled() && (cfg.Spaces.AccessKey == "" || cfg.Spaces.SecretKey == "") {
		return errors.New("spaces credentials are required when SPACES_BUCKET is set")
	}
	return nil
}
