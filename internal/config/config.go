package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreBackendMySQL  = "mysql"
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// DefaultObfuscationSecret is the shared XOR key for the plan value. It only deters casual inspection.
const DefaultObfuscationSecret = "moonpath-secret-key-for-demonstration"

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken               string
	LogLevel               string
	OracleBaseURL          string
	OracleAPIKey           string
	OracleReadingPath      string
	OracleWeeklyReportPath string
	RequestTimeout         time.Duration
	OracleRatePerSecond    float64
	OracleBurst            int
	StoreBackend           string
	StoreMaxValueBytes     int
	MySQLDSN               string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ObfuscationSecret      string
	PaymentDelay           time.Duration
	SessionIdleTimeout     time.Duration
	HTTPListenAddr         string
	APIRatePerSecond       float64
	APIBurst               int
	AdminUsername          string
	AdminPassword          string
	S3Endpoint             string
	S3Region               string
	S3AccessKey            string
	S3SecretKey            string
	S3Bucket               string
	S3LinkTTL              time.Duration
	S3UsePathStyle         bool
	S3Prefix               string
}

// ExportEnabled reports whether history export to S3 is configured.
func (c Config) ExportEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BotToken:               os.Getenv("TELEGRAM_BOT_TOKEN"),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		OracleBaseURL:          normalizeBaseURL(os.Getenv("ORACLE_BASE_URL")),
		OracleAPIKey:           os.Getenv("ORACLE_API_KEY"),
		OracleReadingPath:      getEnv("ORACLE_READING_PATH", "/api/generate-reading"),
		OracleWeeklyReportPath: getEnv("ORACLE_WEEKLY_REPORT_PATH", "/api/generate-weekly-report"),
		RequestTimeout:         time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		OracleRatePerSecond:    getFloat("ORACLE_RATE_PER_SECOND", 2),
		OracleBurst:            getInt("ORACLE_BURST", 5),
		StoreBackend:           strings.ToLower(getEnv("STORE_BACKEND", StoreBackendMySQL)),
		StoreMaxValueBytes:     getInt("STORE_MAX_VALUE_BYTES", 5*1024*1024),
		MySQLDSN:               os.Getenv("MYSQL_DSN"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getInt("REDIS_DB", 0),
		ObfuscationSecret:      getEnv("OBFUSCATION_SECRET", DefaultObfuscationSecret),
		PaymentDelay:           time.Millisecond * time.Duration(getInt("PAYMENT_DELAY_MS", 1500)),
		SessionIdleTimeout:     time.Minute * time.Duration(getInt("SESSION_IDLE_MINUTES", 30)),
		HTTPListenAddr:         getEnv("HTTP_LISTEN_ADDR", ":8080"),
		APIRatePerSecond:       getFloat("API_RATE_PER_SECOND", 5),
		APIBurst:               getInt("API_BURST", 10),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3Region:               os.Getenv("S3_REGION"),
		S3AccessKey:            os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:            os.Getenv("S3_SECRET_KEY"),
		S3Bucket:               os.Getenv("S3_BUCKET"),
		S3LinkTTL:              time.Minute * time.Duration(getInt("S3_LINK_TTL_MINUTES", 60)),
		S3UsePathStyle:         getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:               getEnv("S3_PREFIX", "exports"),
	}

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.OracleBaseURL == "" {
		missing = append(missing, "ORACLE_BASE_URL")
	}
	switch cfg.StoreBackend {
	case StoreBackendMySQL:
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StoreBackendRedis:
		if cfg.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	case StoreBackendMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.ExportEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeBaseURL defaults the scheme to https and drops trailing slashes.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile applies the first env file found. Running without one is fine.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
