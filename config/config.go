package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// SMTPConfig is the identity and transport used for probes.
type SMTPConfig struct {
	EHLODomain string        `json:"ehlo_domain"`
	MailFrom   string        `json:"mail_from"`
	Port       int           `json:"port"`
	Timeout    time.Duration `json:"timeout"`
	Proxy      string        `json:"-"`
}

type VerifyConfig struct {
	DomainCooldown  time.Duration `json:"domain_cooldown"`
	GreylistBackoff time.Duration `json:"greylist_backoff"`
	RetryBackoff    time.Duration `json:"retry_backoff"`
	BatchDelay      time.Duration `json:"batch_delay"`
	MaxBatchSize    int           `json:"max_batch_size"`
	MaxMXAttempts   int           `json:"max_mx_attempts"`
	Deadline        time.Duration `json:"deadline"`
	CacheTTL        time.Duration `json:"cache_ttl"`
	CacheMaxEntries int           `json:"cache_max_entries"`
	DNSServers      []string      `json:"dns_servers"`
	DNSTimeout      time.Duration `json:"dns_timeout"`
}

type Config struct {
	Environment        string        `json:"environment"`
	ServerPort         string        `json:"server_port"`
	APIKey             string        `json:"-"`
	SMTP               SMTPConfig    `json:"smtp"`
	Verify             VerifyConfig  `json:"verify"`
	Redis              RedisConfig   `json:"redis"`
	RateLimitRequests  int           `json:"rate_limit_requests"`
	CORSAllowedOrigins []string      `json:"cors_allowed_origins"`
	SentryDSN          string        `json:"-"`
	LogLevel           string        `json:"log_level"`
	JanitorInterval    time.Duration `json:"janitor_interval"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	ehlo := getEnv("EHLO_DOMAIN", "mailprobe.local")

	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("PORT", "3001"),
		APIKey:      getEnv("API_KEY", ""),
		SMTP: SMTPConfig{
			EHLODomain: ehlo,
			MailFrom:   getEnv("MAIL_FROM", "verify@"+ehlo),
			Port:       getEnvAsInt("SMTP_PORT", 25),
			Timeout:    getEnvAsMillis("SMTP_TIMEOUT_MS", 10000),
			Proxy:      getEnv("SMTP_PROXY", ""),
		},
		Verify: VerifyConfig{
			DomainCooldown:  getEnvAsMillis("DOMAIN_COOLDOWN_MS", 2000),
			GreylistBackoff: getEnvAsMillis("GREYLIST_RETRY_MS", 5000),
			RetryBackoff:    getEnvAsMillis("RETRY_BACKOFF_MS", 2000),
			BatchDelay:      getEnvAsMillis("BATCH_DELAY_MS", 500),
			MaxBatchSize:    getEnvAsInt("MAX_BATCH_SIZE", 50),
			MaxMXAttempts:   getEnvAsInt("MAX_MX_ATTEMPTS", 3),
			Deadline:        getEnvAsDuration("VERIFY_DEADLINE", 0),
			CacheTTL:        getEnvAsDuration("CACHE_TTL", time.Hour),
			CacheMaxEntries: getEnvAsInt("CACHE_MAX_ENTRIES", 10000),
			DNSServers:      getEnvAsList("DNS_SERVERS"),
			DNSTimeout:      getEnvAsMillis("DNS_TIMEOUT_MS", 5000),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimitRequests:  getEnvAsInt("RATE_LIMIT_REQUESTS", 0),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		SentryDSN:          getEnv("SENTRY_DSN", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		JanitorInterval:    getEnvAsDuration("JANITOR_INTERVAL", 5*time.Minute),
	}

	// Validate required configurations
	if AppConfig.SMTP.Port <= 0 || AppConfig.SMTP.Port > 65535 {
		return fmt.Errorf("SMTP_PORT must be between 1 and 65535")
	}
	if AppConfig.SMTP.Timeout <= 0 {
		return fmt.Errorf("SMTP_TIMEOUT_MS must be positive")
	}
	if strings.ContainsAny(AppConfig.SMTP.EHLODomain+AppConfig.SMTP.MailFrom, " \r\n") {
		return fmt.Errorf("EHLO_DOMAIN and MAIL_FROM must not contain whitespace")
	}
	if AppConfig.Verify.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}
	if AppConfig.Verify.MaxMXAttempts <= 0 {
		return fmt.Errorf("MAX_MX_ATTEMPTS must be positive")
	}
	if AppConfig.Verify.DomainCooldown < 0 || AppConfig.Verify.BatchDelay < 0 {
		return fmt.Errorf("DOMAIN_COOLDOWN_MS and BATCH_DELAY_MS must not be negative")
	}
	if AppConfig.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be positive")
	}
	if _, err := logrus.ParseLevel(AppConfig.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if AppConfig.Environment == "production" && AppConfig.APIKey == "" {
		logrus.Warn("API_KEY is not set, the verification API is open to anyone who can reach it")
	}

	logConfig()
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Debugf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s", "1h") or a bare number of
// seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvAsMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Millisecond
}

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":     AppConfig.Environment,
		"port":            AppConfig.ServerPort,
		"ehlo_domain":     AppConfig.SMTP.EHLODomain,
		"mail_from":       AppConfig.SMTP.MailFrom,
		"smtp_port":       AppConfig.SMTP.Port,
		"proxy":           AppConfig.SMTP.Proxy != "",
		"domain_cooldown": AppConfig.Verify.DomainCooldown.String(),
		"redis":           AppConfig.Redis.Enabled,
		"auth":            AppConfig.APIKey != "",
		"sentry":          AppConfig.SentryDSN != "",
	}).Info("Loaded configuration")
}
