package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable by STOREFRONT_CONFIG.
var ConfigPath = "config.yaml"

const (
	defaultSessionTTL     = 15 * 24 * time.Hour
	defaultResetTokenTTL  = 10 * time.Minute
	defaultPresignExpiry  = 15 * time.Minute
	defaultAuthRateLimit  = 20
	defaultAuthRateWindow = time.Minute
	defaultMaxUploadBytes = 100 * 1024 * 1024
	defaultMailStream     = "ebookstore:mail"
	defaultMailWorkers    = 2
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	DatabaseURL   string `yaml:"databaseURL"`
	LogLevel      string `yaml:"logLevel"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MinioEndpoint       string `yaml:"minioEndpoint"`
	MinioPublicEndpoint string `yaml:"minioPublicEndpoint"`
	MinioAccessKey      string `yaml:"minioAccessKey"`
	MinioSecretKey      string `yaml:"minioSecretKey"`
	MinioBucket         string `yaml:"minioBucket"`
	MinioUseSSL         bool   `yaml:"minioUseSSL"`
	PresignExpiry       string `yaml:"presignExpiry"`
	MaxUploadBytes      int64  `yaml:"maxUploadBytes"`

	JWTSecret    string `yaml:"jwtSecret"`
	JWTIssuer    string `yaml:"jwtIssuer"`
	JWTAudience  string `yaml:"jwtAudience"`
	JWTLeeway    string `yaml:"jwtLeeway"`
	SessionTTL   string `yaml:"sessionTTL"`
	CookieSecure bool   `yaml:"cookieSecure"`

	FrontendURL    string   `yaml:"frontendURL"`
	CORSOrigin     string   `yaml:"corsOrigin"`
	TrustedProxies []string `yaml:"trustedProxies"`

	AuthRateLimit  int    `yaml:"authRateLimit"`
	AuthRateWindow string `yaml:"authRateWindow"`
	ResetTokenTTL  string `yaml:"resetTokenTTL"`

	SMTP        SMTPConfig `yaml:"smtp"`
	MailStream  string     `yaml:"mailStream"`
	MailWorkers int        `yaml:"mailWorkers"`
}

// SMTPConfig is the outbound mail relay. An empty host logs mail instead.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Load reads config from path. An empty path or ConfigPath resolves to
// STOREFRONT_CONFIG when set, otherwise ConfigPath.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" || path == ConfigPath {
		path = ConfigPath
		if v := strings.TrimSpace(os.Getenv("STOREFRONT_CONFIG")); v != "" {
			path = v
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_PUBLIC_ENDPOINT"); v != "" {
		cfg.MinioPublicEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		cfg.CookieSecure = v == "true"
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.FrontendURL = v
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("AUTH_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuthRateLimit = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = n
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.AuthRateLimit <= 0 {
		cfg.AuthRateLimit = defaultAuthRateLimit
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if strings.TrimSpace(cfg.MailStream) == "" {
		cfg.MailStream = defaultMailStream
	}
	if cfg.MailWorkers <= 0 {
		cfg.MailWorkers = defaultMailWorkers
	}
	cfg.FrontendURL = strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return errors.New("config: jwtSecret of at least 32 characters is required (set in config.yaml or JWT_SECRET)")
	}
	if cfg.FrontendURL == "" {
		return errors.New("config: frontendURL is required (set in config.yaml or FRONTEND_URL)")
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		return errors.New("config: smtp.from is required when smtp.host is set")
	}
	for name, raw := range map[string]string{
		"sessionTTL":     cfg.SessionTTL,
		"jwtLeeway":      cfg.JWTLeeway,
		"presignExpiry":  cfg.PresignExpiry,
		"authRateWindow": cfg.AuthRateWindow,
		"resetTokenTTL":  cfg.ResetTokenTTL,
	} {
		if _, err := parseDuration(raw, 0); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// ParseSessionTTL parses sessionTTL, defaulting to 15 days.
func ParseSessionTTL(raw string) (time.Duration, error) {
	return parseDuration(raw, defaultSessionTTL)
}

// ParseJWTLeeway parses jwtLeeway; zero means the session store default.
func ParseJWTLeeway(raw string) (time.Duration, error) {
	return parseDuration(raw, 0)
}

// ParsePresignExpiry parses presignExpiry, defaulting to 15 minutes.
func ParsePresignExpiry(raw string) (time.Duration, error) {
	return parseDuration(raw, defaultPresignExpiry)
}

// ParseAuthRateWindow parses authRateWindow, defaulting to one minute.
func ParseAuthRateWindow(raw string) (time.Duration, error) {
	return parseDuration(raw, defaultAuthRateWindow)
}

// ParseResetTokenTTL parses resetTokenTTL, defaulting to 10 minutes.
func ParseResetTokenTTL(raw string) (time.Duration, error) {
	return parseDuration(raw, defaultResetTokenTTL)
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", raw)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
