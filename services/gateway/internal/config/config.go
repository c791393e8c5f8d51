package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the YAML file read when FARMASSIST_CONFIG is unset.
var ConfigPath = envOr("FARMASSIST_CONFIG", "config.yaml")

const (
	defaultMarketTimeout  = 15 * time.Second
	defaultSessionTTL     = 24 * time.Hour
	defaultKVNamespace    = "farmassist:kv"
	defaultJWTIssuer      = "farmassist"
	defaultJWTAudience    = "farmassist-app"
	defaultGeminiModel    = "gemini-1.5-flash"
	defaultSignupPerMin   = 5
	defaultLoginPerMin    = 10
	defaultQueueWorkers   = 1
	defaultQueueRetries   = 3
	defaultProofURLExpiry = 15 * time.Minute
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	BasePath string `yaml:"basePath"`

	StoreBackend  string `yaml:"storeBackend"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	KVNamespace   string `yaml:"kvNamespace"`

	MarketAPIURL  string `yaml:"marketAPIURL"`
	MarketAPIKey  string `yaml:"marketAPIKey"`
	MarketTimeout string `yaml:"marketTimeout"`
	// MarketRequestsPerSecond caps outbound price API calls. Zero disables.
	MarketRequestsPerSecond float64 `yaml:"marketRequestsPerSecond"`

	GeneratorProvider string `yaml:"generatorProvider"`
	GeminiAPIKey      string `yaml:"geminiAPIKey"`
	GeminiModel       string `yaml:"geminiModel"`
	GeneratorBaseURL  string `yaml:"generatorBaseURL"`
	GeneratorAPIKey   string `yaml:"generatorAPIKey"`
	GeneratorModel    string `yaml:"generatorModel"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`
	SessionTTL  string `yaml:"sessionTTL"`

	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	SignupRateLimitPerMinute *int     `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  *int     `yaml:"loginRateLimitPerMinute"`

	ProofQueueEnabled     bool   `yaml:"proofQueueEnabled"`
	ProofQueueConcurrency int    `yaml:"proofQueueConcurrency"`
	ProofQueueMaxRetries  int    `yaml:"proofQueueMaxRetries"`
	ProofURLExpiry        string `yaml:"proofURLExpiry"`

	ObjectStoreEndpoint  string `yaml:"objectStoreEndpoint"`
	ObjectStoreAccessKey string `yaml:"objectStoreAccessKey"`
	ObjectStoreSecretKey string `yaml:"objectStoreSecretKey"`
	ObjectStoreBucket    string `yaml:"objectStoreBucket"`
	ObjectStoreUseSSL    bool   `yaml:"objectStoreUseSSL"`
}

// Load reads config from path (defaults to ConfigPath). Variables from a
// .env file in the working directory are loaded first; variables already set
// in the environment win over the file.
func Load(path string) (FileConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return FileConfig{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
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
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("GATEWAY_BASE_PATH", &cfg.BasePath)

	setString("STORE_BACKEND", &cfg.StoreBackend)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("KV_NAMESPACE", &cfg.KVNamespace)

	setString("MARKET_API_URL", &cfg.MarketAPIURL)
	setString("DATA_GOV_API_KEY", &cfg.MarketAPIKey)
	setString("MARKET_TIMEOUT", &cfg.MarketTimeout)
	if v := os.Getenv("MARKET_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.MarketRequestsPerSecond = f
		}
	}

	setString("GENERATOR_PROVIDER", &cfg.GeneratorProvider)
	setString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	setString("GEMINI_MODEL", &cfg.GeminiModel)
	setString("GENERATOR_BASE_URL", &cfg.GeneratorBaseURL)
	setString("GENERATOR_API_KEY", &cfg.GeneratorAPIKey)
	setString("GENERATOR_MODEL", &cfg.GeneratorModel)

	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("SESSION_TTL", &cfg.SessionTTL)

	if v := os.Getenv("GATEWAY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("GATEWAY_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SignupRateLimitPerMinute = &n
		}
	}
	if v := os.Getenv("GATEWAY_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.LoginRateLimitPerMinute = &n
		}
	}

	setBool("PROOF_QUEUE_ENABLED", &cfg.ProofQueueEnabled)
	setInt("PROOF_QUEUE_CONCURRENCY", &cfg.ProofQueueConcurrency)
	setInt("PROOF_QUEUE_MAX_RETRIES", &cfg.ProofQueueMaxRetries)
	setString("PROOF_URL_EXPIRY", &cfg.ProofURLExpiry)

	setString("MINIO_ENDPOINT", &cfg.ObjectStoreEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.ObjectStoreAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.ObjectStoreSecretKey)
	setString("MINIO_BUCKET", &cfg.ObjectStoreBucket)
	setBool("MINIO_USE_SSL", &cfg.ObjectStoreUseSSL)
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	if cfg.KVNamespace == "" {
		cfg.KVNamespace = defaultKVNamespace
	}
	if cfg.GeneratorProvider == "" {
		cfg.GeneratorProvider = "gemini"
	}
	cfg.GeneratorProvider = strings.ToLower(cfg.GeneratorProvider)
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = defaultGeminiModel
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = defaultJWTIssuer
	}
	if cfg.JWTAudience == "" {
		cfg.JWTAudience = defaultJWTAudience
	}
	if cfg.SignupRateLimitPerMinute == nil {
		n := defaultSignupPerMin
		cfg.SignupRateLimitPerMinute = &n
	}
	if cfg.LoginRateLimitPerMinute == nil {
		n := defaultLoginPerMin
		cfg.LoginRateLimitPerMinute = &n
	}
	if cfg.ProofQueueConcurrency <= 0 {
		cfg.ProofQueueConcurrency = defaultQueueWorkers
	}
	if cfg.ProofQueueMaxRetries <= 0 {
		cfg.ProofQueueMaxRetries = defaultQueueRetries
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.StoreBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required when storeBackend is redis")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required when storeBackend is postgres")
		}
	default:
		return fmt.Errorf("config: unknown storeBackend %q (memory, redis or postgres)", cfg.StoreBackend)
	}
	switch cfg.GeneratorProvider {
	case "gemini", "openai-compat", "ollama":
	default:
		return fmt.Errorf("config: unknown generatorProvider %q", cfg.GeneratorProvider)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if *cfg.SignupRateLimitPerMinute < 0 || *cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MarketRequestsPerSecond < 0 {
		return errors.New("config: marketRequestsPerSecond must be >= 0")
	}
	if cfg.ProofQueueEnabled && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when proofQueueEnabled is set")
	}
	if cfg.ObjectStoreEndpoint != "" && strings.TrimSpace(cfg.ObjectStoreBucket) == "" {
		return errors.New("config: objectStoreBucket is required when objectStoreEndpoint is set")
	}
	for name, value := range map[string]string{
		"marketTimeout":  cfg.MarketTimeout,
		"jwtLeeway":      cfg.JWTLeeway,
		"sessionTTL":     cfg.SessionTTL,
		"proofURLExpiry": cfg.ProofURLExpiry,
	} {
		if _, err := parseDuration(name, value, 0); err != nil {
			return err
		}
	}
	return nil
}

// MarketTimeoutDuration returns the price API timeout.
func (c FileConfig) MarketTimeoutDuration() time.Duration {
	d, _ := parseDuration("marketTimeout", c.MarketTimeout, defaultMarketTimeout)
	return d
}

// SessionTTLDuration returns the session token lifetime.
func (c FileConfig) SessionTTLDuration() time.Duration {
	d, _ := parseDuration("sessionTTL", c.SessionTTL, defaultSessionTTL)
	return d
}

// JWTLeewayDuration returns the allowed clock skew when verifying tokens.
func (c FileConfig) JWTLeewayDuration() time.Duration {
	d, _ := parseDuration("jwtLeeway", c.JWTLeeway, 0)
	return d
}

// ProofURLExpiryDuration returns the lifetime of presigned manifest links.
func (c FileConfig) ProofURLExpiryDuration() time.Duration {
	d, _ := parseDuration("proofURLExpiry", c.ProofURLExpiry, defaultProofURLExpiry)
	return d
}

// GeneratorKey returns the credential for the selected provider.
func (c FileConfig) GeneratorKey() string {
	if c.GeneratorProvider == "gemini" {
		return c.GeminiAPIKey
	}
	return c.GeneratorAPIKey
}

// GeneratorModelName returns the model for the selected provider.
func (c FileConfig) GeneratorModelName() string {
	if c.GeneratorProvider == "gemini" {
		return c.GeminiModel
	}
	return c.GeneratorModel
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", name)
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

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
