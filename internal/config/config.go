package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override
const EnvPrefix = "MEALPLAN_"

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Authorization AuthorizationConfig `yaml:"authorization" json:"authorization"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Store         StoreConfig         `yaml:"store" json:"store"`
	AI            AIConfig            `yaml:"ai" json:"ai"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" json:"http_port"`
	TLSEnabled      bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile     string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file" json:"tls_key_file"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level            string            `yaml:"level" json:"level"`
	Format           string            `yaml:"format" json:"format"` // json or text
	Output           string            `yaml:"output" json:"output"` // stdout, stderr, or file path
	SanitizePatterns []string          `yaml:"sanitize_patterns" json:"sanitize_patterns"`
	ComponentLevels  map[string]string `yaml:"component_levels" json:"component_levels"`
}

// AuthorizationConfig configures verification of identity provider tokens
type AuthorizationConfig struct {
	CookieName          string        `yaml:"cookie_name" json:"cookie_name"`
	JWTSigningAlgorithm string        `yaml:"jwt_signing_algorithm" json:"jwt_signing_algorithm"`
	JWTPublicKeyFile    string        `yaml:"jwt_public_key_file" json:"jwt_public_key_file"`
	JWTSharedSecret     string        `yaml:"jwt_shared_secret" json:"jwt_shared_secret"`
	Issuer              string        `yaml:"issuer" json:"issuer"`
	Audience            string        `yaml:"audience" json:"audience"`
	ClockSkewTolerance  time.Duration `yaml:"clock_skew_tolerance" json:"clock_skew_tolerance"`
	// RevocationListURL is asked whether a token's session (jti) was revoked; empty disables the check
	RevocationListURL   string        `yaml:"revocation_list_url" json:"revocation_list_url"`
	RevocationListCache time.Duration `yaml:"revocation_list_cache" json:"revocation_list_cache"`
}

// RateLimitConfig configures the token bucket gate
type RateLimitConfig struct {
	Enabled                  bool                      `yaml:"enabled" json:"enabled"`
	Backend                  string                    `yaml:"backend" json:"backend"` // memory, redis or dynamodb
	RedisAddr                string                    `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword            string                    `yaml:"redis_password" json:"redis_password"`
	RedisDB                  int                       `yaml:"redis_db" json:"redis_db"`
	DynamoDBTable            string                    `yaml:"dynamodb_table" json:"dynamodb_table"`
	DynamoDBRegion           string                    `yaml:"dynamodb_region" json:"dynamodb_region"`
	DynamoDBEndpoint         string                    `yaml:"dynamodb_endpoint" json:"dynamodb_endpoint"`
	FailureMode              string                    `yaml:"failure_mode" json:"failure_mode"` // fail-open or fail-closed
	MaxConflictRetries       int                       `yaml:"max_conflict_retries" json:"max_conflict_retries"`
	RecipeGenerationDisabled bool                      `yaml:"recipe_generation_disabled" json:"recipe_generation_disabled"`
	Overrides                map[string]BucketOverride `yaml:"overrides" json:"overrides"`
}

// BucketOverride replaces the built-in definition of one operation's bucket.
// Rate and capacity must both be set unless Disabled is true; Period keeps
// the built-in value when zero.
type BucketOverride struct {
	Rate     float64       `yaml:"rate" json:"rate"`
	Period   time.Duration `yaml:"period" json:"period"`
	Capacity int           `yaml:"capacity" json:"capacity"`
	Disabled bool          `yaml:"disabled" json:"disabled"`
}

// StoreConfig selects where recipes, menus and grocery items live
type StoreConfig struct {
	Backend          string `yaml:"backend" json:"backend"` // memory or dynamodb
	DynamoDBTable    string `yaml:"dynamodb_table" json:"dynamodb_table"`
	DynamoDBRegion   string `yaml:"dynamodb_region" json:"dynamodb_region"`
	DynamoDBEndpoint string `yaml:"dynamodb_endpoint" json:"dynamodb_endpoint"`
}

// AIConfig configures the LLM gateway and image API
type AIConfig struct {
	BaseURL       string        `yaml:"base_url" json:"base_url"`
	APIKey        string        `yaml:"api_key" json:"api_key"`
	TextModel     string        `yaml:"text_model" json:"text_model"`
	VisionModel   string        `yaml:"vision_model" json:"vision_model"`
	ImageBaseURL  string        `yaml:"image_base_url" json:"image_base_url"`
	ImageModel    string        `yaml:"image_model" json:"image_model"`
	ImageSize     string        `yaml:"image_size" json:"image_size"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	MaxImageBytes int64         `yaml:"max_image_bytes" json:"max_image_bytes"`

	// Breaker settings for provider calls
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout" json:"breaker_timeout"`
}

// SecurityConfig contains response header and input validation settings
type SecurityConfig struct {
	EnableHSTS            bool   `yaml:"enable_hsts" json:"enable_hsts"`
	HSTSMaxAge            int    `yaml:"hsts_max_age" json:"hsts_max_age"`
	HSTSIncludeSubdomains bool   `yaml:"hsts_include_subdomains" json:"hsts_include_subdomains"`
	ContentSecurityPolicy string `yaml:"content_security_policy" json:"content_security_policy"`
	FrameOptions          string `yaml:"frame_options" json:"frame_options"` // DENY, SAMEORIGIN
	ContentTypeNosniff    bool   `yaml:"content_type_nosniff" json:"content_type_nosniff"`
	ReferrerPolicy        string `yaml:"referrer_policy" json:"referrer_policy"`

	MaxRequestBodySize int64    `yaml:"max_request_body_size" json:"max_request_body_size"` // bytes
	MaxURLPathLength   int      `yaml:"max_url_path_length" json:"max_url_path_length"`
	AllowedMethods     []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedOrigins     []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	MetricsEnabled    bool    `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsPath       string  `yaml:"metrics_path" json:"metrics_path"`
	HealthPath        string  `yaml:"health_path" json:"health_path"`
	ReadinessPath     string  `yaml:"readiness_path" json:"readiness_path"`
	LivenessPath      string  `yaml:"liveness_path" json:"liveness_path"`
	TracingEnabled    bool    `yaml:"tracing_enabled" json:"tracing_enabled"`
	TracingEndpoint   string  `yaml:"tracing_endpoint" json:"tracing_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	ServiceName       string  `yaml:"service_name" json:"service_name"`
	Environment       string  `yaml:"environment" json:"environment"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load loads configuration from file with environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// Get returns the configuration most recently loaded by Load
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	c.Server.HTTPPort = 8080
	c.Server.ReadTimeout = 30 * time.Second
	// Must outlast the AI provider timeout.
	c.Server.WriteTimeout = 90 * time.Second
	c.Server.IdleTimeout = 120 * time.Second
	c.Server.MaxHeaderBytes = 1 << 20
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Logging.Output = "stdout"
	c.Logging.SanitizePatterns = []string{"(?i)password", "(?i)secret", "(?i)token", "(?i)api_key", "(?i)authorization"}

	c.Authorization.CookieName = "session_token"
	c.Authorization.JWTSigningAlgorithm = "RS256"
	c.Authorization.ClockSkewTolerance = 5 * time.Second
	c.Authorization.RevocationListCache = time.Minute

	c.RateLimit.Enabled = true
	c.RateLimit.Backend = "memory"
	c.RateLimit.FailureMode = "fail-closed"
	c.RateLimit.MaxConflictRetries = 10
	c.RateLimit.DynamoDBTable = "mealplan-ratelimit"

	c.Store.Backend = "memory"
	c.Store.DynamoDBTable = "mealplan-data"

	c.AI.BaseURL = "https://api.openai.com/v1"
	c.AI.TextModel = "gpt-4o-mini"
	c.AI.VisionModel = "gpt-4o-mini"
	c.AI.ImageModel = "dall-e-3"
	c.AI.ImageSize = "1024x1024"
	c.AI.Timeout = 60 * time.Second
	c.AI.MaxImageBytes = 8 << 20
	c.AI.FailureThreshold = 5
	c.AI.SuccessThreshold = 2
	c.AI.BreakerTimeout = 30 * time.Second

	c.Security.EnableHSTS = true
	c.Security.HSTSMaxAge = 31536000
	c.Security.HSTSIncludeSubdomains = true
	c.Security.ContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	c.Security.FrameOptions = "DENY"
	c.Security.ContentTypeNosniff = true
	c.Security.ReferrerPolicy = "strict-origin-when-cross-origin"
	c.Security.MaxRequestBodySize = 10 << 20
	c.Security.MaxURLPathLength = 2048
	c.Security.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"}

	c.Observability.MetricsEnabled = true
	c.Observability.MetricsPath = "/metrics"
	c.Observability.HealthPath = "/_health"
	c.Observability.ReadinessPath = "/_health/ready"
	c.Observability.LivenessPath = "/_health/live"
	c.Observability.TracingSampleRate = 1.0
	c.Observability.ServiceName = "mealplan-api"
	c.Observability.Environment = "development"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("read and write timeouts must be positive")
	}
	if c.Server.WriteTimeout <= c.AI.Timeout {
		return fmt.Errorf("write timeout (%s) must exceed AI timeout (%s)", c.Server.WriteTimeout, c.AI.Timeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format)
	}

	validAlgos := map[string]bool{"RS256": true, "RS384": true, "RS512": true, "HS256": true, "HS384": true, "HS512": true}
	if !validAlgos[c.Authorization.JWTSigningAlgorithm] {
		return fmt.Errorf("invalid JWT signing algorithm: %s", c.Authorization.JWTSigningAlgorithm)
	}
	if c.Authorization.JWTPublicKeyFile == "" && c.Authorization.JWTSharedSecret == "" {
		return fmt.Errorf("neither JWT public key file nor shared secret specified")
	}

	if err := c.RateLimit.validate(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case "memory":
	case "dynamodb":
		if c.Store.DynamoDBTable == "" {
			return fmt.Errorf("store backend is dynamodb but table not specified")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be 'memory' or 'dynamodb')", c.Store.Backend)
	}

	if c.AI.BaseURL == "" {
		return fmt.Errorf("AI base URL is required")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("AI timeout must be positive")
	}
	if c.AI.MaxImageBytes <= 0 {
		return fmt.Errorf("AI max image bytes must be positive")
	}

	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		return fmt.Errorf("tracing enabled but endpoint not specified")
	}

	return nil
}

func (r *RateLimitConfig) validate() error {
	switch r.Backend {
	case "memory":
	case "redis":
		if r.RedisAddr == "" {
			return fmt.Errorf("rate limit backend is redis but redis address not specified")
		}
	case "dynamodb":
		if r.DynamoDBTable == "" {
			return fmt.Errorf("rate limit backend is dynamodb but table not specified")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be 'memory', 'redis' or 'dynamodb')", r.Backend)
	}
	if r.FailureMode != "fail-open" && r.FailureMode != "fail-closed" {
		return fmt.Errorf("invalid failure mode: %s (must be 'fail-open' or 'fail-closed')", r.FailureMode)
	}
	if r.MaxConflictRetries < 0 {
		return fmt.Errorf("max conflict retries must not be negative")
	}
	return nil
}

// loadFromFile loads configuration from a file (YAML or JSON)
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

type envBinding struct {
	name  string
	apply func(cfg *Config, val string) error
}

func stringVar(set func(*Config, string)) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		set(cfg, val)
		return nil
	}
}

func intVar(set func(*Config, int)) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		set(cfg, n)
		return nil
	}
}

func boolVar(set func(*Config, bool)) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		set(cfg, b)
		return nil
	}
}

func durationVar(set func(*Config, time.Duration)) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		set(cfg, d)
		return nil
	}
}

var envBindings = []envBinding{
	{"HTTP_PORT", intVar(func(c *Config, v int) { c.Server.HTTPPort = v })},
	{"TLS_ENABLED", boolVar(func(c *Config, v bool) { c.Server.TLSEnabled = v })},
	{"TLS_CERT_FILE", stringVar(func(c *Config, v string) { c.Server.TLSCertFile = v })},
	{"TLS_KEY_FILE", stringVar(func(c *Config, v string) { c.Server.TLSKeyFile = v })},

	{"LOG_LEVEL", stringVar(func(c *Config, v string) { c.Logging.Level = v })},
	{"LOG_FORMAT", stringVar(func(c *Config, v string) { c.Logging.Format = v })},
	{"LOG_OUTPUT", stringVar(func(c *Config, v string) { c.Logging.Output = v })},

	{"AUTH_COOKIE_NAME", stringVar(func(c *Config, v string) { c.Authorization.CookieName = v })},
	{"JWT_SIGNING_ALGORITHM", stringVar(func(c *Config, v string) { c.Authorization.JWTSigningAlgorithm = v })},
	{"JWT_PUBLIC_KEY_FILE", stringVar(func(c *Config, v string) { c.Authorization.JWTPublicKeyFile = v })},
	{"JWT_SHARED_SECRET", stringVar(func(c *Config, v string) { c.Authorization.JWTSharedSecret = v })},
	{"JWT_ISSUER", stringVar(func(c *Config, v string) { c.Authorization.Issuer = v })},
	{"JWT_AUDIENCE", stringVar(func(c *Config, v string) { c.Authorization.Audience = v })},
	{"REVOCATION_LIST_URL", stringVar(func(c *Config, v string) { c.Authorization.RevocationListURL = v })},
	{"REVOCATION_LIST_CACHE", durationVar(func(c *Config, v time.Duration) { c.Authorization.RevocationListCache = v })},

	{"RATELIMIT_ENABLED", boolVar(func(c *Config, v bool) { c.RateLimit.Enabled = v })},
	{"RATELIMIT_BACKEND", stringVar(func(c *Config, v string) { c.RateLimit.Backend = v })},
	{"RATELIMIT_FAILURE_MODE", stringVar(func(c *Config, v string) { c.RateLimit.FailureMode = v })},
	{"RATELIMIT_TABLE", stringVar(func(c *Config, v string) { c.RateLimit.DynamoDBTable = v })},
	{"RECIPE_GENERATION_DISABLED", boolVar(func(c *Config, v bool) { c.RateLimit.RecipeGenerationDisabled = v })},
	{"REDIS_ADDR", stringVar(func(c *Config, v string) { c.RateLimit.RedisAddr = v })},
	{"REDIS_PASSWORD", stringVar(func(c *Config, v string) { c.RateLimit.RedisPassword = v })},
	{"REDIS_DB", intVar(func(c *Config, v int) { c.RateLimit.RedisDB = v })},

	{"STORE_BACKEND", stringVar(func(c *Config, v string) { c.Store.Backend = v })},
	{"STORE_TABLE", stringVar(func(c *Config, v string) { c.Store.DynamoDBTable = v })},
	{"AWS_REGION", stringVar(func(c *Config, v string) {
		c.Store.DynamoDBRegion = v
		c.RateLimit.DynamoDBRegion = v
	})},
	{"DYNAMODB_ENDPOINT", stringVar(func(c *Config, v string) {
		c.Store.DynamoDBEndpoint = v
		c.RateLimit.DynamoDBEndpoint = v
	})},

	{"AI_BASE_URL", stringVar(func(c *Config, v string) { c.AI.BaseURL = v })},
	{"AI_API_KEY", stringVar(func(c *Config, v string) { c.AI.APIKey = v })},
	{"AI_TEXT_MODEL", stringVar(func(c *Config, v string) { c.AI.TextModel = v })},
	{"AI_VISION_MODEL", stringVar(func(c *Config, v string) { c.AI.VisionModel = v })},
	{"AI_IMAGE_BASE_URL", stringVar(func(c *Config, v string) { c.AI.ImageBaseURL = v })},
	{"AI_IMAGE_MODEL", stringVar(func(c *Config, v string) { c.AI.ImageModel = v })},
	{"AI_TIMEOUT", durationVar(func(c *Config, v time.Duration) { c.AI.Timeout = v })},

	{"TRACING_ENABLED", boolVar(func(c *Config, v bool) { c.Observability.TracingEnabled = v })},
	{"TRACING_ENDPOINT", stringVar(func(c *Config, v string) { c.Observability.TracingEndpoint = v })},
	{"ENVIRONMENT", stringVar(func(c *Config, v string) { c.Observability.Environment = v })},
}

// applyEnvOverrides applies MEALPLAN_ prefixed environment variables
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		val, ok := lookup(EnvPrefix + b.name)
		if !ok || val == "" {
			continue
		}
		if err := b.apply(cfg, val); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}
