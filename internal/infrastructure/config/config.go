package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "CHARGEGATE_"

// Config is the root configuration structure for chargegate.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Legacy    LegacyConfig    `yaml:"legacy"`
}

// ServiceConfig identifies this gateway instance.
type ServiceConfig struct {
	ID   string `yaml:"id" env:"SERVICE_ID"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"DATABASE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"MQTT_HOST"`
	Port     int    `yaml:"port" env:"MQTT_PORT"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host" env:"API_HOST"`
	Port     int              `yaml:"port" env:"API_PORT"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings for the API chain.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains live-update WebSocket settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for dispatch telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"INFLUXDB_URL"`
	Token         string `yaml:"token" env:"INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output"`
}

// SecurityConfig contains credential and CSRF settings.
type SecurityConfig struct {
	JWT  JWTConfig  `yaml:"jwt"`
	CSRF CSRFConfig `yaml:"csrf"`
	// Realm is announced in the WWW-Authenticate challenge of the API chain.
	Realm string `yaml:"realm"`
}

// JWTConfig contains bearer token settings for API clients.
// An empty secret disables bearer tokens; basic credentials still work.
type JWTConfig struct {
	Secret         string `yaml:"secret" env:"JWT_SECRET"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// CSRFConfig names the double-submit token cookie, header and form field.
type CSRFConfig struct {
	CookieName string `yaml:"cookie_name"`
	HeaderName string `yaml:"header_name"`
	FormField  string `yaml:"form_field"`
}

// GatewayConfig holds the path prefixes the request classifier is built from.
// Prefixes start with "/" and carry no trailing slash.
type GatewayConfig struct {
	APIPrefix       string `yaml:"api_prefix"`
	ExternalPrefix  string `yaml:"external_prefix"`
	ManagerPrefix   string `yaml:"manager_prefix"`
	LegacyPrefix    string `yaml:"legacy_prefix"`
	StreamingPrefix string `yaml:"streaming_prefix"`
	StaticPrefix    string `yaml:"static_prefix"`
	ViewsPrefix     string `yaml:"views_prefix"`
	AdminRole       string `yaml:"admin_role"`
}

// SignInPath returns the operator sign-in path under the manager prefix.
func (g GatewayConfig) SignInPath() string {
	return g.ManagerPrefix + "/signin"
}

// SignOutPath returns the operator sign-out path under the manager prefix.
func (g GatewayConfig) SignOutPath() string {
	return g.ManagerPrefix + "/signout"
}

// HomePath returns the console landing page under the manager prefix.
func (g GatewayConfig) HomePath() string {
	return g.ManagerPrefix + "/home"
}

// SessionConfig contains operator session settings.
type SessionConfig struct {
	// Store selects the backend: "memory" or "redis".
	Store        string `yaml:"store" env:"SESSION_STORE"`
	RedisURL     string `yaml:"redis_url" env:"REDIS_URL"`
	CookieName   string `yaml:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure"`
	TTLMinutes   int    `yaml:"ttl_minutes"`
}

// TTL returns the session lifetime as a Duration.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// DispatchConfig contains command dispatch settings.
type DispatchConfig struct {
	// Protocol is the dialect every external command is addressed with.
	Protocol    string `yaml:"protocol"`
	QoS         int    `yaml:"qos"`
	TaskHistory int    `yaml:"task_history"`
}

// LegacyConfig configures the legacy SOAP endpoint.
type LegacyConfig struct {
	// UpstreamURL is where requests under the legacy prefix are proxied.
	// Empty means the endpoint answers 503.
	UpstreamURL string `yaml:"upstream_url" env:"LEGACY_UPSTREAM_URL"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern CHARGEGATE_SECTION_KEY,
// for example CHARGEGATE_DATABASE_PATH or CHARGEGATE_JWT_SECRET.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no configuration file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "chargegate-01",
			Name: "chargegate",
		},
		Database: DatabaseConfig{
			Path:        "./data/chargegate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "chargegate",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			CSRF: CSRFConfig{
				CookieName: "XSRF-TOKEN",
				HeaderName: "X-XSRF-TOKEN",
				FormField:  "_csrf",
			},
			Realm: "chargegate",
		},
		Gateway: GatewayConfig{
			APIPrefix:       "/api",
			ExternalPrefix:  "/api/external",
			ManagerPrefix:   "/manager",
			LegacyPrefix:    "/services",
			StreamingPrefix: "/websocket",
			StaticPrefix:    "/static",
			ViewsPrefix:     "/WEB-INF/views",
			AdminRole:       "ADMIN",
		},
		Sessions: SessionConfig{
			Store:      "memory",
			CookieName: "CHARGEGATE_SESSION",
			TTLMinutes: 30,
		},
		Dispatch: DispatchConfig{
			Protocol:    "ocpp1.6j",
			QoS:         1,
			TaskHistory: 500,
		},
	}
}

// applyEnvOverrides applies CHARGEGATE_* environment variables on top of cfg.
// Fields without a matching variable keep their current value.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
// Every problem is collected so operators can fix them in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Dispatch.QoS < 0 || c.Dispatch.QoS > 2 {
		errs = append(errs, "dispatch.qos must be 0, 1, or 2")
	}
	if c.Dispatch.Protocol == "" {
		errs = append(errs, "dispatch.protocol is required")
	} else if strings.ContainsAny(c.Dispatch.Protocol, "/+#\x00") {
		errs = append(errs, "dispatch.protocol must be a single topic level (no '/', '+' or '#')")
	}
	if c.Dispatch.TaskHistory < 1 {
		errs = append(errs, "dispatch.task_history must be at least 1")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 || c.WebSocket.MaxMessageSize < 1 {
		errs = append(errs, "websocket ping_interval, pong_timeout and max_message_size must be positive")
	}

	// Bearer tokens are optional, but a configured secret must be strong enough
	// that tokens cannot be forged offline.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.CSRF.CookieName == "" || c.Security.CSRF.HeaderName == "" || c.Security.CSRF.FormField == "" {
		errs = append(errs, "security.csrf cookie_name, header_name and form_field are required")
	}

	errs = append(errs, c.Gateway.validate()...)

	switch c.Sessions.Store {
	case "memory":
	case "redis":
		if c.Sessions.RedisURL == "" {
			errs = append(errs, "sessions.redis_url is required when sessions.store is redis")
		}
	default:
		errs = append(errs, "sessions.store must be memory or redis")
	}
	if c.Sessions.CookieName == "" {
		errs = append(errs, "sessions.cookie_name is required")
	}
	if c.Sessions.TTLMinutes < 1 {
		errs = append(errs, "sessions.ttl_minutes must be at least 1")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks prefix shape and the containment rules the classifier relies on.
func (g GatewayConfig) validate() []string {
	var errs []string

	prefixes := map[string]string{
		"gateway.api_prefix":       g.APIPrefix,
		"gateway.external_prefix":  g.ExternalPrefix,
		"gateway.manager_prefix":   g.ManagerPrefix,
		"gateway.legacy_prefix":    g.LegacyPrefix,
		"gateway.streaming_prefix": g.StreamingPrefix,
		"gateway.static_prefix":    g.StaticPrefix,
		"gateway.views_prefix":     g.ViewsPrefix,
	}
	for name, p := range prefixes {
		if !strings.HasPrefix(p, "/") || p == "/" || strings.HasSuffix(p, "/") {
			errs = append(errs, name+" must start with / and have no trailing slash")
		}
	}

	if !strings.HasPrefix(g.ExternalPrefix, g.APIPrefix+"/") {
		errs = append(errs, "gateway.external_prefix must be under gateway.api_prefix")
	}
	for name, p := range map[string]string{
		"gateway.manager_prefix":   g.ManagerPrefix,
		"gateway.legacy_prefix":    g.LegacyPrefix,
		"gateway.streaming_prefix": g.StreamingPrefix,
	} {
		if p == g.APIPrefix || strings.HasPrefix(p, g.APIPrefix+"/") {
			errs = append(errs, name+" must not be under gateway.api_prefix")
		}
	}
	if g.AdminRole == "" {
		errs = append(errs, "gateway.admin_role is required")
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
