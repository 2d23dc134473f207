package types

import (
	"time"
)

// Content backend constants
const (
	ContentBackendGitHub = "github" // GitHub repository content API
	ContentBackendS3     = "s3"     // S3 bucket, one prefix per repository
	ContentBackendMemory = "memory" // In-process, for local development and tests
)

// Secrets backend constants
const (
	SecretsBackendConfig = "config" // Read from AppConfig (file/env)
	SecretsBackendS3     = "s3"     // Read a JSON secret object from S3
)

// AppConfig is the root configuration for the conceptstore gateway
type AppConfig struct {
	DebugMode  bool `key:"debugMode" json:"debug_mode"`
	PrettyLogs bool `key:"prettyLogs" json:"pretty_logs"`

	Gateway  GatewayConfig  `key:"gateway" json:"gateway"`
	GitHub   GitHubConfig   `key:"github" json:"github"`
	Content  ContentConfig  `key:"content" json:"content"`
	Index    IndexConfig    `key:"index" json:"index"`
	Database DatabaseConfig `key:"database" json:"database"`
	Secrets  SecretsConfig  `key:"secrets" json:"secrets"`
	Auth     AuthConfig     `key:"auth" json:"auth"`
	Metrics  MetricsConfig  `key:"metrics" json:"metrics"`
}

// ----------------------------------------------------------------------------
// Database Configuration
// ----------------------------------------------------------------------------

type DatabaseConfig struct {
	Redis    RedisConfig    `key:"redis" json:"redis"`
	Postgres PostgresConfig `key:"postgres" json:"postgres"`
}

type RedisMode string

const (
	RedisModeSingle  RedisMode = "single"
	RedisModeCluster RedisMode = "cluster"
)

type RedisConfig struct {
	Mode               RedisMode     `key:"mode" json:"mode"`
	Addrs              []string      `key:"addrs" json:"addrs"`
	Username           string        `key:"username" json:"username"`
	Password           string        `key:"password" json:"password"`
	ClientName         string        `key:"clientName" json:"client_name"`
	EnableTLS          bool          `key:"enableTLS" json:"enable_tls"`
	InsecureSkipVerify bool          `key:"insecureSkipVerify" json:"insecure_skip_verify"`
	PoolSize           int           `key:"poolSize" json:"pool_size"`
	MinIdleConns       int           `key:"minIdleConns" json:"min_idle_conns"`
	MaxIdleConns       int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxIdleTime    time.Duration `key:"connMaxIdleTime" json:"conn_max_idle_time"`
	ConnMaxLifetime    time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
	DialTimeout        time.Duration `key:"dialTimeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `key:"readTimeout" json:"read_timeout"`
	WriteTimeout       time.Duration `key:"writeTimeout" json:"write_timeout"`
	MaxRedirects       int           `key:"maxRedirects" json:"max_redirects"`
	MaxRetries         int           `key:"maxRetries" json:"max_retries"`
	RouteByLatency     bool          `key:"routeByLatency" json:"route_by_latency"`
}

// IsConfigured returns true if at least one redis address is set
func (c RedisConfig) IsConfigured() bool {
	return len(c.Addrs) > 0 && c.Addrs[0] != ""
}

type PostgresConfig struct {
	Host            string        `key:"host" json:"host"`
	Port            int           `key:"port" json:"port"`
	User            string        `key:"user" json:"user"`
	Password        string        `key:"password" json:"password"`
	Database        string        `key:"database" json:"database"`
	SSLMode         string        `key:"sslMode" json:"ssl_mode"`
	MaxOpenConns    int           `key:"maxOpenConns" json:"max_open_conns"`
	MaxIdleConns    int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
}

// ----------------------------------------------------------------------------
// Storage Configuration
// ----------------------------------------------------------------------------

type S3Config struct {
	Bucket         string `key:"bucket" json:"bucket"`
	Prefix         string `key:"prefix" json:"prefix"`
	Region         string `key:"region" json:"region"`
	Endpoint       string `key:"endpoint" json:"endpoint"`
	AccessKey      string `key:"accessKey" json:"access_key"`
	SecretKey      string `key:"secretKey" json:"secret_key"`
	ForcePathStyle bool   `key:"forcePathStyle" json:"force_path_style"`
}

// ContentConfig selects where concept objects and index documents live
type ContentConfig struct {
	Backend string   `key:"backend" json:"backend"` // "github", "s3" or "memory"
	S3      S3Config `key:"s3" json:"s3"`
}

// IndexConfig tunes index maintenance
type IndexConfig struct {
	DefaultIndexName string `key:"defaultIndexName" json:"default_index_name"`
	BatchSize        int    `key:"batchSize" json:"batch_size"`
	MaxAllocAttempts int    `key:"maxAllocAttempts" json:"max_alloc_attempts"`
}

// ----------------------------------------------------------------------------
// Gateway Configuration
// ----------------------------------------------------------------------------

type GatewayConfig struct {
	HTTP            HTTPConfig    `key:"http" json:"http"`
	ShutdownTimeout time.Duration `key:"shutdownTimeout" json:"shutdown_timeout"`
}

type HTTPConfig struct {
	Host             string     `key:"host" json:"host"`
	Port             int        `key:"port" json:"port"`
	EnablePrettyLogs bool       `key:"enablePrettyLogs" json:"enable_pretty_logs"`
	CORS             CORSConfig `key:"cors" json:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `key:"allowOrigins" json:"allow_origins"`
	AllowedMethods []string `key:"allowMethods" json:"allow_methods"`
	AllowedHeaders []string `key:"allowHeaders" json:"allow_headers"`
}

// ----------------------------------------------------------------------------
// GitHub Configuration
// ----------------------------------------------------------------------------

// GitHubConfig configures the GitHub REST API used as the content store
type GitHubConfig struct {
	APIBaseURL     string        `key:"apiBaseUrl" json:"api_base_url"`
	Branch         string        `key:"branch" json:"branch"` // Empty uses the repository default branch
	CommitterName  string        `key:"committerName" json:"committer_name"`
	CommitterEmail string        `key:"committerEmail" json:"committer_email"`
	Timeout        time.Duration `key:"timeout" json:"timeout"`

	// Client-side pacing per token; GitHub's own limits still apply
	RequestsPerSecond float64 `key:"requestsPerSecond" json:"requests_per_second"`
	Burst             int     `key:"burst" json:"burst"`

	OAuth GitHubOAuthConfig `key:"oauth" json:"oauth"`
}

// GitHubOAuthConfig configures the OAuth app used for the code exchange
type GitHubOAuthConfig struct {
	ClientID     string   `key:"clientId" json:"client_id"`
	ClientSecret string   `key:"clientSecret" json:"client_secret"`
	RedirectURL  string   `key:"redirectUrl" json:"redirect_url"` // e.g., http://localhost:3000/callback
	Scopes       []string `key:"scopes" json:"scopes"`
}

// ----------------------------------------------------------------------------
// Secrets / Auth / Metrics
// ----------------------------------------------------------------------------

// SecretsConfig selects where OAuth client credentials are read from
type SecretsConfig struct {
	Backend string   `key:"backend" json:"backend"` // "config" or "s3"
	S3      S3Config `key:"s3" json:"s3"`
	S3Key   string   `key:"s3Key" json:"s3_key"` // Object key holding {"client_id": "...", "client_secret": "..."}
}

// AuthConfig configures bearer-token validation and OAuth state signing
type AuthConfig struct {
	SessionKey    string        `key:"sessionKey" json:"session_key"` // Secret for signing OAuth state values
	StateTTL      time.Duration `key:"stateTTL" json:"state_ttl"`
	UserCacheTTL  time.Duration `key:"userCacheTTL" json:"user_cache_ttl"`
	UserCacheSize int           `key:"userCacheSize" json:"user_cache_size"`
}

type MetricsConfig struct {
	Enabled bool `key:"enabled" json:"enabled"`
}
