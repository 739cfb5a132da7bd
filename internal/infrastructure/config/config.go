package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Moodle    MoodleConfig
	Sync      SyncConfig
	Grading   GradingConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds the settings used to verify admin bearer tokens.
// Tokens are issued by the surrounding SIS.
type JWTConfig struct {
	Secret string
	Issuer string
	// AdminRole, when set, must appear in the token's roles claim
	AdminRole string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	MaxHeaderBytes     int
	MaxBodySize        int64
	WebhookMaxBodySize int64
	CORSAllowOrigins   []string
	CORSAllowMethods   []string
	CORSAllowHeaders   []string
	TrustedProxies     []string
}

// MoodleConfig holds the remote LMS endpoint settings
type MoodleConfig struct {
	URL               string
	Token             string
	SyncEnabled       bool
	WebhookSecret     string        // empty accepts every webhook call (development only)
	Timeout           time.Duration // single-entity calls
	BulkTimeout       time.Duration // enumeration calls
	DefaultCategoryID int64
	MaxResponseBytes  int64
}

// Configured reports whether the endpoint and token are set
func (m MoodleConfig) Configured() bool {
	return m.URL != "" && m.Token != ""
}

// SyncConfig holds synchronization engine settings
type SyncConfig struct {
	BatchWorkers int           // 1 runs batches sequentially
	LockBackend  string        // memory or redis
	LockTTL      time.Duration // redis lock expiry
	LockWait     time.Duration // max time to wait for an entity lock
	RecentWindow time.Duration // statistics activity window
}

// GradeBoundaryConfig is one row of the grading table
type GradeBoundaryConfig struct {
	Letter   string  `mapstructure:"letter"`
	MinScore float64 `mapstructure:"min_score"`
	Points   float64 `mapstructure:"points"`
}

// GradingConfig holds the institution's grading table. Empty means the
// built-in default table.
type GradingConfig struct {
	Boundaries []GradeBoundaryConfig
}

// SchedulerConfig holds the background grade import settings
type SchedulerConfig struct {
	GradeImportEnabled    bool
	GradeImportInterval   time.Duration
	GradeImportTimeout    time.Duration
	GradeImportMaxRetries int
	GradeImportRetryBase  time.Duration
	HistorySize           int
}

// StorageConfig holds S3-compatible object storage settings used for
// profile pictures
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
	ProfilingEnabled  bool
	ProfilingAddress  string // Pyroscope server address
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with LMSSYNC_ prefix (e.g., LMSSYNC_MOODLE_TOKEN)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("LMSSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:    v.GetString("jwt.secret"),
			Issuer:    v.GetString("jwt.issuer"),
			AdminRole: v.GetString("jwt.admin_role"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:        v.GetDuration("http.read_timeout"),
			WriteTimeout:       v.GetDuration("http.write_timeout"),
			IdleTimeout:        v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:     v.GetInt("http.max_header_bytes"),
			MaxBodySize:        v.GetInt64("http.max_body_size"),
			WebhookMaxBodySize: v.GetInt64("http.webhook_max_body_size"),
			CORSAllowOrigins:   v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:   v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:   v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:     v.GetStringSlice("http.trusted_proxies"),
		},
		Moodle: MoodleConfig{
			URL:               strings.TrimRight(v.GetString("moodle.url"), "/"),
			Token:             v.GetString("moodle.token"),
			SyncEnabled:       v.GetBool("moodle.sync_enabled"),
			WebhookSecret:     v.GetString("moodle.webhook_secret"),
			Timeout:           time.Duration(v.GetInt("moodle.timeout_seconds")) * time.Second,
			BulkTimeout:       time.Duration(v.GetInt("moodle.bulk_timeout_seconds")) * time.Second,
			DefaultCategoryID: v.GetInt64("moodle.default_category_id"),
			MaxResponseBytes:  v.GetInt64("moodle.max_response_bytes"),
		},
		Sync: SyncConfig{
			BatchWorkers: v.GetInt("sync.batch_workers"),
			LockBackend:  v.GetString("sync.lock_backend"),
			LockTTL:      v.GetDuration("sync.lock_ttl"),
			LockWait:     v.GetDuration("sync.lock_wait"),
			RecentWindow: v.GetDuration("sync.recent_window"),
		},
		Scheduler: SchedulerConfig{
			GradeImportEnabled:    v.GetBool("scheduler.grade_import_enabled"),
			GradeImportInterval:   v.GetDuration("scheduler.grade_import_interval"),
			GradeImportTimeout:    v.GetDuration("scheduler.grade_import_timeout"),
			GradeImportMaxRetries: v.GetInt("scheduler.grade_import_max_retries"),
			GradeImportRetryBase:  v.GetDuration("scheduler.grade_import_retry_base"),
			HistorySize:           v.GetInt("scheduler.history_size"),
		},
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingAddress:  v.GetString("telemetry.profiling_address"),
		},
	}

	if err := v.UnmarshalKey("grading.boundaries", &cfg.Grading.Boundaries); err != nil {
		return nil, fmt.Errorf("error reading grading.boundaries: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "lms-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "sis"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "sis"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// Batch endpoints run synchronously and may take several minutes
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.WebhookMaxBodySize == 0 {
		cfg.HTTP.WebhookMaxBodySize = 5 << 20 // 5MB, bulk grade payloads
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "X-LMS-Secret"}
	}
	if cfg.Moodle.Timeout == 0 {
		cfg.Moodle.Timeout = 30 * time.Second
	}
	if cfg.Moodle.BulkTimeout == 0 {
		cfg.Moodle.BulkTimeout = 300 * time.Second
	}
	if cfg.Moodle.DefaultCategoryID == 0 {
		cfg.Moodle.DefaultCategoryID = 1
	}
	if cfg.Moodle.MaxResponseBytes == 0 {
		cfg.Moodle.MaxResponseBytes = 32 << 20 // 32MB, bulk user listings
	}
	if cfg.Sync.BatchWorkers == 0 {
		cfg.Sync.BatchWorkers = 1
	}
	if cfg.Sync.LockBackend == "" {
		cfg.Sync.LockBackend = "memory"
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 10 * time.Minute
	}
	if cfg.Sync.LockWait == 0 {
		cfg.Sync.LockWait = 2 * time.Minute
	}
	if cfg.Sync.RecentWindow == 0 {
		cfg.Sync.RecentWindow = 24 * time.Hour
	}
	if cfg.Scheduler.GradeImportInterval == 0 {
		cfg.Scheduler.GradeImportInterval = 6 * time.Hour
	}
	if cfg.Scheduler.GradeImportTimeout == 0 {
		cfg.Scheduler.GradeImportTimeout = time.Hour
	}
	if cfg.Scheduler.GradeImportMaxRetries == 0 {
		cfg.Scheduler.GradeImportMaxRetries = 3
	}
	if cfg.Scheduler.GradeImportRetryBase == 0 {
		cfg.Scheduler.GradeImportRetryBase = 60 * time.Second
	}
	if cfg.Scheduler.HistorySize == 0 {
		cfg.Scheduler.HistorySize = 50
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Moodle.SyncEnabled && !c.Moodle.Configured() {
		return fmt.Errorf("moodle.url and moodle.token are required when moodle.sync_enabled is true")
	}
	if c.Moodle.URL != "" {
		if u, err := url.Parse(c.Moodle.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("moodle.url must be an absolute URL, got %q", c.Moodle.URL)
		}
	}
	if c.Sync.BatchWorkers < 1 {
		return fmt.Errorf("sync.batch_workers must be at least 1")
	}
	if c.Sync.LockBackend != "memory" && c.Sync.LockBackend != "redis" {
		return fmt.Errorf("sync.lock_backend must be memory or redis, got %q", c.Sync.LockBackend)
	}
	if err := c.Grading.validate(); err != nil {
		return err
	}

	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Moodle.WebhookSecret == "" {
			return fmt.Errorf("moodle.webhook_secret is required in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

func (g GradingConfig) validate() error {
	if len(g.Boundaries) == 0 {
		return nil
	}
	for i, b := range g.Boundaries {
		if strings.TrimSpace(b.Letter) == "" {
			return fmt.Errorf("grading.boundaries[%d].letter is required", i)
		}
		if b.MinScore < 0 || b.Points < 0 {
			return fmt.Errorf("grading.boundaries[%d] cannot be negative", i)
		}
		if i > 0 && b.MinScore >= g.Boundaries[i-1].MinScore {
			return fmt.Errorf("grading.boundaries must be strictly descending by min_score")
		}
	}
	if g.Boundaries[len(g.Boundaries)-1].MinScore != 0 {
		return fmt.Errorf("the last grading boundary must have min_score 0")
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
