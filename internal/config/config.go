// Package config handles loading and parsing of assetstage configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for assetstage.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	Registry      RegistryConfig      `yaml:"registry"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown window in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig toggles the metrics and health endpoints.
type ObservabilityConfig struct {
	Metrics     bool `yaml:"metrics"`
	HealthCheck bool `yaml:"health_check"`
}

// AuthConfig holds JWT verification settings. Tokens are minted elsewhere;
// this service only verifies them.
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	Issuer     string `yaml:"issuer"`
	SellerRole string `yaml:"seller_role"`
	AdminRole  string `yaml:"admin_role"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	// Backend is one of "aws", "gcp", "azure", "minio", "memory".
	Backend string `yaml:"backend"`
	// Bucket is the bucket (or Azure container) holding both prefixes.
	Bucket string      `yaml:"bucket"`
	AWS    AWSConfig   `yaml:"aws"`
	GCP    GCPConfig   `yaml:"gcp"`
	Azure  AzureConfig `yaml:"azure"`
	Minio  MinioConfig `yaml:"minio"`
}

// AWSConfig holds S3 settings. Empty keys fall back to the default
// credential chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GCPConfig holds Cloud Storage settings. Signed URLs require a service
// account key, so CredentialsFile is mandatory outside of GCE.
type GCPConfig struct {
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
}

// AzureConfig holds Blob Storage settings.
type AzureConfig struct {
	// Account is used to construct https://{account}.blob.core.windows.net
	// when AccountURL is empty.
	Account          string `yaml:"account"`
	AccountURL       string `yaml:"account_url"`
	AccountKey       string `yaml:"account_key"`
	ConnectionString string `yaml:"connection_string"`
}

// MinioConfig holds settings for MinIO or another S3-compatible provider.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// RegistryConfig selects and configures the TTL claim registry.
type RegistryConfig struct {
	// Engine is one of "memory", "sqlite", "redis", "dynamodb", "firestore", "cosmos".
	Engine    string          `yaml:"engine"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Redis     RedisConfig     `yaml:"redis"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
}

// SQLiteConfig holds SQLite registry settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds Redis registry settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DynamoDBConfig holds DynamoDB registry settings. The table must have a
// string partition key "pk" and TTL enabled on the "expires_at" attribute.
type DynamoDBConfig struct {
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
}

// FirestoreConfig holds Firestore registry settings.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	Collection      string `yaml:"collection"`
	CredentialsFile string `yaml:"credentials_file"`
}

// CosmosConfig holds Cosmos DB registry settings. The container must be
// partitioned on /type and have a default TTL of -1 (per-item TTL enabled).
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
}

// PipelineConfig holds the staging pipeline's prefixes and time windows.
type PipelineConfig struct {
	StagingPrefix   string `yaml:"staging_prefix"`
	PermanentPrefix string `yaml:"permanent_prefix"`
	// PresignMinutes is the lifetime of an issued upload URL.
	PresignMinutes int `yaml:"presign_minutes"`
	// ClaimTTL is how long a confirmed upload stays protected from the sweeper.
	ClaimTTL time.Duration `yaml:"claim_ttl"`
	// CallTimeout bounds every single store or registry round trip.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// PromoteConcurrency bounds parallel promotions per commit.
	PromoteConcurrency int `yaml:"promote_concurrency"`
	// VerifyUploads makes confirm check that the staged object exists
	// before claiming it.
	VerifyUploads bool `yaml:"verify_uploads"`
}

// SweeperConfig controls the recurring reclamation sweep.
type SweeperConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval drives a fixed ticker when Cron is empty.
	Interval time.Duration `yaml:"interval"`
	// Cron is a standard five-field cron expression (e.g., "0 3 * * *").
	Cron       string `yaml:"cron"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// PresignTTL returns the upload URL lifetime as a duration.
func (p PipelineConfig) PresignTTL() time.Duration {
	return time.Duration(p.PresignMinutes) * time.Minute
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. A .env file next to the config (or in the working
// directory) is loaded first, and ${VAR} references in the YAML are
// expanded from the environment. If the primary path fails, it falls back
// to assetstage.example.yaml in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "assetstage.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "assetstage.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands environment references in data, unmarshals it over cfg
// and fills in defaults for anything left unset.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	applyDefaults(cfg)
	return cfg.Validate()
}

// Validate reports settings that would make the pipeline unsafe to run.
func (c *Config) Validate() error {
	if c.Pipeline.StagingPrefix == c.Pipeline.PermanentPrefix {
		return fmt.Errorf("pipeline.staging_prefix and pipeline.permanent_prefix must differ")
	}
	if c.Pipeline.ClaimTTL <= 0 {
		return fmt.Errorf("pipeline.claim_ttl must be positive")
	}
	if c.Pipeline.CallTimeout <= 0 {
		return fmt.Errorf("pipeline.call_timeout must be positive")
	}
	if c.Sweeper.Enabled && c.Sweeper.Cron == "" && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive when no cron expression is set")
	}
	return nil
}

// DefaultConfig returns a Config populated with defaults only.
func DefaultConfig() *Config {
	cfg := defaultConfig()
	applyDefaults(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Registry: RegistryConfig{
			Engine: "sqlite",
		},
		Sweeper: SweeperConfig{
			Enabled: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Auth.SellerRole == "" {
		cfg.Auth.SellerRole = "SELLER"
	}
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "ADMIN"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "assetstage"
	}
	if cfg.Storage.AWS.Region == "" {
		cfg.Storage.AWS.Region = "us-east-1"
	}
	if cfg.Registry.Engine == "" {
		cfg.Registry.Engine = "sqlite"
	}
	if cfg.Registry.SQLite.Path == "" {
		cfg.Registry.SQLite.Path = "./data/registry.db"
	}
	if cfg.Registry.Redis.Addr == "" {
		cfg.Registry.Redis.Addr = "localhost:6379"
	}
	if cfg.Registry.Firestore.Collection == "" {
		cfg.Registry.Firestore.Collection = "asset_claims"
	}
	if cfg.Pipeline.StagingPrefix == "" {
		cfg.Pipeline.StagingPrefix = "temp/"
	}
	if cfg.Pipeline.PermanentPrefix == "" {
		cfg.Pipeline.PermanentPrefix = "product/"
	}
	if cfg.Pipeline.PresignMinutes == 0 {
		cfg.Pipeline.PresignMinutes = 10
	}
	if cfg.Pipeline.ClaimTTL == 0 {
		cfg.Pipeline.ClaimTTL = 24 * time.Hour
	}
	if cfg.Pipeline.CallTimeout == 0 {
		cfg.Pipeline.CallTimeout = 30 * time.Second
	}
	if cfg.Pipeline.PromoteConcurrency == 0 {
		cfg.Pipeline.PromoteConcurrency = 4
	}
	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = 24 * time.Hour
	}
}
