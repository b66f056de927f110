package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MemoryDatabaseURI selects the in-process database instead of MongoDB.
const MemoryDatabaseURI = "memory"

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	S3           S3Config           `mapstructure:"s3"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Local        LocalConfig        `mapstructure:"local"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Sync         SyncConfig         `mapstructure:"sync"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
	// WatchPollInterval is used when the server cannot open change streams.
	WatchPollInterval time.Duration `mapstructure:"watch_poll_interval"`
}

// IsMemory reports whether the in-process database is selected.
func (d DatabaseConfig) IsMemory() bool {
	return d.URI == MemoryDatabaseURI
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// JWTConfig defines session token configuration
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// LocalConfig points at on-device state: the SQLite key-value file and the
// directory holding the cached avatar (and blobs when no bucket is set).
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

type ConnectivityConfig struct {
	DialAddress string        `mapstructure:"dial_address"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	OpTimeout        time.Duration `mapstructure:"op_timeout"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	v.SetDefault("server.address", "127.0.0.1:8080")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "workout_tracker")
	v.SetDefault("database.watch_poll_interval", "5s")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket_name", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.public_base_url", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration", "720h")
	v.SetDefault("local.dir", ".workout-tracker")
	v.SetDefault("connectivity.dial_address", "localhost:27017")
	v.SetDefault("connectivity.interval", "5s")
	v.SetDefault("connectivity.timeout", "2s")
	v.SetDefault("sync.op_timeout", "15s")
	v.SetDefault("sync.fetch_concurrency", 8)

	err = v.ReadInConfig()
	// If config file not found, continue with defaults and env vars.
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		err = nil
	} else if err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}

	if config.JWT.Secret == "" {
		return config, errors.New("jwt.secret must be set")
	}
	return config, nil
}
