package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   Server
	Database Database
	Redis    Redis
	JWT      JWT
	Storage  Storage
	Media    Media
	Presence Presence
	Log      Log
}

type Server struct {
	Addr string
}

type Database struct {
	DSN string
}

type Redis struct {
	Addr string
}

type JWT struct {
	Secret string
	TTL    time.Duration
}

type Storage struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
}

type Media struct {
	ThumbnailPlaceholderURL string
	UploadTimeout           time.Duration
	PersistTimeout          time.Duration
	MaxParallelUploads      int
}

type Presence struct {
	Interval time.Duration
}

type Log struct {
	Level  string
	Format string
}

// LoadConfig reads config/<filename>.yaml when present. Every key can be
// overridden from the environment, e.g. database.dsn from DB_DSN or
// DATABASE_DSN.
func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Short names kept from the original docker setup.
	_ = v.BindEnv("database.dsn", "DATABASE_DSN", "DB_DSN")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("storage.publicBaseURL", "STORAGE_PUBLICBASEURL", "STORAGE_PUBLIC_BASE_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.publicBaseURL", "")
	v.SetDefault("media.thumbnailPlaceholderURL", "/static/video-placeholder.png")
	v.SetDefault("media.uploadTimeout", 2*time.Minute)
	v.SetDefault("media.persistTimeout", 15*time.Second)
	v.SetDefault("media.maxParallelUploads", 4)
	v.SetDefault("presence.interval", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn (DB_DSN) is not set")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt.secret (JWT_SECRET) is not set")
	}
	if c.Media.MaxParallelUploads <= 0 {
		return errors.New("config: media.maxParallelUploads must be positive")
	}
	return nil
}
