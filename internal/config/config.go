package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppHost    string        `mapstructure:"host"`
	ListenAddr string        `mapstructure:"listen_addr"`
	DB         DBConfig      `mapstructure:"db"`
	JWT        JWTConfig     `mapstructure:"jwt"`
	Storage    StorageConfig `mapstructure:"storage"`
	Quota      QuotaConfig   `mapstructure:"quota"`
	Upload     UploadConfig  `mapstructure:"upload"`
	CORS       CORSConfig    `mapstructure:"cors"`
	Log        LogConfig     `mapstructure:"log"`
}

type DBConfig struct {
	Source   string `mapstructure:"source"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type StorageConfig struct {
	// Driver selects the object store: "local" or "s3".
	Driver    string   `mapstructure:"driver"`
	Path      string   `mapstructure:"path"`
	PublicURL string   `mapstructure:"public_url"`
	KeyPrefix string   `mapstructure:"key_prefix"`
	S3        S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type QuotaConfig struct {
	DefaultTotalBytes int64 `mapstructure:"default_total_bytes"`
}

type UploadConfig struct {
	MaxBytes          int64    `mapstructure:"max_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IsAllowedExtension reports whether ext (with the leading dot) may be
// uploaded. An empty whitelist allows everything.
func (c UploadConfig) IsAllowedExtension(ext string) bool {
	if len(c.AllowedExtensions) == 0 {
		return true
	}
	ext = strings.ToLower(ext)
	for _, allowed := range c.AllowedExtensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

func Load() (*Config, error) {
	return load(viper.New(), "./configs", "/configs")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("settings")
	v.SetConfigType("yml")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db.source", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", time.Hour)
	v.SetDefault("jwt.refresh_ttl", 24*time.Hour)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.public_url", "")
	v.SetDefault("storage.key_prefix", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("quota.default_total_bytes", int64(10<<30))
	v.SetDefault("upload.max_bytes", int64(1000<<20))
	v.SetDefault("upload.allowed_extensions", []string{})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
