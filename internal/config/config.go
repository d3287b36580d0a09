package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Cloudflare   CloudflareConfig
	Verification VerificationConfig
	Edge         EdgeConfig
	Mimir        MimirConfig
	Domains      DomainsConfig
}

type ServerConfig struct {
	Port        string
	Mode        string
	CORSOrigins []string
}

type DatabaseConfig struct {
	URL             string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	URL string
	// ResolveCacheTTL is how long resolver answers are cached. Zero disables the cache.
	ResolveCacheTTL time.Duration
	QueueName       string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	// JWKSURL enables RS256 tokens from an OIDC issuer.
	JWKSURL string
}

type CloudflareConfig struct {
	APIToken          string
	ZoneID            string
	RequestsPerSecond float64
	Burst             int
	// WebhookSecret authenticates hostname notifications. Empty disables the webhook.
	WebhookSecret string
}

type VerificationConfig struct {
	Interval    time.Duration
	WorkerCount int
	BatchSize   int
	MaxAttempts int
	Window      time.Duration
	Nameservers []string
	DNSTimeout  time.Duration
	// CheckTimeout bounds one verification pass over a single domain.
	CheckTimeout time.Duration
}

type EdgeConfig struct {
	Port            string
	BackendAPIURL   string
	TargetDomain    string
	CacheTTL        time.Duration
	CacheSize       int
	ResolverTimeout time.Duration
}

type MimirConfig struct {
	URL           string
	TenantHeader  string
	TenantID      string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

type DomainsConfig struct {
	// Brand is rejected as part of a customer hostname.
	Brand string
	// CNAMETarget is what customers point their CNAME at.
	CNAMETarget string
}

// Load reads config.yaml from . or ./config, then the environment. A .env
// file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("DOMAINS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.corsorigins", []string{"*"})

	v.SetDefault("database.url", "")
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("database.connmaxlifetime", "5m")
	v.SetDefault("database.automigrate", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.resolvecachettl", "15s")
	v.SetDefault("redis.queuename", "custom_domain_checks")

	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.jwksurl", "")

	v.SetDefault("cloudflare.apitoken", "")
	v.SetDefault("cloudflare.zoneid", "")
	v.SetDefault("cloudflare.requestspersecond", 4)
	v.SetDefault("cloudflare.burst", 1)
	v.SetDefault("cloudflare.webhooksecret", "")

	v.SetDefault("verification.interval", "5m")
	v.SetDefault("verification.workercount", 10)
	v.SetDefault("verification.batchsize", 500)
	v.SetDefault("verification.maxattempts", 288)
	v.SetDefault("verification.window", "72h")
	v.SetDefault("verification.nameservers", []string{"1.1.1.1:53", "8.8.8.8:53"})
	v.SetDefault("verification.dnstimeout", "5s")
	v.SetDefault("verification.checktimeout", "30s")

	v.SetDefault("edge.port", "8081")
	v.SetDefault("edge.backendapiurl", "http://localhost:8080")
	v.SetDefault("edge.targetdomain", "www.qrcodly.de")
	v.SetDefault("edge.cachettl", "60s")
	v.SetDefault("edge.cachesize", 10000)
	v.SetDefault("edge.resolvertimeout", "2s")

	v.SetDefault("mimir.url", "")
	v.SetDefault("mimir.tenantheader", "X-Scope-OrgID")
	v.SetDefault("mimir.tenantid", "custom-domains")
	v.SetDefault("mimir.batchsize", 1000)
	v.SetDefault("mimir.flushinterval", "30s")
	v.SetDefault("mimir.authtoken", "")

	v.SetDefault("domains.brand", "qrcodly")
	v.SetDefault("domains.cnametarget", "custom.qrcodly.de")
}

func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if url := os.Getenv("JWKS_URL"); url != "" {
		cfg.Auth.JWKSURL = url
	}
	if token := os.Getenv("CLOUDFLARE_API_TOKEN"); token != "" {
		cfg.Cloudflare.APIToken = token
	}
	if zone := os.Getenv("CLOUDFLARE_ZONE_ID"); zone != "" {
		cfg.Cloudflare.ZoneID = zone
	}
	if secret := os.Getenv("CLOUDFLARE_WEBHOOK_SECRET"); secret != "" {
		cfg.Cloudflare.WebhookSecret = secret
	}
	if url := os.Getenv("BACKEND_API_URL"); url != "" {
		cfg.Edge.BackendAPIURL = url
	}
	if target := os.Getenv("TARGET_DOMAIN"); target != "" {
		cfg.Edge.TargetDomain = target
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Mimir.AuthToken = token
	}
}
