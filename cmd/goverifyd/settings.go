package main

import (
	"errors"
	"fmt"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/intrusion"
	"github.com/spf13/viper"
)

const (
	backendRedis  = "redis"
	backendSQLite = "sqlite"
)

// settings is the daemon's view of its configuration after viper has merged
// defaults, the config file and the environment.
type settings struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Backend      string
	SQLiteDSN    string
	RedisCredKey string

	Listen            string
	SecureCookies     bool
	TrustProxyHeaders bool

	JWTSecret string
	JWTIssuer string

	UserTTL           time.Duration
	AdminTTL          time.Duration
	PasswordAlgorithm string

	PasskeyEnabled bool
	PasskeyRPID    string
	PasskeyRPName  string
	PasskeyOrigins []string

	ProductionMode bool
	AuditBuffer    int
	AuditTimeout   time.Duration
	Histograms     bool

	IntrusionEnabled    bool
	IntrusionAlertOnly  bool
	IntrusionWindow     time.Duration
	IPThreshold         int64
	IdentifierThreshold int64
	WebhookURL          string
}

func setDefaults(v *viper.Viper) {
	def := goVerify.DefaultConfig()

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.backend", backendRedis)
	v.SetDefault("store.sqlite_dsn", "goverify.db")
	v.SetDefault("store.redis_prefix", "gv:cred")
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.secure_cookies", true)
	v.SetDefault("jwt.issuer", def.JWT.Issuer)
	v.SetDefault("session.user_ttl", def.Session.UserTTL)
	v.SetDefault("session.admin_ttl", def.Session.AdminTTL)
	v.SetDefault("password.algorithm", def.Password.Algorithm)
	v.SetDefault("audit.buffer_size", def.Audit.BufferSize)
	v.SetDefault("audit.sink_timeout", def.Audit.SinkTimeout)
	v.SetDefault("intrusion.enabled", true)
	v.SetDefault("intrusion.window", 15*time.Minute)
	v.SetDefault("intrusion.ip_threshold", 20)
	v.SetDefault("intrusion.identifier_threshold", 5)
}

func loadSettings(v *viper.Viper) settings {
	return settings{
		RedisAddr:     v.GetString("redis.addr"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),

		Backend:      v.GetString("store.backend"),
		SQLiteDSN:    v.GetString("store.sqlite_dsn"),
		RedisCredKey: v.GetString("store.redis_prefix"),

		Listen:            v.GetString("http.listen"),
		SecureCookies:     v.GetBool("http.secure_cookies"),
		TrustProxyHeaders: v.GetBool("http.trust_proxy"),

		JWTSecret: v.GetString("jwt.secret"),
		JWTIssuer: v.GetString("jwt.issuer"),

		UserTTL:           v.GetDuration("session.user_ttl"),
		AdminTTL:          v.GetDuration("session.admin_ttl"),
		PasswordAlgorithm: v.GetString("password.algorithm"),

		PasskeyEnabled: v.GetBool("passkey.enabled"),
		PasskeyRPID:    v.GetString("passkey.rp_id"),
		PasskeyRPName:  v.GetString("passkey.rp_name"),
		PasskeyOrigins: v.GetStringSlice("passkey.origins"),

		ProductionMode: v.GetBool("security.production"),
		AuditBuffer:    v.GetInt("audit.buffer_size"),
		AuditTimeout:   v.GetDuration("audit.sink_timeout"),
		Histograms:     v.GetBool("metrics.histograms"),

		IntrusionEnabled:    v.GetBool("intrusion.enabled"),
		IntrusionAlertOnly:  v.GetBool("intrusion.alert_only"),
		IntrusionWindow:     v.GetDuration("intrusion.window"),
		IPThreshold:         v.GetInt64("intrusion.ip_threshold"),
		IdentifierThreshold: v.GetInt64("intrusion.identifier_threshold"),
		WebhookURL:          v.GetString("intrusion.webhook_url"),
	}
}

// engineConfig overlays s on DefaultConfig. The result is validated by
// the engine builder, not here.
func (s settings) engineConfig() goVerify.Config {
	cfg := goVerify.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(s.JWTSecret)
	if s.JWTIssuer != "" {
		cfg.JWT.Issuer = s.JWTIssuer
	}
	if s.UserTTL > 0 {
		cfg.Session.UserTTL = s.UserTTL
	}
	if s.AdminTTL > 0 {
		cfg.Session.AdminTTL = s.AdminTTL
	}
	if s.PasswordAlgorithm != "" {
		cfg.Password.Algorithm = s.PasswordAlgorithm
	}

	cfg.Passkey.Enabled = s.PasskeyEnabled
	cfg.Passkey.RPID = s.PasskeyRPID
	cfg.Passkey.RPDisplayName = s.PasskeyRPName
	cfg.Passkey.RPOrigins = s.PasskeyOrigins

	cfg.Security.ProductionMode = s.ProductionMode
	if s.AuditBuffer > 0 {
		cfg.Audit.BufferSize = s.AuditBuffer
	}
	cfg.Audit.SinkTimeout = s.AuditTimeout
	cfg.Metrics.EnableLatencyHistograms = s.Histograms
	return cfg
}

func (s settings) intrusionConfig() intrusion.Config {
	return intrusion.Config{
		Window:              s.IntrusionWindow,
		IPThreshold:         s.IPThreshold,
		IdentifierThreshold: s.IdentifierThreshold,
		AlertOnly:           s.IntrusionAlertOnly,
	}
}

func (s settings) validate() error {
	switch s.Backend {
	case backendRedis:
	case backendSQLite:
		if s.SQLiteDSN == "" {
			return errors.New("store.sqlite_dsn is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", s.Backend)
	}
	if s.IntrusionEnabled && s.IntrusionWindow <= 0 {
		return errors.New("intrusion.window must be positive")
	}
	return nil
}
