package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort   string `mapstructure:"APP_PORT"`
	AppEnv    string `mapstructure:"APP_ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	AWSRegion      string `mapstructure:"AWS_REGION"`
	AWSEndpointURL string `mapstructure:"AWS_ENDPOINT_URL"` // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string `mapstructure:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string `mapstructure:"AWS_SECRET_ACCESS_KEY"`
	DynamoTables   DynamoTables `mapstructure:",squash"`

	RedisURL string `mapstructure:"REDIS_URL"`

	JWTPrivateKeyPath string `mapstructure:"JWT_PRIVATE_KEY_PATH"`
	JWTPublicKeyPath  string `mapstructure:"JWT_PUBLIC_KEY_PATH"`
	JWTIssuer         string `mapstructure:"JWT_ISSUER"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     string `mapstructure:"SMTP_PORT"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`

	SNSRegion        string `mapstructure:"SNS_REGION"`
	LockoutTopicARN  string `mapstructure:"SNS_LOCKOUT_TOPIC_ARN"` // optional; alerts disabled when empty
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`         // optional; comma-separated
	KafkaAuditTopic  string `mapstructure:"KAFKA_AUDIT_TOPIC"`
	KMSKeyID         string `mapstructure:"KMS_KEY_ID"` // optional; TOTP secrets stored unsealed when empty
	ClinicRecordsURL string `mapstructure:"CLINIC_RECORDS_URL"`
	SupportContact   string `mapstructure:"SUPPORT_CONTACT"`

	AllowedOriginsRaw string `mapstructure:"ALLOWED_ORIGINS"`
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-Ip. Enable only
	// behind a proxy that overwrites them, or a client can dodge the PIN lockout.
	TrustProxyHeaders bool   `mapstructure:"TRUST_PROXY_HEADERS"`

	AdminPINHash   string `mapstructure:"ADMIN_PIN_HASH"`
	AdminEmail     string `mapstructure:"ADMIN_EMAIL"`
	AdminFirstName string `mapstructure:"ADMIN_FIRST_NAME"`
	AdminLastName  string `mapstructure:"ADMIN_LAST_NAME"`

	Auth AuthSettings `mapstructure:",squash"`
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Identities string `mapstructure:"DYNAMO_TABLE_IDENTITIES"`
	Sessions   string `mapstructure:"DYNAMO_TABLE_SESSIONS"`
	Codes      string `mapstructure:"DYNAMO_TABLE_CODES"`
}

// AuthSettings are the tunables of the PIN + email code flow.
type AuthSettings struct {
	LockoutThreshold   int           `mapstructure:"PIN_LOCKOUT_THRESHOLD"`
	LockoutCooldown    time.Duration `mapstructure:"PIN_LOCKOUT_COOLDOWN"`
	LockoutWindow      time.Duration `mapstructure:"PIN_LOCKOUT_WINDOW"`
	PendingSessionTTL  time.Duration `mapstructure:"PENDING_SESSION_TTL"`
	FullSessionTTL     time.Duration `mapstructure:"FULL_SESSION_TTL"`
	CodeLifetime       time.Duration `mapstructure:"CODE_LIFETIME"`
	CodeResendInterval time.Duration `mapstructure:"CODE_RESEND_INTERVAL"`
	CodeMaxAttempts    int           `mapstructure:"CODE_MAX_ATTEMPTS"`
	CodeDigits         int           `mapstructure:"CODE_DIGITS"`
	BcryptCost         int           `mapstructure:"BCRYPT_COST"`
	TOTPIssuer         string        `mapstructure:"TOTP_ISSUER"`
	// DevBypassCode short-circuits code verification outside production.
	// Load rejects it when APP_ENV=production.
	DevBypassCode string `mapstructure:"DEV_BYPASS_CODE"`
}

var defaults = map[string]interface{}{
	"APP_PORT":                "3000",
	"APP_ENV":                 "development",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "json",
	"AWS_REGION":              "us-east-1",
	"AWS_ENDPOINT_URL":        "",
	"AWS_ACCESS_KEY_ID":       "",
	"AWS_SECRET_ACCESS_KEY":   "",
	"DYNAMO_TABLE_IDENTITIES": "identities",
	"DYNAMO_TABLE_SESSIONS":   "sessions",
	"DYNAMO_TABLE_CODES":      "one_time_codes",
	"REDIS_URL":               "redis://localhost:6379/0",
	"JWT_PRIVATE_KEY_PATH":    "./private_key.pem",
	"JWT_PUBLIC_KEY_PATH":     "./public_key.pem",
	"JWT_ISSUER":              "clinic-intake-api",
	"SMTP_HOST":               "localhost",
	"SMTP_PORT":               "1025",
	"SMTP_FROM":               "noreply@example.com",
	"SMTP_USERNAME":           "",
	"SMTP_PASSWORD":           "",
	"SNS_REGION":              "us-east-1",
	"SNS_LOCKOUT_TOPIC_ARN":   "",
	"KAFKA_BROKERS":           "",
	"KAFKA_AUDIT_TOPIC":       "clinic-auth-audit",
	"KMS_KEY_ID":              "",
	"CLINIC_RECORDS_URL":      "",
	"SUPPORT_CONTACT":         "the clinic administrator",
	"ALLOWED_ORIGINS":         "*",
	"TRUST_PROXY_HEADERS":     false,
	"ADMIN_PIN_HASH":          "",
	"ADMIN_EMAIL":             "",
	"ADMIN_FIRST_NAME":        "Clinic",
	"ADMIN_LAST_NAME":         "Admin",
	"PIN_LOCKOUT_THRESHOLD":   5,
	"PIN_LOCKOUT_COOLDOWN":    "15m",
	"PIN_LOCKOUT_WINDOW":      "15m",
	"PENDING_SESSION_TTL":     "30m",
	"FULL_SESSION_TTL":        "8h",
	"CODE_LIFETIME":           "180s",
	"CODE_RESEND_INTERVAL":    "60s",
	"CODE_MAX_ATTEMPTS":       5,
	"CODE_DIGITS":             6,
	"BCRYPT_COST":             12,
	"TOTP_ISSUER":             "Clinic Intake",
	"DEV_BYPASS_CODE":         "",
}

// Load reads all configuration from environment variables and validates it.
// A .env file, if any, is expected to have been loaded into the environment already.
func Load() (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	a := c.Auth
	if a.LockoutThreshold < 1 {
		return errors.New("config: PIN_LOCKOUT_THRESHOLD must be at least 1")
	}
	if a.LockoutCooldown <= 0 || a.LockoutWindow <= 0 {
		return errors.New("config: PIN_LOCKOUT_COOLDOWN and PIN_LOCKOUT_WINDOW must be positive")
	}
	if a.PendingSessionTTL <= 0 || a.FullSessionTTL <= 0 {
		return errors.New("config: session TTLs must be positive")
	}
	if a.CodeLifetime <= 0 || a.CodeResendInterval < 0 {
		return errors.New("config: CODE_LIFETIME must be positive and CODE_RESEND_INTERVAL non-negative")
	}
	if a.CodeMaxAttempts < 1 {
		return errors.New("config: CODE_MAX_ATTEMPTS must be at least 1")
	}
	if a.CodeDigits < 6 || a.CodeDigits > 10 {
		return errors.New("config: CODE_DIGITS must be between 6 and 10")
	}
	if a.BcryptCost < 4 || a.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if a.DevBypassCode != "" && c.IsProduction() {
		return errors.New("config: DEV_BYPASS_CODE must not be set when APP_ENV=production")
	}
	return nil
}

// IsProduction reports whether the service runs with production semantics.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// AllowedOrigins returns the CORS origins from the comma-separated setting.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.AllowedOriginsRaw)
}

// KafkaBrokerList returns Kafka broker addresses; empty disables the audit producer.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
