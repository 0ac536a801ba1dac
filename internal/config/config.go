package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the ledger processes.
// Values come from env; a .env file in the working directory is loaded first
// if present, without overriding variables that are already set.
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Ledger  LedgerConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Kafka   KafkaConfig
	Archive ArchiveConfig
}

type AppConfig struct {
	Env  string
	Port int
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

type LedgerConfig struct {
	Driver     string
	SQLitePath string

	// SigningKey switches event signatures from SHA-256 to HMAC-SHA256.
	// Never log it.
	SigningKey string

	AppendAttempts int
	Lock           string
	LockTTL        time.Duration

	RequireCertificateEvents bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// KafkaConfig is optional; event fan-out is disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ArchiveConfig is optional; certificate archiving is disabled when Bucket is empty.
type ArchiveConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Ledger.Driver = strings.TrimSpace(os.Getenv("LEDGER_DRIVER"))
	c.Ledger.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	c.Ledger.SigningKey = os.Getenv("COC_SIGNING_KEY")
	c.Ledger.Lock = strings.TrimSpace(os.Getenv("LEDGER_LOCK"))
	c.Ledger.LockTTL = mustDuration("COC_LOCK_TTL")
	{
		n, err := optionalInt("COC_APPEND_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Ledger.AppendAttempts = n
	}
	{
		b, err := optionalBool("COC_CERT_REQUIRE_EVENTS")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Ledger.RequireCertificateEvents = b
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	c.Kafka.Topic = strings.TrimSpace(os.Getenv("KAFKA_TOPIC"))

	c.Archive.Bucket = strings.TrimSpace(os.Getenv("CERT_ARCHIVE_BUCKET"))
	c.Archive.Region = strings.TrimSpace(os.Getenv("CERT_ARCHIVE_REGION"))
	c.Archive.Endpoint = strings.TrimSpace(os.Getenv("CERT_ARCHIVE_ENDPOINT"))
	c.Archive.Prefix = strings.TrimSpace(os.Getenv("CERT_ARCHIVE_PREFIX"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	errs = append(errs, c.validateLedger()...)

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if c.Archive.Bucket != "" && c.Archive.Region == "" {
		errs = append(errs, errors.New("CERT_ARCHIVE_REGION is required when CERT_ARCHIVE_BUCKET is set"))
	}

	return joinErrors(errs)
}

// ValidateLedger checks only what is needed to open the store. cocctl uses it
// because it never serves HTTP or issues tokens.
func (c *Config) ValidateLedger() error {
	return joinErrors(c.validateLedger())
}

func (c *Config) validateLedger() []error {
	var errs []error

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = DriverPostgres
	}
	switch c.Ledger.Driver {
	case DriverPostgres:
		errs = append(errs, c.validateDB()...)
	case DriverSQLite:
		if c.Ledger.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_DRIVER must be one of postgres, sqlite, got %q", c.Ledger.Driver))
	}

	if c.Ledger.AppendAttempts < 0 {
		errs = append(errs, fmt.Errorf("COC_APPEND_ATTEMPTS must be >= 1, got %d", c.Ledger.AppendAttempts))
	} else if c.Ledger.AppendAttempts == 0 {
		c.Ledger.AppendAttempts = 3
	}
	if c.Ledger.LockTTL <= 0 {
		c.Ledger.LockTTL = 5 * time.Second
	}

	if c.Ledger.Lock == "" {
		c.Ledger.Lock = LockLocal
	}
	switch c.Ledger.Lock {
	case LockNone, LockLocal:
	case LockRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when LEDGER_LOCK=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_LOCK must be one of none, local, redis, got %q", c.Ledger.Lock))
	}
	return errs
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalInt returns 0 when key is unset; Validate decides whether that is an error.
func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func optionalBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
