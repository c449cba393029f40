package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/usageledger/internal/flagx"
	"github.com/dmitrijs2005/usageledger/internal/timex"
)

// JsonConfig is the file form of Config. Durations accept strings such as
// "90s" as well as integer nanoseconds. Absent keys keep the current value.
type JsonConfig struct {
	HTTPAddr            string          `json:"http_addr"`
	GRPCAddr            string          `json:"grpc_addr"`
	DatabaseDSN         string          `json:"database_dsn"`
	SecretKey           string          `json:"secret_key"`
	KeyEncryptionSecret string          `json:"key_encryption_secret"`
	RedisAddr           *string         `json:"redis_addr"`
	AccountRateLimit    int             `json:"account_rate_limit"`
	IPRateLimit         int             `json:"ip_rate_limit"`
	EdgeRateLimit       int             `json:"edge_rate_limit"`
	RateLimitWindow     *timex.Duration `json:"rate_limit_window"`
	SignatureTolerance  *timex.Duration `json:"signature_tolerance"`
	MaxBatchSize        int             `json:"max_batch_size"`
	MaxBodyBytes        int64           `json:"max_body_bytes"`
	RequestTimeout      *timex.Duration `json:"request_timeout"`
	LogLevel            string          `json:"log_level"`
	AuditS3Bucket       string          `json:"audit_s3_bucket"`
	AuditS3Region       string          `json:"audit_s3_region"`
	AuditS3Endpoint     string          `json:"audit_s3_endpoint"`
	AuditS3User         string          `json:"audit_s3_user"`
	AuditS3Password     string          `json:"audit_s3_password"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt[T int | int64](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}

// parseJson overlays values from the JSON file named by -c or -config.
// Without either flag nothing is loaded. An unreadable or malformed file
// panics, like a bad flag does.
func parseJson(config *Config) {
	path := flagx.ConfigPath(os.Args[1:])
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.KeyEncryptionSecret, c.KeyEncryptionSecret)
	// an explicit "" turns shared limits off
	if c.RedisAddr != nil {
		config.RedisAddr = *c.RedisAddr
	}
	setInt(&config.AccountRateLimit, c.AccountRateLimit)
	setInt(&config.IPRateLimit, c.IPRateLimit)
	setInt(&config.EdgeRateLimit, c.EdgeRateLimit)
	if c.RateLimitWindow != nil {
		config.RateLimitWindow = c.RateLimitWindow.Duration
	}
	if c.SignatureTolerance != nil {
		config.SignatureTolerance = c.SignatureTolerance.Duration
	}
	setInt(&config.MaxBatchSize, c.MaxBatchSize)
	setInt(&config.MaxBodyBytes, c.MaxBodyBytes)
	if c.RequestTimeout != nil {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.AuditS3Bucket, c.AuditS3Bucket)
	setString(&config.AuditS3Region, c.AuditS3Region)
	setString(&config.AuditS3Endpoint, c.AuditS3Endpoint)
	setString(&config.AuditS3User, c.AuditS3User)
	setString(&config.AuditS3Password, c.AuditS3Password)
}
